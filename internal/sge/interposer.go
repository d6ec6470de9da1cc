// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/safemutate/internal/gitclassify"
	"github.com/AleutianAI/safemutate/internal/history"
	"github.com/AleutianAI/safemutate/internal/supervisor"
	"github.com/AleutianAI/safemutate/pkg/logging"
)

// GitRunner executes a git subcommand in repoDir and returns its
// trimmed stdout. The default implementation shells out to the real git
// binary; tests substitute a fake to avoid depending on an actual
// repository.
type GitRunner func(repoDir string, args ...string) (string, error)

// execGit is the production GitRunner.
func execGit(repoDir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = repoDir
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), strings.TrimSpace(string(ee.Stderr)))
		}
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Interposer is SGE's entry point: every destructive git invocation a
// caller wants guarded passes through Run rather than being exec'd
// directly.
type Interposer struct {
	RepoDir           string
	History           *history.Store
	ContextStore      *ContextStore
	UndoStack         *UndoStack
	Protocol          supervisor.Protocol
	ProtectedBranches []string
	Logger            *logging.Logger
	Git               GitRunner
	Stdin             io.Reader
	Stdout            io.Writer
	AliasLookup       func(alias string) (string, bool)
}

// New constructs an Interposer rooted at repoDir, with a substrate root
// (for context.json / undo_stack.json / the history journal) at
// substrateRoot.
func New(repoDir, substrateRoot string, historyStore *history.Store) *Interposer {
	return &Interposer{
		RepoDir:           repoDir,
		History:           historyStore,
		ContextStore:      NewContextStore(substrateRoot),
		UndoStack:         NewUndoStack(substrateRoot),
		Protocol:          supervisor.ProtocolFromEnv(),
		ProtectedBranches: ProtectedBranchPatterns,
		Logger:            logging.Default().WithComponent("sge"),
		Git:               execGit,
		Stdin:             os.Stdin,
		Stdout:            os.Stdout,
		AliasLookup:       nil,
	}
}

func (i *Interposer) aliasLookup(alias string) (string, bool) {
	if i.AliasLookup != nil {
		return i.AliasLookup(alias)
	}
	value, err := i.Git(i.RepoDir, "config", "--get", "alias."+alias)
	if err != nil || value == "" {
		return "", false
	}
	return value, true
}

func (i *Interposer) currentBranch() string {
	branch, err := i.Git(i.RepoDir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return ""
	}
	return branch
}

func (i *Interposer) headSHA() string {
	sha, err := i.Git(i.RepoDir, "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return sha
}

// danger maps a gitclassify.DangerClass onto supervisor's confirmation
// levels.
func danger(class gitclassify.DangerClass) supervisor.DangerLevel {
	switch class {
	case gitclassify.ClassSafe:
		return supervisor.LevelSafe
	case gitclassify.ClassReversibleDestructive, gitclassify.ClassConvertibleDestructive:
		return supervisor.LevelMedium
	case gitclassify.ClassHighRiskDestructive:
		return supervisor.LevelHigh
	default:
		return supervisor.LevelHigh
	}
}

func kindForCommand(command string) history.Kind {
	switch command {
	case "reset":
		return history.KindGitReset
	case "clean":
		return history.KindGitClean
	case "push":
		return history.KindGitForcePush
	case "stash":
		return history.KindGitStashClear
	case "rebase":
		return history.KindGitRebase
	case "branch":
		return history.KindGitBranchDelete
	default:
		// checkout -f, commit --amend, and anything else reversible but
		// without a dedicated Kind share the closest bucket: a working
		// tree/ref reset that the undo stack, not the history journal's
		// Kind taxonomy, is what actually distinguishes.
		return history.KindGitReset
	}
}

// ExplainResult is Run's output when dryRun is true: no git command
// executes and no backup is taken.
type ExplainResult struct {
	Classification gitclassify.Classification
	EffectiveArgv  []string
	DangerLevel    supervisor.DangerLevel
	Forbidden      bool
	ForbiddenWhy   string
	Divergence     *Divergence
}

// Explain runs the full classify+context pipeline without executing git
// or mutating anything, per spec §4.7's dry-run "explain" branch.
func (i *Interposer) Explain(argv []string) (ExplainResult, error) {
	resolved := gitclassify.ResolveAlias(argv, i.aliasLookup)
	class := gitclassify.Classify(resolved)
	effective := resolved
	if len(class.Rewrite) > 0 {
		effective = class.Rewrite
	}

	ctx, err := i.ContextStore.Load()
	if err != nil {
		return ExplainResult{}, err
	}
	branch := i.currentBranch()
	forbidden, why := forbiddenByContext(ctx, class.Command, string(class.Class), branch)

	result := ExplainResult{
		Classification: class,
		EffectiveArgv:  effective,
		DangerLevel:    danger(class.Class),
		Forbidden:      forbidden,
		ForbiddenWhy:   why,
	}

	if class.Command == "push" && (class.Class == gitclassify.ClassConvertibleDestructive || class.Class == gitclassify.ClassHighRiskDestructive) {
		if div, derr := i.computeDivergence(branch); derr == nil {
			result.Divergence = &div
		}
	}

	return result, nil
}

func (i *Interposer) computeDivergence(branch string) (Divergence, error) {
	upstream, err := i.Git(i.RepoDir, "rev-parse", "--abbrev-ref", branch+"@{upstream}")
	if err != nil {
		return Divergence{}, err
	}
	countLine, err := i.Git(i.RepoDir, "rev-list", "--left-right", "--count", upstream+"..."+branch)
	if err != nil {
		return Divergence{}, err
	}
	ahead, behind, err := parseAheadBehind(countLine)
	if err != nil {
		return Divergence{}, err
	}
	remoteURL, _ := i.Git(i.RepoDir, "remote", "get-url", "origin")
	return Divergence{Ahead: ahead, Behind: behind, Upstream: upstream, Platform: platformFromRemoteURL(remoteURL)}, nil
}

// RunOptions configures one Run invocation.
type RunOptions struct {
	DryRun      bool
	TypedPhrase string
}

// Run classifies argv, gates it against the persisted Context, obtains
// confirmation appropriate to its danger level, takes a pre-op stash
// backup for reversible-destructive commands, then delegates to git.
// Every allowed destructive invocation (anything Classify did not mark
// safe) is recorded both in the history journal
// (reusing its OldHash/NewHash fields for the pre/post HEAD commit SHA,
// since a git operation has no single target file) and pushed onto the
// bounded undo stack.
func (i *Interposer) Run(argv []string, opts RunOptions) (int, error) {
	resolved := gitclassify.ResolveAlias(argv, i.aliasLookup)
	class := gitclassify.Classify(resolved)

	ctx2, span := startRunSpan(context.Background(), class.Command)
	var runErrForSpan error
	defer func() {
		setRunSpanResult(span, class.Class, class.Blocked, runErrForSpan)
		recordCommandMetrics(ctx2, class.Command, class.Class, runErrForSpan)
		span.End()
	}()

	if class.Blocked {
		runErrForSpan = supervisor.New(supervisor.KindUserError,
			fmt.Sprintf("%q is blocked outright by this interposer", class.Command),
			"alternatives: "+strings.Join(class.Alternatives, "; "))
		recordBlocked(ctx2, class.Command, "blocked outright")
		return supervisor.ExitUserError, runErrForSpan
	}

	// A non-empty TypedPhrase on a convertible command is how a caller
	// asks to keep the raw --force instead of the --force-with-lease
	// rewrite Classify proposes.
	effective := resolved
	if len(class.Rewrite) > 0 && opts.TypedPhrase == "" {
		effective = class.Rewrite
	}

	ctx, err := i.ContextStore.Load()
	if err != nil {
		runErrForSpan = err
		return supervisor.ExitUserError, err
	}
	branch := i.currentBranch()
	if forbidden, why := forbiddenByContext(ctx, class.Command, string(class.Class), branch); forbidden {
		cerr := supervisor.New(supervisor.KindContextForbidden, why, "switch context with `safemutate safegit context set-env` or `safemutate safegit context set-mode`")
		runErrForSpan = cerr
		recordBlocked(ctx2, class.Command, why)
		return supervisor.ExitCodeFor(cerr), cerr
	}

	level := danger(class.Class)
	var div *Divergence
	if class.Command == "push" {
		if d, derr := i.computeDivergence(branch); derr == nil {
			div = &d
			if escalateForProtectedBranch(branch, d, i.ProtectedBranches) && level < supervisor.LevelHigh {
				level = supervisor.LevelHigh
			}
		}
	}

	if opts.DryRun {
		return supervisor.ExitSuccess, nil
	}

	if err := i.confirm(class, effective, level, opts); err != nil {
		runErrForSpan = err
		return supervisor.ExitCodeFor(err), err
	}

	var stashRef string
	if class.Class == gitclassify.ClassReversibleDestructive {
		stashRef, _ = i.createStashBackup()
	}

	headBefore := i.headSHA()
	opID := i.History.NewOpID()

	out, runErr := i.Git(i.RepoDir, effective...)
	if runErr != nil {
		rerr := supervisor.Wrap(supervisor.KindInternal, "git command failed", out, runErr)
		runErrForSpan = rerr
		return supervisor.ExitCodeFor(rerr), rerr
	}

	// Only commands the classifier marked destructive get a journal
	// record and an undo-stack entry: "git status"/"git log" and the
	// rest of the safe surface pass straight through without SGE
	// tracking them, so the journal stays a record of mutations.
	if class.Class == gitclassify.ClassSafe {
		return supervisor.ExitSuccess, nil
	}

	headAfter := i.headSHA()

	var originalArgs []string
	if len(effective) != len(resolved) || strings.Join(effective, " ") != strings.Join(resolved, " ") {
		originalArgs = resolved
	}

	if _, err := i.History.Record(history.OperationDraft{
		OpID:         opID,
		Kind:         kindForCommand(class.Command),
		Tool:         "sge",
		Args:         effective,
		OriginalArgs: originalArgs,
		File:         i.RepoDir,
		OldHash:      headBefore,
		NewHash:      headAfter,
		Description:  fmt.Sprintf("git %s", strings.Join(effective, " ")),
		CanUndo:      stashRef != "",
	}); err != nil {
		i.Logger.WithOp(opID).Warn("sge: failed to record operation in history", "error", err)
	}

	entry := UndoEntry{
		ID:           opID,
		Timestamp:    time.Now().UTC(),
		Argv:         effective,
		OriginalArgv: originalArgs,
		Command:      class.Command,
		DangerClass:  class.Class,
		StashRef:     stashRef,
		HeadBefore:   headBefore,
		HeadAfter:    headAfter,
		Branch:       branch,
	}
	if stashRef != "" {
		script, scriptErr := i.emitGitRecoveryScript(entry)
		if scriptErr != nil {
			i.Logger.WithOp(opID).Warn("sge: failed to emit recovery script", "error", scriptErr)
		}
		entry.RecoveryScript = script
	}
	if pushErr := i.UndoStack.Push(entry); pushErr != nil {
		i.Logger.WithOp(opID).Warn("sge: failed to push undo stack entry", "error", pushErr)
	}

	_ = div
	return supervisor.ExitSuccess, nil
}

// createStashBackup snapshots the current working tree and index as a
// dangling commit via `git stash create`, which (unlike `git stash
// push`) neither alters the working tree nor appends to the stash
// reflog: it is a side-effect-free way to obtain a restorable commit
// hash for a reversible-destructive command's pre-image.
func (i *Interposer) createStashBackup() (string, error) {
	ref, err := i.Git(i.RepoDir, "stash", "create")
	if err != nil || ref == "" {
		return "", nil
	}
	short := ref
	if len(short) > 12 {
		short = short[:12]
	}
	if _, err := i.Git(i.RepoDir, "update-ref", "refs/safemutate/stash-"+short, ref); err != nil {
		return ref, nil
	}
	return ref, nil
}

func (i *Interposer) emitGitRecoveryScript(entry UndoEntry) (string, error) {
	dir := filepath.Join(i.History.Root, "recovery_scripts")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "recover_git_"+entry.ID)
	script := fmt.Sprintf(`#!/bin/sh
# Recovery script for sge operation %s
# Command: git %s
# HEAD before: %s  HEAD after: %s
set -eu
cd %q
git reset --hard %s
if [ -n %q ]; then
  git stash apply %s || true
fi
echo "repository restored to pre-operation state (HEAD=%s)"
`, entry.ID, strings.Join(entry.Argv, " "), entry.HeadBefore, entry.HeadAfter, i.RepoDir, entry.HeadBefore, entry.StashRef, entry.StashRef, entry.HeadBefore)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(script), 0o755); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return path, nil
}

// confirm enforces the medium/high confirmation gates: non-interactive
// callers go through supervisor.Protocol.Authorize (plus an exact
// TypedPhrase match for high-risk commands); interactive callers are
// prompted on Stdin/Stdout.
func (i *Interposer) confirm(class gitclassify.Classification, effective []string, level supervisor.DangerLevel, opts RunOptions) error {
	if level == supervisor.LevelSafe {
		return nil
	}

	if i.Protocol.NonInteractive {
		ok, aerr := i.Protocol.Authorize(level)
		if !ok {
			return aerr
		}
		if level == supervisor.LevelHigh && class.Phrase != "" && opts.TypedPhrase != class.Phrase {
			return supervisor.New(supervisor.KindConfirmationRequired,
				fmt.Sprintf("this command requires typing the exact phrase %q to proceed", class.Phrase),
				"re-run with the matching --confirm")
		}
		return nil
	}

	prompt := fmt.Sprintf("About to run: git %s\n", strings.Join(effective, " "))
	if level == supervisor.LevelHigh && class.Phrase != "" {
		prompt = fmt.Sprintf("%sType %q to confirm: ", prompt, class.Phrase)
	} else {
		prompt = fmt.Sprintf("%sProceed? [y/N]: ", prompt)
	}
	fmt.Fprint(i.Stdout, prompt)

	reader := bufio.NewReader(i.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)

	if level == supervisor.LevelHigh && class.Phrase != "" {
		if line != class.Phrase {
			return supervisor.New(supervisor.KindConfirmationRequired,
				fmt.Sprintf("typed phrase did not match %q", class.Phrase), "")
		}
		return nil
	}
	if strings.EqualFold(line, "y") || strings.EqualFold(line, "yes") {
		return nil
	}
	return supervisor.New(supervisor.KindConfirmationRequired, "user declined confirmation", "")
}

// Undo pops the most recent UndoStack entry and restores the repository
// to its pre-operation HEAD, reapplying the stash (if one was taken)
// afterward. This is LIFO and independent of history.Store.Undo, which
// only knows how to restore single files: a git operation's pre-image
// is a whole-repository state, not a byte stream the backup store can
// hold.
func (i *Interposer) Undo() (UndoEntry, error) {
	entry, ok, err := i.UndoStack.Pop()
	if err != nil {
		recordUndo(context.Background(), false)
		return UndoEntry{}, err
	}
	if !ok {
		recordUndo(context.Background(), false)
		return UndoEntry{}, supervisor.New(supervisor.KindUserError, "undo stack is empty", "")
	}
	if entry.HeadBefore == "" {
		recordUndo(context.Background(), false)
		return UndoEntry{}, supervisor.New(supervisor.KindUserError,
			fmt.Sprintf("operation %s has no recorded pre-image HEAD", entry.ID), "")
	}

	if _, err := i.Git(i.RepoDir, "reset", "--hard", entry.HeadBefore); err != nil {
		recordUndo(context.Background(), false)
		return UndoEntry{}, supervisor.Wrap(supervisor.KindInternal, "reset to pre-operation HEAD", "", err)
	}
	if entry.StashRef != "" {
		if _, err := i.Git(i.RepoDir, "stash", "apply", entry.StashRef); err != nil {
			i.Logger.WithOp(entry.ID).Warn("sge: stash reapply after undo failed, working tree left at pre-operation HEAD", "error", err)
		}
	}

	undoOpID := i.History.NewOpID()
	if _, err := i.History.Record(history.OperationDraft{
		OpID:        undoOpID,
		Kind:        history.KindUndo,
		Tool:        "sge",
		File:        i.RepoDir,
		OldHash:     entry.HeadAfter,
		NewHash:     entry.HeadBefore,
		Description: fmt.Sprintf("undo of sge operation %s (git %s)", entry.ID, strings.Join(entry.Argv, " ")),
		Deps:        []string{entry.ID},
		CanUndo:     false,
	}); err != nil {
		i.Logger.WithOp(undoOpID).Warn("sge: failed to record undo operation", "error", err)
	}

	recordUndo(context.Background(), true)
	return entry, nil
}
