// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package opm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/safemutate/internal/afs"
	"github.com/AleutianAI/safemutate/internal/history"
	"github.com/AleutianAI/safemutate/internal/supervisor"
)

// Planner drives Organize over a directory rooted at Root, delegating
// every actual move to Engine (so every file mutation still goes
// through AFS's locking, backup and journal machinery) and persisting
// its own manifest of what it did at <ManifestDir>/<start time>.json
// (the run's UTC start time as 20060102T150405.000000000Z).
type Planner struct {
	Root        string
	Engine      *afs.Engine
	ManifestDir string
}

func New(root string, engine *afs.Engine) *Planner {
	return &Planner{Root: root, Engine: engine, ManifestDir: filepath.Join(root, "organizer_manifests")}
}

// planFiles lists the immediate files under root (organize rules other
// than flatten never recurse: a file already in a bucket folder from a
// prior run shouldn't be re-bucketed on every subsequent call).
func planFiles(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, supervisor.Wrap(supervisor.KindUserError, "list directory", "", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files = append(files, filepath.Join(root, e.Name()))
	}
	return files, nil
}

// buildPlan computes the bucket (and therefore destination directory)
// for every file under opts' rule, without touching the filesystem
// beyond the os.Stat needed to bucket by date/size/age.
func buildPlan(root string, rule Rule, opts Options, now time.Time) ([]PlannedMove, error) {
	var files []string
	var err error

	if rule == RuleFlatten {
		files, err = walkAll(root)
	} else {
		files, err = planFiles(root)
	}
	if err != nil {
		return nil, err
	}

	var customRules []CustomRule
	if rule == RuleCustomRulesFile {
		customRules, err = loadCustomRules(opts.CustomRulesPath)
		if err != nil {
			return nil, err
		}
	}

	target := opts.FlattenTarget
	if target == "" {
		target = root
	}

	var plan []PlannedMove
	for _, path := range files {
		info, statErr := os.Stat(path)
		if statErr != nil {
			continue
		}

		var bucket string
		switch rule {
		case RuleByExtension:
			bucket = bucketByExtension(path)
		case RuleByDate:
			bucket = bucketByDate(info, opts.DateFormat)
		case RuleBySize:
			bucket = bucketBySize(info, opts.SmallMB, opts.LargeMB)
		case RuleByType:
			bucket = bucketByType(path)
		case RuleArchiveOlderThan:
			b, matched := bucketByArchiveAge(info, now, opts.ArchiveOlderThan)
			if !matched {
				continue
			}
			bucket = b
		case RuleCustomRulesFile:
			bucket = bucketByCustomRules(filepath.Base(path), customRules)
		case RuleFlatten:
			bucket = ""
		default:
			return nil, supervisor.New(supervisor.KindUserError, fmt.Sprintf("unknown organize rule %q", rule), "")
		}

		var destDir string
		if rule == RuleFlatten {
			destDir = target
			if filepath.Dir(path) == destDir {
				continue
			}
		} else {
			destDir = filepath.Join(root, bucket)
		}

		plan = append(plan, PlannedMove{
			Source:      path,
			Destination: filepath.Join(destDir, filepath.Base(path)),
			Bucket:      bucket,
		})
	}

	resolveCollisions(plan)
	return plan, nil
}

func walkAll(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, supervisor.Wrap(supervisor.KindUserError, "walk directory", "", err)
	}
	return files, nil
}

// resolveCollisions appends a numeric suffix ("_1", "_2", ...) to any
// planned destination that would otherwise collide with another
// planned destination or an existing file already on disk.
func resolveCollisions(plan []PlannedMove) {
	seen := map[string]bool{}
	for i := range plan {
		dest := plan[i].Destination
		if !seen[dest] {
			if _, err := os.Stat(dest); err != nil {
				seen[dest] = true
				continue
			}
		}
		ext := filepath.Ext(dest)
		stem := dest[:len(dest)-len(ext)]
		counter := 1
		candidate := dest
		for {
			if seen[candidate] {
				candidate = fmt.Sprintf("%s_%d%s", stem, counter, ext)
				counter++
				continue
			}
			if _, err := os.Stat(candidate); err == nil {
				candidate = fmt.Sprintf("%s_%d%s", stem, counter, ext)
				counter++
				continue
			}
			break
		}
		seen[candidate] = true
		plan[i].Destination = candidate
	}
}

// Organize executes rule over p.Root. With opts.DryRun it only returns
// the computed plan (Summary.Plan), performing no moves and writing no
// manifest.
func (p *Planner) Organize(ctx context.Context, rule Rule, opts Options) (Summary, error) {
	start := time.Now()
	ctx, span := startOrganizeSpan(ctx, p.Root, rule)
	defer span.End()

	plan, err := buildPlan(p.Root, rule, opts, time.Now())
	if err != nil {
		return Summary{}, err
	}

	if opts.DryRun {
		return Summary{Plan: plan, DryRun: true}, nil
	}

	manifest := Manifest{Root: p.Root, Rule: rule, StartedAt: time.Now().UTC()}
	if err := p.writeManifest(manifest); err != nil {
		return Summary{}, err
	}

	concurrency := opts.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	afsOpts := opts.AFSOptions
	if afsOpts == (afs.Options{}) {
		afsOpts = afs.DefaultOptions()
	}

	var mu sync.Mutex
	summary := Summary{Plan: plan}

	// entries and done are indexed by plan position, not completion
	// order: moves run concurrently (SetLimit), so the goroutine that
	// finishes first is not necessarily the one plan[0] started. The
	// manifest must list entries in plan order regardless (spec.md:252
	// scenario 6), so each completion writes into its own slot and the
	// manifest is rebuilt from the slots in index order rather than
	// appended to as completions arrive.
	entries := make([]ManifestEntry, len(plan))
	done := make([]bool, len(plan))

	rebuildManifestEntries := func() {
		manifest.Entries = manifest.Entries[:0]
		for i, d := range done {
			if d {
				manifest.Entries = append(manifest.Entries, entries[i])
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, move := range plan {
		i, move := i, move
		g.Go(func() error {
			result, moveErr := p.Engine.AtomicMove(gctx, move.Source, move.Destination, afsOpts, afs.Meta{
				Kind: history.KindOrganizerMove,
				Tool: "opm",
				Args: []string{string(rule), move.Source, move.Destination},
			})

			mu.Lock()
			defer mu.Unlock()
			if moveErr != nil {
				summary.Skipped++
				summary.Errors = append(summary.Errors, moveErr)
				return nil
			}
			summary.Moved++
			entries[i] = ManifestEntry{
				OpID:        result.Operation.OpID,
				Source:      move.Source,
				Destination: move.Destination,
				Bucket:      move.Bucket,
				Timestamp:   time.Now().UTC(),
			}
			done[i] = true
			rebuildManifestEntries()
			return p.writeManifest(manifest)
		})
	}

	if err := g.Wait(); err != nil {
		recordOrganizeMetrics(ctx, rule, time.Since(start), summary.Moved, summary.Skipped)
		return summary, supervisor.Wrap(supervisor.KindInternal, "organize run failed", "", err)
	}

	summary.Manifest = manifest
	recordOrganizeMetrics(ctx, rule, time.Since(start), summary.Moved, summary.Skipped)
	return summary, nil
}
