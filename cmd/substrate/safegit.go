// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/safemutate/internal/sge"
	"github.com/AleutianAI/safemutate/internal/supervisor"
)

var (
	safegitDryRun  bool
	safegitYes     bool
	safegitForce   bool
	safegitNonIntr bool
	safegitConfirm string

	showContextJSON bool
	undoHistoryN    int
	exportHistoryTo string
)

// safegitCmd passes every argument it doesn't itself recognize straight
// through to the real git binary via sge.Interposer.Run; cobra's
// DisableFlagParsing lets argv like `push --force origin main` reach
// Run unmangled instead of being consumed as substrate flags.
var safegitCmd = &cobra.Command{
	Use:                "safegit -- <git args...>",
	Short:              "Guarded git: classifies, context-gates, confirms and records every destructive invocation before delegating to git",
	DisableFlagParsing: true,
	RunE:               runSafegit,
}

var safegitContextCmd = &cobra.Command{
	Use:   "context",
	Short: "Inspect or change SGE's persisted environment/mode/restrictions",
}

var safegitSetEnvCmd = &cobra.Command{
	Use:   "set-env <development|staging|production>",
	Args:  cobra.ExactArgs(1),
	Short: "Set the deployment environment SGE gates against",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := substrateFrom(cmd)
		store := sge.NewContextStore(s.Config.Root)
		ctx, err := store.Load()
		if err != nil {
			return err
		}
		ctx.Environment = sge.Environment(args[0])
		return store.Save(ctx)
	},
}

var safegitSetModeCmd = &cobra.Command{
	Use:   "set-mode <normal|code-freeze|maintenance|paranoid>",
	Args:  cobra.ExactArgs(1),
	Short: "Set the operating mode SGE gates against",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := substrateFrom(cmd)
		store := sge.NewContextStore(s.Config.Root)
		ctx, err := store.Load()
		if err != nil {
			return err
		}
		ctx.Mode = sge.Mode(args[0])
		return store.Save(ctx)
	},
}

var safegitShowContextCmd = &cobra.Command{
	Use:   "show-context",
	Short: "Print the persisted environment/mode/restrictions",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := substrateFrom(cmd)
		store := sge.NewContextStore(s.Config.Root)
		ctx, err := store.Load()
		if err != nil {
			return err
		}
		if showContextJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(ctx)
		}
		printf(cmd, "environment=%s mode=%s restrictions=%v updated_at=%s\n", ctx.Environment, ctx.Mode, ctx.Restrictions, ctx.UpdatedAt)
		return nil
	},
}

var safegitAddRestrictionCmd = &cobra.Command{
	Use:   "add-restriction <command>",
	Args:  cobra.ExactArgs(1),
	Short: "Forbid a specific git subcommand regardless of environment/mode",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := substrateFrom(cmd)
		return sge.NewContextStore(s.Config.Root).AddRestriction(args[0])
	},
}

var safegitRemoveRestrictionCmd = &cobra.Command{
	Use:   "remove-restriction <command>",
	Args:  cobra.ExactArgs(1),
	Short: "Lift an explicit command restriction",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := substrateFrom(cmd)
		return sge.NewContextStore(s.Config.Root).RemoveRestriction(args[0])
	},
}

var safegitUndoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Reverse the most recent SGE-guarded git invocation",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := substrateFrom(cmd)
		entry, err := s.SGE(s.Config.Root).Undo()
		if err != nil {
			return err
		}
		printf(cmd, "undone: git %v (head %s -> %s)\n", entry.Argv, entry.HeadAfter, entry.HeadBefore)
		return nil
	},
}

var safegitUndoHistoryCmd = &cobra.Command{
	Use:   "undo-history",
	Short: "List the bounded SGE undo stack, most recent last",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := substrateFrom(cmd)
		entries, err := sge.NewUndoStack(s.Config.Root).List()
		if err != nil {
			return err
		}
		if undoHistoryN > 0 && len(entries) > undoHistoryN {
			entries = entries[len(entries)-undoHistoryN:]
		}
		for _, e := range entries {
			printf(cmd, "%s  %s  git %v  branch=%s\n", e.Timestamp.Format("2006-01-02T15:04:05Z07:00"), e.ID, e.Argv, e.Branch)
		}
		return nil
	},
}

var safegitExportHistoryCmd = &cobra.Command{
	Use:   "export-history",
	Short: "Export the SGE undo stack as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := substrateFrom(cmd)
		entries, err := sge.NewUndoStack(s.Config.Root).List()
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return supervisor.Wrap(supervisor.KindInternal, "marshal undo stack export", "", err)
		}
		if exportHistoryTo == "" || exportHistoryTo == "-" {
			_, err = cmd.OutOrStdout().Write(append(data, '\n'))
			return err
		}
		return os.WriteFile(exportHistoryTo, data, 0o644)
	},
}

func init() {
	safegitCmd.Flags().BoolVar(&safegitDryRun, "dry-run", false, "explain the classification and gate result without executing git")
	safegitCmd.Flags().BoolVar(&safegitYes, "yes", false, "accept a medium-danger confirmation")
	safegitCmd.Flags().BoolVar(&safegitForce, "force-yes", false, "accept a high-danger confirmation")
	safegitCmd.Flags().BoolVar(&safegitNonIntr, "non-interactive", false, "never prompt")
	safegitCmd.Flags().StringVar(&safegitConfirm, "confirm", "", "the exact phrase a high-risk command's classification requires")

	safegitShowContextCmd.Flags().BoolVar(&showContextJSON, "json", false, "print as JSON")
	safegitUndoHistoryCmd.Flags().IntVar(&undoHistoryN, "limit", 10, "maximum number of entries to print, most recent last")
	safegitExportHistoryCmd.Flags().StringVar(&exportHistoryTo, "output", "", "write to this path instead of stdout")

	safegitContextCmd.AddCommand(safegitSetEnvCmd, safegitSetModeCmd, safegitShowContextCmd, safegitAddRestrictionCmd, safegitRemoveRestrictionCmd)
	safegitCmd.AddCommand(safegitContextCmd, safegitUndoCmd, safegitUndoHistoryCmd, safegitExportHistoryCmd)
}

// runSafegit strips any substrate-level flags safegit itself recognizes
// from argv before handing the remainder to the Interposer, since
// DisableFlagParsing means cobra never parsed them out.
func runSafegit(cmd *cobra.Command, args []string) error {
	var gitArgv []string
	dryRun, yes, force, nonInteractive, confirm := safegitDryRun, safegitYes, safegitForce, safegitNonIntr, safegitConfirm
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--dry-run":
			dryRun = true
		case "--yes":
			yes = true
		case "--force-yes":
			force = true
		case "--non-interactive":
			nonInteractive = true
		case "--confirm":
			if i+1 < len(args) {
				i++
				confirm = args[i]
			}
		default:
			gitArgv = append(gitArgv, args[i])
		}
	}

	s := substrateFrom(cmd)
	interposer := s.SGE(s.Config.Root)
	if yes {
		interposer.Protocol.AssumeYes = true
	}
	if force {
		interposer.Protocol.ForceYes = true
	}
	if nonInteractive {
		interposer.Protocol.NonInteractive = true
	}

	if dryRun {
		result, err := interposer.Explain(gitArgv)
		if err != nil {
			return err
		}
		if result.Forbidden {
			printf(cmd, "BLOCKED: %s\n", result.ForbiddenWhy)
			return supervisor.New(supervisor.KindContextForbidden, result.ForbiddenWhy, "adjust context mode/environment or the command")
		}
		printf(cmd, "class=%s command=%s effective=%v danger=%d\n", result.Classification.Class, result.Classification.Command, result.EffectiveArgv, result.DangerLevel)
		if result.Divergence != nil {
			printf(cmd, "divergence: ahead=%d behind=%d upstream=%s platform=%s\n", result.Divergence.Ahead, result.Divergence.Behind, result.Divergence.Upstream, result.Divergence.Platform)
		}
		return nil
	}

	code, err := interposer.Run(gitArgv, sge.RunOptions{TypedPhrase: confirm})
	if err != nil {
		return err
	}
	if code != 0 {
		return supervisor.New(supervisor.KindUserError, fmt.Sprintf("git exited with status %d", code), "")
	}
	return nil
}
