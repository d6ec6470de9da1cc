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
	"bufio"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/safemutate/internal/history"
	"github.com/AleutianAI/safemutate/internal/substrate"
	"github.com/AleutianAI/safemutate/internal/supervisor"
)

var (
	historyLimit int
	historyFile  string
	historyTool  string
	historySince string

	undoLast        bool
	undoInteractive bool
	undoOperation   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query, undo, and summarize the operation journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistoryQuery(cmd)
	},
}

var historyUndoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Reverse a single journaled operation",
	RunE:  runHistoryUndo,
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the journal by kind and tool",
	RunE:  runHistoryStats,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Sweep orphaned backups and stale undo flags past the retention window",
	RunE:  runHistoryClean,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of records to print, most recent first")
	historyCmd.Flags().StringVar(&historyFile, "file", "", "filter to operations on this file path")
	historyCmd.Flags().StringVar(&historyTool, "tool", "", "filter to operations recorded by this tool")
	historyCmd.Flags().StringVar(&historySince, "since", "", "filter to operations at or after this relative duration ago (e.g. 2h, 3d)")

	historyUndoCmd.Flags().BoolVar(&undoLast, "last", false, "undo the most recently recorded undoable operation")
	historyUndoCmd.Flags().BoolVar(&undoInteractive, "interactive", false, "prompt for which recent operation to undo")
	historyUndoCmd.Flags().StringVar(&undoOperation, "operation", "", "undo this specific op_id")

	historyCmd.AddCommand(historyUndoCmd, historyStatsCmd, historyCleanCmd)
}

func parseSince(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	unit := v[len(v)-1]
	var mult time.Duration
	switch unit {
	case 'd':
		mult = 24 * time.Hour
	case 'h':
		mult = time.Hour
	case 'm':
		mult = time.Minute
	default:
		d, err := time.ParseDuration(v)
		if err != nil {
			return time.Time{}, supervisor.New(supervisor.KindUserError, fmt.Sprintf("unrecognized --since value %q", v), "use a form like 2h or 3d")
		}
		return time.Now().Add(-d), nil
	}
	n := v[:len(v)-1]
	var amount int
	if _, err := fmt.Sscanf(n, "%d", &amount); err != nil {
		return time.Time{}, supervisor.New(supervisor.KindUserError, fmt.Sprintf("unrecognized --since value %q", v), "use a form like 2h or 3d")
	}
	return time.Now().Add(-time.Duration(amount) * mult), nil
}

func runHistoryQuery(cmd *cobra.Command) error {
	s := substrateFrom(cmd)
	since, err := parseSince(historySince)
	if err != nil {
		return err
	}
	ops, err := s.History.Query(history.QueryFilter{
		File:  historyFile,
		Tool:  historyTool,
		Since: since,
	})
	if err != nil {
		return err
	}

	sort.SliceStable(ops, func(i, j int) bool { return ops[i].Timestamp.After(ops[j].Timestamp) })
	if historyLimit > 0 && len(ops) > historyLimit {
		ops = ops[:historyLimit]
	}

	w := bufio.NewWriter(cmd.OutOrStdout())
	defer w.Flush()
	for _, op := range ops {
		fmt.Fprintf(w, "%s  %-16s  %-8s  %s  can_undo=%v  %s\n",
			op.Timestamp.Format(time.RFC3339), op.Kind, op.Tool, op.OpID, op.CanUndo, op.File)
	}
	return nil
}

func runHistoryUndo(cmd *cobra.Command, args []string) error {
	s := substrateFrom(cmd)

	opID := undoOperation
	if undoLast {
		ops, err := s.History.Query(history.QueryFilter{})
		if err != nil {
			return err
		}
		for i := len(ops) - 1; i >= 0; i-- {
			if ops[i].CanUndo {
				opID = ops[i].OpID
				break
			}
		}
		if opID == "" {
			return supervisor.New(supervisor.KindUserError, "no undoable operation in history", "")
		}
	}
	if undoInteractive {
		ops, err := s.History.Query(history.QueryFilter{})
		if err != nil {
			return err
		}
		for i := len(ops) - 1; i >= 0 && i > len(ops)-11; i-- {
			fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s  %s  %s\n", len(ops)-i, ops[i].OpID, ops[i].Kind, ops[i].File)
		}
		fmt.Fprint(cmd.OutOrStdout(), "operation to undo (op_id): ")
		if _, err := fmt.Fscanln(cmd.InOrStdin(), &opID); err != nil {
			return supervisor.Wrap(supervisor.KindUserError, "read interactive selection", "", err)
		}
	}
	if opID == "" {
		return supervisor.New(supervisor.KindUserError, "undo requires --last, --interactive, or --operation ID", "")
	}

	ok, confirmErr := s.Config.Protocol.Authorize(supervisor.LevelMedium)
	if !ok {
		return confirmErr
	}

	result, err := s.History.Undo(opID)
	if err != nil {
		return err
	}
	printf(cmd, "restored %s to hash %s (undo op_id=%s)\n", result.RestoredFile, result.RestoredHash, result.OpID)
	return nil
}

func runHistoryStats(cmd *cobra.Command, args []string) error {
	s := substrateFrom(cmd)
	stats, err := s.History.Stats()
	if err != nil {
		return err
	}
	printf(cmd, "total_operations=%d undoable=%d\n", stats.TotalOperations, stats.UndoableCount)
	kinds := make([]string, 0, len(stats.ByKind))
	for k := range stats.ByKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		printf(cmd, "  kind=%-20s count=%d\n", k, stats.ByKind[history.Kind(k)])
	}
	tools := make([]string, 0, len(stats.ByTool))
	for t := range stats.ByTool {
		tools = append(tools, t)
	}
	sort.Strings(tools)
	for _, t := range tools {
		printf(cmd, "  tool=%-20s count=%d\n", t, stats.ByTool[t])
	}
	return nil
}

func runHistoryClean(cmd *cobra.Command, args []string) error {
	s := substrateFrom(cmd)
	stats, err := s.Sweep(sweepRetentionFlag())
	if err != nil {
		return err
	}
	printf(cmd, "examined=%d dropped=%d backups_removed=%d\n", stats.RecordsExamined, stats.RecordsDropped, stats.BackupsRemoved)
	return nil
}

func sweepRetentionFlag() time.Duration {
	if v := os.Getenv("SAFE_MOVE_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return substrate.DefaultSweepRetention
}
