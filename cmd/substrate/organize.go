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
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/safemutate/internal/opm"
	"github.com/AleutianAI/safemutate/internal/supervisor"
)

var (
	orgByExt       bool
	orgByDate      string
	orgBySize      []float64
	orgByType      bool
	orgFlatten     bool
	orgArchiveDays int
	orgRulesFile   string

	orgDryRun         bool
	orgCreateManifest bool
	orgUndoManifest   string
	orgVerifyChecksum bool
	orgMaxRetries     int
	orgWaitForUnlock  time.Duration
)

var organizeCmd = &cobra.Command{
	Use:   "organize <dir>",
	Short: "Bucket, flatten or archive the files in a directory, every move recorded and individually undoable",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runOrganize,
}

func init() {
	organizeCmd.Flags().BoolVar(&orgByExt, "by-ext", false, "bucket by file extension")
	organizeCmd.Flags().StringVar(&orgByDate, "by-date", "", "bucket by modification date, using this Go reference layout (default 2006-01)")
	organizeCmd.Flags().Float64SliceVar(&orgBySize, "by-size", nil, "bucket by size in MB: --by-size SMALL LARGE")
	organizeCmd.Flags().BoolVar(&orgByType, "by-type", false, "bucket by coarse file type (image, document, archive, ...)")
	organizeCmd.Flags().BoolVar(&orgFlatten, "flatten", false, "move every file from subdirectories into dir itself")
	organizeCmd.Flags().IntVar(&orgArchiveDays, "archive-by-date", 0, "move files older than this many days into an Archive subdirectory")
	organizeCmd.Flags().StringVar(&orgRulesFile, "rules-file", "", "a YAML file of {pattern, destination} glob rules")

	organizeCmd.Flags().BoolVar(&orgDryRun, "dry-run", false, "print the plan without moving anything")
	organizeCmd.Flags().BoolVar(&orgCreateManifest, "create-manifest", true, "report the entry count of this run's manifest (the manifest file is written on every non-dry run)")
	organizeCmd.Flags().StringVar(&orgUndoManifest, "undo-manifest", "", "reverse a prior run's manifest file instead of organizing")
	organizeCmd.Flags().BoolVar(&orgVerifyChecksum, "verify-checksum", false, "force checksum verification on for every move")
	organizeCmd.Flags().IntVar(&orgMaxRetries, "max-retries", 0, "override the configured max retry count")
	organizeCmd.Flags().DurationVar(&orgWaitForUnlock, "wait-for-unlock", 0, "override the configured per-move lock-wait timeout")
}

func runOrganize(cmd *cobra.Command, args []string) error {
	s := substrateFrom(cmd)

	if orgUndoManifest != "" {
		manifest, err := opm.LoadManifest(orgUndoManifest)
		if err != nil {
			return err
		}
		undone, errs := opm.UndoManifest(s.History, manifest)
		printf(cmd, "undone=%d failed=%d\n", undone, len(errs))
		for _, e := range errs {
			printf(cmd, "  error: %v\n", e)
		}
		if len(errs) > 0 {
			return supervisor.New(supervisor.KindInternal, "one or more manifest entries failed to undo", "re-run history undo --operation on the failed ids individually")
		}
		return nil
	}

	if len(args) != 1 {
		return supervisor.New(supervisor.KindUserError, "organize requires exactly one directory argument", "")
	}
	dir := args[0]

	rule, opts, err := resolveOrganizeRule()
	if err != nil {
		return err
	}
	opts.DryRun = orgDryRun

	afsOpts := s.Config.ToAFSOptions()
	if orgVerifyChecksum {
		afsOpts.VerifyChecksum = true
	}
	if orgMaxRetries > 0 {
		afsOpts.MaxRetries = orgMaxRetries
	}
	if orgWaitForUnlock > 0 {
		afsOpts.Timeout = orgWaitForUnlock
	}
	opts.AFSOptions = afsOpts
	opts.MaxConcurrency = s.Config.OrganizerMaxConcurrency

	planner := s.Organizer(dir)
	summary, err := planner.Organize(cmd.Context(), rule, opts)
	if err != nil {
		return err
	}

	if summary.DryRun {
		printOrganizeDryRun(cmd, summary)
		return nil
	}

	printf(cmd, "moved=%d skipped=%d\n", summary.Moved, summary.Skipped)
	if orgCreateManifest {
		printf(cmd, "manifest: %d entries recorded\n", len(summary.Manifest.Entries))
	}
	for _, e := range summary.Errors {
		printf(cmd, "  error: %v\n", e)
	}
	if len(summary.Errors) > 0 {
		return supervisor.New(supervisor.KindInternal, "one or more files failed to move", "see the per-file errors above")
	}
	return nil
}

func resolveOrganizeRule() (opm.Rule, opm.Options, error) {
	var opts opm.Options
	switch {
	case orgByExt:
		return opm.RuleByExtension, opts, nil
	case orgByDate != "":
		opts.DateFormat = orgByDate
		return opm.RuleByDate, opts, nil
	case len(orgBySize) == 2:
		opts.SmallMB, opts.LargeMB = orgBySize[0], orgBySize[1]
		return opm.RuleBySize, opts, nil
	case orgByType:
		return opm.RuleByType, opts, nil
	case orgFlatten:
		return opm.RuleFlatten, opts, nil
	case orgArchiveDays > 0:
		opts.ArchiveOlderThan = time.Duration(orgArchiveDays) * 24 * time.Hour
		return opm.RuleArchiveOlderThan, opts, nil
	case orgRulesFile != "":
		opts.CustomRulesPath = orgRulesFile
		return opm.RuleCustomRulesFile, opts, nil
	default:
		return "", opts, supervisor.New(supervisor.KindUserError,
			"organize requires exactly one of --by-ext, --by-date, --by-size, --by-type, --flatten, --archive-by-date, --rules-file", "")
	}
}

// printOrganizeDryRun prints the per-file plan followed by a per-bucket
// count summary table (Supplemented Feature 6).
func printOrganizeDryRun(cmd *cobra.Command, summary opm.Summary) {
	for _, move := range summary.Plan {
		printf(cmd, "%s -> %s\n", move.Source, move.Destination)
	}

	counts := map[string]int{}
	for _, move := range summary.Plan {
		bucket := move.Bucket
		if bucket == "" {
			bucket = "(root)"
		}
		counts[bucket]++
	}
	buckets := make([]string, 0, len(counts))
	for b := range counts {
		buckets = append(buckets, b)
	}
	sort.Strings(buckets)

	printf(cmd, "\n%d files planned across %d buckets:\n", len(summary.Plan), len(buckets))
	for _, b := range buckets {
		printf(cmd, "  %-20s %d\n", b, counts[b])
	}
}
