// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package opm implements the OPM Planner (C9): it turns a declarative
// organization rule over a directory into a sequence of afs.AtomicMove
// calls, recording every move in a manifest that can be reversed in one
// LIFO pass.
package opm

import (
	"time"

	"github.com/AleutianAI/safemutate/internal/afs"
)

// Rule is the closed set of organization strategies spec.md §4.8 names.
type Rule string

const (
	RuleByExtension      Rule = "by_extension"
	RuleByDate           Rule = "by_date"
	RuleBySize           Rule = "by_size"
	RuleByType           Rule = "by_type"
	RuleFlatten          Rule = "flatten"
	RuleArchiveOlderThan Rule = "archive_older_than"
	RuleCustomRulesFile  Rule = "custom_rules_file"
)

// Options configures one Organize call.
type Options struct {
	DryRun bool

	// DateFormat is a time.Format reference layout, used by RuleByDate
	// (default "2006-01").
	DateFormat string

	// SmallMB/LargeMB bound RuleBySize's three buckets: < SmallMB is
	// "Small", < LargeMB is "Medium", everything else is "Large".
	SmallMB float64
	LargeMB float64

	// FlattenTarget overrides the destination directory for RuleFlatten;
	// defaults to root itself.
	FlattenTarget string

	// ArchiveOlderThan is the age cutoff for RuleArchiveOlderThan: files
	// whose mtime is older than now.Add(-ArchiveOlderThan) move into an
	// "Archive" subdirectory.
	ArchiveOlderThan time.Duration

	// CustomRulesPath is a YAML file of glob-pattern -> destination
	// folder entries, used by RuleCustomRulesFile.
	CustomRulesPath string

	// MaxConcurrency bounds how many files are moved in parallel
	// (0 means a sane default).
	MaxConcurrency int

	// AFSOptions is passed through to every per-file AtomicMove, so a
	// caller's --verify-checksum/--max-retries/--wait-for-unlock apply
	// to the organizer's moves the same way they apply to a bare AFS
	// move (SPEC_FULL.md decision (b): no separate organizer-level retry
	// budget). The zero value falls back to afs.DefaultOptions().
	AFSOptions afs.Options
}

// PlannedMove is one file's proposed source/destination pair before
// Organize executes it (or, for DryRun, instead of executing it).
type PlannedMove struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Bucket      string `json:"bucket"`
}

// ManifestEntry records one move Organize actually performed.
type ManifestEntry struct {
	OpID        string    `json:"op_id"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Bucket      string    `json:"bucket"`
	Timestamp   time.Time `json:"timestamp"`
}

// Manifest is the durable, atomically-rewritten record of one
// Organize run, used by UndoManifest to reverse it.
type Manifest struct {
	Root      string          `json:"root"`
	Rule      Rule            `json:"rule"`
	StartedAt time.Time       `json:"started_at"`
	Entries   []ManifestEntry `json:"entries"`
}

// Summary is Organize's return value: what was planned, what
// succeeded, what failed, and (for DryRun) the full plan without any
// of it having executed.
type Summary struct {
	Plan     []PlannedMove
	Manifest Manifest
	Moved    int
	Skipped  int
	Errors   []error
	DryRun   bool
}

// CustomRule is one glob-pattern -> destination-folder entry loaded
// from a YAML rules file.
type CustomRule struct {
	Pattern     string `yaml:"pattern"`
	Destination string `yaml:"destination"`
}
