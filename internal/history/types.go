// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history implements the append-only operation journal (TOH):
// the single writer of record()/undo() results every other component
// observes through Query and Stats. Per Design Note §9, history is the
// only package that writes journal records; it does not call back into
// afs, sge, or opm to perform its own undo restores, which would
// reintroduce the cyclic reference the closed Kind sum type and this
// package's raw restore path are built to avoid.
package history

import (
	"time"

	"github.com/AleutianAI/safemutate/internal/backupstore"
)

// Kind is the closed set of operation kinds spec.md §3 names. New tools
// are integrated by adding a variant and a classifier rule, never by
// subclassing or dynamic dispatch.
type Kind string

const (
	KindReplaceText     Kind = "replace_text"
	KindReplaceAst      Kind = "replace_ast"
	KindUnifiedRefactor Kind = "unified_refactor"
	KindMultiEdit       Kind = "multi_edit"
	KindWriteFile       Kind = "write_file"
	KindDeleteFile      Kind = "delete_file"
	KindGitReset        Kind = "git_reset"
	KindGitClean        Kind = "git_clean"
	KindGitForcePush    Kind = "git_force_push"
	KindGitStashClear   Kind = "git_stash_clear"
	KindGitRebase       Kind = "git_rebase"
	KindGitBranchDelete Kind = "git_branch_delete"
	KindOrganizerMove   Kind = "organizer_move"
	KindUndo            Kind = "undo"
)

// Operation is one durable journal record, per spec.md §3's Operation
// fields.
type Operation struct {
	OpID          string    `json:"op_id"`
	Timestamp     time.Time `json:"ts"`
	Kind          Kind      `json:"kind"`
	Tool          string    `json:"tool"`
	Args          []string  `json:"args,omitempty"`
	// OriginalArgs holds the pre-rewrite argv when SGE's classifier
	// converted the command (e.g. "push --force" -> "push
	// --force-with-lease"); empty when Args was run as typed.
	OriginalArgs  []string  `json:"original_args,omitempty"`
	File          string    `json:"file"`
	OldHash       string    `json:"old_hash"`
	NewHash       string    `json:"new_hash"`
	LinesAffected int       `json:"lines_affected,omitempty"`
	ChangesCount  int       `json:"changes_count,omitempty"`
	BackupRef     string    `json:"backup_ref,omitempty"`
	Compressed    bool      `json:"compressed,omitempty"`
	User          string    `json:"user"`
	Cwd           string    `json:"cwd"`
	Description   string    `json:"description,omitempty"`
	CanUndo       bool      `json:"can_undo"`
	Deps          []string  `json:"deps,omitempty"`
	Status        string    `json:"status,omitempty"`
	UnundoableReason string `json:"unundoable_reason,omitempty"`
}

// OperationDraft is the input record() validates and durably persists.
// OpID may be left empty: Record synthesizes one. Callers that need the
// op_id before mutating (to key a pre-mutation backup under the same
// id) should call Store.NewOpID and set it explicitly.
type OperationDraft struct {
	OpID          string
	Kind          Kind
	Tool          string
	Args          []string
	OriginalArgs  []string
	File          string
	OldHash       string
	NewHash       string
	LinesAffected int
	ChangesCount  int
	BackupRef     *backupstore.BackupRef
	Description   string
	Deps          []string
	Status        string
	CanUndo       bool
}

// QueryFilter selects a subset of journal records. Zero-value fields are
// not applied as filters.
type QueryFilter struct {
	File  string
	Tool  string
	Kind  Kind
	Since time.Time
}

// UndoResult reports the outcome of a successful Undo.
type UndoResult struct {
	OpID         string
	RestoredFile string
	RestoredHash string
}

// Statistics summarizes the journal's contents, per spec §4.5's stats().
type Statistics struct {
	TotalOperations int
	ByKind          map[Kind]int
	ByTool          map[string]int
	UndoableCount   int
}

// SweepStats reports how a retention Sweep changed the journal and
// backup store.
type SweepStats struct {
	RecordsExamined int
	RecordsDropped  int
	BackupsRemoved  int
}

const schemaVersion = "toh/1"

type schemaRecord struct {
	Schema string `json:"schema"`
}
