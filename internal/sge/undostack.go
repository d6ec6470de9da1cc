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
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/safemutate/internal/gitclassify"
	"github.com/AleutianAI/safemutate/internal/supervisor"
)

// MaxUndoDepth bounds the SGE undo stack per spec §4.7: the 51st push
// evicts the oldest entry; its recovery script and stash ref are not
// removed.
const MaxUndoDepth = 50

// UndoEntry is one bounded-stack record of a destructive git invocation
// SGE allowed through, distinct from history.Operation: it tracks a
// whole-repository stash-backed checkpoint rather than a single file's
// bytes.
type UndoEntry struct {
	ID             string                  `json:"id"`
	Timestamp      time.Time               `json:"ts"`
	Argv           []string                `json:"argv"`
	// OriginalArgv is the pre-rewrite argv when the classifier converted
	// the command (e.g. "push --force" -> "push --force-with-lease");
	// empty when Argv was run exactly as typed.
	OriginalArgv   []string                `json:"original_argv,omitempty"`
	Command        string                  `json:"command"`
	DangerClass    gitclassify.DangerClass `json:"danger_class"`
	StashRef       string                  `json:"stash_ref,omitempty"`
	HeadBefore     string                  `json:"head_before,omitempty"`
	HeadAfter      string                  `json:"head_after,omitempty"`
	Branch         string                  `json:"branch,omitempty"`
	RecoveryScript string                  `json:"recovery_script,omitempty"`
	RecoveryHints  []string                `json:"recovery_hints,omitempty"`
}

// UndoStack persists a bounded LIFO list of UndoEntry at <root>/undo_stack.json.
type UndoStack struct {
	Path string
}

func NewUndoStack(root string) *UndoStack {
	return &UndoStack{Path: filepath.Join(root, "undo_stack.json")}
}

func (s *UndoStack) load() ([]UndoEntry, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, supervisor.Wrap(supervisor.KindInternal, "read undo stack", "", err)
	}
	var entries []UndoEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, supervisor.Wrap(supervisor.KindHistoryCorrupt, "parse undo stack", "", err)
	}
	return entries, nil
}

func (s *UndoStack) save(entries []UndoEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return supervisor.Wrap(supervisor.KindInternal, "marshal undo stack", "", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return supervisor.Wrap(supervisor.KindInternal, "write undo stack temp file", "", err)
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		os.Remove(tmp)
		return supervisor.Wrap(supervisor.KindInternal, "rename undo stack into place", "", err)
	}
	return nil
}

// Push appends entry, evicting the oldest entry once the stack exceeds
// MaxUndoDepth. Eviction only drops the entry from this stack: its
// recovery script file and the refs/safemutate/stash-<prefix> ref that
// pins its stash commit are left in place, so the commit stays
// reachable and is not collected by `git gc`.
func (s *UndoStack) Push(entry UndoEntry) error {
	entries, err := s.load()
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	if len(entries) > MaxUndoDepth {
		entries = entries[len(entries)-MaxUndoDepth:]
	}
	return s.save(entries)
}

// Pop removes and returns the most recently pushed entry.
func (s *UndoStack) Pop() (UndoEntry, bool, error) {
	entries, err := s.load()
	if err != nil {
		return UndoEntry{}, false, err
	}
	if len(entries) == 0 {
		return UndoEntry{}, false, nil
	}
	last := entries[len(entries)-1]
	if err := s.save(entries[:len(entries)-1]); err != nil {
		return UndoEntry{}, false, err
	}
	return last, true, nil
}

// List returns all entries, most recent last.
func (s *UndoStack) List() ([]UndoEntry, error) {
	return s.load()
}
