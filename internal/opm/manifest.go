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
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/AleutianAI/safemutate/internal/history"
	"github.com/AleutianAI/safemutate/internal/supervisor"
)

func (p *Planner) manifestPath(m Manifest) string {
	return filepath.Join(p.ManifestDir, m.StartedAt.UTC().Format("20060102T150405.000000000Z")+".json")
}

// writeManifest atomically rewrites m's manifest file after every move,
// so an interrupted Organize run always leaves a manifest reflecting
// exactly the moves that actually completed.
func (p *Planner) writeManifest(m Manifest) error {
	if err := os.MkdirAll(p.ManifestDir, 0o755); err != nil {
		return supervisor.Wrap(supervisor.KindInternal, "create manifest directory", "", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return supervisor.Wrap(supervisor.KindInternal, "marshal organize manifest", "", err)
	}
	path := p.manifestPath(m)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return supervisor.Wrap(supervisor.KindInternal, "write manifest temp file", "", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return supervisor.Wrap(supervisor.KindInternal, "rename manifest into place", "", err)
	}
	return nil
}

// LoadManifest reads a previously written manifest file back.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, supervisor.Wrap(supervisor.KindNotFound, "read manifest file", "", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, supervisor.Wrap(supervisor.KindHistoryCorrupt, "parse manifest file", "", err)
	}
	return m, nil
}

// UndoManifest reverses every entry in m in LIFO order (most recently
// moved file first), using history.Store.Undo keyed by each entry's
// op_id — the same undo path a single afs.AtomicMove's caller would
// use, reused here rather than re-implemented, since an organizer move
// is recorded in the journal exactly like any other AFS move.
func UndoManifest(h *history.Store, m Manifest) (int, []error) {
	var undone int
	var errs []error
	for i := len(m.Entries) - 1; i >= 0; i-- {
		entry := m.Entries[i]
		if _, err := h.Undo(entry.OpID); err != nil {
			errs = append(errs, err)
			continue
		}
		undone++
	}
	return undone, errs
}
