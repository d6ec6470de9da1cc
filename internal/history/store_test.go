// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/safemutate/internal/checksum"
)

func TestRecordWritesSchemaSentinelFirst(t *testing.T) {
	root := t.TempDir()
	store := New(root)

	_, err := store.Record(OperationDraft{Kind: KindWriteFile, Tool: "afs", File: "a.txt", NewHash: "h"})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "operations.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(data[:30]), `"schema":"toh/1"`)
}

func TestConcurrentRecordsProduceUniqueOpIDs(t *testing.T) {
	root := t.TempDir()
	store := New(root)

	const n = 25
	var wg sync.WaitGroup
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			op, err := store.Record(OperationDraft{
				Kind: KindOrganizerMove,
				Tool: "opm",
				File: fmt.Sprintf("f%d.dat", i),
				NewHash: fmt.Sprintf("hash%d", i),
			})
			require.NoError(t, err)
			ids[i] = op.OpID
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, id := range ids {
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate op id %s", id)
		seen[id] = true
	}

	ops, err := store.Query(QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, ops, n)
}

func TestUndoRestoresOriginalBytes(t *testing.T) {
	root := t.TempDir()
	store := New(root)

	target := filepath.Join(t.TempDir(), "t.txt")
	require.NoError(t, os.WriteFile(target, []byte("Version 1.0\n"), 0o644))

	opID := store.NewOpID()
	ref, err := store.Backup(opID, target)
	require.NoError(t, err)

	oldHash, err := checksum.HashFile(target)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(target, []byte("Version 2.0\n"), 0o644))
	newHash, err := checksum.HashFile(target)
	require.NoError(t, err)

	recorded, err := store.Record(OperationDraft{
		OpID:      opID,
		Kind:      KindReplaceText,
		Tool:      "replace_text",
		File:      target,
		OldHash:   string(oldHash),
		NewHash:   string(newHash),
		BackupRef: &ref,
	})
	require.NoError(t, err)
	assert.True(t, recorded.CanUndo)

	result, err := store.Undo(recorded.OpID)
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "Version 1.0\n", string(data))
	assert.Equal(t, string(oldHash), result.RestoredHash)

	ops, err := store.Query(QueryFilter{Kind: KindUndo})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Contains(t, ops[0].Deps, recorded.OpID)
}

func TestUndoUndoActsAsRedo(t *testing.T) {
	root := t.TempDir()
	store := New(root)

	target := filepath.Join(t.TempDir(), "t.txt")
	require.NoError(t, os.WriteFile(target, []byte("Version 1.0\n"), 0o644))

	opID := store.NewOpID()
	ref, err := store.Backup(opID, target)
	require.NoError(t, err)
	oldHash, _ := checksum.HashFile(target)

	require.NoError(t, os.WriteFile(target, []byte("Version 2.0\n"), 0o644))
	newHash, _ := checksum.HashFile(target)

	recorded, err := store.Record(OperationDraft{
		OpID: opID, Kind: KindReplaceText, Tool: "replace_text", File: target,
		OldHash: string(oldHash), NewHash: string(newHash), BackupRef: &ref,
	})
	require.NoError(t, err)

	first, err := store.Undo(recorded.OpID)
	require.NoError(t, err)
	data, _ := os.ReadFile(target)
	assert.Equal(t, "Version 1.0\n", string(data))

	second, err := store.Undo(first.OpID)
	require.NoError(t, err)
	data, _ = os.ReadFile(target)
	assert.Equal(t, "Version 2.0\n", string(data))
	assert.Equal(t, string(newHash), second.RestoredHash)
}

func TestSweepDropsOldRecordsAndOrphanedBackups(t *testing.T) {
	root := t.TempDir()
	store := New(root)

	target := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	opID := store.NewOpID()
	ref, err := store.Backup(opID, target)
	require.NoError(t, err)
	op, err := store.Record(OperationDraft{
		OpID: opID, Kind: KindWriteFile, Tool: "afs", File: target,
		OldHash: "NEW_FILE", NewHash: "h1", BackupRef: &ref,
	})
	require.NoError(t, err)

	// Back-date the record itself to exercise retention: Record always
	// stamps "now", so age it in place the same way a real crash-recovery
	// reconciliation would find it after the retention window passed.
	op.Timestamp = time.Now().Add(-72 * time.Hour)
	rewriteSoleRecord(t, filepath.Join(root, "operations.jsonl"), op)

	stats, err := store.Sweep(time.Now(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.RecordsExamined)
	assert.Equal(t, 1, stats.RecordsDropped)
	assert.Equal(t, 1, stats.BackupsRemoved)

	ops, err := store.Query(QueryFilter{})
	require.NoError(t, err)
	assert.Empty(t, ops)

	_, statErr := os.Stat(ref.Path)
	assert.True(t, os.IsNotExist(statErr))
}

// rewriteSoleRecord replaces a single-record journal's record line with
// op, preserving the schema sentinel. Used to simulate a record aged
// past the retention window without waiting in real time.
func rewriteSoleRecord(t *testing.T, journalPath string, op Operation) {
	t.Helper()
	schemaLine, err := json.Marshal(schemaRecord{Schema: schemaVersion})
	require.NoError(t, err)
	recordLine, err := json.Marshal(op)
	require.NoError(t, err)
	content := string(schemaLine) + "\n" + string(recordLine) + "\n"
	require.NoError(t, os.WriteFile(journalPath, []byte(content), 0o644))
}
