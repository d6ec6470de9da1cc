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
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/safemutate/internal/backupstore"
	"github.com/AleutianAI/safemutate/internal/checksum"
	"github.com/AleutianAI/safemutate/internal/lockprim"
	"github.com/AleutianAI/safemutate/internal/supervisor"
)

const lockTimeout = 5 * time.Second

// Store is the TOH journal rooted at Root, laid out per spec §6:
// <root>/operations.jsonl, <root>/.lock, <root>/backups/.
type Store struct {
	Root    string
	backups *backupstore.Store
}

// opSeq numbers op_ids across every Store in this process, so two
// Stores created in the same millisecond still hand out distinct ids.
var opSeq atomic.Uint64

func New(root string) *Store {
	return &Store{Root: root, backups: backupstore.New(root)}
}

func (s *Store) journalPath() string { return filepath.Join(s.Root, "operations.jsonl") }
func (s *Store) lockPath() string    { return filepath.Join(s.Root, ".lock") }

// NewOpID synthesizes an OperationId in <ms_since_epoch>_<pid>_<seq>
// form: monotonic within this process, unique across processes by
// construction (pid differs) and across Store instances of the same
// process (the seq counter is shared by all of them).
func (s *Store) NewOpID() string {
	seq := opSeq.Add(1)
	return fmt.Sprintf("%d_%d_%d", time.Now().UnixMilli(), os.Getpid(), seq)
}

// Backup creates an immutable backup of sourcePath's current bytes
// keyed by opID. Callers that are about to mutate a file call this
// before mutating; if it fails, the caller must abort before any bytes
// change and surface BackupFailed without calling Record, per spec
// §4.5's failure mode.
func (s *Store) Backup(opID, sourcePath string) (backupstore.BackupRef, error) {
	ref, err := s.backups.Put(opID, sourcePath, backupstore.DefaultCompressThreshold)
	if err != nil {
		return backupstore.BackupRef{}, supervisor.Wrap(supervisor.KindBackupFailed,
			"create pre-mutation backup", "free disk space and retry", err)
	}
	return ref, nil
}

func (s *Store) ensureSchema() error {
	info, err := os.Stat(s.journalPath())
	if err == nil && info.Size() > 0 {
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.journalPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	line, err := json.Marshal(schemaRecord{Schema: schemaVersion})
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// Record durably appends draft as a new Operation. Record is the ONLY
// path that writes journal records; undo() below reuses it for the
// Undo-kind record it produces, rather than any wrapper package writing
// directly.
func (s *Store) Record(draft OperationDraft) (Operation, error) {
	start := time.Now()
	ctx, span := startRecordSpan(draft.Kind, draft.File)
	defer span.End()

	guard, err := lockprim.AcquireExclusiveFile(s.lockPath(), lockTimeout)
	if err != nil {
		return Operation{}, supervisor.Wrap(supervisor.KindTimeout,
			"acquire history lock for append", "retry shortly", err)
	}
	defer guard.Release()

	if err := s.ensureSchema(); err != nil {
		return Operation{}, supervisor.Wrap(supervisor.KindHistoryCorrupt,
			"prepare journal", "", err)
	}

	opID := draft.OpID
	if opID == "" {
		opID = s.NewOpID()
	}

	op := Operation{
		OpID:          opID,
		Timestamp:     time.Now().UTC(),
		Kind:          draft.Kind,
		Tool:          draft.Tool,
		Args:          draft.Args,
		OriginalArgs:  draft.OriginalArgs,
		File:          draft.File,
		OldHash:       draft.OldHash,
		NewHash:       draft.NewHash,
		LinesAffected: draft.LinesAffected,
		ChangesCount:  draft.ChangesCount,
		User:          currentUser(),
		Cwd:           currentDir(),
		Description:   draft.Description,
		Deps:          draft.Deps,
		Status:        draft.Status,
		CanUndo:       draft.CanUndo,
	}
	if draft.BackupRef != nil {
		op.BackupRef = draft.BackupRef.Path
		op.Compressed = draft.BackupRef.Compressed
		op.CanUndo = true
	}

	line, err := json.Marshal(op)
	if err != nil {
		return Operation{}, supervisor.Wrap(supervisor.KindInternal, "marshal operation record", "", err)
	}

	f, err := os.OpenFile(s.journalPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Operation{}, supervisor.Wrap(supervisor.KindHistoryCorrupt, "open journal for append", "", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return Operation{}, supervisor.Wrap(supervisor.KindHistoryCorrupt, "append journal record", "", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return Operation{}, supervisor.Wrap(supervisor.KindHistoryCorrupt, "fsync journal", "", err)
	}
	if err := f.Close(); err != nil {
		return Operation{}, supervisor.Wrap(supervisor.KindHistoryCorrupt, "close journal", "", err)
	}

	recordAppend(ctx, time.Since(start), op.Kind)
	return op, nil
}

// Query streams the journal under a shared lock, returning records
// matching filter in file order (the order they were appended).
func (s *Store) Query(filter QueryFilter) ([]Operation, error) {
	guard, err := lockprim.AcquireSharedFile(s.lockPath(), lockTimeout)
	if err != nil {
		return nil, supervisor.Wrap(supervisor.KindTimeout, "acquire history lock for read", "retry shortly", err)
	}
	defer guard.Release()
	return s.readMatching(filter)
}

func (s *Store) readMatching(filter QueryFilter) ([]Operation, error) {
	f, err := os.Open(s.journalPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var ops []Operation
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var probe schemaRecord
		if err := json.Unmarshal(line, &probe); err == nil && probe.Schema != "" {
			continue
		}
		var op Operation
		if err := json.Unmarshal(line, &op); err != nil {
			continue
		}
		if filter.File != "" && op.File != filter.File {
			continue
		}
		if filter.Tool != "" && op.Tool != filter.Tool {
			continue
		}
		if filter.Kind != "" && op.Kind != filter.Kind {
			continue
		}
		if !filter.Since.IsZero() && op.Timestamp.Before(filter.Since) {
			continue
		}
		ops = append(ops, op)
	}
	return ops, scanner.Err()
}

func (s *Store) findByID(opID string) (Operation, error) {
	ops, err := s.Query(QueryFilter{})
	if err != nil {
		return Operation{}, err
	}
	for i := len(ops) - 1; i >= 0; i-- {
		if ops[i].OpID == opID {
			return ops[i], nil
		}
	}
	return Operation{}, supervisor.New(supervisor.KindNotFound,
		fmt.Sprintf("no operation %q in history", opID), "check history --operation output for valid ids")
}

// Undo restores the bytes recorded by the operation identified by opID.
// It uses raw backup-restore logic rather than internal/afs, per Design
// Note §9: history must not call back into the packages that call it.
// A pre-undo backup of the file's current state is taken first (itself
// recorded as a new Undo-kind Operation), so undo(undo(O)) is always
// possible (a redo).
func (s *Store) Undo(opID string) (result UndoResult, err error) {
	ctx, span := startUndoSpan(opID)
	defer func() {
		recordUndo(ctx, err == nil)
		span.End()
	}()

	op, err := s.findByID(opID)
	if err != nil {
		return UndoResult{}, err
	}
	if !op.CanUndo {
		return UndoResult{}, supervisor.New(supervisor.KindUserError,
			fmt.Sprintf("operation %s cannot be undone", opID), "")
	}
	if op.BackupRef == "" {
		return UndoResult{}, supervisor.New(supervisor.KindUserError,
			fmt.Sprintf("operation %s has no backup reference", opID), "")
	}

	undoOpID := s.NewOpID()

	var preUndoRef *backupstore.BackupRef
	if _, statErr := os.Stat(op.File); statErr == nil {
		ref, berr := s.Backup(undoOpID, op.File)
		if berr != nil {
			return UndoResult{}, berr
		}
		preUndoRef = &ref
	}

	srcRef := backupstore.BackupRef{OpID: op.OpID, Path: op.BackupRef, Compressed: op.Compressed}
	rc, err := s.backups.Get(srcRef)
	if err != nil {
		return UndoResult{}, supervisor.Wrap(supervisor.KindBackupFailed, "open backup for restore", "", err)
	}
	defer rc.Close()

	dir := filepath.Dir(op.File)
	tmp, err := os.CreateTemp(dir, ".undo-tmp-*")
	if err != nil {
		return UndoResult{}, supervisor.Wrap(supervisor.KindInternal, "create undo temp file", "", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return UndoResult{}, supervisor.Wrap(supervisor.KindInternal, "copy backup bytes for restore", "", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return UndoResult{}, supervisor.Wrap(supervisor.KindInternal, "fsync restored file", "", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return UndoResult{}, supervisor.Wrap(supervisor.KindInternal, "close restored temp file", "", err)
	}
	if err := os.Rename(tmpPath, op.File); err != nil {
		os.Remove(tmpPath)
		return UndoResult{}, supervisor.Wrap(supervisor.KindInternal, "rename restored file into place", "", err)
	}
	_ = checksum.FsyncDir(dir)

	restoredHash, err := checksum.HashFile(op.File)
	if err != nil {
		return UndoResult{}, supervisor.Wrap(supervisor.KindInternal, "hash restored file", "", err)
	}
	if string(restoredHash) != op.OldHash {
		return UndoResult{}, supervisor.New(supervisor.KindHistoryCorrupt,
			fmt.Sprintf("restored content hash %s does not match recorded old_hash %s", restoredHash, op.OldHash),
			"the backup may be corrupt; inspect it before retrying")
	}

	draft := OperationDraft{
		OpID:        undoOpID,
		Kind:        KindUndo,
		Tool:        "history.undo",
		File:        op.File,
		OldHash:     op.NewHash,
		NewHash:     string(restoredHash),
		Description: fmt.Sprintf("undo of operation %s", op.OpID),
		Deps:        []string{op.OpID},
		BackupRef:   preUndoRef,
	}
	recorded, err := s.Record(draft)
	if err != nil {
		return UndoResult{}, err
	}

	return UndoResult{OpID: recorded.OpID, RestoredFile: op.File, RestoredHash: string(restoredHash)}, nil
}

// Stats summarizes the journal's contents.
func (s *Store) Stats() (Statistics, error) {
	ops, err := s.Query(QueryFilter{})
	if err != nil {
		return Statistics{}, err
	}
	stats := Statistics{ByKind: map[Kind]int{}, ByTool: map[string]int{}}
	for _, op := range ops {
		stats.TotalOperations++
		stats.ByKind[op.Kind]++
		stats.ByTool[op.Tool]++
		if op.CanUndo {
			stats.UndoableCount++
		}
	}
	return stats, nil
}

// Sweep drops journal records strictly older than retention and removes
// any backup no longer referenced by a surviving record, rewriting the
// journal atomically. This also serves as the startup reconciliation
// SPEC_FULL.md decision (a) describes: records whose backup file has
// vanished (e.g. removed out of band) are kept but marked can_undo=false
// with an UnundoableReason, rather than silently left claiming
// undoability they no longer have.
func (s *Store) Sweep(now time.Time, retention time.Duration) (SweepStats, error) {
	guard, err := lockprim.AcquireExclusiveFile(s.lockPath(), lockTimeout)
	if err != nil {
		return SweepStats{}, supervisor.Wrap(supervisor.KindTimeout, "acquire history lock for sweep", "retry shortly", err)
	}
	defer guard.Release()

	ops, err := s.readMatching(QueryFilter{})
	if err != nil {
		return SweepStats{}, err
	}

	cutoff := now.Add(-retention)
	var stats SweepStats
	kept := make([]Operation, 0, len(ops))
	liveBackups := map[string]bool{}

	for _, op := range ops {
		stats.RecordsExamined++
		if op.Timestamp.Before(cutoff) {
			stats.RecordsDropped++
			continue
		}
		if op.BackupRef != "" {
			if _, statErr := os.Stat(op.BackupRef); statErr != nil {
				op.CanUndo = false
				op.UnundoableReason = "backup file missing at sweep time"
			} else {
				liveBackups[op.OpID] = true
			}
		}
		kept = append(kept, op)
	}

	if err := s.rewriteJournal(kept); err != nil {
		return SweepStats{}, err
	}

	removed := 0
	purgeErr := s.backups.Purge(func(opID string, _ time.Time) bool {
		if liveBackups[opID] {
			return false
		}
		removed++
		return true
	})
	if purgeErr != nil {
		return stats, supervisor.Wrap(supervisor.KindInternal, "purge orphaned backups", "", purgeErr)
	}
	stats.BackupsRemoved = removed

	return stats, nil
}

func (s *Store) rewriteJournal(ops []Operation) error {
	tmpPath := s.journalPath() + ".sweep-tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return supervisor.Wrap(supervisor.KindHistoryCorrupt, "open sweep temp journal", "", err)
	}

	schemaLine, _ := json.Marshal(schemaRecord{Schema: schemaVersion})
	if _, err := f.Write(append(schemaLine, '\n')); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return supervisor.Wrap(supervisor.KindHistoryCorrupt, "write schema sentinel", "", err)
	}
	for _, op := range ops {
		line, err := json.Marshal(op)
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
			return supervisor.Wrap(supervisor.KindInternal, "marshal record during sweep", "", err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return supervisor.Wrap(supervisor.KindHistoryCorrupt, "write record during sweep", "", err)
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return supervisor.Wrap(supervisor.KindHistoryCorrupt, "fsync sweep temp journal", "", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return supervisor.Wrap(supervisor.KindHistoryCorrupt, "close sweep temp journal", "", err)
	}
	if err := os.Rename(tmpPath, s.journalPath()); err != nil {
		os.Remove(tmpPath)
		return supervisor.Wrap(supervisor.KindHistoryCorrupt, "rename sweep journal into place", "", err)
	}
	return nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

func currentDir() string {
	if d, err := os.Getwd(); err == nil {
		return d
	}
	return ""
}
