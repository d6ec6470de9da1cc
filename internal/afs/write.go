// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package afs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/safemutate/internal/checksum"
	"github.com/AleutianAI/safemutate/internal/history"
	"github.com/AleutianAI/safemutate/internal/lockprim"
	"github.com/AleutianAI/safemutate/internal/supervisor"
)

// AtomicWrite writes bytes to path via a temp-sibling-then-rename swap,
// backing up any existing content per opts.OverwritePolicy before
// replacing it.
func (e *Engine) AtomicWrite(path string, bytes []byte, opts Options, meta Meta) (Result, error) {
	start := time.Now()
	ctx, span := startOpSpan(context.Background(), "write", "", path)
	defer span.End()

	var result Result
	err := e.retryNamed("write", opts, func(attempt int) error {
		r, err := e.writeOnce(path, bytes, opts, meta)
		if err == nil {
			result = r
		}
		return err
	})
	setOpSpanResult(span, result.Operation.OpID, result.Operation.CanUndo, err)
	recordOpMetrics(ctx, "write", time.Since(start), err)
	return result, err
}

func (e *Engine) writeOnce(path string, bytes []byte, opts Options, meta Meta) (Result, error) {
	path, err := e.canonicalize(path)
	if err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{}, supervisor.Wrap(supervisor.KindInternal, "create parent directory", "", err)
	}

	lockTimeout := opts.Timeout
	if lockTimeout <= 0 {
		lockTimeout = 30 * time.Second
	}
	guard, err := lockprim.AcquireExclusive(path, lockTimeout)
	if err != nil {
		return Result{}, supervisor.Wrap(supervisor.KindLockedDestination, "acquire destination lock", "the file is in use by another process", err)
	}
	defer guard.Release()

	opID := e.History.NewOpID()

	oldHash := "NEW_FILE"
	if info, statErr := os.Stat(path); statErr == nil && !info.IsDir() {
		if h, herr := checksum.HashFile(path); herr == nil {
			oldHash = string(h)
		}
	}

	backedUp, err := e.backupExistingDestination(nil, opID, path, opts)
	if err != nil {
		return Result{}, err
	}

	tmp := fmt.Sprintf("%s.tmp-%s", path, uuid.NewString())
	if err := os.WriteFile(tmp, bytes, 0o644); err != nil {
		os.Remove(tmp)
		return Result{}, supervisor.Wrap(supervisor.KindInternal, "write temp file", "", err)
	}
	if err := checksum.FsyncFile(tmp); err != nil {
		os.Remove(tmp)
		return Result{}, supervisor.Wrap(supervisor.KindInternal, "fsync temp file", "", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return Result{}, supervisor.Wrap(supervisor.KindInternal, "rename temp file into place", "", err)
	}
	_ = checksum.FsyncDir(filepath.Dir(path))

	sum := sha256.Sum256(bytes)
	newHash := hex.EncodeToString(sum[:])

	kind := meta.Kind
	if kind == "" {
		kind = history.KindWriteFile
	}
	op, err := e.History.Record(history.OperationDraft{
		OpID: opID, Kind: kind, Tool: meta.Tool, Args: meta.Args,
		File: path, OldHash: oldHash, NewHash: newHash,
		Description: meta.Description, CanUndo: backedUp,
	})
	if err != nil {
		return Result{}, err
	}
	e.emitRecovery(op)

	return Result{Operation: op, BytesCopied: int64(len(bytes))}, nil
}

// SafeDelete removes path by first copying its bytes into the backup
// store (the spec's "trash", reusing the same content-addressed store
// every other undo path restores from, rather than a second ad hoc trash
// directory) and only then unlinking the original. This makes every
// delete undoable by construction: can_undo is always true for a
// successfully recorded DeleteFile operation.
func (e *Engine) SafeDelete(path string, opts Options, meta Meta) (Result, error) {
	start := time.Now()
	ctx, span := startOpSpan(context.Background(), "delete", path, "")
	defer span.End()

	var result Result
	err := e.retryNamed("delete", opts, func(attempt int) error {
		r, err := e.deleteOnce(path, meta)
		if err == nil {
			result = r
		}
		return err
	})
	setOpSpanResult(span, result.Operation.OpID, result.Operation.CanUndo, err)
	recordOpMetrics(ctx, "delete", time.Since(start), err)
	return result, err
}

func (e *Engine) deleteOnce(path string, meta Meta) (Result, error) {
	path, err := e.canonicalize(path)
	if err != nil {
		return Result{}, err
	}

	guard, err := lockprim.AcquireExclusive(path, 15*time.Second)
	if err != nil {
		return Result{}, supervisor.Wrap(supervisor.KindLockedSource, "acquire lock for delete", "the file is in use by another process", err)
	}
	defer guard.Release()

	if _, statErr := os.Stat(path); statErr != nil {
		return Result{}, supervisor.Wrap(supervisor.KindNotFound, fmt.Sprintf("%q does not exist", path), "", statErr)
	}

	oldHash, err := checksum.HashFile(path)
	if err != nil {
		return Result{}, supervisor.Wrap(supervisor.KindInternal, "hash file before delete", "", err)
	}

	opID := e.History.NewOpID()
	ref, err := e.History.Backup(opID, path)
	if err != nil {
		return Result{}, err
	}

	if err := os.Remove(path); err != nil {
		return Result{}, supervisor.Wrap(supervisor.KindInternal, "remove file", "", err)
	}
	_ = checksum.FsyncDir(filepath.Dir(path))

	kind := meta.Kind
	if kind == "" {
		kind = history.KindDeleteFile
	}
	op, err := e.History.Record(history.OperationDraft{
		OpID: opID, Kind: kind, Tool: meta.Tool, Args: meta.Args,
		File: path, OldHash: string(oldHash), NewHash: "DELETED",
		Description: meta.Description, CanUndo: true, BackupRef: &ref,
	})
	if err != nil {
		return Result{}, err
	}
	e.emitRecovery(op)

	return Result{Operation: op}, nil
}
