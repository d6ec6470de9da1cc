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
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/safemutate/internal/checksum"
	"github.com/AleutianAI/safemutate/internal/history"
	"github.com/AleutianAI/safemutate/internal/lockprim"
	"github.com/AleutianAI/safemutate/internal/recovery"
	"github.com/AleutianAI/safemutate/internal/supervisor"
	"github.com/AleutianAI/safemutate/pkg/logging"
)

// defaultRetryRate caps how fast a single Engine re-attempts a
// contended operation: without it, a directory full of locked files
// being swept by a caller with a short RetryDelay can turn into a
// flock() spin loop that starves the process holding the lock.
const defaultRetryRate = 5 // retries/sec, burst 5

// Engine is the AFS entry point, rooted at Root (used for path
// canonicalization) and backed by a history.Store that owns both the
// backup blobs AFS takes before overwriting a destination and the
// journal record every successful call produces.
type Engine struct {
	Root    string
	History *history.Store
	Logger  *logging.Logger
	// Limiter bounds the rate at which retry() re-attempts a contended
	// operation across every call this Engine makes, not just within a
	// single AtomicMove/AtomicWrite invocation.
	Limiter *rate.Limiter
}

func New(root string, h *history.Store) *Engine {
	return &Engine{
		Root:    root,
		History: h,
		Logger:  logging.Default().WithComponent("afs"),
		Limiter: rate.NewLimiter(rate.Limit(defaultRetryRate), defaultRetryRate),
	}
}

// emitRecovery writes op's recovery script, logging a warning rather
// than failing the whole operation if the script itself can't be
// written — the mutation has already been recorded durably by this
// point, and a missing recovery script degrades operability, not
// correctness.
func (e *Engine) emitRecovery(op history.Operation) {
	if !op.CanUndo || op.BackupRef == "" {
		return
	}
	if _, err := recovery.Emit(e.Root, op, op.BackupRef, ""); err != nil {
		e.Logger.WithOp(op.OpID).Warn("failed to emit recovery script", "error", err)
	}
}

func (e *Engine) canonicalize(path string) (string, error) {
	cp, err := lockprim.Canonicalize(e.Root, path)
	if err != nil {
		return "", supervisor.Wrap(supervisor.KindUserError, fmt.Sprintf("resolve path %q", path), "paths must stay within the project root", err)
	}
	return string(cp), nil
}

// retry runs fn up to opts.MaxRetries+1 times, backing off by
// RetryDelay*BackoffExponent^attempt between attempts, but only when
// fn's error kind is retryable (LockedSource/LockedDestination/Timeout).
// ChecksumMismatch and other non-retryable kinds return on the first
// attempt. Each retried attempt also waits on e.Limiter, so a caller
// with a short RetryDelay can't turn a contended path into a flock()
// spin loop across the whole Engine.
func (e *Engine) retry(opts Options, fn func(attempt int) error) error {
	return e.retryNamed("", opts, fn)
}

func (e *Engine) retryNamed(op string, opts Options, fn func(attempt int) error) error {
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if e.Limiter != nil {
				_ = e.Limiter.Wait(context.Background())
			}
			if op != "" {
				recordRetry(context.Background(), op)
			}
		}
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !supervisor.KindOf(err).Retryable() {
			return err
		}
		if attempt == maxRetries {
			break
		}
		delay := opts.RetryDelay
		if delay <= 0 {
			delay = 500 * time.Millisecond
		}
		exp := opts.BackoffExponent
		if exp <= 0 {
			exp = 2.0
		}
		sleep := time.Duration(float64(delay) * math.Pow(exp, float64(attempt)))
		if op != "" {
			e.Logger.Debug("afs: retrying contended operation", "op", op, "attempt", attempt+1, "max_retries", maxRetries, "sleep_ms", sleep.Milliseconds(), "error", lastErr)
		}
		time.Sleep(sleep)
	}
	return lastErr
}

func checkCancelled(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return supervisor.Wrap(supervisor.KindCancelled, "operation cancelled", "", ctx.Err())
	default:
		return nil
	}
}

func tempSiblingPath(dst string) string {
	return fmt.Sprintf("%s.tmp-%s", dst, uuid.NewString())
}

// backupExistingDestination implements step 4 of the move/copy
// algorithm: apply opts.OverwritePolicy to an already-existing
// destination. It returns a *history.BackupRef-shaped pointer only when
// OverwriteBackup actually took one.
func (e *Engine) backupExistingDestination(ctx context.Context, opID, dst string, opts Options) (backedUp bool, err error) {
	if _, statErr := os.Stat(dst); statErr != nil {
		if os.IsNotExist(statErr) {
			return false, nil
		}
		return false, supervisor.Wrap(supervisor.KindInternal, "stat destination", "", statErr)
	}

	switch opts.OverwritePolicy {
	case OverwriteFail:
		return false, supervisor.New(supervisor.KindDestinationExists,
			fmt.Sprintf("destination %q already exists", dst), "pass --overwrite-policy backup or replace")
	case OverwriteReplace:
		return false, nil
	case OverwriteBackup, "":
		if _, err := e.History.Backup(opID, dst); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, supervisor.New(supervisor.KindUserError, fmt.Sprintf("unknown overwrite policy %q", opts.OverwritePolicy), "")
	}
}

// AtomicMove implements spec §4.3's 9-step move algorithm: copy src into
// a temp sibling of dst, verify, rename into place, then unlink src.
// Because the temp file is always created alongside dst, the rename in
// step 6 is always same-filesystem regardless of whether src and dst
// live on different filesystems — the cross-filesystem fallback spec
// describes is structural here, not a separate code path.
func (e *Engine) AtomicMove(ctx context.Context, src, dst string, opts Options, meta Meta) (Result, error) {
	start := time.Now()
	ctx, span := startOpSpan(ctx, "move", src, dst)
	defer span.End()

	var result Result
	err := e.retryNamed("move", opts, func(attempt int) error {
		r, err := e.moveOnce(ctx, src, dst, opts, meta)
		if err == nil {
			result = r
		}
		return err
	})
	setOpSpanResult(span, result.Operation.OpID, result.Operation.CanUndo, err)
	recordOpMetrics(ctx, "move", time.Since(start), err)
	return result, err
}

func (e *Engine) moveOnce(ctx context.Context, src, dst string, opts Options, meta Meta) (Result, error) {
	if err := checkCancelled(ctx); err != nil {
		return Result{}, err
	}

	src, err := e.canonicalize(src)
	if err != nil {
		return Result{}, err
	}
	dst, err = e.canonicalize(dst)
	if err != nil {
		return Result{}, err
	}
	if info, statErr := os.Stat(dst); statErr == nil && info.IsDir() {
		dst = filepath.Join(dst, filepath.Base(src))
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Result{}, supervisor.Wrap(supervisor.KindInternal, "create destination directory", "", err)
	}

	lockTimeout := opts.Timeout / 2
	if lockTimeout <= 0 {
		lockTimeout = 15 * time.Second
	}
	srcGuard, err := lockprim.AcquireExclusive(src, lockTimeout)
	if err != nil {
		return Result{}, supervisor.Wrap(supervisor.KindLockedSource, "acquire source lock", "the source file is in use by another process", err)
	}
	defer srcGuard.Release()

	opID := e.History.NewOpID()

	var srcDigest checksum.Digest
	if opts.VerifyChecksum {
		srcDigest, err = checksum.HashFile(src)
		if err != nil {
			return Result{}, supervisor.Wrap(supervisor.KindInternal, "hash source file", "", err)
		}
	}

	oldHash := "NEW_FILE"
	if info, statErr := os.Stat(dst); statErr == nil {
		if !info.IsDir() {
			// dst is not covered by srcGuard above, so a concurrent
			// writer can hold its own lock on it; retry with backoff
			// per spec §4.2 instead of silently hashing a half-written
			// file (or giving up on the first contended attempt).
			if h, herr := checksum.HashFileWithRetry(dst, checksum.DefaultRetryOpts()); herr == nil {
				oldHash = string(h)
			}
		}
	}

	backedUp, err := e.backupExistingDestination(ctx, opID, dst, opts)
	if err != nil {
		return Result{}, err
	}

	if err := checkCancelled(ctx); err != nil {
		return Result{}, err
	}

	tmp := tempSiblingPath(dst)
	bytesCopied, tmpDigest, err := checksum.CopyStream(src, tmp)
	if err != nil {
		os.Remove(tmp)
		return Result{}, supervisor.Wrap(supervisor.KindInternal, "copy to temp sibling", "", err)
	}

	if opts.VerifyChecksum && tmpDigest != srcDigest {
		os.Remove(tmp)
		recordChecksumMismatch(ctx, "move")
		return Result{}, supervisor.New(supervisor.KindChecksumMismatch,
			fmt.Sprintf("copied bytes for %q do not match source checksum", dst),
			"the source may have changed mid-copy; retry the operation")
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return Result{}, supervisor.Wrap(supervisor.KindInternal, "rename temp file into place", "", err)
	}
	_ = checksum.FsyncDir(filepath.Dir(dst))

	if err := os.Remove(src); err != nil {
		return Result{}, supervisor.Wrap(supervisor.KindInternal, "remove source after move", "", err)
	}
	_ = checksum.FsyncDir(filepath.Dir(src))

	kind := meta.Kind
	if kind == "" {
		kind = history.KindWriteFile
	}

	draft := history.OperationDraft{
		OpID:          opID,
		Kind:          kind,
		Tool:          meta.Tool,
		Args:          meta.Args,
		File:          dst,
		OldHash:       oldHash,
		NewHash:       string(tmpDigest),
		Description:   meta.Description,
		CanUndo:       backedUp,
	}
	op, err := e.History.Record(draft)
	if err != nil {
		return Result{}, err
	}
	e.emitRecovery(op)

	return Result{Operation: op, BytesCopied: bytesCopied}, nil
}

// AtomicCopy is AtomicMove without the final unlink of src.
func (e *Engine) AtomicCopy(ctx context.Context, src, dst string, opts Options, meta Meta) (Result, error) {
	start := time.Now()
	ctx, span := startOpSpan(ctx, "copy", src, dst)
	defer span.End()

	var result Result
	err := e.retryNamed("copy", opts, func(attempt int) error {
		r, err := e.copyOnce(ctx, src, dst, opts, meta)
		if err == nil {
			result = r
		}
		return err
	})
	setOpSpanResult(span, result.Operation.OpID, result.Operation.CanUndo, err)
	recordOpMetrics(ctx, "copy", time.Since(start), err)
	return result, err
}

func (e *Engine) copyOnce(ctx context.Context, src, dst string, opts Options, meta Meta) (Result, error) {
	if err := checkCancelled(ctx); err != nil {
		return Result{}, err
	}

	src, err := e.canonicalize(src)
	if err != nil {
		return Result{}, err
	}
	dst, err = e.canonicalize(dst)
	if err != nil {
		return Result{}, err
	}
	if info, statErr := os.Stat(dst); statErr == nil && info.IsDir() {
		dst = filepath.Join(dst, filepath.Base(src))
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Result{}, supervisor.Wrap(supervisor.KindInternal, "create destination directory", "", err)
	}

	lockTimeout := opts.Timeout / 2
	if lockTimeout <= 0 {
		lockTimeout = 15 * time.Second
	}
	srcGuard, err := lockprim.AcquireShared(src, lockTimeout)
	if err != nil {
		return Result{}, supervisor.Wrap(supervisor.KindLockedSource, "acquire source lock", "the source file is in use by another process", err)
	}
	defer srcGuard.Release()

	opID := e.History.NewOpID()

	var srcDigest checksum.Digest
	if opts.VerifyChecksum {
		srcDigest, err = checksum.HashFile(src)
		if err != nil {
			return Result{}, supervisor.Wrap(supervisor.KindInternal, "hash source file", "", err)
		}
	}

	oldHash := "NEW_FILE"
	if info, statErr := os.Stat(dst); statErr == nil && !info.IsDir() {
		// dst is not covered by srcGuard above (only src is), so retry
		// with backoff on contention per spec §4.2 rather than a bare
		// HashFile that gives up after the first EWOULDBLOCK.
		if h, herr := checksum.HashFileWithRetry(dst, checksum.DefaultRetryOpts()); herr == nil {
			oldHash = string(h)
		}
	}

	backedUp, err := e.backupExistingDestination(ctx, opID, dst, opts)
	if err != nil {
		return Result{}, err
	}

	tmp := tempSiblingPath(dst)
	bytesCopied, tmpDigest, err := checksum.CopyStream(src, tmp)
	if err != nil {
		os.Remove(tmp)
		return Result{}, supervisor.Wrap(supervisor.KindInternal, "copy to temp sibling", "", err)
	}
	if opts.VerifyChecksum && tmpDigest != srcDigest {
		os.Remove(tmp)
		recordChecksumMismatch(ctx, "copy")
		return Result{}, supervisor.New(supervisor.KindChecksumMismatch,
			fmt.Sprintf("copied bytes for %q do not match source checksum", dst),
			"the source may have changed mid-copy; retry the operation")
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return Result{}, supervisor.Wrap(supervisor.KindInternal, "rename temp file into place", "", err)
	}
	_ = checksum.FsyncDir(filepath.Dir(dst))

	kind := meta.Kind
	if kind == "" {
		kind = history.KindWriteFile
	}
	op, err := e.History.Record(history.OperationDraft{
		OpID: opID, Kind: kind, Tool: meta.Tool, Args: meta.Args,
		File: dst, OldHash: oldHash, NewHash: string(tmpDigest),
		Description: meta.Description, CanUndo: backedUp,
	})
	if err != nil {
		return Result{}, err
	}
	e.emitRecovery(op)

	return Result{Operation: op, BytesCopied: bytesCopied}, nil
}
