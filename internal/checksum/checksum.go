// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checksum

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/AleutianAI/safemutate/internal/lockprim"
)

// Digest is a lowercase hex-encoded SHA-256 hash, or one of the sentinel
// values NewFile / Deleted / ErrorDigest.
type Digest string

const (
	NewFile    Digest = "NEW_FILE"
	Deleted    Digest = "DELETED"
	ErrorDigest Digest = "ERROR"
)

const chunkSize = 4 * 1024

// RetryOpts configures HashFileWithRetry's backoff schedule. Defaults
// match spec: initial 0.2s, factor 2, up to 5 attempts.
type RetryOpts struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Factor       float64
}

func DefaultRetryOpts() RetryOpts {
	return RetryOpts{MaxAttempts: 5, InitialDelay: 200 * time.Millisecond, Factor: 2.0}
}

// HashFile streams path through SHA-256 in fixed chunkSize reads and
// returns the lowercase hex digest.
func HashFile(path string) (Digest, error) {
	start := time.Now()
	ctx, span := startHashSpan(path)
	defer span.End()

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash %q: %w", path, err)
	}
	recordHash(ctx, time.Since(start))
	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}

// HashFileWithRetry takes a shared lock on path before hashing so
// concurrent writers are excluded; on contention it retries with
// exponential backoff per opts, surfacing ErrLockedDuringHash once
// attempts are exhausted.
func HashFileWithRetry(path string, opts RetryOpts) (Digest, error) {
	if opts.MaxAttempts <= 0 {
		opts = DefaultRetryOpts()
	}

	var lastErr error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		guard, err := lockprim.AcquireShared(path, 50*time.Millisecond)
		if err != nil {
			lastErr = err
			recordHashRetry(context.Background())
			sleep := time.Duration(float64(opts.InitialDelay) * math.Pow(opts.Factor, float64(attempt)))
			time.Sleep(sleep)
			continue
		}
		digest, hashErr := HashFile(path)
		guard.Release()
		if hashErr != nil {
			return "", hashErr
		}
		return digest, nil
	}
	return "", fmt.Errorf("%w: %v", ErrLockedDuringHash, lastErr)
}

// CopyStream copies src to dst (dst is expected to already be the
// chosen temp-sibling path; callers own naming and the eventual rename)
// in chunkSize reads, computing the source digest as it goes, and
// fsyncs dst before returning. It reports ErrShortWrite if the number of
// bytes written differs from the number of bytes read.
func CopyStream(src, dst string) (bytesCopied int64, digest Digest, err error) {
	srcFile, err := os.Open(src)
	if err != nil {
		return 0, "", err
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, "", err
	}
	defer dstFile.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	var totalRead, totalWritten int64

	for {
		n, readErr := srcFile.Read(buf)
		if n > 0 {
			totalRead += int64(n)
			h.Write(buf[:n])
			w, writeErr := dstFile.Write(buf[:n])
			totalWritten += int64(w)
			if writeErr != nil {
				return totalWritten, "", fmt.Errorf("copy_stream write %q: %w", dst, writeErr)
			}
			if w != n {
				return totalWritten, "", fmt.Errorf("%w: read %d wrote %d", ErrShortWrite, n, w)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return totalWritten, "", fmt.Errorf("copy_stream read %q: %w", src, readErr)
		}
	}

	if totalRead != totalWritten {
		return totalWritten, "", fmt.Errorf("%w: read %d wrote %d", ErrShortWrite, totalRead, totalWritten)
	}

	if err := dstFile.Sync(); err != nil {
		return totalWritten, "", fmt.Errorf("fsync %q: %w", dst, err)
	}

	return totalWritten, Digest(hex.EncodeToString(h.Sum(nil))), nil
}

// FsyncFile opens path and calls Sync on it. Used after a rename target
// is written, per the AFS algorithm's fsync-before-release-lock step.
func FsyncFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// FsyncDir opens dir and calls Sync on it, durably persisting directory
// entry changes (renames, unlinks) made within it. Best-effort: some
// platforms do not support syncing a directory file descriptor, in which
// case the error is returned for the caller to decide whether it is
// fatal.
func FsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
