// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backupstore implements the content-addressed, optionally
// compressed backup blob store that every undo path restores from.
package backupstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// DefaultCompressThreshold is the byte size above which Put gzips the
// backup by default (spec: 1 KiB).
const DefaultCompressThreshold = 1024

// BackupRef addresses an immutable backup blob by the operation that
// created it.
type BackupRef struct {
	OpID       string
	Path       string
	Compressed bool
}

// Store is a filesystem-backed backup store rooted at Root, laid out per
// spec §6: <root>/backups/<op_id>[_<basename>][.gz].
type Store struct {
	Root string
}

func New(root string) *Store {
	return &Store{Root: root}
}

func (s *Store) backupsDir() string { return filepath.Join(s.Root, "backups") }

// Put copies sourcePath's current bytes into an immutable backup keyed
// by opID, gzip-compressing if the file exceeds compressThreshold bytes
// (DefaultCompressThreshold if <= 0). The write is atomic: a temp file
// is written first and renamed into place.
func (s *Store) Put(opID, sourcePath string, compressThreshold int64) (BackupRef, error) {
	if compressThreshold <= 0 {
		compressThreshold = DefaultCompressThreshold
	}

	if err := os.MkdirAll(s.backupsDir(), 0o755); err != nil {
		return BackupRef{}, fmt.Errorf("prepare backup dir: %w", err)
	}

	info, err := os.Stat(sourcePath)
	if err != nil {
		return BackupRef{}, fmt.Errorf("stat backup source %q: %w", sourcePath, err)
	}

	compress := info.Size() > compressThreshold
	start := time.Now()
	ctx, span := startPutSpan(opID, compress)
	defer span.End()
	basename := filepath.Base(sourcePath)
	finalName := fmt.Sprintf("%s_%s", opID, basename)
	if compress {
		finalName += ".gz"
	}
	finalPath := filepath.Join(s.backupsDir(), finalName)
	tmpPath := filepath.Join(s.backupsDir(), fmt.Sprintf(".tmp-%s", uuid.NewString()))

	src, err := os.Open(sourcePath)
	if err != nil {
		return BackupRef{}, fmt.Errorf("open backup source %q: %w", sourcePath, err)
	}
	defer src.Close()

	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return BackupRef{}, fmt.Errorf("create backup temp: %w", err)
	}

	if compress {
		gw := gzip.NewWriter(tmp)
		if _, err := io.Copy(gw, src); err != nil {
			gw.Close()
			tmp.Close()
			os.Remove(tmpPath)
			return BackupRef{}, fmt.Errorf("compress backup: %w", err)
		}
		if err := gw.Close(); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return BackupRef{}, fmt.Errorf("close gzip writer: %w", err)
		}
	} else {
		if _, err := io.Copy(tmp, src); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return BackupRef{}, fmt.Errorf("copy backup: %w", err)
		}
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return BackupRef{}, fmt.Errorf("fsync backup temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return BackupRef{}, fmt.Errorf("close backup temp: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return BackupRef{}, fmt.Errorf("rename backup into place: %w", err)
	}

	written, err := os.Stat(finalPath)
	if err == nil {
		recordPut(ctx, time.Since(start), written.Size())
	}

	return BackupRef{OpID: opID, Path: finalPath, Compressed: compress}, nil
}

// Get opens a readable stream over the backup's original (decompressed)
// bytes.
func (s *Store) Get(ref BackupRef) (io.ReadCloser, error) {
	f, err := os.Open(ref.Path)
	if err != nil {
		return nil, fmt.Errorf("open backup %q: %w", ref.Path, err)
	}
	if !ref.Compressed {
		return f, nil
	}
	gr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open gzip backup %q: %w", ref.Path, err)
	}
	return &gzipReadCloser{gr: gr, f: f}, nil
}

type gzipReadCloser struct {
	gr *gzip.Reader
	f  *os.File
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gr.Read(p) }
func (g *gzipReadCloser) Close() error {
	gerr := g.gr.Close()
	ferr := g.f.Close()
	if gerr != nil {
		return gerr
	}
	return ferr
}

// Purge removes every backup for which predicate(opID, modTime) returns
// true.
func (s *Store) Purge(predicate func(opID string, modTime time.Time) bool) error {
	entries, err := os.ReadDir(s.backupsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read backup dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		opID := opIDFromFilename(e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}
		if predicate(opID, info.ModTime()) {
			if err := os.Remove(filepath.Join(s.backupsDir(), e.Name())); err != nil {
				return fmt.Errorf("remove backup %q: %w", e.Name(), err)
			}
		}
	}
	return nil
}

// SweepStats reports how many backups a Sweep examined and removed.
type SweepStats struct {
	Examined int
	Removed  int
}

// Sweep deletes backups older than retention relative to now. The
// journal-reconciliation half of retention (dropping orphaned journal
// records, or marking records whose backup vanished as non-undoable) is
// performed by the history package, which calls Purge directly with a
// predicate built from its own record set — see SPEC_FULL.md decision (a).
func (s *Store) Sweep(now time.Time, retention time.Duration) (SweepStats, error) {
	var stats SweepStats
	cutoff := now.Add(-retention)
	err := s.Purge(func(_ string, modTime time.Time) bool {
		stats.Examined++
		remove := modTime.Before(cutoff)
		if remove {
			stats.Removed++
		}
		return remove
	})
	recordSweepRemoved(context.Background(), int64(stats.Removed))
	return stats, err
}

// opIDFromFilename extracts the op_id prefix from a
// "<op_id>_<basename>[.gz]" backup filename. An op_id has the form
// "<ms>_<pid>_<seq>", so when the name starts with three numeric fields
// those three are the op_id; otherwise the op_id is the text before the
// first "_".
func opIDFromFilename(name string) string {
	if parts := strings.SplitN(name, "_", 4); len(parts) == 4 {
		numeric := true
		for _, p := range parts[:3] {
			if p == "" || strings.Trim(p, "0123456789") != "" {
				numeric = false
			}
		}
		if numeric {
			return strings.Join(parts[:3], "_")
		}
	}
	idx := strings.Index(name, "_")
	if idx < 0 {
		return strings.TrimSuffix(name, ".gz")
	}
	return name[:idx]
}
