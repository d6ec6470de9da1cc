// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package afs implements the Atomic File System engine (C3): move, copy,
// write and safe-delete primitives that never leave a target file
// partially written, built on internal/lockprim and internal/checksum
// and recorded through internal/history.
package afs

import (
	"time"

	"github.com/AleutianAI/safemutate/internal/history"
)

// OverwritePolicy controls what atomic_move/atomic_copy do when the
// destination already exists.
type OverwritePolicy string

const (
	OverwriteFail    OverwritePolicy = "fail"
	OverwriteBackup  OverwritePolicy = "backup"
	OverwriteReplace OverwritePolicy = "replace"
)

// Options configures a single AFS operation, per spec §4.3.
type Options struct {
	VerifyChecksum   bool
	MaxRetries       int
	RetryDelay       time.Duration
	BackoffExponent  float64
	Timeout          time.Duration
	OverwritePolicy  OverwritePolicy
	PreserveMetadata bool
}

// DefaultOptions matches spec §4.3's defaults.
func DefaultOptions() Options {
	return Options{
		VerifyChecksum:   true,
		MaxRetries:       3,
		RetryDelay:       500 * time.Millisecond,
		BackoffExponent:  2.0,
		Timeout:          30 * time.Second,
		OverwritePolicy:  OverwriteBackup,
		PreserveMetadata: true,
	}
}

// Meta carries the journal fields a caller wants attached to the
// Operation this call produces: which Kind it should be recorded as
// (WriteFile for a bare AFS move/write, OrganizerMove when OPM is the
// caller, etc.), which tool invoked it, and a human description.
type Meta struct {
	Kind        history.Kind
	Tool        string
	Description string
	Args        []string
}

// Result is what every AFS entry point returns on success.
type Result struct {
	Operation   history.Operation
	BytesCopied int64
}
