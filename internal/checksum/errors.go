// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checksum implements streamed hashing, chunked copy, and
// fsync-on-close: the I/O primitives AFS builds its atomicity guarantees
// on top of.
package checksum

import "errors"

var (
	// ErrLockedDuringHash is returned when a file stays locked by another
	// holder through every retry attempt of HashFileWithRetry.
	ErrLockedDuringHash = errors.New("file remained locked through all hash retry attempts")

	// ErrShortWrite is returned when CopyStream writes fewer bytes than
	// it read from the source.
	ErrShortWrite = errors.New("short write: bytes written differ from bytes read")
)
