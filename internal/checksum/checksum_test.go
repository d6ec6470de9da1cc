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
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashFileMatchesKnownDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0o644))

	digest, err := HashFile(path)
	require.NoError(t, err)

	want := sha256.Sum256([]byte("hello\n"))
	assert.Equal(t, hex.EncodeToString(want[:]), string(digest))
}

func TestHashFileEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	digest, err := HashFile(path)
	require.NoError(t, err)

	want := sha256.Sum256(nil)
	assert.Equal(t, hex.EncodeToString(want[:]), string(digest))
}

func TestCopyStreamProducesIdenticalDigest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.tmp")
	require.NoError(t, os.WriteFile(src, []byte("some content here"), 0o644))

	n, digest, err := CopyStream(src, dst)
	require.NoError(t, err)
	assert.EqualValues(t, len("some content here"), n)

	dstDigest, err := HashFile(dst)
	require.NoError(t, err)
	assert.Equal(t, dstDigest, digest)

	contents, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "some content here", string(contents))
}

func TestHashFileWithRetrySucceedsWhenUnlocked(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	digest, err := HashFileWithRetry(path, DefaultRetryOpts())
	require.NoError(t, err)
	assert.NotEmpty(t, digest)
}
