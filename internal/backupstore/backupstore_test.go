// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backupstore

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTripUncompressed(t *testing.T) {
	root := t.TempDir()
	store := New(root)

	src := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("tiny"), 0o644))

	ref, err := store.Put("op1", src, DefaultCompressThreshold)
	require.NoError(t, err)
	assert.False(t, ref.Compressed)

	rc, err := store.Get(ref)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "tiny", string(data))
}

func TestPutCompressesLargeFiles(t *testing.T) {
	root := t.TempDir()
	store := New(root)

	big := bytes.Repeat([]byte("x"), 2048)
	src := filepath.Join(t.TempDir(), "big.txt")
	require.NoError(t, os.WriteFile(src, big, 0o644))

	ref, err := store.Put("op2", src, DefaultCompressThreshold)
	require.NoError(t, err)
	assert.True(t, ref.Compressed)
	assert.True(t, strings.HasSuffix(ref.Path, ".gz"))

	rc, err := store.Get(ref)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, big, data)
}

func TestSweepRemovesOldBackupsOnly(t *testing.T) {
	root := t.TempDir()
	store := New(root)

	src := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	_, err := store.Put("old-op", src, DefaultCompressThreshold)
	require.NoError(t, err)

	oldPath := filepath.Join(store.backupsDir(), "old-op_a.txt")
	oldTime := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, oldTime, oldTime))

	_, err = store.Put("new-op", src, DefaultCompressThreshold)
	require.NoError(t, err)

	stats, err := store.Sweep(time.Now(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Examined)
	assert.Equal(t, 1, stats.Removed)

	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
}
