// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execRoot runs rootCmd with args against a fresh root directory,
// resetting the command-scoped flags main.go's PersistentPreRunE reads.
func execRoot(t *testing.T, root string, args ...string) (string, error) {
	t.Helper()
	flagRoot = root
	flagConfig = filepath.Join(root, "config.yaml")
	flagYes = true
	flagForceYes = false
	flagNonInteractive = true

	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestAFSMoveCreatesHistoryRecord(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))
	dst := filepath.Join(root, "b.txt")

	out, err := execRoot(t, root, "afs", "move", src, dst)
	require.NoError(t, err)
	assert.Contains(t, out, "op_id=")

	_, statErr := os.Stat(dst)
	assert.NoError(t, statErr)
	_, statErr = os.Stat(src)
	assert.True(t, os.IsNotExist(statErr))
}

func TestHistoryStatsAfterOneMove(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0o644))
	dst := filepath.Join(root, "b.txt")

	_, err := execRoot(t, root, "afs", "move", src, dst)
	require.NoError(t, err)

	out, err := execRoot(t, root, "history", "stats")
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestOrganizeDryRunDoesNotMoveFiles(t *testing.T) {
	root := t.TempDir()
	srcDir := filepath.Join(root, "inbox")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "report.pdf"), []byte("x"), 0o644))

	out, err := execRoot(t, root, "organize", srcDir, "--by-ext", "--dry-run")
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	_, statErr := os.Stat(filepath.Join(srcDir, "report.pdf"))
	assert.NoError(t, statErr)
}
