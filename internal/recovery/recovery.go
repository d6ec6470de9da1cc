// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package recovery implements the Recovery Script Emitter (C6): for
// every undoable Operation it writes a self-contained, human-auditable
// shell script that restores the file from its backup without needing
// this binary, leaving a safety copy of whatever was there before the
// restore.
package recovery

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/safemutate/internal/history"
	"github.com/AleutianAI/safemutate/internal/supervisor"
)

const scriptBody = `#!/bin/sh
# Recovery script for operation %s
# Generated %s
# Target: %s
# Backup: %s (compressed=%t)
%s
set -eu

TARGET=%q
BACKUP=%q
COMPRESSED=%t
EXPECTED_OLD_HASH=%q

current_hash() {
  sha256sum "$1" 2>/dev/null | awk '{print $1}'
}

if [ -f "$TARGET" ]; then
  CURRENT=$(current_hash "$TARGET")
  if [ "$CURRENT" = "$EXPECTED_OLD_HASH" ]; then
    echo "already restored: $TARGET matches the recorded pre-operation hash" >&2
    exit 2
  fi
fi

SAFETY_COPY="${TARGET}.pre-restore-$(date +%%s)"
if [ -f "$TARGET" ]; then
  cp "$TARGET" "$SAFETY_COPY"
fi

TMP="${TARGET}.recover-tmp-$$"
if [ "$COMPRESSED" = "true" ]; then
  gunzip -c "$BACKUP" > "$TMP"
else
  cp "$BACKUP" "$TMP"
fi

RESTORED_HASH=$(current_hash "$TMP")
if [ "$RESTORED_HASH" != "$EXPECTED_OLD_HASH" ]; then
  echo "backup content does not match the recorded hash, aborting" >&2
  rm -f "$TMP"
  exit 1
fi

mv "$TMP" "$TARGET"
echo "restored $TARGET from $BACKUP (safety copy: $SAFETY_COPY)"
`

// Dir returns the recovery script directory for a substrate rooted at
// root, per spec §6: <root>/recovery_scripts/.
func Dir(root string) string { return filepath.Join(root, "recovery_scripts") }

// ScriptPath returns the deterministic path recover_<op_id> lives at.
func ScriptPath(root, opID string) string {
	return filepath.Join(Dir(root), "recover_"+opID)
}

// Emit writes op's recovery script atomically and makes it executable.
// diagnostic, when non-empty, is embedded as a leading comment block
// (see BuildDiagnosticDiff) so a human reading the script before running
// it can see what actually changed.
func Emit(root string, op history.Operation, backupAbsolutePath string, diagnostic string) (string, error) {
	if !op.CanUndo || op.BackupRef == "" {
		return "", supervisor.New(supervisor.KindUserError,
			fmt.Sprintf("operation %s has no backup to recover from", op.OpID), "")
	}

	dir := Dir(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", supervisor.Wrap(supervisor.KindInternal, "create recovery script dir", "", err)
	}

	commentBlock := "#"
	if diagnostic != "" {
		commentBlock = commentify(diagnostic)
	}

	content := fmt.Sprintf(scriptBody,
		op.OpID, time.Now().UTC().Format(time.RFC3339), op.File, backupAbsolutePath, op.Compressed,
		commentBlock,
		op.File, backupAbsolutePath, op.Compressed, op.OldHash,
	)

	finalPath := ScriptPath(root, op.OpID)
	tmpPath := filepath.Join(dir, ".tmp-"+uuid.NewString())

	if err := os.WriteFile(tmpPath, []byte(content), 0o755); err != nil {
		return "", supervisor.Wrap(supervisor.KindInternal, "write recovery script", "", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", supervisor.Wrap(supervisor.KindInternal, "rename recovery script into place", "", err)
	}
	if err := os.Chmod(finalPath, 0o755); err != nil {
		return "", supervisor.Wrap(supervisor.KindInternal, "make recovery script executable", "", err)
	}

	return finalPath, nil
}

func commentify(text string) string {
	out := ""
	for _, line := range splitLines(text) {
		out += "# " + line + "\n"
	}
	return out
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
