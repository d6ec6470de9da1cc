// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package substrateconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/safemutate/internal/afs"
	"github.com/AleutianAI/safemutate/pkg/logging"
)

func TestLoadMissingPathFallsBackToDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().MaxRetries, cfg.MaxRetries)
	assert.True(t, cfg.VerifyChecksum)
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_retries: 7\nverify_checksum: false\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.False(t, cfg.VerifyChecksum)
}

func TestEnvOverlayWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_retries: 7\n"), 0o644))

	t.Setenv("SAFE_MOVE_MAX_RETRIES", "9")
	t.Setenv("SAFE_MOVE_TIMEOUT", "45")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.MaxRetries)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
}

func TestToAFSOptionsMapsTrashToOverwriteBackup(t *testing.T) {
	cfg := Default()
	cfg.Trash = true
	assert.Equal(t, afs.OverwriteBackup, cfg.ToAFSOptions().OverwritePolicy)

	cfg.Trash = false
	assert.Equal(t, afs.OverwriteReplace, cfg.ToAFSOptions().OverwritePolicy)
}

func TestToOPMOptionsCarriesMaxConcurrency(t *testing.T) {
	cfg := Default()
	cfg.OrganizerMaxConcurrency = 8
	assert.Equal(t, 8, cfg.ToOPMOptions().MaxConcurrency)
}

func TestToLoggingConfigDefaultsToInfo(t *testing.T) {
	cfg := Default()
	logCfg := cfg.ToLoggingConfig("substrate")
	assert.Equal(t, logging.LevelInfo, logCfg.Level)
	assert.Equal(t, "substrate", logCfg.Service)
	assert.Empty(t, logCfg.LogDir)
}

func TestToLoggingConfigParsesLevelAndDir(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "debug"
	cfg.LogDir = "/var/log/safemutate"
	cfg.LogJSON = true

	logCfg := cfg.ToLoggingConfig("afs")
	assert.Equal(t, logging.LevelDebug, logCfg.Level)
	assert.Equal(t, "/var/log/safemutate", logCfg.LogDir)
	assert.True(t, logCfg.JSON)
}

func TestToLoggingConfigUnknownLevelFallsBackToInfo(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	assert.Equal(t, logging.LevelInfo, cfg.ToLoggingConfig("sge").Level)
}

func TestEnvOverlaySetsLogFields(t *testing.T) {
	t.Setenv("SAFE_MOVE_LOG_LEVEL", "warn")
	t.Setenv("SAFE_MOVE_LOG_DIR", "/tmp/safemutate-logs")
	t.Setenv("SAFE_MOVE_LOG_JSON", "true")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "/tmp/safemutate-logs", cfg.LogDir)
	assert.True(t, cfg.LogJSON)
}
