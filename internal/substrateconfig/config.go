// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package substrateconfig loads the substrate's configuration from an
// optional config.yaml overlaid by the fixed SAFE_MOVE_*/SAFEGIT_* env
// var surface, per spec.md §6. There is no generic multi-source merge
// here (no viper): the env surface is a small named set, not an open one.
package substrateconfig

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/safemutate/internal/afs"
	"github.com/AleutianAI/safemutate/internal/opm"
	"github.com/AleutianAI/safemutate/internal/sge"
	"github.com/AleutianAI/safemutate/internal/supervisor"
	"github.com/AleutianAI/safemutate/pkg/logging"
)

// Config is the substrate's fully-resolved runtime configuration:
// config.yaml values overlaid by SAFE_MOVE_*/SAFEGIT_* environment
// variables, which always win.
type Config struct {
	Root string `yaml:"root"`

	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	Timeout        time.Duration `yaml:"timeout"`
	VerifyChecksum bool          `yaml:"verify_checksum"`
	HistoryEnabled bool          `yaml:"history_enabled"`
	Trash          bool          `yaml:"trash"`

	OrganizerMaxConcurrency int `yaml:"organizer_max_concurrency"`

	// LogLevel, LogDir and LogJSON configure the substrate's logger
	// (pkg/logging). LogDir turns on file logging in addition to
	// stderr; LogJSON forces JSON on stderr too (file logs are always
	// JSON regardless).
	LogLevel string `yaml:"log_level"`
	LogDir   string `yaml:"log_dir"`
	LogJSON  bool   `yaml:"log_json"`

	Protocol supervisor.Protocol `yaml:"-"`
}

// Default matches spec §4.3/§6's documented defaults.
func Default() Config {
	return Config{
		MaxRetries:              3,
		RetryDelay:              500 * time.Millisecond,
		Timeout:                 30 * time.Second,
		VerifyChecksum:          true,
		HistoryEnabled:          true,
		Trash:                   true,
		OrganizerMaxConcurrency: 4,
		LogLevel:                "info",
	}
}

// Load reads path (if it exists) as YAML into Default(), then overlays
// the SAFE_MOVE_*/SAFEGIT_* environment variables, which always take
// precedence over the file. A missing path is not an error: Default()
// plus env overlay is a complete, usable configuration on its own.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, supervisor.Wrap(supervisor.KindUserError, "parse config.yaml", "check YAML syntax", err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, supervisor.Wrap(supervisor.KindUserError, "read config.yaml", "", err)
		}
	}

	overlayEnv(&cfg)
	cfg.Protocol = supervisor.ProtocolFromEnv()
	return cfg, nil
}

func overlayEnv(cfg *Config) {
	if v, ok := os.LookupEnv("SAFE_MOVE_MAX_RETRIES"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = n
		}
	}
	if v, ok := os.LookupEnv("SAFE_MOVE_RETRY_DELAY"); ok {
		if d, err := parseDuration(v); err == nil {
			cfg.RetryDelay = d
		}
	}
	if v, ok := os.LookupEnv("SAFE_MOVE_TIMEOUT"); ok {
		if d, err := parseDuration(v); err == nil {
			cfg.Timeout = d
		}
	}
	if v, ok := os.LookupEnv("SAFE_MOVE_VERIFY_CHECKSUM"); ok {
		cfg.VerifyChecksum = parseBool(v)
	}
	if v, ok := os.LookupEnv("SAFE_MOVE_HISTORY"); ok {
		cfg.HistoryEnabled = parseBool(v)
	}
	if v, ok := os.LookupEnv("SAFE_MOVE_TRASH"); ok {
		cfg.Trash = parseBool(v)
	}
	if v, ok := os.LookupEnv("SAFE_MOVE_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := os.LookupEnv("SAFE_MOVE_LOG_DIR"); ok {
		cfg.LogDir = v
	}
	if v, ok := os.LookupEnv("SAFE_MOVE_LOG_JSON"); ok {
		cfg.LogJSON = parseBool(v)
	}
}

// parseDuration accepts either a Go duration string ("500ms") or a bare
// number of seconds ("30"), since spec.md's env vars are documented as
// plain numbers (SAFE_MOVE_TIMEOUT=30) without a unit suffix.
func parseDuration(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// ToAFSOptions builds the afs.Options a CLI command should pass as its
// default per-operation options, before any --flag overrides.
func (c Config) ToAFSOptions() afs.Options {
	opts := afs.DefaultOptions()
	opts.MaxRetries = c.MaxRetries
	opts.RetryDelay = c.RetryDelay
	opts.Timeout = c.Timeout
	opts.VerifyChecksum = c.VerifyChecksum
	if c.Trash {
		opts.OverwritePolicy = afs.OverwriteBackup
	} else {
		opts.OverwritePolicy = afs.OverwriteReplace
	}
	return opts
}

// ToOPMOptions builds the opm.Options an `organize` invocation should
// start from, before its rule-specific flags are applied.
func (c Config) ToOPMOptions() opm.Options {
	return opm.Options{
		MaxConcurrency: c.OrganizerMaxConcurrency,
	}
}

// ToSGERunOptions builds the sge.RunOptions a `safegit` invocation
// should start from.
func (c Config) ToSGERunOptions() sge.RunOptions {
	return sge.RunOptions{}
}

// ToLoggingConfig builds the logging.Config a substrate component
// should start from. service tags every entry so a multi-component log
// stream (file logging fans out afs/sge/opm/history alike) can still be
// filtered per component.
func (c Config) ToLoggingConfig(service string) logging.Config {
	return logging.Config{
		Level:   parseLogLevel(c.LogLevel),
		LogDir:  c.LogDir,
		Service: service,
		JSON:    c.LogJSON,
	}
}

func parseLogLevel(v string) logging.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return logging.LevelDebug
	case "warn", "warning":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
