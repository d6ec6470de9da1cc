// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package substrate wires logging, configuration, OpenTelemetry and all
// ten components (C1–C10) into a single explicit handle, constructed
// once at process startup. No package in this repository keeps a
// package-level config or client singleton; every component receives
// what it needs from a *Substrate instead — the generalization of the
// teacher's Design Note §9 ("global mutable state becomes an explicit
// handle").
package substrate

import (
	"context"
	"time"

	"github.com/AleutianAI/safemutate/internal/afs"
	"github.com/AleutianAI/safemutate/internal/gitclassify"
	"github.com/AleutianAI/safemutate/internal/history"
	"github.com/AleutianAI/safemutate/internal/opm"
	"github.com/AleutianAI/safemutate/internal/sge"
	"github.com/AleutianAI/safemutate/internal/substrateconfig"
	"github.com/AleutianAI/safemutate/internal/supervisor"
	"github.com/AleutianAI/safemutate/pkg/logging"
)

// DefaultSweepRetention is how long a backup is kept retrievable before
// Sweep is allowed to reclaim it, per spec.md §8's retention invariant.
const DefaultSweepRetention = 7 * 24 * time.Hour

// Substrate is the fully-wired handle every cmd/substrate command
// retrieves from its context. It owns one history.Store rooted at
// Config.Root, and builds thinner per-call handles (sge.Interposer,
// opm.Planner) on demand since those are parameterized per repo/dir.
type Substrate struct {
	Config  substrateconfig.Config
	Logger  *logging.Logger
	History *history.Store
	AFS     *afs.Engine
	Otel    *OtelProviders
}

// New constructs a Substrate rooted at cfg.Root. It does not start any
// background goroutines; callers are responsible for calling Shutdown
// before process exit so the OTel providers flush.
func New(cfg substrateconfig.Config) (*Substrate, error) {
	logger := logging.New(cfg.ToLoggingConfig("substrate"))

	h := history.New(cfg.Root)
	engine := afs.New(cfg.Root, h)
	engine.Logger = logger.WithComponent("afs")

	providers, err := setupOtel(context.Background(), cfg)
	if err != nil {
		return nil, supervisor.Wrap(supervisor.KindInternal, "initialize OpenTelemetry providers", "", err)
	}

	return &Substrate{
		Config:  cfg,
		Logger:  logger,
		History: h,
		AFS:     engine,
		Otel:    providers,
	}, nil
}

// Shutdown flushes the OTel providers and closes the logger's file
// handle/exporter, if any. It should be deferred immediately after New.
func (s *Substrate) Shutdown(ctx context.Context) error {
	var firstErr error
	if s.Otel != nil {
		if err := s.Otel.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.Logger.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// SGE builds an Interposer rooted at repoDir, sharing this Substrate's
// history journal and logger. SGE operations are always scoped to one
// repository, so unlike AFS/OPM there is no single shared instance.
func (s *Substrate) SGE(repoDir string) *sge.Interposer {
	i := sge.New(repoDir, s.Config.Root, s.History)
	i.Logger = s.Logger.WithComponent("sge")
	i.Protocol = s.Config.Protocol
	return i
}

// Organizer builds an opm.Planner rooted at dir, sharing this
// Substrate's AFS engine (and therefore its history journal, checksum
// verification and locking).
func (s *Substrate) Organizer(dir string) *opm.Planner {
	return opm.New(dir, s.AFS)
}

// Sweep runs the startup reconciliation pass between the backup
// directory and the journal (spec.md §9 Open Question (a)): any backup
// whose op_id has no journal record is orphaned crash residue and is
// removed; any can_undo=true record whose backup is missing is
// rewritten in place with can_undo=false.
func (s *Substrate) Sweep(retention time.Duration) (history.SweepStats, error) {
	return s.History.Sweep(time.Now(), retention)
}

// ClassifyGit exposes gitclassify.Classify without requiring a caller
// that only wants a dry-run classification to construct a full
// Interposer.
func ClassifyGit(argv []string) gitclassify.Classification {
	return gitclassify.Classify(argv)
}
