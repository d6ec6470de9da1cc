// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sge implements the SGE Interposer (C8): the single entry point
// that classifies, context-gates, confirms, backs up and only then
// delegates destructive git invocations to the real git binary.
package sge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/safemutate/internal/lockprim"
	"github.com/AleutianAI/safemutate/internal/supervisor"
)

// Environment is the closed set of deployment contexts spec.md §3 names.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Mode is the closed set of operating modes.
type Mode string

const (
	ModeNormal      Mode = "normal"
	ModeCodeFreeze  Mode = "code-freeze"
	ModeMaintenance Mode = "maintenance"
	ModeParanoid    Mode = "paranoid"
)

// Context is SGE's persisted policy state.
type Context struct {
	Environment  Environment `json:"environment"`
	Mode         Mode        `json:"mode"`
	Restrictions []string    `json:"restrictions,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// DefaultContext is used when no context file exists yet.
func DefaultContext() Context {
	return Context{Environment: EnvDevelopment, Mode: ModeNormal, UpdatedAt: time.Now().UTC()}
}

// ProtectedBranchPatterns is the fixed default protected-branch name list
// (DESIGN.md decision (c) for spec.md's Open Question (c)): configurable
// in principle, but this is the default every context check falls back
// to.
var ProtectedBranchPatterns = []string{
	"main", "master", "develop", "development", "staging", "production",
	"release*", "stable*",
}

// IsProtectedBranch reports whether name matches one of patterns using
// shell-glob semantics (filepath.Match), so "release*" matches
// "release-2.4".
func IsProtectedBranch(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// ContextStore persists Context at a fixed path, guarded by an
// exclusive/shared lock on the "<path>.lock" file beside it,
// per spec §5's "context file guarded by exclusive lock during
// save_context, shared lock for readers".
type ContextStore struct {
	Path string
}

func NewContextStore(root string) *ContextStore {
	return &ContextStore{Path: filepath.Join(root, "context.json")}
}

func (c *ContextStore) Load() (Context, error) {
	guard, err := lockprim.AcquireSharedFile(c.Path+".lock", 5*time.Second)
	if err != nil {
		return Context{}, supervisor.Wrap(supervisor.KindTimeout, "acquire context read lock", "retry shortly", err)
	}
	defer guard.Release()

	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultContext(), nil
		}
		return Context{}, supervisor.Wrap(supervisor.KindInternal, "read context file", "", err)
	}
	var ctx Context
	if err := json.Unmarshal(data, &ctx); err != nil {
		return Context{}, supervisor.Wrap(supervisor.KindHistoryCorrupt, "parse context file", "", err)
	}
	return ctx, nil
}

func (c *ContextStore) Save(ctx Context) error {
	guard, err := lockprim.AcquireExclusiveFile(c.Path+".lock", 5*time.Second)
	if err != nil {
		return supervisor.Wrap(supervisor.KindTimeout, "acquire context write lock", "retry shortly", err)
	}
	defer guard.Release()

	ctx.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(ctx, "", "  ")
	if err != nil {
		return supervisor.Wrap(supervisor.KindInternal, "marshal context", "", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
		return supervisor.Wrap(supervisor.KindInternal, "create context directory", "", err)
	}
	tmp := c.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return supervisor.Wrap(supervisor.KindInternal, "write context temp file", "", err)
	}
	if err := os.Rename(tmp, c.Path); err != nil {
		os.Remove(tmp)
		return supervisor.Wrap(supervisor.KindInternal, "rename context file into place", "", err)
	}
	return nil
}

func (c *ContextStore) AddRestriction(restriction string) error {
	ctx, err := c.Load()
	if err != nil {
		return err
	}
	for _, r := range ctx.Restrictions {
		if r == restriction {
			return nil
		}
	}
	ctx.Restrictions = append(ctx.Restrictions, restriction)
	return c.Save(ctx)
}

func (c *ContextStore) RemoveRestriction(restriction string) error {
	ctx, err := c.Load()
	if err != nil {
		return err
	}
	out := ctx.Restrictions[:0]
	for _, r := range ctx.Restrictions {
		if r != restriction {
			out = append(out, r)
		}
	}
	ctx.Restrictions = out
	return c.Save(ctx)
}

// forbiddenByContext implements the context-policy table from spec
// §4.7: production forbids reset --hard, clean -f*, rebase, push
// --force*; code-freeze forbids write ops except on branches containing
// "hotfix"; paranoid allows only a read-only allow-list.
func forbiddenByContext(ctx Context, command string, class string, currentBranch string) (bool, string) {
	switch ctx.Environment {
	case EnvProduction:
		switch command {
		case "reset", "clean":
			if class != "safe" {
				return true, fmt.Sprintf("production context forbids %q", command)
			}
		case "rebase":
			return true, fmt.Sprintf("production context forbids %q", command)
		case "push":
			if class == "convertible_destructive" || class == "high_risk_destructive" {
				return true, "production context forbids force pushes"
			}
		}
	}

	if ctx.Mode == ModeCodeFreeze {
		if class != "safe" && !strings.Contains(strings.ToLower(currentBranch), "hotfix") {
			return true, "code-freeze mode forbids destructive operations outside hotfix branches"
		}
	}

	if ctx.Mode == ModeParanoid {
		if class != "safe" {
			return true, "paranoid mode allows only read-only git commands"
		}
	}

	for _, r := range ctx.Restrictions {
		if r == command {
			return true, fmt.Sprintf("explicit restriction blocks %q", command)
		}
	}

	return false, ""
}
