// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package supervisor

import (
	"os"
	"strings"
)

// DangerLevel orders how much confirmation a destructive action needs,
// from SGE's classifier (internal/gitclassify) through to this package's
// gating logic.
type DangerLevel int

const (
	LevelSafe DangerLevel = iota
	LevelMedium
	LevelHigh
)

// Protocol captures the non-interactive confirmation flags a single
// invocation was started with, read once at startup from CLI flags
// and/or their environment-variable equivalents (ASSUME_YES, FORCE_YES,
// NONINTERACTIVE and the SAFEGIT_-prefixed forms spec.md §6 names).
type Protocol struct {
	AssumeYes      bool
	ForceYes       bool
	NonInteractive bool
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func envBool(names ...string) bool {
	for _, n := range names {
		if v, ok := os.LookupEnv(n); ok && parseBool(v) {
			return true
		}
	}
	return false
}

// ProtocolFromEnv reads the fixed env-var surface spec.md §6 names:
// ASSUME_YES/SAFEGIT_ASSUME_YES, FORCE_YES/SAFEGIT_FORCE_YES,
// NONINTERACTIVE/SAFEGIT_NONINTERACTIVE. CLI flags should be overlaid by
// the caller after this (flags win over env, per the teacher's
// PersistentPreRun precedence).
func ProtocolFromEnv() Protocol {
	return Protocol{
		AssumeYes:      envBool("ASSUME_YES", "SAFEGIT_ASSUME_YES"),
		ForceYes:       envBool("FORCE_YES", "SAFEGIT_FORCE_YES"),
		NonInteractive: envBool("NONINTERACTIVE", "SAFEGIT_NONINTERACTIVE"),
	}
}

// Authorize reports whether p's flags satisfy the confirmation
// requirement for level, and if not, the Error a caller should surface
// without prompting (only meaningful when NonInteractive is set; an
// interactive caller should prompt instead of calling Authorize).
//
// LevelMedium requires AssumeYes or ForceYes. LevelHigh requires
// ForceYes specifically, plus (checked by the caller, since the exact
// phrase is action-specific) a typed confirmation phrase matching the
// action's TypedPhrase.
func (p Protocol) Authorize(level DangerLevel) (bool, *Error) {
	if level == LevelSafe {
		return true, nil
	}
	if !p.NonInteractive {
		return true, nil
	}
	switch level {
	case LevelMedium:
		if p.AssumeYes || p.ForceYes {
			return true, nil
		}
		return false, New(KindConfirmationRequired,
			"non-interactive mode requires --yes for this action",
			"re-run with --yes or ASSUME_YES=1")
	case LevelHigh:
		if p.ForceYes {
			return true, nil
		}
		return false, New(KindConfirmationRequired,
			"non-interactive mode requires --force-yes and a typed confirmation phrase for this action",
			"re-run with --force-yes and the exact confirmation phrase printed by --dry-run")
	default:
		return false, New(KindInternal, "unknown danger level", "")
	}
}
