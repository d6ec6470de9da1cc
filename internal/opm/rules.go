// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package opm

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/safemutate/internal/supervisor"
)

// loadCustomRules reads a YAML file of glob-pattern -> destination
// entries (spec.md's custom_rules_file rule), the Go-native equivalent
// of the original tool's JSON/YAML rules file loader, restricted to the
// YAML case since every other rule's config lives in Options already.
func loadCustomRules(path string) ([]CustomRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, supervisor.Wrap(supervisor.KindUserError, "read custom rules file", "check --rules-file path", err)
	}
	var rules []CustomRule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, supervisor.Wrap(supervisor.KindUserError, "parse custom rules file", "rules file must be a YAML list of {pattern, destination}", err)
	}
	return rules, nil
}

// bucketByCustomRules returns the destination folder for the first
// rule whose Pattern matches name (shell-glob semantics via
// filepath.Match), or "Unmatched" if none do.
func bucketByCustomRules(name string, rules []CustomRule) string {
	for _, r := range rules {
		if ok, _ := filepath.Match(r.Pattern, name); ok {
			return r.Destination
		}
	}
	return "Unmatched"
}
