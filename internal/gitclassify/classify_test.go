// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gitclassify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySafeCommandsPassThrough(t *testing.T) {
	for _, argv := range [][]string{
		{"git", "status"},
		{"git", "log", "--oneline"},
		{"git", "diff"},
		{"git", "fetch", "origin"},
	} {
		c := Classify(argv)
		assert.Equal(t, ClassSafe, c.Class, "argv=%v", argv)
	}
}

func TestClassifyResetHardIsReversibleDestructive(t *testing.T) {
	c := Classify([]string{"git", "reset", "--hard", "HEAD~1"})
	assert.Equal(t, ClassReversibleDestructive, c.Class)
}

func TestClassifyForcePushIsConvertible(t *testing.T) {
	c := Classify([]string{"git", "push", "--force", "origin", "feature"})
	assert.Equal(t, ClassConvertibleDestructive, c.Class)
	assert.Equal(t, []string{"git", "push", "--force-with-lease", "origin", "feature"}, c.Rewrite)
}

func TestClassifyMirrorPushIsHighRisk(t *testing.T) {
	c := Classify([]string{"git", "push", "--mirror", "origin"})
	assert.Equal(t, ClassHighRiskDestructive, c.Class)
	assert.Equal(t, "MIRROR PUSH", c.Phrase)
}

func TestClassifyFilterBranchIsBlocked(t *testing.T) {
	c := Classify([]string{"git", "filter-branch", "--force"})
	assert.True(t, c.Blocked)
	assert.NotEmpty(t, c.Alternatives)
}

func TestClassifyForceWithLeaseIsNotRewritten(t *testing.T) {
	c := Classify([]string{"git", "push", "--force-with-lease", "origin", "feature"})
	assert.Equal(t, ClassSafe, c.Class)
}

func TestResolveAliasExpandsSimpleAlias(t *testing.T) {
	lookup := func(alias string) (string, bool) {
		if alias == "hreset" {
			return "reset --hard", true
		}
		return "", false
	}
	out := ResolveAlias([]string{"git", "hreset", "HEAD~1"}, lookup)
	assert.Equal(t, []string{"git", "reset", "--hard", "HEAD~1"}, out)
}

func TestResolveAliasLeavesShellOutUnexpanded(t *testing.T) {
	lookup := func(alias string) (string, bool) {
		return "!some-script.sh", true
	}
	out := ResolveAlias([]string{"git", "dangerous"}, lookup)
	assert.Equal(t, []string{"git", "dangerous"}, out)
}
