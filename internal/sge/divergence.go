// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sge

import (
	"fmt"
	"strconv"
	"strings"
)

// Divergence reports how a local branch compares to its upstream before
// a force-push, so SGE can decide whether to escalate a force-push's
// danger level past ClassConvertibleDestructive.
type Divergence struct {
	Ahead    int
	Behind   int
	Upstream string
	Platform string
}

// platformFromRemoteURL recognizes the hosting platform from a remote
// URL's substring, used only to tailor the diagnostic message (SGE never
// talks to the platform's API).
func platformFromRemoteURL(url string) string {
	switch {
	case strings.Contains(url, "github.com"):
		return "github"
	case strings.Contains(url, "gitlab.com"):
		return "gitlab"
	case strings.Contains(url, "bitbucket.org"):
		return "bitbucket"
	default:
		return "unknown"
	}
}

// parseAheadBehind parses the "<behind>\t<ahead>" line `git rev-list
// --left-right --count upstream...branch` prints.
func parseAheadBehind(line string) (ahead, behind int, err error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected rev-list --count output %q", line)
	}
	behind, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, err
	}
	ahead, err = strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, err
	}
	return ahead, behind, nil
}

// escalateForProtectedBranch reports whether a force-push targeting
// branch should be treated as high-risk rather than convertible: either
// the branch name matches the protected pattern list, or the local
// branch is behind its upstream (meaning a force-push would discard
// commits SGE cannot prove are this operator's own).
func escalateForProtectedBranch(branch string, div Divergence, patterns []string) bool {
	if IsProtectedBranch(branch, patterns) {
		return true
	}
	return div.Behind > 0
}
