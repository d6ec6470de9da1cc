// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package recovery

import (
	"bytes"
	"os/exec"

	diffparse "github.com/sourcegraph/go-diff/diff"
)

// BuildDiagnosticDiff shells out to the system `diff -u` between oldPath
// and newPath and parses the result with go-diff before re-rendering it,
// so a malformed or truncated diff never gets embedded verbatim in a
// recovery script: a parse failure falls back to a one-line note instead
// of raw, unvalidated diff output.
func BuildDiagnosticDiff(oldPath, newPath string) string {
	cmd := exec.Command("diff", "-u", oldPath, newPath)
	var out bytes.Buffer
	cmd.Stdout = &out
	// diff exits 1 when files differ; that is not a failure here.
	_ = cmd.Run()

	raw := out.Bytes()
	if len(raw) == 0 {
		return "no textual diff available (binary content or identical files)"
	}

	fileDiff, err := diffparse.ParseFileDiff(raw)
	if err != nil {
		return "diff available but could not be parsed for embedding"
	}
	pretty, err := diffparse.PrintFileDiff(fileDiff)
	if err != nil {
		return "diff available but could not be rendered for embedding"
	}
	return string(pretty)
}
