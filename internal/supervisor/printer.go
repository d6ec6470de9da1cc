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
	"fmt"
	"io"
)

// nonInteractiveToken prefixes every printed error line when running
// non-interactively, so scripts can grep for failures reliably without
// depending on exit-code plumbing alone.
const nonInteractiveToken = "SAFEMUTATE-ERROR"

// PrintError writes a single structured line for err to w: kind,
// one-sentence message, recovery hint. In non-interactive mode the line
// is prefixed with a fixed token per spec §7.
func PrintError(w io.Writer, err error, nonInteractive bool) {
	if err == nil {
		return
	}
	kind := KindOf(err)
	message := err.Error()
	hint := ""
	if se, ok := err.(*Error); ok {
		message = se.Message
		hint = se.Hint
	}

	prefix := ""
	if nonInteractive {
		prefix = nonInteractiveToken + " "
	}
	if hint != "" {
		fmt.Fprintf(w, "%s[%s] %s (hint: %s)\n", prefix, kind, message, hint)
		return
	}
	fmt.Fprintf(w, "%s[%s] %s\n", prefix, kind, message)
}
