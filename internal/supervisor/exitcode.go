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

// Exit codes, fixed across every substrate entry point per spec.md §4.9.
const (
	ExitSuccess           = 0
	ExitUserError         = 1
	ExitMissingDependency = 2
	ExitDestinationLocked = 3
	ExitChecksumMismatch  = 4
	ExitContextForbidden  = 5
	ExitTimeout           = 6
	ExitInterrupted       = 130
)

// ExitCodeFor maps an error's Kind onto the fixed exit-code taxonomy. Any
// kind without a dedicated code (NotFound, PermissionDenied, etc.) maps
// to ExitUserError, matching the "anything unclassified is a user-facing
// failure" default spec §4.9 implies.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	switch KindOf(err) {
	case KindLockedSource, KindLockedDestination:
		return ExitDestinationLocked
	case KindChecksumMismatch:
		return ExitChecksumMismatch
	case KindContextForbidden:
		return ExitContextForbidden
	case KindTimeout:
		return ExitTimeout
	case KindCancelled:
		return ExitInterrupted
	case KindDependencyMissing:
		return ExitMissingDependency
	default:
		return ExitUserError
	}
}
