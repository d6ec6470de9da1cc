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
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCodeForMapsKnownKinds(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCodeFor(nil))
	assert.Equal(t, ExitDestinationLocked, ExitCodeFor(New(KindLockedSource, "m", "")))
	assert.Equal(t, ExitChecksumMismatch, ExitCodeFor(New(KindChecksumMismatch, "m", "")))
	assert.Equal(t, ExitContextForbidden, ExitCodeFor(New(KindContextForbidden, "m", "")))
	assert.Equal(t, ExitTimeout, ExitCodeFor(New(KindTimeout, "m", "")))
	assert.Equal(t, ExitInterrupted, ExitCodeFor(New(KindCancelled, "m", "")))
	assert.Equal(t, ExitUserError, ExitCodeFor(New(KindNotFound, "m", "")))
}

func TestWrapDoesNotDoubleWrapSameKind(t *testing.T) {
	base := errors.New("disk full")
	inner := Wrap(KindBackupFailed, "backup failed", "check disk space", base)
	outer := Wrap(KindBackupFailed, "backup failed again", "check disk space", inner)

	require.ErrorIs(t, outer, base)
	assert.Equal(t, KindBackupFailed, KindOf(outer))
}

func TestKindOfWalksChain(t *testing.T) {
	base := New(KindTimeout, "lock wait exceeded", "retry later")
	wrapped := fmtWrap(base)
	assert.Equal(t, KindTimeout, KindOf(wrapped))
}

func fmtWrap(err error) error {
	return &wrapper{err}
}

type wrapper struct{ err error }

func (w *wrapper) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapper) Unwrap() error { return w.err }

func TestAuthorizeRequiresForceYesForHighDanger(t *testing.T) {
	p := Protocol{NonInteractive: true, AssumeYes: true}
	ok, err := p.Authorize(LevelHigh)
	assert.False(t, ok)
	require.Error(t, err)
	assert.Equal(t, KindConfirmationRequired, err.Kind)

	p.ForceYes = true
	ok, err = p.Authorize(LevelHigh)
	assert.True(t, ok)
	assert.Nil(t, err)
}

func TestAuthorizeAllowsInteractiveWithoutFlags(t *testing.T) {
	p := Protocol{}
	ok, err := p.Authorize(LevelHigh)
	assert.True(t, ok)
	assert.Nil(t, err)
}

func TestPrintErrorIncludesNonInteractiveToken(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, New(KindTimeout, "lock wait exceeded", "retry later"), true)
	out := buf.String()
	assert.True(t, strings.Contains(out, "SAFEMUTATE-ERROR"))
	assert.True(t, strings.Contains(out, "Timeout"))
	assert.True(t, strings.Contains(out, "retry later"))
}
