// Copyright 2024 The tpie Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package blockfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{
		Magic:           magic(),
		Version:         CurrentVersion,
		ItemSize:        8,
		BlockSize:       4096,
		UserDataSize:    3,
		MaxUserDataSize: 64,
		ItemCount:       12345,
		CleanClose:      true,
	}

	got, err := decodeHeader(h.encode())
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	_, err := decodeHeader(make([]byte, encodedHeaderSize-1))
	assert.Error(t, err)
}

func TestValidateHeaderChecks(t *testing.T) {
	base := Header{
		Magic:           magic(),
		Version:         CurrentVersion,
		ItemSize:        8,
		BlockSize:       4096,
		MaxUserDataSize: 0,
		CleanClose:      true,
	}

	assert.NoError(t, validateHeader(base, 8, 4096, false))

	bad := base
	bad.Magic = 0
	assert.ErrorIs(t, validateHeader(bad, 8, 4096, false), ErrInvalidFile)

	bad = base
	bad.Version = CurrentVersion + 1
	assert.ErrorIs(t, validateHeader(bad, 8, 4096, false), ErrInvalidFile)

	bad = base
	bad.ItemSize = 16
	assert.ErrorIs(t, validateHeader(bad, 8, 4096, false), ErrInvalidFile)

	bad = base
	bad.BlockSize = 8192
	assert.ErrorIs(t, validateHeader(bad, 8, 4096, false), ErrInvalidFile)

	bad = base
	bad.CleanClose = false
	assert.ErrorIs(t, validateHeader(bad, 8, 4096, false), ErrInvalidFile)
	assert.NoError(t, validateHeader(bad, 8, 4096, true), "allowUnclean should override the dirty-close check")
}