// Copyright 2024 The tpie Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package blockfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessorAppendReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.tpie")

	a, err := Open(path, true, 8, 4096, 0, CacheHintSequential, false)
	require.NoError(t, err)

	off1, err := a.Append([]byte("firstblk"))
	require.NoError(t, err)
	assert.EqualValues(t, 0, off1)

	off2, err := a.Append([]byte("secondbk"))
	require.NoError(t, err)
	assert.EqualValues(t, 8, off2)

	dst := make([]byte, 8)
	n, err := a.Read(off1, dst)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, "firstblk", string(dst))

	n, err = a.Read(off2, dst)
	require.NoError(t, err)
	assert.Equal(t, "secondbk", string(dst[:n]))

	require.NoError(t, a.Close(true))
}

func TestAccessorReadPastEndIsShortNotError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.tpie")
	a, err := Open(path, true, 8, 4096, 0, CacheHintSequential, false)
	require.NoError(t, err)

	dst := make([]byte, 16)
	n, err := a.Read(0, dst)
	require.NoError(t, err, "a short/empty read at end of file is reported via n, not err")
	assert.Equal(t, 0, n)

	require.NoError(t, a.Close(true))
}

func TestAccessorReopenValidatesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.tpie")
	a, err := Open(path, true, 8, 4096, 0, CacheHintSequential, false)
	require.NoError(t, err)
	require.NoError(t, a.Close(true))

	_, err = Open(path, false, 16, 4096, 0, CacheHintSequential, false)
	assert.ErrorIs(t, err, ErrInvalidFile)

	reopened, err := Open(path, false, 8, 4096, 0, CacheHintSequential, false)
	require.NoError(t, err)
	require.NoError(t, reopened.Close(true))
}

func TestAccessorUncleanCloseDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.tpie")
	a, err := Open(path, true, 8, 4096, 0, CacheHintSequential, false)
	require.NoError(t, err)
	_, err = a.Append([]byte("12345678"))
	require.NoError(t, err)
	// Intentionally not closing: the header's clean-close flag stays false.

	_, err = Open(path, false, 8, 4096, 0, CacheHintSequential, false)
	assert.ErrorIs(t, err, ErrInvalidFile)

	a2, err := Open(path, false, 8, 4096, 0, CacheHintSequential, true)
	require.NoError(t, err)
	require.NoError(t, a2.Close(true))
}

func TestAccessorTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.tpie")
	a, err := Open(path, true, 8, 4096, 0, CacheHintSequential, false)
	require.NoError(t, err)
	_, err = a.Append([]byte("12345678"))
	require.NoError(t, err)
	a.SetItemCount(1)

	require.NoError(t, a.Truncate())
	assert.EqualValues(t, 0, a.FileSize())
	assert.EqualValues(t, 0, a.ItemCount())

	require.NoError(t, a.Close(true))
}

func TestReadOnlyAccessorCloseDoesNotRewriteHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.tpie")
	a, err := Open(path, true, 8, 4096, 0, CacheHintSequential, false)
	require.NoError(t, err)
	_, err = a.Append([]byte("12345678"))
	require.NoError(t, err)
	a.SetItemCount(1)
	require.NoError(t, a.Close(true))

	ro, err := Open(path, false, 8, 4096, 0, CacheHintSequential, false)
	require.NoError(t, err)
	// The fd behind a read-only Accessor is O_RDONLY; Close must not
	// attempt a WriteAt against it, which would fail with EBADF.
	require.NoError(t, ro.Close(true))

	h, err := ReadHeaderOnly(path)
	require.NoError(t, err)
	assert.True(t, h.CleanClose, "a read-only Close must leave the on-disk clean flag exactly as the writer left it")
}

func TestReadHeaderOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.tpie")
	a, err := Open(path, true, 8, 4096, 0, CacheHintSequential, false)
	require.NoError(t, err)
	a.SetItemCount(42)
	require.NoError(t, a.Close(true))

	h, err := ReadHeaderOnly(path)
	require.NoError(t, err)
	assert.EqualValues(t, 8, h.ItemSize)
	assert.EqualValues(t, 4096, h.BlockSize)
	assert.EqualValues(t, 42, h.ItemCount)
	assert.True(t, h.CleanClose)
}