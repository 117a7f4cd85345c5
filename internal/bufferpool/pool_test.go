// Copyright 2024 The tpie Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bufferpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsDistinctBuffersUpToCapacity(t *testing.T) {
	p := New(64, 2)

	b0 := p.Get(0)
	b1 := p.Get(1)
	require.NotSame(t, b0, b1)
	assert.EqualValues(t, 0, b0.BlockNumber())
	assert.EqualValues(t, 1, b1.BlockNumber())
	assert.Equal(t, 2, p.Outstanding())
}

func TestGetReusesResidentFreeBuffer(t *testing.T) {
	p := New(64, 2)

	b0 := p.Get(0)
	b0.SetSize(10)
	p.Release(b0)

	again := p.Get(0)
	assert.Same(t, b0, again, "a resident, free buffer for the same block number must be reused as-is")
	assert.Equal(t, 10, again.Size(), "reused resident buffer's prior contents are preserved")
}

func TestGetBlocksUntilAReleaseWhenFull(t *testing.T) {
	p := New(64, 1)

	b0 := p.Get(0)

	done := make(chan *Buffer, 1)
	go func() {
		done <- p.Get(1)
	}()

	select {
	case <-done:
		t.Fatal("Get(1) should have blocked while the pool's only buffer is held")
	case <-time.After(20 * time.Millisecond):
	}

	p.Release(b0)

	select {
	case b1 := <-done:
		assert.EqualValues(t, 1, b1.BlockNumber())
	case <-time.After(time.Second):
		t.Fatal("Get(1) did not unblock after Release")
	}
}

func TestReleaseIsSaturatingAtZero(t *testing.T) {
	p := New(64, 1)
	b := p.Get(0)
	p.Release(b)
	p.Release(b)
	assert.Equal(t, 0, p.Outstanding())
}