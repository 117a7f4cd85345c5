// Copyright 2024 The tpie Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package compressor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAccessor is a minimal in-memory stand-in for *blockfile.Accessor,
// letting the worker be tested without touching a real file.
type fakeAccessor struct {
	mu        sync.Mutex
	data      []byte
	itemCount uint64
}

func (f *fakeAccessor) Read(offset uint64, dst []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if offset >= uint64(len(f.data)) {
		return 0, nil
	}
	n := copy(dst, f.data[offset:])
	return n, nil
}

func (f *fakeAccessor) Append(src []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	offset := uint64(len(f.data))
	f.data = append(f.data, src...)
	return offset, nil
}

func (f *fakeAccessor) ItemCount() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.itemCount
}

func (f *fakeAccessor) SetItemCount(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.itemCount = n
}

// fakeBuffer is a minimal stand-in for *bufferpool.Buffer.
type fakeBuffer struct {
	data []byte
	size int
}

func newFakeBuffer(capacity int) *fakeBuffer { return &fakeBuffer{data: make([]byte, capacity)} }
func (b *fakeBuffer) Bytes() []byte          { return b.data }
func (b *fakeBuffer) Size() int              { return b.size }
func (b *fakeBuffer) SetSize(n int)          { b.size = n }
func (b *fakeBuffer) BlockNumber() uint64    { return 0 }

func runWorker(t *testing.T, acc Accessor) (*Worker, func()) {
	t.Helper()
	w := NewWorker(acc, QueueDepth(1))
	go w.Run()
	return w, w.Stop
}

func TestWorkerWriteThenReadRoundTrip(t *testing.T) {
	acc := &fakeAccessor{}
	w, stop := runWorker(t, acc)
	defer stop()

	payload := []byte("hello compressed world, this is the block body")
	wbuf := newFakeBuffer(len(payload))
	copy(wbuf.data, payload)
	wbuf.SetSize(len(payload))

	wreq := NewWriteRequest(wbuf, 7, 0)
	w.Submit(wreq)
	require.NoError(t, wreq.Resp.Wait())
	blockOffset, compressedSize := wreq.Resp.WriteResult()
	assert.EqualValues(t, 0, blockOffset)
	assert.Greater(t, compressedSize, uint64(0))
	assert.EqualValues(t, 7, acc.ItemCount(), "processWrite must add the request's item count")

	rbuf := newFakeBuffer(len(payload) + 64)
	rreq := NewReadRequest(rbuf, blockOffset, 0)
	w.Submit(rreq)
	require.NoError(t, rreq.Resp.Wait())
	assert.False(t, rreq.Resp.EndOfStream())
	assert.Equal(t, payload, rbuf.Bytes()[:rbuf.Size()])

	nextOffset, nextSize := rreq.Resp.NextRead()
	assert.EqualValues(t, 0, nextSize, "single block in the file: no speculative next block")

	rbuf2 := newFakeBuffer(len(payload) + 64)
	rreq2 := NewReadRequest(rbuf2, nextOffset, 0)
	w.Submit(rreq2)
	require.NoError(t, rreq2.Resp.Wait())
	assert.True(t, rreq2.Resp.EndOfStream(), "reading past the last block must report end of stream")
}

func TestWorkerReadEndOfStreamOnEmptyFile(t *testing.T) {
	acc := &fakeAccessor{}
	w, stop := runWorker(t, acc)
	defer stop()

	rbuf := newFakeBuffer(64)
	rreq := NewReadRequest(rbuf, 0, 0)
	w.Submit(rreq)
	require.NoError(t, rreq.Resp.Wait())
	assert.True(t, rreq.Resp.EndOfStream())
}

func TestWorkerSpeculativeNextBlockSizeChaining(t *testing.T) {
	acc := &fakeAccessor{}
	w, stop := runWorker(t, acc)
	defer stop()

	first := []byte("first block payload")
	second := []byte("second block payload, a bit longer than the first")

	for i, payload := range [][]byte{first, second} {
		wbuf := newFakeBuffer(len(payload))
		copy(wbuf.data, payload)
		wbuf.SetSize(len(payload))
		wreq := NewWriteRequest(wbuf, 1, uint64(i))
		w.Submit(wreq)
		require.NoError(t, wreq.Resp.Wait())
	}

	rbuf := newFakeBuffer(len(first) + 64)
	rreq := NewReadRequest(rbuf, 0, 0)
	w.Submit(rreq)
	require.NoError(t, rreq.Resp.Wait())
	assert.Equal(t, first, rbuf.Bytes()[:rbuf.Size()])

	nextOffset, nextSize := rreq.Resp.NextRead()
	require.Greater(t, nextSize, uint64(0), "worker should have learned the second block's size speculatively")

	rbuf2 := newFakeBuffer(len(second) + 64)
	// Passing the hint lets processRead skip the length-prefix read entirely.
	rreq2 := NewReadRequest(rbuf2, nextOffset, nextSize)
	w.Submit(rreq2)
	require.NoError(t, rreq2.Resp.Wait())
	assert.Equal(t, second, rbuf2.Bytes()[:rbuf2.Size()])
	assert.False(t, rreq2.Resp.EndOfStream())
}