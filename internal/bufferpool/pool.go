// Copyright 2024 The tpie Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package bufferpool implements the bounded, content-addressed cache of
// uncompressed block buffers shared between a stream's foreground caller
// and its compression worker (spec.md §4.2).
package bufferpool

import "sync"

// Buffer is a fixed-capacity, reusable region holding the uncompressed
// bytes of one logical block. It is addressed by BlockNumber while it is
// resident, and is reference counted: held by the foreground while it is
// "current" and by the worker while a request naming it is in flight. A
// Buffer is eligible for reclamation only once its reference count returns
// to zero (spec.md invariant 2).
type Buffer struct {
	data        []byte // len == capacity; Size() bytes are meaningful.
	size        int
	blockNumber uint64
	refs        int
	resident    bool
}

// Bytes returns the full-capacity backing slice. Callers read or write at
// most cap(Bytes()) bytes into it and then call SetSize to record how much
// of it is meaningful.
func (b *Buffer) Bytes() []byte { return b.data }

// Size returns the number of meaningful bytes currently in the buffer.
func (b *Buffer) Size() int { return b.size }

// SetSize records how many of the buffer's bytes are meaningful.
func (b *Buffer) SetSize(n int) { b.size = n }

// BlockNumber returns the logical block number this buffer is currently
// addressed by.
func (b *Buffer) BlockNumber() uint64 { return b.blockNumber }

// Pool is a fixed-capacity set of reusable Buffers. Its upper bound is
// small on purpose: one current buffer plus one in-flight request per
// direction is sufficient (spec.md §4.2); what matters is the invariant
// that the worker never evicts a buffer the foreground still holds.
type Pool struct {
	mu        sync.Mutex
	cond      *sync.Cond
	blockSize int
	capacity  int
	buffers   []*Buffer
}

// New creates a Pool of buffers of blockSize bytes each, holding at most
// capacity buffers at a time.
func New(blockSize, capacity int) *Pool {
	p := &Pool{blockSize: blockSize, capacity: capacity}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Get returns the Buffer for blockNumber with its reference count
// incremented. If a buffer already holds blockNumber's contents and is
// free, that buffer is returned as-is (its prior contents preserved). If
// no buffer holds blockNumber but a free buffer exists (or the pool has
// not yet reached capacity), a buffer is claimed and re-addressed to
// blockNumber, with its size reset to zero for the caller to fill in. If
// the pool is full and every buffer is referenced, Get blocks until a
// release makes one free (mirroring the worker-reclamation wait of
// spec.md §4.2).
func (p *Pool) Get(blockNumber uint64) *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		for _, b := range p.buffers {
			if b.resident && b.blockNumber == blockNumber && b.refs == 0 {
				b.refs++
				return b
			}
		}

		if len(p.buffers) < p.capacity {
			b := &Buffer{
				data:        make([]byte, p.blockSize),
				blockNumber: blockNumber,
				resident:    true,
				refs:        1,
			}
			p.buffers = append(p.buffers, b)
			return b
		}

		for _, b := range p.buffers {
			if b.refs == 0 {
				b.blockNumber = blockNumber
				b.size = 0
				b.refs = 1
				return b
			}
		}

		p.cond.Wait()
	}
}

// Release decrements a buffer's reference count. Once the count reaches
// zero the buffer becomes eligible for reclamation by a subsequent Get,
// and any goroutine blocked in Get is woken.
func (p *Pool) Release(b *Buffer) {
	p.mu.Lock()
	b.refs--
	if b.refs < 0 {
		b.refs = 0
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Outstanding reports how many buffers currently have a non-zero
// reference count.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.buffers {
		if b.refs > 0 {
			n++
		}
	}
	return n
}