// Copyright 2024 The tpie Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package tpie

// Position is an opaque recording of a location in a stream's logical
// item sequence (spec.md §3, §4.6). It is only meaningful when passed back
// to SetPosition on the same stream instance (same file, same record
// type, same block size) that produced it via GetPosition; equality of
// tokens is not defined.
//
// Grounded on tpie/compressed/position.h from the original implementation:
// readOffset names the byte offset at which the owning block's length
// prefix begins (or, for a position captured from a speculative next-block
// read, the offset the worker's speculative read already resolved to —
// see internal/compressor's Read handling, which treats the pair
// opaquely and never recomputes it), blockSize is that block's known
// compressed size (0 meaning "unknown, ask the worker to learn it"),
// blockSeq is the block's sequence number, and itemIndex is the item's
// index within the block's decompressed contents.
type Position struct {
	readOffset uint64
	blockSize  uint64
	blockSeq   uint64
	itemIndex  uint32
}

func newPosition(readOffset, blockSize, blockSeq uint64, itemIndex uint32) Position {
	return Position{
		readOffset: readOffset,
		blockSize:  blockSize,
		blockSeq:   blockSeq,
		itemIndex:  itemIndex,
	}
}