// Copyright 2024 The tpie Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package compressor

import (
	"encoding/binary"
	"fmt"
	"log"

	"github.com/daniel-perry/tpie/internal/blockfile"
	"github.com/daniel-perry/tpie/internal/codec"
)

const lengthPrefixSize = 8

// Accessor is the subset of *blockfile.Accessor the worker drives. Taking
// an interface here keeps the worker testable against a fake accessor, in
// the style of the teacher's functional-option constructors taking narrow
// collaborator interfaces.
type Accessor interface {
	Read(offset uint64, dst []byte) (int, error)
	Append(src []byte) (uint64, error)
	ItemCount() uint64
	SetItemCount(uint64)
}

// Worker is the single long-lived task described in spec.md §4.4: it
// dequeues requests in FIFO order, performs (de)compression and I/O
// against an Accessor, and fills in each request's response. There is
// exactly one Worker per open stream, mirroring the one foreground/one
// worker actor model of spec.md §5.
type Worker struct {
	accessor Accessor
	queue    chan *Request
	done     chan struct{}
	verbose  bool
}

// Option configures a Worker at construction time.
type Option func(*Worker)

// Verbose enables trace logging of each request the worker processes, in
// the style of cosnicolaou-pbzip2's Decompressor.trace.
func Verbose(v bool) Option {
	return func(w *Worker) { w.verbose = v }
}

// QueueDepth sets the capacity of the worker's request channel. Per
// spec.md §4.3 there is at most one in-flight request per façade, so a
// depth of 1 is sufficient; a larger depth only matters if multiple
// streams share a worker, which this package does not do.
func QueueDepth(n int) Option {
	return func(w *Worker) {
		w.queue = make(chan *Request, n)
	}
}

// NewWorker creates a Worker bound to accessor. Run must be called (in its
// own goroutine) to start processing requests.
func NewWorker(accessor Accessor, opts ...Option) *Worker {
	w := &Worker{accessor: accessor, queue: make(chan *Request, 1)}
	for _, opt := range opts {
		opt(w)
	}
	w.done = make(chan struct{})
	return w
}

func (w *Worker) trace(format string, args ...interface{}) {
	if w.verbose {
		log.Printf(format, args...)
	}
}

// Submit enqueues a request for processing. Requests are processed
// strictly in submission order (spec.md §4.3, §5).
func (w *Worker) Submit(r *Request) {
	w.queue <- r
}

// Run processes requests until Stop closes the queue and every
// already-submitted request has drained; it returns once the queue is
// empty and closed. Callers run Run in its own goroutine.
func (w *Worker) Run() {
	defer close(w.done)
	for req := range w.queue {
		w.process(req)
	}
}

// Stop signals that no further requests will be submitted and blocks
// until Run has drained the queue and returned, i.e. until every
// outstanding response has been filled in (spec.md §5, "on close, the
// foreground issues a stop signal, drains the queue... then joins the
// worker").
func (w *Worker) Stop() {
	close(w.queue)
	<-w.done
}

func (w *Worker) process(r *Request) {
	switch r.Kind {
	case Write:
		w.processWrite(r)
	case Read:
		w.processRead(r)
	default:
		r.Resp.finish(fmt.Errorf("compressor: unknown request kind %v", r.Kind))
	}
}

func (w *Worker) processWrite(r *Request) {
	w.trace("compressing block %d (%d items)", r.BlockSeq, r.ItemCount)

	input := r.Buf.Bytes()[:r.Buf.Size()]
	maxLen := codec.MaxCompressedLen(len(input))
	scratch := make([]byte, lengthPrefixSize+maxLen)
	payload, err := codec.Compress(scratch[lengthPrefixSize:lengthPrefixSize+maxLen], input)
	if err != nil {
		r.Resp.finish(fmt.Errorf("compressor: compress block %d: %w", r.BlockSeq, err))
		return
	}
	compressedSize := len(payload)

	framed := scratch[:lengthPrefixSize+compressedSize]
	binary.LittleEndian.PutUint64(framed[:lengthPrefixSize], uint64(compressedSize))
	copy(framed[lengthPrefixSize:], payload)

	offset, err := w.accessor.Append(framed)
	if err != nil {
		r.Resp.finish(fmt.Errorf("compressor: write block %d: %w", r.BlockSeq, err))
		return
	}
	w.accessor.SetItemCount(w.accessor.ItemCount() + uint64(r.ItemCount))

	w.trace("compressed block %d: %d -> %d bytes at offset %d", r.BlockSeq, len(input), compressedSize, offset)
	r.Resp.finishWrite(offset, uint64(compressedSize))
}

func (w *Worker) processRead(r *Request) {
	blockSize := r.BlockSizeHint
	readOffset := r.ReadOffset

	if blockSize == 0 {
		var prefix [lengthPrefixSize]byte
		n, err := w.accessor.Read(readOffset, prefix[:])
		if err != nil {
			r.Resp.finish(fmt.Errorf("compressor: read length prefix at %d: %w", readOffset, err))
			return
		}
		if n != lengthPrefixSize {
			w.trace("end of stream: short prefix read (%d bytes) at %d", n, readOffset)
			r.Resp.finishEndOfStream()
			return
		}
		blockSize = binary.LittleEndian.Uint64(prefix[:])
		readOffset += lengthPrefixSize
	}

	if blockSize == 0 {
		r.Resp.finish(fmt.Errorf("compressor: block size was unexpectedly zero at offset %d", readOffset))
		return
	}

	scratch := make([]byte, blockSize+lengthPrefixSize)
	n, err := w.accessor.Read(readOffset, scratch)
	if err != nil {
		r.Resp.finish(fmt.Errorf("compressor: read block at %d: %w", readOffset, err))
		return
	}

	var nextReadOffset, nextBlockSize uint64
	switch uint64(n) {
	case blockSize + lengthPrefixSize:
		nextBlockSize = binary.LittleEndian.Uint64(scratch[blockSize:])
		nextReadOffset = readOffset + blockSize + lengthPrefixSize
	case blockSize:
		nextBlockSize = 0
		nextReadOffset = readOffset + blockSize
	default:
		w.trace("end of stream: truncated block at %d (wanted %d, got %d)", readOffset, blockSize+lengthPrefixSize, n)
		r.Resp.finishEndOfStream()
		return
	}

	out, err := codec.Decompress(r.Buf.Bytes(), scratch[:blockSize])
	if err != nil {
		r.Resp.finish(fmt.Errorf("compressor: decompress block at %d: %w", readOffset, err))
		return
	}
	r.Buf.SetSize(len(out))

	w.trace("decompressed block at %d: %d -> %d bytes, next @%d (%d)", readOffset, blockSize, len(out), nextReadOffset, nextBlockSize)
	r.Resp.finishRead(nextReadOffset, nextBlockSize)
}

var _ Accessor = (*blockfile.Accessor)(nil)