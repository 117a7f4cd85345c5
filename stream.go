// Copyright 2024 The tpie Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package tpie

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"github.com/daniel-perry/tpie/internal/blockfile"
	"github.com/daniel-perry/tpie/internal/bufferpool"
	"github.com/daniel-perry/tpie/internal/compressor"
)

// bufferPoolCapacity bounds how many block buffers a stream keeps resident
// at once: the buffer currently being filled or drained, plus one more for
// the write path's one-block lookahead (flushBlock keeps the previous
// block's buffer alive until its write response arrives while the
// foreground starts filling the next one), with one spare for headroom.
// spec.md §4.2 only requires "one current buffer plus one in-flight per
// direction".
const bufferPoolCapacity = 3

type seekKind int

const (
	seekNone seekKind = iota
	seekBeginning
	seekEnd
	seekPosition
)

// SeekKind selects the deferred seek an explicit Seek call requests.
// Arbitrary random seeks are a Non-goal (spec.md §3); only the two
// endpoints are supported directly, with SetPosition covering resumption
// from a previously captured Position.
type SeekKind int

const (
	// SeekBeginning rewinds the stream to its first item, entering the
	// read role if the stream already holds data or the write role if it
	// is empty.
	SeekBeginning SeekKind = iota
	// SeekEnd moves the stream to just past its last item, entering the
	// write role so that subsequent writes append.
	SeekEnd
)

type bufRole int

const (
	bufWriteOnly bufRole = iota
	bufReadOnly
)

// Stream is the generic façade over a compressed, append-only record
// stream (spec.md §4.5). It composes a byte accessor, a block buffer pool,
// and a single background compression worker: the façade itself runs only
// on its caller's goroutine and is not safe for concurrent use from
// multiple goroutines, mirroring compressed_stream<T> in the original
// implementation (tpie/compressed/stream.h) and this corpus's single
// foreground/single worker actor pattern (cosnicolaou-pbzip2's
// Decompressor).
type Stream[T any] struct {
	path       string
	mode       Mode
	itemSize   int
	blockSize  uint64
	blockItems int

	accessor   *blockfile.Accessor
	pool       *bufferpool.Pool
	worker     *compressor.Worker
	accountant Accountant
	tempFile   bool

	open   bool
	broken error

	seekState       seekKind
	pendingPosition Position

	bufRole bufRole
	buf     *bufferpool.Buffer
	bufSeq  uint64
	nextItem int // write: items placed in buf; read: index of next unread item
	lastItem int // read only: number of valid items in buf

	pendingWrite    *compressor.Request
	pendingWriteBuf *bufferpool.Buffer

	position      Position // describes the block currently loaded for reading
	nextReadOffset uint64
	nextBlockSize  uint64
	streamBlocks   uint64

	cursor uint64 // items read or written so far, i.e. Offset()
}

// Open opens or creates the stream file at path for access according to
// mode (spec.md §3, §4.5). The record type T must have a fixed encoded
// size (no slices, maps, or strings at the top level): Open computes it
// once via encoding/binary and rejects types it cannot size.
func Open[T any](path string, mode Mode, opts ...Option) (*Stream[T], error) {
	var zero T
	itemSize := binary.Size(zero)
	if itemSize <= 0 {
		return nil, fmt.Errorf("tpie: %T has no fixed encoded size", zero)
	}

	o := defaultOpenOpts()
	for _, fn := range opts {
		fn(&o)
	}
	if o.blockFactor <= 0 {
		o.blockFactor = 1.0
	}
	blockSize := uint64(float64(PlatformBlockSize) * o.blockFactor)
	blockItems := int(blockSize) / itemSize
	if blockItems <= 0 {
		return nil, fmt.Errorf("tpie: block size %d is too small to hold a single %T item (%d bytes)", blockSize, zero, itemSize)
	}

	acc, err := blockfile.Open(path, mode.canWrite(), uint32(itemSize), blockSize, 0, o.cacheHint, o.allowUnclean)
	if err != nil {
		if errors.Is(err, blockfile.ErrInvalidFile) {
			return nil, wrap(ErrInvalidFile, err)
		}
		return nil, wrap(ErrIO, err)
	}

	s := &Stream[T]{
		path:       path,
		mode:       mode,
		itemSize:   itemSize,
		blockSize:  blockSize,
		blockItems: blockItems,
		accessor:   acc,
		pool:       bufferpool.New(int(blockSize), bufferPoolCapacity),
		worker:     compressor.NewWorker(acc, compressor.Verbose(o.verbose)),
		accountant: o.accountant,
		open:       true,
	}
	go s.worker.Run()

	s.accountant.Charge(int64(bufferPoolCapacity) * int64(blockSize))

	s.seekState = seekBeginning
	return s, nil
}

// OpenTemp opens a new stream backed by a fresh temporary file, which is
// removed when the stream is closed, mirroring the original
// implementation's temporary-stream support used by merge-sort style
// algorithms (spec.md §9, "Temp file streams").
func OpenTemp[T any](opts ...Option) (*Stream[T], error) {
	f, err := os.CreateTemp("", "tpie-stream-*.tpie")
	if err != nil {
		return nil, wrap(ErrIO, err)
	}
	path := f.Name()
	f.Close()
	os.Remove(path)

	s, err := Open[T](path, ModeReadWrite, opts...)
	if err != nil {
		return nil, err
	}
	s.tempFile = true
	return s, nil
}

// IsOpen reports whether the stream has not yet been closed.
func (s *Stream[T]) IsOpen() bool { return s.open }

// Path returns the file path the stream was opened against.
func (s *Stream[T]) Path() string { return s.path }

// Size returns the number of items currently persisted or buffered in the
// stream. If a block's write is still in flight, Size first waits for it to
// complete so that its items are counted.
func (s *Stream[T]) Size() uint64 {
	if s.pendingWrite != nil {
		if err := s.awaitPendingWrite(); err != nil {
			s.fail(err)
		}
	}
	n := s.accessor.ItemCount()
	if s.bufRole == bufWriteOnly && s.seekState == seekNone {
		n += uint64(s.nextItem)
	}
	return n
}

// Offset returns the stream's current logical cursor: the count of items
// already read (in the read role) or written (in the write role).
func (s *Stream[T]) Offset() uint64 { return s.cursor }

// Seek requests a deferred seek to the beginning or end of the stream. The
// actual repositioning work (obtaining a buffer, issuing I/O) happens
// lazily, on the next Read, Write, CanRead, or GetPosition call, mirroring
// compressed_stream_base::seek in the original implementation.
func (s *Stream[T]) Seek(kind SeekKind) error {
	if !s.open {
		return ErrNotOpen
	}
	if s.broken != nil {
		return wrap(ErrNotOpen, s.broken)
	}
	switch kind {
	case SeekBeginning:
		s.seekState = seekBeginning
	case SeekEnd:
		if !s.mode.canWrite() {
			return wrap(ErrUnsupportedSeek, fmt.Errorf("seek to end requires write access"))
		}
		s.seekState = seekEnd
	default:
		return wrap(ErrUnsupportedSeek, fmt.Errorf("unsupported seek kind %d", kind))
	}
	return nil
}

// GetPosition captures the stream's current read position as an opaque
// Position token, valid only while the stream is in its read role (spec.md
// §4.6, §8 property 3).
func (s *Stream[T]) GetPosition() (Position, error) {
	if !s.open {
		return Position{}, ErrNotOpen
	}
	if s.broken != nil {
		return Position{}, wrap(ErrNotOpen, s.broken)
	}
	if s.seekState != seekNone {
		if err := s.performSeek(); err != nil {
			s.fail(err)
			return Position{}, err
		}
	}
	if s.bufRole != bufReadOnly {
		return Position{}, wrap(ErrWriteOnly, fmt.Errorf("get position is only valid while reading"))
	}
	return newPosition(s.position.readOffset, s.position.blockSize, s.position.blockSeq, uint32(s.nextItem)), nil
}

// SetPosition requests a deferred seek to a previously captured Position,
// resolved lazily on the next read operation, mirroring the "position"
// branch of compressed_stream_base::perform_seek.
func (s *Stream[T]) SetPosition(p Position) error {
	if !s.open {
		return ErrNotOpen
	}
	if s.broken != nil {
		return wrap(ErrNotOpen, s.broken)
	}
	s.pendingPosition = p
	s.seekState = seekPosition
	return nil
}

// CanRead reports whether a call to Read is expected to succeed, without
// consuming an item. It may perform a deferred seek but never advances the
// read cursor (spec.md §4.5, §8 property 4).
func (s *Stream[T]) CanRead() bool {
	if !s.open || s.broken != nil || !s.mode.canRead() {
		return false
	}
	if s.seekState == seekBeginning && s.nextReadOffset == 0 && s.nextBlockSize == 0 && s.buf == nil && s.accessor.FileSize() > 0 {
		return true
	}
	if s.seekState != seekNone {
		if err := s.performSeek(); err != nil {
			s.fail(err)
			return false
		}
	}
	if s.bufRole != bufReadOnly {
		return false
	}
	if s.nextItem != s.lastItem {
		return true
	}
	return s.nextBlockSize != 0
}

// Read returns the next item in the stream, advancing the read cursor. It
// returns ErrEndOfStream once every item has been consumed.
func (s *Stream[T]) Read() (T, error) {
	var zero T
	if !s.open {
		return zero, ErrNotOpen
	}
	if s.broken != nil {
		return zero, wrap(ErrNotOpen, s.broken)
	}
	if !s.mode.canRead() {
		return zero, ErrWriteOnly
	}
	if s.seekState != seekNone {
		if err := s.performSeek(); err != nil {
			s.fail(err)
			return zero, err
		}
	}
	if s.bufRole != bufReadOnly {
		return zero, wrap(ErrWriteOnly, fmt.Errorf("stream is positioned for writing"))
	}
	if s.nextItem == s.lastItem {
		if err := s.readNextBlock(s.position.blockSeq + 1); err != nil {
			s.fail(err)
			return zero, err
		}
		if s.nextItem == s.lastItem {
			// End of stream is an ordinary, recoverable outcome, not a
			// fatal error: the caller may still Seek or SetPosition and
			// keep using the stream, so it must not poison s.broken.
			return zero, ErrEndOfStream
		}
	}
	item, err := decodeItem[T](s.buf.Bytes()[s.nextItem*s.itemSize : (s.nextItem+1)*s.itemSize])
	if err != nil {
		werr := wrap(ErrCodecFailure, err)
		s.fail(werr)
		return zero, werr
	}
	s.nextItem++
	s.cursor++
	return item, nil
}

// ReadItems reads up to n items, stopping early (without error) at end of
// stream.
func (s *Stream[T]) ReadItems(n int) ([]T, error) {
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		item, err := s.Read()
		if err == ErrEndOfStream {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Write appends item to the stream. Writing is append-only: Write fails
// with ErrNonAppendingWrite unless the stream is positioned at its end
// (spec.md §3, §8 property 5).
func (s *Stream[T]) Write(item T) error {
	if !s.open {
		return ErrNotOpen
	}
	if s.broken != nil {
		return wrap(ErrNotOpen, s.broken)
	}
	if !s.mode.canWrite() {
		return ErrReadOnly
	}
	if s.seekState != seekNone {
		if err := s.performSeek(); err != nil {
			s.fail(err)
			return err
		}
	}
	if s.bufRole != bufWriteOnly {
		err := wrap(ErrNonAppendingWrite, fmt.Errorf("writes are only permitted at the end of the stream"))
		s.fail(err)
		return err
	}
	if s.nextItem == s.blockItems {
		if err := s.flushBlock(); err != nil {
			s.fail(err)
			return err
		}
	}
	data, err := encodeItem(item, s.itemSize)
	if err != nil {
		werr := wrap(ErrCodecFailure, err)
		s.fail(werr)
		return werr
	}
	copy(s.buf.Bytes()[s.nextItem*s.itemSize:], data)
	s.nextItem++
	s.buf.SetSize(s.nextItem * s.itemSize)
	s.cursor++
	return nil
}

// WriteItems appends every item in items to the stream.
func (s *Stream[T]) WriteItems(items []T) error {
	for _, item := range items {
		if err := s.Write(item); err != nil {
			return err
		}
	}
	return nil
}

// Truncate discards every item in the stream and repositions it at the
// (now empty) beginning. Only truncating to zero is supported; arbitrary
// random writes are a Non-goal (spec.md §3).
func (s *Stream[T]) Truncate(offset uint64) error {
	if !s.open {
		return ErrNotOpen
	}
	if s.broken != nil {
		return wrap(ErrNotOpen, s.broken)
	}
	if offset != 0 {
		return wrap(ErrUnsupportedSeek, fmt.Errorf("arbitrary truncate is not supported"))
	}
	if !s.mode.canWrite() {
		return ErrReadOnly
	}
	if s.Size() == 0 && s.seekState == seekNone {
		return nil
	}
	if s.pendingWrite != nil {
		if err := s.awaitPendingWrite(); err != nil {
			s.fail(err)
			return err
		}
	}
	if s.buf != nil {
		s.pool.Release(s.buf)
		s.buf = nil
	}
	if err := s.accessor.Truncate(); err != nil {
		werr := wrap(ErrIO, err)
		s.fail(werr)
		return werr
	}
	s.streamBlocks = 0
	s.nextReadOffset = 0
	s.nextBlockSize = 0
	s.nextItem = 0
	s.lastItem = 0
	s.cursor = 0
	s.seekState = seekBeginning
	s.bufRole = bufWriteOnly
	return nil
}

// Close flushes any buffered writes, drains the background worker, and
// closes the underlying file. Close is idempotent; calling it more than
// once is a no-op.
func (s *Stream[T]) Close() error {
	if !s.open {
		return nil
	}
	s.open = false

	var result *multierror.Error

	if s.broken == nil && s.bufRole == bufWriteOnly && s.nextItem > 0 {
		if err := s.flushBlock(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.pendingWrite != nil {
		if err := s.awaitPendingWrite(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.buf != nil {
		s.pool.Release(s.buf)
		s.buf = nil
	}

	s.worker.Stop()
	s.accountant.Refund(int64(bufferPoolCapacity) * int64(s.blockSize))

	clean := s.broken == nil && result.ErrorOrNil() == nil
	if err := s.accessor.Close(clean); err != nil {
		result = multierror.Append(result, err)
	}

	if s.tempFile {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// String implements fmt.Stringer, describing the stream for diagnostics in
// the terse style of the teacher's own debug helpers.
func (s *Stream[T]) String() string {
	role := "write"
	if s.bufRole == bufReadOnly {
		role = "read"
	}
	return fmt.Sprintf("tpie.Stream(%s, mode=%v, items=%d, offset=%d, role=%s)",
		filepath.Base(s.path), s.mode, s.Size(), s.cursor, role)
}

func (s *Stream[T]) fail(err error) {
	if s.broken == nil {
		s.broken = err
	}
}

// performSeek resolves a deferred seek: it flushes and drains any pending
// write, releases the current buffer, and then performs the I/O the
// requested seek needs, mirroring compressed_stream_base::perform_seek in
// the original implementation (tpie/compressed/stream.h).
func (s *Stream[T]) performSeek() error {
	if s.seekState == seekNone {
		return nil
	}
	if s.bufRole == bufWriteOnly && s.nextItem > 0 {
		if err := s.flushBlock(); err != nil {
			return err
		}
	}
	if s.pendingWrite != nil {
		if err := s.awaitPendingWrite(); err != nil {
			return err
		}
	}
	if s.buf != nil {
		s.pool.Release(s.buf)
		s.buf = nil
	}

	switch s.seekState {
	case seekBeginning:
		s.cursor = 0
		s.streamBlocks = 0
		s.nextReadOffset = 0
		s.nextBlockSize = 0
		s.nextItem = 0
		s.lastItem = 0
		if s.accessor.FileSize() > 0 {
			if err := s.readNextBlock(0); err != nil {
				return err
			}
			s.bufRole = bufReadOnly
		} else {
			s.obtainFreshWriteBuffer()
		}
	case seekEnd:
		s.cursor = s.accessor.ItemCount()
		if s.blockItems > 0 {
			s.streamBlocks = (s.accessor.ItemCount() + uint64(s.blockItems) - 1) / uint64(s.blockItems)
		}
		s.obtainFreshWriteBuffer()
	case seekPosition:
		s.nextReadOffset = s.pendingPosition.readOffset
		s.nextBlockSize = s.pendingPosition.blockSize
		itemIndex := int(s.pendingPosition.itemIndex)
		if err := s.readNextBlock(s.pendingPosition.blockSeq); err != nil {
			return err
		}
		if itemIndex > s.lastItem {
			return wrap(ErrInvalidFile, fmt.Errorf("position item index %d exceeds block item count %d", itemIndex, s.lastItem))
		}
		s.nextItem = itemIndex
		s.bufRole = bufReadOnly
	}

	s.seekState = seekNone
	return nil
}

// obtainFreshWriteBuffer claims the pool buffer for the next block number
// and positions the stream to fill it.
func (s *Stream[T]) obtainFreshWriteBuffer() {
	buf := s.pool.Get(s.streamBlocks)
	buf.SetSize(0)
	s.buf = buf
	s.bufSeq = s.streamBlocks
	s.streamBlocks++
	s.nextItem = 0
	s.bufRole = bufWriteOnly
}

// readNextBlock fetches the block at blockNumber via a synchronous Read
// request, mirroring compressed_stream_base::read_next_block, which also
// waits for its response before returning.
func (s *Stream[T]) readNextBlock(blockNumber uint64) error {
	if s.buf != nil {
		s.pool.Release(s.buf)
		s.buf = nil
	}

	buf := s.pool.Get(blockNumber)
	req := compressor.NewReadRequest(buf, s.nextReadOffset, s.nextBlockSize)
	s.worker.Submit(req)
	if err := req.Resp.Wait(); err != nil {
		s.pool.Release(buf)
		return wrap(ErrIO, err)
	}
	if req.Resp.EndOfStream() {
		s.pool.Release(buf)
		s.buf = nil
		s.nextItem = 0
		s.lastItem = 0
		return nil
	}

	if blockNumber >= s.streamBlocks {
		s.streamBlocks = blockNumber + 1
	}
	s.position = newPosition(s.nextReadOffset, s.nextBlockSize, blockNumber, 0)

	next, nextSize := req.Resp.NextRead()
	s.nextReadOffset = next
	s.nextBlockSize = nextSize

	s.buf = buf
	s.nextItem = 0
	s.lastItem = buf.Size() / s.itemSize
	s.bufRole = bufReadOnly
	return nil
}

// flushBlock submits the current write buffer for compression and claims a
// fresh buffer for the next block, draining the previous write's response
// first so that at most one write is ever in flight, mirroring
// compressed_stream_base::flush_block.
func (s *Stream[T]) flushBlock() error {
	full := s.buf
	full.SetSize(s.nextItem * s.itemSize)
	bufSeq := s.bufSeq
	itemCount := s.nextItem

	if s.pendingWrite != nil {
		if err := s.awaitPendingWrite(); err != nil {
			return err
		}
	}

	req := compressor.NewWriteRequest(full, itemCount, bufSeq)
	s.worker.Submit(req)
	s.pendingWrite = req
	s.pendingWriteBuf = full

	s.obtainFreshWriteBuffer()
	return nil
}

func (s *Stream[T]) awaitPendingWrite() error {
	err := s.pendingWrite.Resp.Wait()
	s.pool.Release(s.pendingWriteBuf)
	s.pendingWrite = nil
	s.pendingWriteBuf = nil
	if err != nil {
		return wrap(ErrIO, err)
	}
	return nil
}

func encodeItem[T any](item T, itemSize int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(itemSize)
	if err := binary.Write(&buf, binary.LittleEndian, item); err != nil {
		return nil, fmt.Errorf("tpie: encode item: %w", err)
	}
	if buf.Len() != itemSize {
		return nil, fmt.Errorf("tpie: encoded item is %d bytes, expected %d", buf.Len(), itemSize)
	}
	return buf.Bytes(), nil
}

func decodeItem[T any](data []byte) (T, error) {
	var item T
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &item); err != nil {
		return item, fmt.Errorf("tpie: decode item: %w", err)
	}
	return item, nil
}