// Copyright 2024 The tpie Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package blockfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// ErrInvalidFile is returned by Open when the header's magic, version, or
// item/block size do not match what the caller expects, or the previous
// close did not set the clean flag.
var ErrInvalidFile = errors.New("blockfile: invalid file")

// CacheHint is an advisory hint about the dominant access pattern a caller
// expects against an Accessor. It is recorded but, in the absence of a
// platform-specific fadvise binding, has no effect on this implementation;
// see the "Cache hint" item of SPEC_FULL.md §9.
type CacheHint int

const (
	// CacheHintSequential is the default: the caller mostly reads or
	// writes the stream from beginning to end.
	CacheHintSequential CacheHint = iota
	// CacheHintRandom signals that the caller expects to jump around
	// the file via position tokens more than it reads sequentially.
	CacheHintRandom
)

// Accessor is the byte-level, single-file collaborator described in
// SPEC_FULL.md §6: positional read, append-only write, truncate, and a
// header-backed item count. It owns exactly one *os.File and performs no
// compression or buffering of its own; that is the worker's and the
// buffer pool's job respectively.
type Accessor struct {
	file      *os.File
	path      string
	cacheHint CacheHint
	write     bool // opened read-write; false means the fd is O_RDONLY and the header must never be rewritten.

	itemSize        uint32
	blockSize       uint64
	maxUserDataSize uint64

	sizeMu sync.Mutex
	size   uint64 // item count; written by the worker goroutine, read by the foreground.
}

// Open opens or creates the stream file at path. itemSize and blockSize
// describe the caller's expected record layout; if the file already
// exists, its header is validated against them and ErrInvalidFile is
// returned on any mismatch, including a dirty (unclean) previous close.
// allowUnclean overrides the unclean-close check, per spec.md §3
// ("Lifecycle").
func Open(path string, write bool, itemSize uint32, blockSize uint64, maxUserDataSize uint64, cacheHint CacheHint, allowUnclean bool) (*Accessor, error) {
	flags := os.O_RDONLY
	if write {
		flags = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockfile: open %s: %w", path, err)
	}

	a := &Accessor{
		file:            f,
		path:            path,
		cacheHint:       cacheHint,
		write:           write,
		itemSize:        itemSize,
		blockSize:       blockSize,
		maxUserDataSize: maxUserDataSize,
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blockfile: stat %s: %w", path, err)
	}

	if fi.Size() == 0 {
		if !write {
			f.Close()
			return nil, fmt.Errorf("%w: %s: empty file opened read-only", ErrInvalidFile, path)
		}
		if err := a.writeHeader(Header{
			Magic:           magic(),
			Version:         CurrentVersion,
			ItemSize:        itemSize,
			BlockSize:       blockSize,
			MaxUserDataSize: maxUserDataSize,
			CleanClose:      false,
		}); err != nil {
			f.Close()
			return nil, err
		}
		a.size = 0
		return a, nil
	}

	h, err := a.readHeader()
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := validateHeader(h, itemSize, blockSize, allowUnclean); err != nil {
		f.Close()
		return nil, err
	}
	a.maxUserDataSize = h.MaxUserDataSize
	a.size = h.ItemCount

	if write {
		h.CleanClose = false
		if err := a.writeHeader(h); err != nil {
			f.Close()
			return nil, err
		}
	}
	return a, nil
}

func validateHeader(h Header, itemSize uint32, blockSize uint64, allowUnclean bool) error {
	if h.Magic != magic() {
		return fmt.Errorf("%w: bad magic", ErrInvalidFile)
	}
	if h.Version != CurrentVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidFile, h.Version)
	}
	if h.ItemSize != itemSize {
		return fmt.Errorf("%w: item size %d does not match expected %d", ErrInvalidFile, h.ItemSize, itemSize)
	}
	if h.BlockSize != blockSize {
		return fmt.Errorf("%w: block size %d does not match expected %d", ErrInvalidFile, h.BlockSize, blockSize)
	}
	if h.UserDataSize > h.MaxUserDataSize {
		return fmt.Errorf("%w: user data size exceeds max", ErrInvalidFile)
	}
	if !h.CleanClose && !allowUnclean {
		return fmt.Errorf("%w: previous close was not clean", ErrInvalidFile)
	}
	return nil
}

func (a *Accessor) readHeader() (Header, error) {
	buf := make([]byte, PlatformBlockSize)
	n, err := a.file.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return Header{}, fmt.Errorf("blockfile: read header: %w", err)
	}
	if n < encodedHeaderSize {
		return Header{}, fmt.Errorf("%w: header truncated", ErrInvalidFile)
	}
	return decodeHeader(buf)
}

func (a *Accessor) writeHeader(h Header) error {
	if _, err := a.file.WriteAt(h.encode(), 0); err != nil {
		return fmt.Errorf("blockfile: write header: %w", err)
	}
	return nil
}

// Path returns the path the accessor was opened against.
func (a *Accessor) Path() string { return a.path }

// CacheHint returns the advisory cache hint recorded at Open time.
func (a *Accessor) CacheHint() CacheHint { return a.cacheHint }

// Read performs a positional read of len(dst) bytes starting at the given
// offset into the block region (i.e. offset is relative to the end of the
// header). A short read (including zero bytes at end of file) is returned
// as (n, nil); callers interpret a short count on a length-prefix read as
// end-of-stream, per spec.md §4.1.
func (a *Accessor) Read(offset uint64, dst []byte) (int, error) {
	n, err := a.file.ReadAt(dst, int64(PlatformBlockSize+offset))
	if err == io.EOF {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("blockfile: read at %d: %w", offset, err)
	}
	return n, nil
}

// Append writes src to the current end of the block region and returns the
// byte offset (again relative to the end of the header) at which it was
// written.
func (a *Accessor) Append(src []byte) (uint64, error) {
	offset := a.fileBlockSize()
	n, err := a.file.WriteAt(src, int64(PlatformBlockSize+offset))
	if err != nil {
		return 0, fmt.Errorf("blockfile: append: %w", err)
	}
	if n != len(src) {
		return 0, fmt.Errorf("blockfile: short append: wrote %d of %d bytes", n, len(src))
	}
	return offset, nil
}

func (a *Accessor) fileBlockSize() uint64 {
	fi, err := a.file.Stat()
	if err != nil {
		return 0
	}
	sz := uint64(fi.Size())
	if sz < PlatformBlockSize {
		return 0
	}
	return sz - PlatformBlockSize
}

// FileSize returns the total size, in bytes, of the block region (i.e.
// excluding the header).
func (a *Accessor) FileSize() uint64 {
	return a.fileBlockSize()
}

// ItemCount returns the header's recorded item count. Safe to call
// concurrently with SetItemCount: the worker goroutine updates it while a
// write is in flight and the foreground reads it from Size().
func (a *Accessor) ItemCount() uint64 {
	a.sizeMu.Lock()
	defer a.sizeMu.Unlock()
	return a.size
}

// SetItemCount updates the in-memory item count; it is persisted to the
// header lazily, at Close (clean) time, mirroring the original's
// "the header is mutated only by the worker and the open/close path"
// discipline — callers that need it durable sooner should call
// FlushHeader.
func (a *Accessor) SetItemCount(n uint64) {
	a.sizeMu.Lock()
	a.size = n
	a.sizeMu.Unlock()
}

// FlushHeader rewrites the header with the current item count and the
// given clean flag.
func (a *Accessor) FlushHeader(clean bool) error {
	return a.writeHeader(Header{
		Magic:           magic(),
		Version:         CurrentVersion,
		ItemSize:        a.itemSize,
		BlockSize:       a.blockSize,
		MaxUserDataSize: a.maxUserDataSize,
		ItemCount:       a.ItemCount(),
		CleanClose:      clean,
	})
}

// Truncate drops all blocks, resetting the block region to zero bytes and
// the item count to zero. Only truncate(0) is supported, per spec.md's
// Non-goals (arbitrary random writes).
func (a *Accessor) Truncate() error {
	if err := a.file.Truncate(PlatformBlockSize); err != nil {
		return fmt.Errorf("blockfile: truncate: %w", err)
	}
	a.SetItemCount(0)
	return nil
}

// Close flushes a final header recording clean and closes the underlying
// file. A read-only Accessor's fd is O_RDONLY, so rewriting the header
// would fail with EBADF (and would be wrong regardless: a read-only
// Accessor never mutated the file, so it has no business stamping a new
// clean flag onto it); Close skips FlushHeader entirely in that case.
func (a *Accessor) Close(clean bool) error {
	if a.write {
		if err := a.FlushHeader(clean); err != nil {
			return err
		}
	}
	if err := a.file.Close(); err != nil {
		return fmt.Errorf("blockfile: close: %w", err)
	}
	return nil
}