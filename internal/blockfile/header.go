// Copyright 2024 The tpie Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package blockfile implements the on-disk byte accessor for a compressed
// stream file: the fixed-size header region and positional read/append/
// truncate access to the block region that follows it.
package blockfile

import (
	"encoding/binary"
	"fmt"
	"os"
)

// PlatformBlockSize is the size, in bytes, of the aligned header region at
// the start of every stream file. It doubles as the unit block_size is
// scaled from via a stream's block factor.
const PlatformBlockSize = 4096

// CurrentVersion is the on-disk format version written by this package.
const CurrentVersion uint32 = 1

func magic() uint64 {
	var b [8]byte
	copy(b[:], "TPIEZCMP")
	return binary.LittleEndian.Uint64(b[:])
}

// Header is the decoded form of the fixed-offset fields stored in the first
// PlatformBlockSize bytes of a stream file.
type Header struct {
	Magic            uint64
	Version          uint32
	ItemSize         uint32
	BlockSize        uint64
	UserDataSize     uint64
	MaxUserDataSize  uint64
	ItemCount        uint64
	CleanClose       bool
}

const (
	offMagic           = 0
	offVersion         = 8
	offItemSize        = 12
	offBlockSize       = 16
	offUserDataSize    = 24
	offMaxUserDataSize = 32
	offItemCount       = 40
	offCleanClose      = 48
	encodedHeaderSize  = 49
)

// encode writes the header fields into the first encodedHeaderSize bytes of
// a PlatformBlockSize-sized buffer; the remainder is left zeroed.
func (h Header) encode() []byte {
	buf := make([]byte, PlatformBlockSize)
	binary.LittleEndian.PutUint64(buf[offMagic:], h.Magic)
	binary.LittleEndian.PutUint32(buf[offVersion:], h.Version)
	binary.LittleEndian.PutUint32(buf[offItemSize:], h.ItemSize)
	binary.LittleEndian.PutUint64(buf[offBlockSize:], h.BlockSize)
	binary.LittleEndian.PutUint64(buf[offUserDataSize:], h.UserDataSize)
	binary.LittleEndian.PutUint64(buf[offMaxUserDataSize:], h.MaxUserDataSize)
	binary.LittleEndian.PutUint64(buf[offItemCount:], h.ItemCount)
	if h.CleanClose {
		buf[offCleanClose] = 1
	}
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < encodedHeaderSize {
		return Header{}, fmt.Errorf("blockfile: short header read: %d bytes", len(buf))
	}
	h := Header{
		Magic:           binary.LittleEndian.Uint64(buf[offMagic:]),
		Version:         binary.LittleEndian.Uint32(buf[offVersion:]),
		ItemSize:        binary.LittleEndian.Uint32(buf[offItemSize:]),
		BlockSize:       binary.LittleEndian.Uint64(buf[offBlockSize:]),
		UserDataSize:    binary.LittleEndian.Uint64(buf[offUserDataSize:]),
		MaxUserDataSize: binary.LittleEndian.Uint64(buf[offMaxUserDataSize:]),
		ItemCount:       binary.LittleEndian.Uint64(buf[offItemCount:]),
		CleanClose:      buf[offCleanClose] == 1,
	}
	return h, nil
}

// ReadHeaderOnly reads and decodes the header of the stream file at path
// without opening it for positional block I/O, for diagnostic tools (e.g.
// cmd/tpie-inspect) that want to report header fields without committing
// to a particular item type or access mode.
func ReadHeaderOnly(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, fmt.Errorf("blockfile: open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, PlatformBlockSize)
	n, err := f.ReadAt(buf, 0)
	if err != nil && n < encodedHeaderSize {
		return Header{}, fmt.Errorf("blockfile: read header: %w", err)
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return Header{}, err
	}
	if h.Magic != magic() {
		return Header{}, fmt.Errorf("%w: bad magic", ErrInvalidFile)
	}
	return h, nil
}