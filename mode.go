// Copyright 2024 The tpie Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package tpie

// Mode selects whether a stream may be read, written, or both, mirroring
// the original implementation's access_read/access_write/access_read_write
// (tpie/compressed/stream.h, m_canRead/m_canWrite).
type Mode int

const (
	// ModeRead opens a stream for reading only; Write fails with
	// ErrReadOnly.
	ModeRead Mode = iota
	// ModeWrite opens a stream for writing only; Read fails with
	// ErrWriteOnly.
	ModeWrite
	// ModeReadWrite opens a stream for both; a stream may not oscillate
	// between reading and writing within a single block (spec.md §4.5).
	ModeReadWrite
)

func (m Mode) canRead() bool  { return m == ModeRead || m == ModeReadWrite }
func (m Mode) canWrite() bool { return m == ModeWrite || m == ModeReadWrite }

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeReadWrite:
		return "read-write"
	default:
		return "unknown"
	}
}