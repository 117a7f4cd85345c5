// Copyright 2024 The tpie Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package codec wraps the single, fixed compression codec used by every
// compressed stream. Per spec.md's Non-goals ("user-supplied compression
// codecs"), callers never choose a codec; this package is the one place
// that knows which algorithm is in use.
package codec

import (
	"fmt"

	"github.com/minio/minlz"
)

// MaxCompressedLen returns an upper bound on the number of bytes needed to
// hold the compressed form of an uncompressed payload of n bytes. The
// compression worker sizes its scratch buffer from this, per spec.md §4.4.
func MaxCompressedLen(n int) int {
	return minlz.MaxEncodedLen(n)
}

// Compress compresses src into dst (which must have at least
// MaxCompressedLen(len(src)) bytes of capacity) and returns the slice of
// dst actually used. The uncompressed length is carried inside the
// returned payload by the codec itself, so callers do not need to store it
// separately; see Decompress. minlz.Encode's own error is only ever
// non-nil for a bad level or undersized dst, neither of which can happen
// here since the level is fixed and dst is always sized from
// MaxCompressedLen, but it is still propagated rather than ignored.
func Compress(dst, src []byte) ([]byte, error) {
	out, err := minlz.Encode(dst, src, minlz.LevelBalanced)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	return out, nil
}

// Decompress decompresses src into dst, returning the slice of dst
// actually filled. dst must be large enough to hold the decompressed
// payload; an error wrapping ErrCodec is returned if it is not, mirroring the
// original implementation's check that decompressed size never exceeds
// the destination buffer's capacity (spec.md §4.4, §7 "codec failure").
func Decompress(dst, src []byte) ([]byte, error) {
	n, err := minlz.DecodedLen(src)
	if err != nil {
		return nil, fmt.Errorf("%w: could not determine decoded length: %v", ErrCodec, err)
	}
	if n > len(dst) {
		return nil, fmt.Errorf("%w: decoded length %d exceeds buffer capacity %d", ErrCodec, n, len(dst))
	}
	out, err := minlz.Decode(dst[:0], src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	return out, nil
}

// DecodedLen returns the uncompressed size embedded in a compressed
// payload, without decompressing it, mirroring
// snappy::GetUncompressedLength in the original TPIE source
// (tpie/compressed/thread.cpp).
func DecodedLen(src []byte) (int, error) {
	n, err := minlz.DecodedLen(src)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	return n, nil
}