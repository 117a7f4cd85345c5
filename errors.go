// Copyright 2024 The tpie Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package tpie

import "fmt"

// Kind is one of the error kinds distinguished in spec.md §7. Each is a
// plain comparable string value, in the idiom of dargueta-disko's
// errors/errno.go sentinel errors, so callers can match against it with
// errors.Is without needing to know about wrapping.
type Kind string

// Error implements the error interface directly on Kind, so a bare Kind
// value (e.g. ErrEndOfStream) is itself a valid, comparable error.
func (k Kind) Error() string { return string(k) }

// The ten error kinds of spec.md §7. The spec's "read only / write only
// / non-appending write" bucket is split into three distinct sentinels,
// since Go's errors.Is works best against one sentinel per distinguishable
// cause; this refines the taxonomy without removing any of it (see
// SPEC_FULL.md §8).
const (
	ErrNotOpen           Kind = "tpie: stream is not open"
	ErrReadOnly          Kind = "tpie: stream was opened read-only"
	ErrWriteOnly         Kind = "tpie: stream was opened write-only"
	ErrNonAppendingWrite Kind = "tpie: non-appending write attempted"
	ErrEndOfStream       Kind = "tpie: end of stream"
	ErrUnsupportedSeek   Kind = "tpie: unsupported seek"
	ErrInvalidFile       Kind = "tpie: invalid file"
	ErrTruncatedFile     Kind = "tpie: truncated file"
	ErrCodecFailure      Kind = "tpie: codec failure"
	ErrIO                Kind = "tpie: io failure"
)

// wrappedError pairs a Kind with the underlying cause that produced it, so
// callers can both match on the Kind via errors.Is and recover the
// original error via errors.Unwrap, mirroring the WrapError/Unwrap pair in
// dargueta-disko's errors/errors.go.
type wrappedError struct {
	kind  Kind
	cause error
}

func (e *wrappedError) Error() string {
	if e.cause == nil {
		return string(e.kind)
	}
	return fmt.Sprintf("%s: %v", e.kind, e.cause)
}

func (e *wrappedError) Unwrap() error { return e.cause }

func (e *wrappedError) Is(target error) bool {
	if k, ok := target.(Kind); ok {
		return e.kind == k
	}
	return false
}

// wrap returns an error reporting kind, with cause (which may be nil)
// available through errors.Unwrap.
func wrap(kind Kind, cause error) error {
	if cause == nil {
		return kind
	}
	return &wrappedError{kind: kind, cause: cause}
}