// Copyright 2024 The tpie Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package tpie

import "github.com/daniel-perry/tpie/internal/blockfile"

// PlatformBlockSize is the unit a stream's block size is scaled from by
// its block factor (spec.md §3, "Capacity is chosen from a configurable
// block factor times a platform block size").
const PlatformBlockSize = blockfile.PlatformBlockSize

// CacheHint is an advisory hint about a stream's dominant access pattern.
// It has no effect on this implementation beyond being recorded and
// threaded through to the byte accessor — see the "Cache hint" item of
// SPEC_FULL.md §9.
type CacheHint = blockfile.CacheHint

const (
	CacheHintSequential = blockfile.CacheHintSequential
	CacheHintRandom     = blockfile.CacheHintRandom
)

// Accountant is the memory-manager collaborator named in spec.md §9
// ("Global memory manager singleton"): an injected accounting interface
// the subsystem charges and refunds as it allocates block buffers,
// without ever reaching into process-wide state itself.
type Accountant interface {
	Charge(bytes int64)
	Refund(bytes int64)
}

type noopAccountant struct{}

func (noopAccountant) Charge(int64) {}
func (noopAccountant) Refund(int64) {}

type openOpts struct {
	blockFactor  float64
	cacheHint    CacheHint
	allowUnclean bool
	accountant   Accountant
	verbose      bool
}

// Option configures Open.
type Option func(*openOpts)

// BlockFactor sets the stream's block size as a multiple of
// PlatformBlockSize. The default is 1.0, i.e. one platform block per
// compressed block.
func BlockFactor(f float64) Option {
	return func(o *openOpts) { o.blockFactor = f }
}

// WithCacheHint records an advisory cache hint for the stream's byte
// accessor.
func WithCacheHint(h CacheHint) Option {
	return func(o *openOpts) { o.cacheHint = h }
}

// AllowUnclean permits Open to succeed against a file whose header's
// clean-close flag was not set by the previous session, overriding the
// default "unclean detection" behavior of spec.md §3 and §8 property 6.
func AllowUnclean(allow bool) Option {
	return func(o *openOpts) { o.allowUnclean = allow }
}

// WithAccountant injects a memory-accounting collaborator; the default is
// a no-op.
func WithAccountant(a Accountant) Option {
	return func(o *openOpts) { o.accountant = a }
}

// Verbose enables trace logging on the stream's compression worker, in
// the idiom of cosnicolaou-pbzip2's BZVerbose option.
func Verbose(v bool) Option {
	return func(o *openOpts) { o.verbose = v }
}

func defaultOpenOpts() openOpts {
	return openOpts{
		blockFactor: 1.0,
		cacheHint:   CacheHintSequential,
		accountant:  noopAccountant{},
	}
}