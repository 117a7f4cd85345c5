// Copyright 2024 The tpie Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package codec

import "errors"

// ErrCodec wraps any failure from the underlying compression codec:
// corrupt block prefixes, a decompressed size that doesn't fit the
// destination buffer, or an internal decode error.
var ErrCodec = errors.New("codec: failure")