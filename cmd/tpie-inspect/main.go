// Copyright 2024 The tpie Authors. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Command tpie-inspect reports the header fields and item count of a
// compressed stream file without reading through its data blocks.
package main

import (
	"context"
	"fmt"
	"os"

	"cloudeng.io/cmdutil/subcmd"
	"cloudeng.io/errors"

	"github.com/daniel-perry/tpie/internal/blockfile"
)

type inspectFlags struct {
	Unclean bool `subcmd:"allow-unclean,false,'inspect a file even if its previous close was not marked clean'"`
}

var cmdSet *subcmd.CommandSet

func init() {
	inspectCmd := subcmd.NewCommand("inspect",
		subcmd.MustRegisterFlagStruct(&inspectFlags{}, nil, nil),
		inspect, subcmd.AtLeastNArguments(1))
	inspectCmd.Document(`report the header fields and item count of one or more compressed stream files.`)

	cmdSet = subcmd.NewCommandSet(inspectCmd)
	cmdSet.Document(`inspect compressed stream files.`)
}

func main() {
	cmdSet.MustDispatch(context.Background())
}

func inspect(ctx context.Context, values interface{}, args []string) error {
	cl := values.(*inspectFlags)
	errs := errors.M{}
	for _, path := range args {
		if err := inspectOne(path, cl.Unclean); err != nil {
			errs.Append(fmt.Errorf("%s: %w", path, err))
		}
	}
	return errs.Err()
}

// inspectOne reads path's header directly via blockfile.ReadHeaderOnly,
// reporting whatever the header actually records rather than validating
// it against a caller-supplied record type or block size; only the magic
// and, unless allowUnclean is set, the clean-close flag are checked. This
// is a deliberately looser open path than Stream's, for diagnostic use
// only.
func inspectOne(path string, allowUnclean bool) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.Size() < blockfile.PlatformBlockSize {
		return fmt.Errorf("file is smaller than the header region (%d bytes)", blockfile.PlatformBlockSize)
	}

	h, err := blockfile.ReadHeaderOnly(path)
	if err != nil {
		return err
	}
	if !h.CleanClose && !allowUnclean {
		return fmt.Errorf("previous close was not marked clean (use --allow-unclean to inspect it anyway)")
	}

	fmt.Printf("path:              %s\n", path)
	fmt.Printf("version:           %d\n", h.Version)
	fmt.Printf("item size:         %d bytes\n", h.ItemSize)
	fmt.Printf("block size:        %d bytes\n", h.BlockSize)
	fmt.Printf("user data size:    %d / %d bytes\n", h.UserDataSize, h.MaxUserDataSize)
	fmt.Printf("item count:        %d\n", h.ItemCount)
	fmt.Printf("clean close:       %v\n", h.CleanClose)
	fmt.Printf("block region size: %d bytes\n", fi.Size()-blockfile.PlatformBlockSize)
	return nil
}
