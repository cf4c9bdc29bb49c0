// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package blockdev

import (
	"fmt"
	"os"
)

// deviceSize falls back to Stat on non-Linux platforms, where there is
// no BLKGETSIZE64 ioctl; raw block-device support is Linux-only, but
// the build needs to succeed everywhere tests run.
func deviceSize(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to get device size: %w", err)
	}
	return fi.Size(), nil
}

// SectorSizeOf has no portable answer outside Linux's BLKSSZGET ioctl;
// callers fall back to their own default sector size on this error.
func SectorSizeOf(f *os.File) (uint32, error) {
	return 0, fmt.Errorf("device sector size query not supported on this platform")
}
