// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux && integration

package blockdev

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestDeviceBackendOverLoopDevice attaches a regular file as a loop
// device and drives DeviceBackend through it end to end, the one path
// that actually exercises BLKGETSIZE64/BLKSSZGET against a real
// block-special file rather than a regular file standing in for one.
// Needs CAP_SYS_ADMIN (root) and /dev/loop-control, so it's gated
// behind the integration build tag like the rest of this repo's
// device-backed suites.
func TestDeviceBackendOverLoopDevice(t *testing.T) {
	backing := filepath.Join(t.TempDir(), "loop-backed.img")
	require.NoError(t, os.WriteFile(backing, make([]byte, 8<<20), 0o600))

	loopPath, err := AttachLoopDevice(backing)
	require.NoError(t, err)
	defer DetachLoopDevice(loopPath)

	found, err := FindLoopDevice(backing)
	require.NoError(t, err)
	require.Equal(t, loopPath, found)

	b, err := OpenAuto(loopPath, false, 512)
	require.NoError(t, err)
	defer b.Close()

	size, err := b.Size()
	require.NoError(t, err)
	require.Equal(t, int64(8<<20), size)

	sector := make([]byte, b.SectorSize())
	for i := range sector {
		sector[i] = byte(i)
	}
	_, err = b.WriteAt(sector, int64(b.SectorSize()))
	require.NoError(t, err)

	out := make([]byte, len(sector))
	_, err = b.ReadAt(out, int64(b.SectorSize()))
	require.NoError(t, err)
	require.Equal(t, sector, out)
}

func TestFindLoopDeviceNotAttached(t *testing.T) {
	backing := filepath.Join(t.TempDir(), "unattached.img")
	require.NoError(t, os.WriteFile(backing, make([]byte, 1<<20), 0o600))

	_, err := FindLoopDevice(backing)
	require.Error(t, err)
}
