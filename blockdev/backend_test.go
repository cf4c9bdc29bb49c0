// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package blockdev

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileBackendReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0o600))

	b, err := OpenFile(path, false, 512)
	require.NoError(t, err)
	defer b.Close()

	data := []byte("hello sector")
	n, err := b.WriteAt(data, 512)
	require.NoError(t, err)
	require.Equal(t, len(data), n)

	out := make([]byte, len(data))
	_, err = b.ReadAt(out, 512)
	require.NoError(t, err)
	require.Equal(t, data, out)

	size, err := b.Size()
	require.NoError(t, err)
	require.Equal(t, int64(4096), size)
}

func TestFileBackendCloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "container.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 512), 0o600))
	b, err := OpenFile(path, false, 512)
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}

func TestDeviceBackendAlignedFastPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 8192), 0o600))

	b, err := OpenDevice(path, false, 512)
	require.NoError(t, err)
	defer b.Close()

	sector := make([]byte, 512)
	for i := range sector {
		sector[i] = byte(i)
	}
	_, err = b.WriteAt(sector, 1024)
	require.NoError(t, err)

	out := make([]byte, 512)
	_, err = b.ReadAt(out, 1024)
	require.NoError(t, err)
	require.Equal(t, sector, out)
}

func TestDeviceBackendUnalignedReadModifyWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 4096), 0o600))

	b, err := OpenDevice(path, false, 512)
	require.NoError(t, err)
	defer b.Close()

	// Unaligned write: offset 100, length 33, well inside sector 0.
	payload := []byte("unaligned-write-inside-one-sector")
	_, err = b.WriteAt(payload, 100)
	require.NoError(t, err)

	out := make([]byte, len(payload))
	_, err = b.ReadAt(out, 100)
	require.NoError(t, err)
	require.Equal(t, payload, out)

	// The rest of sector 0 must be untouched (still zero).
	rest := make([]byte, 100)
	_, err = b.ReadAt(rest, 0)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 100), rest)
}
