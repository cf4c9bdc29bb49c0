// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package storageserver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/tcvol/blockdev"
	"github.com/jeremyhahn/tcvol/primitives"
	"github.com/jeremyhahn/tcvol/sectorio"
	"github.com/jeremyhahn/tcvol/xtsmode"
)

// newTestTranslator builds a real Translator over a throwaway
// file-backed container, the same wiring volume.Open produces, so
// storageserver tests exercise the front-ends against the actual
// sector I/O path rather than a hand-rolled stub.
func newTestTranslator(t *testing.T) (*sectorio.Translator, func()) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "container.tc")

	const volumeBytes = 4 * 1024 * 1024
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(volumeBytes))
	require.NoError(t, f.Close())

	backend, err := blockdev.OpenFile(path, false, 512)
	require.NoError(t, err)

	keyMaterial := make([]byte, xtsmode.MasterKeyMaterialSize)
	for i := range keyMaterial {
		keyMaterial[i] = byte(i * 5)
	}
	cascade, err := xtsmode.NewCascade([]primitives.Cipher{primitives.CipherAES}, keyMaterial)
	require.NoError(t, err)

	scope := sectorio.Scope{Start: 0, Len: volumeBytes}
	tr := sectorio.New(cascade, backend, scope, 512, false, nil)
	return tr, func() { _ = backend.Close() }
}
