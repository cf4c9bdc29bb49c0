// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package sectorio

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/tcvol/blockdev"
	"github.com/jeremyhahn/tcvol/internal/tcerr"
	"github.com/jeremyhahn/tcvol/primitives"
	"github.com/jeremyhahn/tcvol/xtsmode"
)

func newTestTranslator(t *testing.T, size uint64, readOnly bool, guard *HiddenGuard) (*Translator, blockdev.Backend) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vol.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))
	backend, err := blockdev.OpenFile(path, readOnly, 512)
	require.NoError(t, err)

	key := bytes.Repeat([]byte{0x5A}, xtsmode.MasterKeyMaterialSize)
	cascade, err := xtsmode.NewCascade([]primitives.Cipher{primitives.CipherAES}, key)
	require.NoError(t, err)

	tr := New(cascade, backend, Scope{Start: 0, Len: size}, 512, readOnly, guard)
	return tr, backend
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	tr, backend := newTestTranslator(t, 1<<20, false, nil)
	defer backend.Close()

	data := bytes.Repeat([]byte{0x01}, 4096)
	require.NoError(t, tr.WriteSectors(context.Background(), 0, data))

	out, err := tr.ReadSectors(context.Background(), 0, 4096)
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestWriteRejectsMisalignedOffset(t *testing.T) {
	tr, backend := newTestTranslator(t, 1<<20, false, nil)
	defer backend.Close()

	err := tr.WriteSectors(context.Background(), 100, make([]byte, 512))
	require.Error(t, err)
	var verr *tcerr.VolumeError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, tcerr.KindAlignment, verr.Kind)
}

func TestWriteRejectsOutOfRange(t *testing.T) {
	tr, backend := newTestTranslator(t, 4096, false, nil)
	defer backend.Close()

	err := tr.WriteSectors(context.Background(), 4096, make([]byte, 512))
	require.Error(t, err)
	var verr *tcerr.VolumeError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, tcerr.KindRange, verr.Kind)
}

func TestWriteRejectsReadOnly(t *testing.T) {
	tr, backend := newTestTranslator(t, 4096, true, nil)
	defer backend.Close()

	err := tr.WriteSectors(context.Background(), 0, make([]byte, 512))
	require.Error(t, err)
	var verr *tcerr.VolumeError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, tcerr.KindReadOnly, verr.Kind)
}

func TestHiddenProtectionLatchesAndPreservesBytes(t *testing.T) {
	const total = 20 * 1024 * 1024
	const hiddenStart = 15 * 1024 * 1024
	const hiddenLen = 5 * 1024 * 1024
	guard := &HiddenGuard{Start: hiddenStart, Len: hiddenLen}
	tr, backend := newTestTranslator(t, total, false, guard)
	defer backend.Close()

	// Non-overlapping write at [14MiB, 15MiB) succeeds.
	block := bytes.Repeat([]byte{0x02}, 1024*1024)
	require.NoError(t, tr.WriteSectors(context.Background(), 14*1024*1024, block))

	before := make([]byte, hiddenLen)
	_, err := backend.ReadAt(before, hiddenStart)
	require.NoError(t, err)

	// Overlapping write at [15MiB, 16MiB) is refused and latches.
	err = tr.WriteSectors(context.Background(), hiddenStart, block)
	require.Error(t, err)
	var verr *tcerr.VolumeError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, tcerr.KindHiddenProtection, verr.Kind)
	require.True(t, tr.ProtectionTriggered())

	after := make([]byte, hiddenLen)
	_, err = backend.ReadAt(after, hiddenStart)
	require.NoError(t, err)
	require.Equal(t, before, after)

	// Subsequent writes anywhere are rejected, even non-overlapping ones.
	err = tr.WriteSectors(context.Background(), 0, make([]byte, 512))
	require.Error(t, err)
	require.ErrorAs(t, err, &verr)
	require.Equal(t, tcerr.KindHiddenProtection, verr.Kind)
}

func TestSectorNumberingStartsAtZeroForScope(t *testing.T) {
	const scopeStart = 131072
	path := filepath.Join(t.TempDir(), "vol.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, scopeStart+4096), 0o600))
	backend, err := blockdev.OpenFile(path, false, 512)
	require.NoError(t, err)
	defer backend.Close()

	key := bytes.Repeat([]byte{0x5A}, xtsmode.MasterKeyMaterialSize)
	cascade, err := xtsmode.NewCascade([]primitives.Cipher{primitives.CipherAES}, key)
	require.NoError(t, err)

	tr := New(cascade, backend, Scope{Start: scopeStart, Len: 4096}, 512, false, nil)

	data := bytes.Repeat([]byte{0x03}, 512)
	require.NoError(t, tr.WriteSectors(context.Background(), 0, data))

	raw := make([]byte, 512)
	_, err = backend.ReadAt(raw, scopeStart)
	require.NoError(t, err)

	// Sector 0 within the scope must decrypt under XTS sector number 0,
	// not under the absolute device sector number (256 at this offset).
	direct := make([]byte, 512)
	require.NoError(t, cascade.DecryptSector(direct, raw, 0))
	require.Equal(t, data, direct)
}
