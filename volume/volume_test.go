// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/tcvol/header"
	"github.com/jeremyhahn/tcvol/internal/tcerr"
	"github.com/jeremyhahn/tcvol/primitives"
	"github.com/jeremyhahn/tcvol/sectorio"
)

func tempContainer(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "container.tc")
}

func createTestContainer(t *testing.T, path string, size uint64, pass []byte) {
	t.Helper()
	err := Create(CreateParams{
		Path:        path,
		TotalSize:   size,
		Credentials: Credentials{Passphrase: pass},
		Cascade:     []primitives.Cipher{primitives.CipherAES},
		KDF:         primitives.KDFDescriptor{Kind: primitives.KDFArgon2id, Argon2: primitives.Argon2Default},
		QuickFormat: true,
		SectorSize:  512,
	})
	require.NoError(t, err)
}

func TestCreateAndOpenRoundTrip(t *testing.T) {
	path := tempContainer(t)
	createTestContainer(t, path, 10<<20, []byte("correct horse battery staple"))

	mv, err := Open(context.Background(), OpenParams{
		Path:  path,
		Outer: Credentials{Passphrase: []byte("correct horse battery staple")},
	})
	require.NoError(t, err)
	defer mv.Close()

	require.Equal(t, uint64(10<<20-HeaderAreaSize), mv.Translator.VolumeSizeBytes())

	plaintext := make([]byte, 4096)
	require.NoError(t, mv.Translator.WriteSectors(context.Background(), 0, plaintext))

	read, err := mv.Translator.ReadSectors(context.Background(), 0, 4096)
	require.NoError(t, err)
	require.Equal(t, plaintext, read)
}

func TestOpenWrongPassphraseFails(t *testing.T) {
	path := tempContainer(t)
	createTestContainer(t, path, 10<<20, []byte("correct horse battery staple"))

	_, err := Open(context.Background(), OpenParams{
		Path:  path,
		Outer: Credentials{Passphrase: []byte("wrong")},
	})
	require.Error(t, err)
	var verr *tcerr.VolumeError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, tcerr.KindWrongCredentials, verr.Kind)
}

func TestOpenRejectsCorruptedPrimaryHeaderButBackupSucceeds(t *testing.T) {
	path := tempContainer(t)
	createTestContainer(t, path, 10<<20, []byte("correct horse battery staple"))

	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	require.NoError(t, err)
	var b [1]byte
	_, err = f.ReadAt(b[:], 130)
	require.NoError(t, err)
	b[0] ^= 0xFF
	_, err = f.WriteAt(b[:], 130)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(context.Background(), OpenParams{
		Path:  path,
		Outer: Credentials{Passphrase: []byte("correct horse battery staple")},
	})
	require.Error(t, err)

	mv, err := Open(context.Background(), OpenParams{
		Path:             path,
		Outer:            Credentials{Passphrase: []byte("correct horse battery staple")},
		UseBackupHeaders: true,
	})
	require.NoError(t, err)
	mv.Close()
}

func TestHiddenVolumeCreationAndProtection(t *testing.T) {
	path := tempContainer(t)
	const totalSize = 20 << 20
	const hiddenLen = 5 << 20

	createTestContainer(t, path, totalSize, []byte("outer"))

	outerScope := sectorio.Scope{Start: HeaderAreaSize, Len: totalSize - HeaderAreaSize}
	err := Create(CreateParams{
		Path:        path,
		Hidden:      true,
		OuterScope:  outerScope,
		HiddenSize:  hiddenLen,
		Credentials: Credentials{Passphrase: []byte("hidden")},
		Cascade:     []primitives.Cipher{primitives.CipherAES},
		KDF:         primitives.KDFDescriptor{Kind: primitives.KDFArgon2id, Argon2: primitives.Argon2Default},
		QuickFormat: true,
		SectorSize:  512,
	})
	require.NoError(t, err)

	mv, err := Open(context.Background(), OpenParams{
		Path:          path,
		ProtectHidden: true,
		Outer:         Credentials{Passphrase: []byte("outer")},
		Hidden:        Credentials{Passphrase: []byte("hidden")},
	})
	require.NoError(t, err)
	defer mv.Close()

	outerDataLen := uint64(totalSize - HeaderAreaSize)
	hiddenStart := outerDataLen - hiddenLen

	nonOverlap := make([]byte, 4096)
	require.NoError(t, mv.Translator.WriteSectors(context.Background(), hiddenStart-8192, nonOverlap))

	overlap := make([]byte, 4096)
	for i := range overlap {
		overlap[i] = 0xAB
	}
	err = mv.Translator.WriteSectors(context.Background(), hiddenStart, overlap)
	require.Error(t, err)
	var verr *tcerr.VolumeError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, tcerr.KindHiddenProtection, verr.Kind)
	require.True(t, mv.Translator.ProtectionTriggered())
}

func TestChangePasswordThenReopen(t *testing.T) {
	path := tempContainer(t)
	createTestContainer(t, path, 10<<20, []byte("old-pass"))

	err := ChangePassword(context.Background(), ChangePasswordParams{
		Path:   path,
		Target: header.TargetOuter,
		Old:    Credentials{Passphrase: []byte("old-pass")},
		New:    Credentials{Passphrase: []byte("new-pass")},
		NewKDF: primitives.KDFDescriptor{Kind: primitives.KDFPBKDF2SHA512},
	})
	require.NoError(t, err)

	_, err = Open(context.Background(), OpenParams{
		Path:  path,
		Outer: Credentials{Passphrase: []byte("old-pass")},
	})
	require.Error(t, err)

	mv, err := Open(context.Background(), OpenParams{
		Path:  path,
		Outer: Credentials{Passphrase: []byte("new-pass")},
	})
	require.NoError(t, err)
	mv.Close()
}

func TestWipeHeadersDestroysMountability(t *testing.T) {
	path := tempContainer(t)
	createTestContainer(t, path, 10<<20, []byte("correct horse battery staple"))

	require.NoError(t, WipeHeaders(path))

	_, err := Open(context.Background(), OpenParams{
		Path:  path,
		Outer: Credentials{Passphrase: []byte("correct horse battery staple")},
	})
	require.Error(t, err)
}

func TestVolumeInfoReportsCounters(t *testing.T) {
	path := tempContainer(t)
	createTestContainer(t, path, 10<<20, []byte("correct horse battery staple"))

	mv, err := Open(context.Background(), OpenParams{
		Path:  path,
		Outer: Credentials{Passphrase: []byte("correct horse battery staple")},
	})
	require.NoError(t, err)
	defer mv.Close()

	_, err = mv.Translator.ReadSectors(context.Background(), 0, 512)
	require.NoError(t, err)

	info := VolumeInfo(mv)
	require.False(t, info.Hidden)
	require.False(t, info.ReadOnly)
	require.Equal(t, uint64(512), info.BytesRead)
}
