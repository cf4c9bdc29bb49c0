// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/tcvol/internal/tcerr"
)

func TestBackupHeadersThenRestoreFromExternalFileRecoversMount(t *testing.T) {
	path := tempContainer(t)
	pass := []byte("correct horse battery staple")
	createTestContainer(t, path, 10<<20, pass)

	var buf bytes.Buffer
	require.NoError(t, BackupHeaders(path, &buf))

	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	require.NoError(t, err)
	_, err = f.WriteAt(make([]byte, 512), PrimaryOuterOffset)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(context.Background(), OpenParams{Path: path, Outer: Credentials{Passphrase: pass}})
	require.Error(t, err)

	require.NoError(t, RestoreHeaders(path, bytes.NewReader(buf.Bytes()), false))

	mv, err := Open(context.Background(), OpenParams{Path: path, Outer: Credentials{Passphrase: pass}})
	require.NoError(t, err)
	defer mv.Close()
}

func TestRestoreHeadersFromInternalBackupRecoversMount(t *testing.T) {
	path := tempContainer(t)
	pass := []byte("correct horse battery staple")
	createTestContainer(t, path, 10<<20, pass)

	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	require.NoError(t, err)
	_, err = f.WriteAt(make([]byte, 512), PrimaryOuterOffset)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, RestoreHeaders(path, nil, true))

	mv, err := Open(context.Background(), OpenParams{Path: path, Outer: Credentials{Passphrase: pass}})
	require.NoError(t, err)
	defer mv.Close()
}

func TestRestoreHeadersRejectsFileMissingBackupMagic(t *testing.T) {
	path := tempContainer(t)
	createTestContainer(t, path, 10<<20, []byte("correct horse battery staple"))

	err := RestoreHeaders(path, bytes.NewReader([]byte("not a backup file at all")), false)
	require.Error(t, err)
	var verr *tcerr.VolumeError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, tcerr.KindBadMagic, verr.Kind)
}
