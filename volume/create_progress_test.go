// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package volume

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/tcvol/internal/tcerr"
	"github.com/jeremyhahn/tcvol/primitives"
)

func TestCreateReportsProgressDuringRandomFill(t *testing.T) {
	path := tempContainer(t)
	progress := &Progress{}

	err := Create(CreateParams{
		Path:        path,
		TotalSize:   4 << 20,
		Credentials: Credentials{Passphrase: []byte("correct horse battery staple")},
		Cascade:     []primitives.Cipher{primitives.CipherAES},
		KDF:         primitives.KDFDescriptor{Kind: primitives.KDFArgon2id, Argon2: primitives.Argon2Default},
		SectorSize:  512,
		Progress:    progress,
	})
	require.NoError(t, err)
	require.Equal(t, progress.TotalBytes, progress.BytesDone.Load())
}

func TestCreateAbortsDuringRandomFill(t *testing.T) {
	path := tempContainer(t)
	progress := &Progress{}
	progress.Abort.Store(true)

	err := Create(CreateParams{
		Path:        path,
		TotalSize:   4 << 20,
		Credentials: Credentials{Passphrase: []byte("correct horse battery staple")},
		Cascade:     []primitives.Cipher{primitives.CipherAES},
		KDF:         primitives.KDFDescriptor{Kind: primitives.KDFArgon2id, Argon2: primitives.Argon2Default},
		SectorSize:  512,
		Progress:    progress,
	})
	require.Error(t, err)
	var verr *tcerr.VolumeError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, tcerr.KindUserAbort, verr.Kind)
}
