// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package xtsmode

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/tcvol/primitives"
)

func TestCascadeRoundTripSingleCipher(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, MasterKeyMaterialSize)
	c, err := NewCascade([]primitives.Cipher{primitives.CipherAES}, key)
	require.NoError(t, err)

	plain := bytes.Repeat([]byte{0xAB}, SectorSize)
	cipherText := make([]byte, SectorSize)
	require.NoError(t, c.EncryptSector(cipherText, plain, 7))
	require.NotEqual(t, plain, cipherText)

	recovered := make([]byte, SectorSize)
	require.NoError(t, c.DecryptSector(recovered, cipherText, 7))
	require.Equal(t, plain, recovered)
}

func TestCascadeRoundTripThreeCiphers(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, MasterKeyMaterialSize)
	kinds := []primitives.Cipher{primitives.CipherAES, primitives.CipherSerpent, primitives.CipherTwofish}
	c, err := NewCascade(kinds, key)
	require.NoError(t, err)
	require.Equal(t, kinds, c.Kinds())

	plain := bytes.Repeat([]byte{0x99}, SectorSize)
	cipherText := make([]byte, SectorSize)
	require.NoError(t, c.EncryptSector(cipherText, plain, 123456))

	recovered := make([]byte, SectorSize)
	require.NoError(t, c.DecryptSector(recovered, cipherText, 123456))
	require.Equal(t, plain, recovered)
}

func TestCascadeSectorNumberAffectsCiphertext(t *testing.T) {
	key := bytes.Repeat([]byte{0x77}, MasterKeyMaterialSize)
	c, err := NewCascade([]primitives.Cipher{primitives.CipherAES}, key)
	require.NoError(t, err)

	plain := bytes.Repeat([]byte{0x01}, SectorSize)
	a := make([]byte, SectorSize)
	b := make([]byte, SectorSize)
	require.NoError(t, c.EncryptSector(a, plain, 0))
	require.NoError(t, c.EncryptSector(b, plain, 1))
	require.NotEqual(t, a, b)
}

func TestNewCascadeRejectsBadInputs(t *testing.T) {
	_, err := NewCascade(nil, make([]byte, MasterKeyMaterialSize))
	require.Error(t, err)

	_, err = NewCascade([]primitives.Cipher{primitives.CipherAES, primitives.CipherSerpent, primitives.CipherTwofish, primitives.CipherAES}, make([]byte, MasterKeyMaterialSize))
	require.Error(t, err)

	_, err = NewCascade([]primitives.Cipher{primitives.CipherAES}, make([]byte, 4))
	require.Error(t, err)
}
