// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package primitives

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")
	pass := []byte("correct horse battery staple")

	for _, d := range AllKDFs() {
		d := d
		t.Run(d.Kind.String(), func(t *testing.T) {
			k1, err := DeriveKey(d, pass, salt, 64)
			require.NoError(t, err)
			require.Len(t, k1, 64)

			k2, err := DeriveKey(d, pass, salt, 64)
			require.NoError(t, err)
			require.Equal(t, k1, k2)

			k3, err := DeriveKey(d, []byte("wrong password"), salt, 64)
			require.NoError(t, err)
			require.NotEqual(t, k1, k3)
		})
	}
}

func TestDeriveKeyRejectsZeroArgonParams(t *testing.T) {
	_, err := DeriveKey(KDFDescriptor{Kind: KDFArgon2id}, []byte("x"), []byte("0123456789abcdef"), 32)
	require.Error(t, err)
}

func TestNewBlockRejectsShortKey(t *testing.T) {
	_, err := NewBlock(CipherAES, []byte("short"))
	require.Error(t, err)
}

func TestParseCipherChain(t *testing.T) {
	chain, err := ParseCipherChain([]string{"aes", "twofish", "serpent"})
	require.NoError(t, err)
	require.Equal(t, []Cipher{CipherAES, CipherTwofish, CipherSerpent}, chain)

	_, err = ParseCipherChain(nil)
	require.Error(t, err)

	_, err = ParseCipherChain([]string{"rot13"})
	require.Error(t, err)
}
