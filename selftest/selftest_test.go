// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package selftest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/tcvol/internal/tcerr"
)

func TestRunAllPasses(t *testing.T) {
	require.NoError(t, RunAll())
}

func TestRunAllDetailedCoversEveryCheck(t *testing.T) {
	results := RunAllDetailed()
	require.Len(t, results, 5)
	for _, r := range results {
		require.NoErrorf(t, r.Err, "check %q failed", r.Name)
	}
}

func TestBlockCipherVectorCatchesTamperedCiphertext(t *testing.T) {
	original := blockCipherVectors[0].publishedCiphertext
	defer func() { blockCipherVectors[0].publishedCiphertext = original }()

	tampered := make([]byte, len(original))
	copy(tampered, original)
	tampered[0] ^= 0xFF
	blockCipherVectors[0].publishedCiphertext = tampered

	err := checkBlockCiphers()
	require.Error(t, err)
}

func TestHashVectorCatchesTamperedDigest(t *testing.T) {
	original := hashVectors[0].publishedDigest
	defer func() { hashVectors[0].publishedDigest = original }()

	tampered := make([]byte, len(original))
	copy(tampered, original)
	tampered[0] ^= 0xFF
	hashVectors[0].publishedDigest = tampered

	err := checkHashes()
	require.Error(t, err)
}

// TestTamperedAESVectorYieldsSelfTestFailure exercises the published
// scenario: a malformed AES test vector must fail RunAll with
// SelfTestFailure("aes"), not a generic error.
func TestTamperedAESVectorYieldsSelfTestFailure(t *testing.T) {
	original := blockCipherVectors[0].publishedCiphertext
	defer func() { blockCipherVectors[0].publishedCiphertext = original }()

	tampered := make([]byte, len(original))
	copy(tampered, original)
	tampered[0] ^= 0xFF
	blockCipherVectors[0].publishedCiphertext = tampered

	err := RunAll()
	require.Error(t, err)
	var ce *tcerr.CryptoError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, tcerr.KindSelfTestFailure, ce.Kind)
	require.Equal(t, "aes", ce.Primitive)
}

// TestEnsureRunMemoizesResult documents that EnsureRun only runs the
// suite once per process: the mount-path gate described in spec §4.I
// trades re-checking every call for paying the KAT cost exactly once.
func TestEnsureRunMemoizesResult(t *testing.T) {
	err1 := EnsureRun()
	err2 := EnsureRun()
	require.NoError(t, err1)
	require.NoError(t, err2)
}
