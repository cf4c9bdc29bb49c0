// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package keyfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, content, 0o600))
	return p
}

func TestDigestEmptyIsIdentity(t *testing.T) {
	d, err := Digest(nil)
	require.NoError(t, err)
	require.Equal(t, [PoolSize]byte{}, d)

	mixed := Mix([]byte("my passphrase"), d)
	require.Equal(t, []byte("my passphrase"), mixed[:len("my passphrase")])
}

func TestDigestDeterministic(t *testing.T) {
	dir := t.TempDir()
	p := writeTemp(t, dir, "k1.bin", []byte("some key material"))

	d1, err := Digest([]Ref{{Path: p}})
	require.NoError(t, err)
	d2, err := Digest([]Ref{{Path: p}})
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}

func TestDigestDirectoryExpandsSortedChildren(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, "b.bin", []byte("bbb"))
	writeTemp(t, dir, "a.bin", []byte("aaa"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o700))

	dDir, err := Digest([]Ref{{Path: dir}})
	require.NoError(t, err)

	dManual, err := Digest([]Ref{{Path: filepath.Join(dir, "a.bin")}, {Path: filepath.Join(dir, "b.bin")}})
	require.NoError(t, err)

	require.Equal(t, dManual, dDir)
}

func TestDigestChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	p1 := writeTemp(t, dir, "k1.bin", []byte("content one"))
	p2 := writeTemp(t, dir, "k2.bin", []byte("content two"))

	d1, err := Digest([]Ref{{Path: p1}})
	require.NoError(t, err)
	d2, err := Digest([]Ref{{Path: p2}})
	require.NoError(t, err)
	require.NotEqual(t, d1, d2)
}

func TestMixPadsShortPassphraseToPoolSize(t *testing.T) {
	var digest [PoolSize]byte
	digest[0] = 0xFF

	mixed := Mix([]byte("ab"), digest)
	require.Len(t, mixed, PoolSize)
	require.Equal(t, byte('a')^0xFF, mixed[0])
}
