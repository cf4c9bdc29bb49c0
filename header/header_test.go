// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package header

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/tcvol/internal/tcerr"
)

func sampleHeader() Plaintext {
	p := Plaintext{
		Target:              TargetOuter,
		Version:             0x0005,
		MinProgramVersion:   0x0005,
		CreationTimeMicros:  1700000000000000,
		HeaderTimeMicros:    1700000000000000,
		TotalVolumeSize:     10 * 1024 * 1024,
		MasterKeyScopeStart: 131072,
		MasterKeyScopeLen:   10*1024*1024 - 131072,
		SectorSize:          512,
	}
	for i := range p.MasterKeyMaterial {
		p.MasterKeyMaterial[i] = byte(i)
	}
	return p
}

func TestSerializeParseRoundTrip(t *testing.T) {
	p := sampleHeader()
	wire := Serialize(p)

	parsed, err := Parse(wire, TargetOuter)
	require.NoError(t, err)
	require.Equal(t, p, parsed)
}

func TestParseRejectsBadMagic(t *testing.T) {
	p := sampleHeader()
	wire := Serialize(p)

	_, err := Parse(wire, TargetHidden)
	require.Error(t, err)
	var herr *tcerr.HeaderError
	require.ErrorAs(t, err, &herr)
	require.Equal(t, tcerr.KindBadMagic, herr.Kind)
}

func TestParseRejectsFlippedCRCByte(t *testing.T) {
	p := sampleHeader()
	wire := Serialize(p)
	wire[130] ^= 0xFF // inside the bytes 0..131 CRC-covered region

	_, err := Parse(wire, TargetOuter)
	require.Error(t, err)
	var herr *tcerr.HeaderError
	require.ErrorAs(t, err, &herr)
	require.Equal(t, tcerr.KindBadCRC, herr.Kind)
}

func TestParseRejectsCorruptedMasterKeyMaterial(t *testing.T) {
	p := sampleHeader()
	wire := Serialize(p)
	wire[200] ^= 0x01 // inside the master-key-material CRC-covered region

	_, err := Parse(wire, TargetOuter)
	require.Error(t, err)
	var herr *tcerr.HeaderError
	require.ErrorAs(t, err, &herr)
	require.Equal(t, tcerr.KindBadCRC, herr.Kind)
}

func TestSerializeZeroesReservedRegions(t *testing.T) {
	p := sampleHeader()
	wire := Serialize(p)

	for _, b := range wire[12:16] {
		require.Zero(t, b)
	}
	for _, b := range wire[72:132] {
		require.Zero(t, b)
	}
	for _, b := range wire[392:512] {
		require.Zero(t, b)
	}
}

func TestEncryptedPortionRoundTrip(t *testing.T) {
	p := sampleHeader()
	wire := Serialize(p)
	enc := EncryptedPortion(wire)
	require.Len(t, enc, EncryptedSize)

	padded := PadToFull(enc)
	parsed, err := Parse(padded, TargetOuter)
	require.NoError(t, err)
	require.Equal(t, p, parsed)
}

func TestParseIgnoresReservedTail(t *testing.T) {
	p := sampleHeader()
	wire := Serialize(p)
	wire[500] = 0xAA // bytes 392..511 are ignored on read

	parsed, err := Parse(wire, TargetOuter)
	require.NoError(t, err)
	require.Equal(t, p, parsed)
}
