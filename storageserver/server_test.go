// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package storageserver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientAccountingAdmitEnforcesMaxClients(t *testing.T) {
	acct := newClientAccounting()
	for i := 0; i < MaxClients; i++ {
		require.True(t, acct.admit(), "connection %d should be admitted", i)
	}
	require.False(t, acct.admit(), "connection beyond MaxClients should be refused")
}

func TestClientAccountingExitsAfterLastClientDisconnects(t *testing.T) {
	acct := newClientAccounting()
	require.True(t, acct.admit())
	require.True(t, acct.admit())
	require.False(t, acct.release(), "one of two clients disconnecting should not trigger exit")
	require.True(t, acct.release(), "the last of two clients disconnecting should trigger exit")
}

func TestClientAccountingRequestStopIsIdempotent(t *testing.T) {
	acct := newClientAccounting()
	require.False(t, acct.stopRequested())
	acct.requestStop()
	require.True(t, acct.stopRequested())
	// requestStop is idempotent and safe to call again.
	acct.requestStop()
	require.True(t, acct.stopRequested())
}

func TestCallbacksFromTranslatorWiresAllFourFunctions(t *testing.T) {
	tr, cleanup := newTestTranslator(t)
	defer cleanup()

	cb := CallbacksFromTranslator(tr)
	require.NotNil(t, cb.ReadSectors)
	require.NotNil(t, cb.WriteSectors)
	require.NotNil(t, cb.VolumeSize)
	require.NotNil(t, cb.SectorSize)
	require.Equal(t, tr.VolumeSizeBytes(), cb.VolumeSize())
	require.Equal(t, tr.SectorSizeBytes(), cb.SectorSize())
}
