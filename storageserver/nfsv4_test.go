// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package storageserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/tcvol/internal/wire"
)

func TestGETFHWithoutPUTFHFirstFails(t *testing.T) {
	tr, cleanup := newTestTranslator(t)
	defer cleanup()
	session := newNFS4Session(CallbacksFromTranslator(tr))

	d := wire.NewDecoder(nil)
	e := wire.NewEncoder()
	status := session.runOp(context.Background(), opGETFH, d, e)
	require.EqualValues(t, nfs4ErrBadHandle, status)
}

func TestPutRootFHLookupVolumeGetFH(t *testing.T) {
	tr, cleanup := newTestTranslator(t)
	defer cleanup()
	session := newNFS4Session(CallbacksFromTranslator(tr))
	ctx := context.Background()

	e := wire.NewEncoder()
	require.EqualValues(t, nfs4OK, session.runOp(ctx, opPUTROOTFH, wire.NewDecoder(nil), e))

	lookupArgs := wire.NewEncoder().String("volume")
	require.EqualValues(t, nfs4OK, session.runOp(ctx, opLOOKUP, wire.NewDecoder(lookupArgs.Bytes()), wire.NewEncoder()))

	getfhEnc := wire.NewEncoder()
	require.EqualValues(t, nfs4OK, session.runOp(ctx, opGETFH, wire.NewDecoder(nil), getfhEnc))

	d := wire.NewDecoder(getfhEnc.Bytes())
	_, err := d.Uint32() // echoed opcode
	require.NoError(t, err)
	_, err = d.Uint32() // status
	require.NoError(t, err)
	fh, err := d.Opaque()
	require.NoError(t, err)
	require.Equal(t, volumeFH, fh)
}

func TestLookupUnknownNameFailsWithNoEnt(t *testing.T) {
	tr, cleanup := newTestTranslator(t)
	defer cleanup()
	session := newNFS4Session(CallbacksFromTranslator(tr))
	ctx := context.Background()
	session.cfh = rootFH

	args := wire.NewEncoder().String("nonexistent")
	status := session.runOp(ctx, opLOOKUP, wire.NewDecoder(args.Bytes()), wire.NewEncoder())
	require.EqualValues(t, nfs4ErrNoEnt, status)
}

func TestReadWriteRoundTripThroughVolumeFilehandle(t *testing.T) {
	tr, cleanup := newTestTranslator(t)
	defer cleanup()
	session := newNFS4Session(CallbacksFromTranslator(tr))
	session.cfh = volumeFH
	ctx := context.Background()

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}

	writeArgs := wire.NewEncoder()
	encodeStateid(writeArgs, stateid{seqid: 1})
	writeArgs.Uint64(0) // offset
	writeArgs.Uint32(1) // stable: FILE_SYNC4
	writeArgs.Opaque(payload)
	writeResp := wire.NewEncoder()
	status := session.runOp(ctx, opWRITE, wire.NewDecoder(writeArgs.Bytes()), writeResp)
	require.EqualValues(t, nfs4OK, status)

	readArgs := wire.NewEncoder()
	encodeStateid(readArgs, stateid{seqid: 1})
	readArgs.Uint64(0)   // offset
	readArgs.Uint32(512) // count
	readResp := wire.NewEncoder()
	status = session.runOp(ctx, opREAD, wire.NewDecoder(readArgs.Bytes()), readResp)
	require.EqualValues(t, nfs4OK, status)

	d := wire.NewDecoder(readResp.Bytes())
	_, _ = d.Uint32() // opcode
	_, _ = d.Uint32() // status
	_, err := d.Uint32()
	require.NoError(t, err) // eof
	data, err := d.Opaque()
	require.NoError(t, err)
	require.Equal(t, payload, data)
}

func TestReadOnVolumeFHWithMisalignedOffsetTranslatesToInval(t *testing.T) {
	tr, cleanup := newTestTranslator(t)
	defer cleanup()
	session := newNFS4Session(CallbacksFromTranslator(tr))
	session.cfh = volumeFH
	ctx := context.Background()

	readArgs := wire.NewEncoder()
	encodeStateid(readArgs, stateid{})
	readArgs.Uint64(3) // misaligned offset
	readArgs.Uint32(512)
	status := session.runOp(ctx, opREAD, wire.NewDecoder(readArgs.Bytes()), wire.NewEncoder())
	require.EqualValues(t, nfs4ErrInval, status)
}

func TestDispatchCompoundShortCircuitsOnFirstFailure(t *testing.T) {
	tr, cleanup := newTestTranslator(t)
	defer cleanup()
	session := newNFS4Session(CallbacksFromTranslator(tr))
	ctx := context.Background()

	body := wire.NewEncoder()
	body.Uint32(opPUTROOTFH)
	body.Uint32(opLOOKUP)
	body.String("nonexistent")
	body.Uint32(opGETFH) // never reached

	status, reply := session.dispatchCompound(ctx, wire.NewDecoder(body.Bytes()), 3)
	require.EqualValues(t, nfs4ErrNoEnt, status)

	d := wire.NewDecoder(reply)
	overallStatus, err := d.Uint32()
	require.NoError(t, err)
	require.EqualValues(t, nfs4ErrNoEnt, overallStatus)
	_, err = d.String() // empty tag
	require.NoError(t, err)
	numResults, err := d.Uint32()
	require.NoError(t, err)
	require.EqualValues(t, 2, numResults, "only PUTROOTFH and the failing LOOKUP should be reflected")
}
