// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package storageserver

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/jeremyhahn/tcvol/internal/tcerr"
)

// SCSI opcodes this target's command dispatcher handles (RFC 7143's
// referenced SBC-3/SPC-4 subset). Everything else yields CHECK
// CONDITION / ILLEGAL_REQUEST / INVALID_CDB.
const (
	scsiTestUnitReady           = 0x00
	scsiRequestSense            = 0x03
	scsiInquiry                 = 0x12
	scsiModeSense6              = 0x1A
	scsiModeSense10             = 0x5A
	scsiPreventAllowMediumRem   = 0x1E
	scsiReadCapacity10          = 0x25
	scsiRead10                  = 0x28
	scsiWrite10                 = 0x2A
	scsiSyncCache10             = 0x35
	scsiRead16                  = 0x88
	scsiWrite16                 = 0x8A
	scsiServiceActionIn16       = 0x9E // carries READ_CAPACITY_16 via service action 0x10
	serviceActionReadCapacity16 = 0x10
	scsiReportLUNs              = 0xA0
)

// SCSI status codes.
const (
	scsiStatusGood           = 0x00
	scsiStatusCheckCondition = 0x02
)

// Sense key / ASC values this target reports. An unsupported or
// malformed CDB always reports ILLEGAL_REQUEST/INVALID_CDB.
const (
	senseKeyIllegalRequest = 0x05
	senseKeyMediumError    = 0x03
	ascInvalidCDB          = 0x20
	ascLBAOutOfRange       = 0x21
)

// cdbResult is what a CDB handler produces: a SCSI status, optional
// sense data (only meaningful when status is CHECK CONDITION), and an
// optional data-in payload the caller sends back to the initiator.
type cdbResult struct {
	status   byte
	senseKey byte
	asc      byte
	dataIn   []byte
}

func illegalRequest() cdbResult {
	return cdbResult{status: scsiStatusCheckCondition, senseKey: senseKeyIllegalRequest, asc: ascInvalidCDB}
}

func good(dataIn []byte) cdbResult {
	return cdbResult{status: scsiStatusGood, dataIn: dataIn}
}

// dispatchCDB executes one CDB against cb. dataOut carries a WRITE
// command's payload, already fully reassembled from one or more
// Data-Out PDUs by the caller.
func dispatchCDB(ctx context.Context, cb Callbacks, cdb []byte, dataOut []byte) cdbResult {
	if len(cdb) == 0 {
		return illegalRequest()
	}
	switch cdb[0] {
	case scsiTestUnitReady:
		return good(nil)
	case scsiRequestSense:
		return good(buildFixedSenseData(0, 0))
	case scsiInquiry:
		return good(buildInquiryResponse())
	case scsiModeSense6:
		return good(buildModeSense6Response())
	case scsiModeSense10:
		return good(buildModeSense10Response())
	case scsiPreventAllowMediumRem:
		return good(nil)
	case scsiReadCapacity10:
		return handleReadCapacity10(cb)
	case scsiServiceActionIn16:
		if len(cdb) < 2 || cdb[1]&0x1f != serviceActionReadCapacity16 {
			return illegalRequest()
		}
		return handleReadCapacity16(cb)
	case scsiRead10:
		return handleRead(ctx, cb, cdbLBA10(cdb), uint64(cdbLen10(cdb))*sectorSizeOr512(cb))
	case scsiRead16:
		return handleRead(ctx, cb, cdbLBA16(cdb), uint64(cdbLen16(cdb))*sectorSizeOr512(cb))
	case scsiWrite10:
		return handleWrite(ctx, cb, cdbLBA10(cdb), dataOut)
	case scsiWrite16:
		return handleWrite(ctx, cb, cdbLBA16(cdb), dataOut)
	case scsiSyncCache10:
		return good(nil)
	case scsiReportLUNs:
		return good(buildReportLUNsResponse())
	default:
		return illegalRequest()
	}
}

func sectorSizeOr512(cb Callbacks) uint64 {
	if cb.SectorSize == nil {
		return 512
	}
	if s := cb.SectorSize(); s != 0 {
		return uint64(s)
	}
	return 512
}

func cdbLBA10(cdb []byte) uint64 { return uint64(binary.BigEndian.Uint32(cdb[2:6])) }
func cdbLen10(cdb []byte) uint32 { return uint32(binary.BigEndian.Uint16(cdb[7:9])) }
func cdbLBA16(cdb []byte) uint64 { return binary.BigEndian.Uint64(cdb[2:10]) }
func cdbLen16(cdb []byte) uint32 { return binary.BigEndian.Uint32(cdb[10:14]) }

func handleReadCapacity10(cb Callbacks) cdbResult {
	if cb.VolumeSize == nil || cb.SectorSize == nil {
		return illegalRequest()
	}
	ss := cb.SectorSize()
	lastLBA := cb.VolumeSize()/uint64(ss) - 1
	out := make([]byte, 8)
	binary.BigEndian.PutUint32(out[0:4], uint32(lastLBA))
	binary.BigEndian.PutUint32(out[4:8], ss)
	return good(out)
}

func handleReadCapacity16(cb Callbacks) cdbResult {
	if cb.VolumeSize == nil || cb.SectorSize == nil {
		return illegalRequest()
	}
	ss := cb.SectorSize()
	lastLBA := cb.VolumeSize()/uint64(ss) - 1
	out := make([]byte, 32)
	binary.BigEndian.PutUint64(out[0:8], lastLBA)
	binary.BigEndian.PutUint32(out[8:12], ss)
	return good(out)
}

func handleRead(ctx context.Context, cb Callbacks, lba uint64, lenBytes uint64) cdbResult {
	if cb.ReadSectors == nil || cb.SectorSize == nil {
		return illegalRequest()
	}
	offset := lba * uint64(cb.SectorSize())
	data, err := cb.ReadSectors(ctx, offset, lenBytes)
	if err != nil {
		return sectorErrToResult(err)
	}
	return good(data)
}

func handleWrite(ctx context.Context, cb Callbacks, lba uint64, data []byte) cdbResult {
	if cb.WriteSectors == nil || cb.SectorSize == nil {
		return illegalRequest()
	}
	offset := lba * uint64(cb.SectorSize())
	if err := cb.WriteSectors(ctx, offset, data); err != nil {
		return sectorErrToResult(err)
	}
	return good(nil)
}

func sectorErrToResult(err error) cdbResult {
	switch {
	case errors.Is(err, tcerr.Sentinel(tcerr.KindAlignment)), errors.Is(err, tcerr.Sentinel(tcerr.KindRange)):
		return cdbResult{status: scsiStatusCheckCondition, senseKey: senseKeyIllegalRequest, asc: ascLBAOutOfRange}
	default:
		return cdbResult{status: scsiStatusCheckCondition, senseKey: senseKeyMediumError, asc: 0}
	}
}

func buildFixedSenseData(key, asc byte) []byte {
	out := make([]byte, 18)
	out[0] = 0x70 // fixed format, current errors
	out[2] = key
	out[7] = 10
	out[12] = asc
	return out
}

// buildInquiryResponse returns a minimal standard INQUIRY response:
// direct-access block device, SBC-3 removable so the host auto-assigns
// a drive letter, with tcvol's vendor/product identification.
func buildInquiryResponse() []byte {
	out := make([]byte, 36)
	out[0] = 0x00 // peripheral device type: direct-access block device
	out[1] = 0x80 // RMB=1: removable medium
	out[2] = 0x05 // VERSION: SPC-3
	out[3] = 0x02 // response data format
	out[4] = byte(len(out) - 5)
	copy(out[8:16], []byte("tcvol   "))
	copy(out[16:32], []byte("tcvol virtual LUN "))
	copy(out[32:36], []byte("1.0 "))
	return out
}

func buildModeSense6Response() []byte {
	out := make([]byte, 4)
	out[0] = byte(len(out) - 1)
	return out
}

func buildModeSense10Response() []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint16(out[0:2], uint16(len(out)-2))
	return out
}

func buildReportLUNsResponse() []byte {
	out := make([]byte, 16)
	binary.BigEndian.PutUint32(out[0:4], 8) // LUN list length: one 8-byte LUN entry
	return out
}
