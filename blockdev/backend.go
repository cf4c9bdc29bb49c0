// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package blockdev abstracts byte-addressable reads and writes over a
// host file or a raw block device, hiding the file-vs-device and
// aligned-vs-unaligned distinctions from the sector I/O translator.
package blockdev

import (
	"os"

	"github.com/jeremyhahn/tcvol/internal/tcerr"
)

// Backend is the uniform byte-addressable interface the sector I/O
// translator drives. Implementations are not responsible for any
// cryptography; they move ciphertext bytes in and out of the container.
type Backend interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Size() (int64, error)
	SectorSize() uint32
	Close() error
}

// FileBackend maps a Backend directly onto an *os.File. Used for
// file-container volumes, where the OS filesystem already gives us
// byte-addressable random access with no alignment requirement.
type FileBackend struct {
	f          *os.File
	sectorSize uint32
	closed     bool
}

// OpenFile opens path for a FileBackend. The file must already exist;
// volume.Create is responsible for sizing a fresh container before
// handing it to a FileBackend.
func OpenFile(path string, readOnly bool, sectorSize uint32) (*FileBackend, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0o600) //#nosec G304 -- volume container path is operator-supplied
	if err != nil {
		return nil, &tcerr.VolumeError{Path: path, Op: "open_file_backend", Kind: tcerr.KindIO, Err: err}
	}
	return &FileBackend{f: f, sectorSize: sectorSize}, nil
}

func (b *FileBackend) ReadAt(p []byte, off int64) (int, error) {
	n, err := b.f.ReadAt(p, off)
	if err != nil {
		return n, &tcerr.VolumeError{Path: b.f.Name(), Op: "read_at", Kind: tcerr.KindIO, Err: err}
	}
	return n, nil
}

func (b *FileBackend) WriteAt(p []byte, off int64) (int, error) {
	n, err := b.f.WriteAt(p, off)
	if err != nil {
		return n, &tcerr.VolumeError{Path: b.f.Name(), Op: "write_at", Kind: tcerr.KindIO, Err: err}
	}
	return n, nil
}

func (b *FileBackend) Size() (int64, error) {
	fi, err := b.f.Stat()
	if err != nil {
		return 0, &tcerr.VolumeError{Path: b.f.Name(), Op: "stat", Kind: tcerr.KindIO, Err: err}
	}
	return fi.Size(), nil
}

func (b *FileBackend) SectorSize() uint32 { return b.sectorSize }

// Close is idempotent, safe to call from a panic-recovery deferred path
// alongside an earlier explicit Close.
func (b *FileBackend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.f.Close()
}

// DeviceBackend wraps a raw block device. Unlike FileBackend it aligns
// every write to SectorSize() with read-modify-write emulation for any
// unaligned tail or head, since the kernel and the underlying media
// only support whole-sector writes to a raw device node.
type DeviceBackend struct {
	f          *os.File
	sectorSize uint32
	closed     bool
}

// OpenDevice opens a raw block device node at path with the sector size
// the caller passes in; it does not query the device itself. OpenAuto
// is the constructor that asks the OS for the real sector size (via
// SectorSizeOf) before calling this.
func OpenDevice(path string, readOnly bool, sectorSize uint32) (*DeviceBackend, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0) //#nosec G304 -- device path is operator-supplied
	if err != nil {
		return nil, &tcerr.VolumeError{Path: path, Op: "open_device_backend", Kind: tcerr.KindIO, Err: err}
	}
	return &DeviceBackend{f: f, sectorSize: sectorSize}, nil
}

func (b *DeviceBackend) alignedRange(off int64, n int) (alignedOff int64, alignedLen int) {
	ss := int64(b.sectorSize)
	alignedOff = (off / ss) * ss
	end := off + int64(n)
	alignedEnd := ((end + ss - 1) / ss) * ss
	return alignedOff, int(alignedEnd - alignedOff)
}

func (b *DeviceBackend) ReadAt(p []byte, off int64) (int, error) {
	ss := int64(b.sectorSize)
	if off%ss == 0 && int64(len(p))%ss == 0 {
		n, err := b.f.ReadAt(p, off)
		if err != nil {
			return n, &tcerr.VolumeError{Path: b.f.Name(), Op: "read_at", Kind: tcerr.KindIO, Err: err}
		}
		return n, nil
	}
	alignedOff, alignedLen := b.alignedRange(off, len(p))
	buf := make([]byte, alignedLen)
	if _, err := b.f.ReadAt(buf, alignedOff); err != nil {
		return 0, &tcerr.VolumeError{Path: b.f.Name(), Op: "read_at", Kind: tcerr.KindIO, Err: err}
	}
	start := off - alignedOff
	copy(p, buf[start:start+int64(len(p))])
	return len(p), nil
}

// WriteAt performs read-modify-write emulation for any offset or length
// that isn't a multiple of the device's sector size: the aligned range
// covering [off, off+len) is read, the requested bytes are overlaid,
// and the whole aligned range is written back.
func (b *DeviceBackend) WriteAt(p []byte, off int64) (int, error) {
	ss := int64(b.sectorSize)
	if off%ss == 0 && int64(len(p))%ss == 0 {
		n, err := b.f.WriteAt(p, off)
		if err != nil {
			return n, &tcerr.VolumeError{Path: b.f.Name(), Op: "write_at", Kind: tcerr.KindIO, Err: err}
		}
		return n, nil
	}
	alignedOff, alignedLen := b.alignedRange(off, len(p))
	buf := make([]byte, alignedLen)
	if _, err := b.f.ReadAt(buf, alignedOff); err != nil {
		return 0, &tcerr.VolumeError{Path: b.f.Name(), Op: "write_at_rmw_read", Kind: tcerr.KindIO, Err: err}
	}
	start := off - alignedOff
	copy(buf[start:start+int64(len(p))], p)
	if _, err := b.f.WriteAt(buf, alignedOff); err != nil {
		return 0, &tcerr.VolumeError{Path: b.f.Name(), Op: "write_at_rmw_write", Kind: tcerr.KindIO, Err: err}
	}
	return len(p), nil
}

func (b *DeviceBackend) Size() (int64, error) {
	fi, err := b.f.Stat()
	if err != nil {
		return 0, &tcerr.VolumeError{Path: b.f.Name(), Op: "stat", Kind: tcerr.KindIO, Err: err}
	}
	if fi.Mode()&os.ModeDevice == 0 {
		return fi.Size(), nil
	}
	return deviceSize(b.f)
}

func (b *DeviceBackend) SectorSize() uint32 { return b.sectorSize }

func (b *DeviceBackend) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.f.Close()
}

// OpenAuto opens path for byte-addressable I/O, choosing DeviceBackend
// for a raw block-special file and FileBackend for everything else, so
// a container that is a whole disk or partition gets its real capacity
// and logical sector size from the kernel instead of Stat's zero-size
// answer for block-special files. fallbackSectorSize is used as-is for
// a file container, and as the device sector size only when the
// BLKSSZGET ioctl (Linux-only) can't be run.
func OpenAuto(path string, readOnly bool, fallbackSectorSize uint32) (Backend, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, &tcerr.VolumeError{Path: path, Op: "stat", Kind: tcerr.KindIO, Err: err}
	}
	if fi.Mode()&os.ModeDevice == 0 {
		return OpenFile(path, readOnly, fallbackSectorSize)
	}

	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0) //#nosec G304 -- device path is operator-supplied
	if err != nil {
		return nil, &tcerr.VolumeError{Path: path, Op: "open_device_backend", Kind: tcerr.KindIO, Err: err}
	}
	sectorSize, err := SectorSizeOf(f)
	if err != nil || sectorSize == 0 {
		sectorSize = fallbackSectorSize
	}
	return &DeviceBackend{f: f, sectorSize: sectorSize}, nil
}
