// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package primitives

import "golang.org/x/sys/unix"

// availableMemoryKiB reports free+reclaimable RAM via sysinfo(2), used
// to pre-flight an Argon2id derivation before it tries to allocate its
// Memory parameter: the kernel OOM-kills a process that overcommits
// rather than returning an error to it, so the check has to happen
// before the allocation, not after.
func availableMemoryKiB() (uint64, bool) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, false
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	return (info.Freeram + info.Bufferram) * unit / 1024, true
}
