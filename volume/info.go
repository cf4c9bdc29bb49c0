// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package volume

// Info is a read-only summary of a MountedVolume, safe to surface to a
// CLI or status display — it carries no key material.
type Info struct {
	SlotOffset      uint64
	Hidden          bool
	ReadOnly        bool
	VolumeSize      uint64
	SectorSize      uint32
	BytesRead       uint64
	BytesWritten    uint64
	ProtectedHidden bool
}

// VolumeInfo builds an Info snapshot from a live MountedVolume.
func VolumeInfo(m *MountedVolume) Info {
	read, written := m.Translator.Counters()
	return Info{
		SlotOffset:      m.SlotOffset,
		Hidden:          m.Hidden,
		ReadOnly:        m.ReadOnly,
		VolumeSize:      m.Translator.VolumeSizeBytes(),
		SectorSize:      m.Translator.SectorSizeBytes(),
		BytesRead:       read,
		BytesWritten:    written,
		ProtectedHidden: m.Translator.ProtectionTriggered(),
	}
}
