// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package field

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/AleutianAI/AleutianMDR/services/mdr/datatypes"
)

// Persistent record layout. All integers are little-endian.
//
//	0x000 ┌──────────────────────────────┐
//	      │ TopHeader                    │ magic, version, area_count, crc,
//	      │                              │ build_id, product name/version
//	0x100 │ AreaTable[area_count]        │ {offset u64, length u64}
//	0x400 ├──────────────────────────────┤
//	      │ Base info (CurrentFault)     │ cleared on every boot
//	0x800 ├──────────────────────────────┤
//	      │ area 0 (AP, remainder)       │
//	      │ ...                          │
//	      │ area N-1                     │ allocated from the top down
//	 size └──────────────────────────────┘
const (
	Magic   uint32 = 0x4D445221 // "MDR!"
	Version uint32 = 1

	HeaderBlockSize = 0x400
	AreaTableOffset = 0x100
	AreaEntrySize   = 16
	MaxAreas        = (HeaderBlockSize - AreaTableOffset) / AreaEntrySize

	BaseInfoOffset = HeaderBlockSize
	BaseInfoSize   = 0x400
	AreasOffset    = BaseInfoOffset + BaseInfoSize

	BuildIDLen        = 64
	ProductNameLen    = 32
	ProductVersionLen = 32
	TimestampLen      = 24
)

// TopHeader field offsets.
const (
	offMagic          = 0
	offVersion        = 4
	offAreaCount      = 8
	offCRC            = 12
	offBuildID        = 16
	offProductName    = offBuildID + BuildIDLen
	offProductVersion = offProductName + ProductNameLen
)

// CurrentFault field offsets, relative to BaseInfoOffset.
const (
	cfModID          = 0
	cfArg1           = 4
	cfArg2           = 8
	cfOrigin         = 12
	cfFaultType      = 16
	cfFaultSubtype   = 20
	cfStarted        = 24
	cfLogSaved       = 28
	cfRebootDone     = 32
	cfModuleName     = 48
	cfDescription    = cfModuleName + datatypes.MaxModuleNameLen
	cfTimestamp      = cfDescription + datatypes.MaxDescriptionLen
	currentFaultSize = cfTimestamp + TimestampLen
)

// Reboot reason offsets, relative to BaseInfoOffset. They live outside
// CurrentFault so that reinitializing the fault keeps an owed reason.
const (
	rrReason    = 0x200
	rrSubReason = 0x204
)

var le = binary.LittleEndian

// Product identifies the build that wrote the record.
type Product struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	BuildID string `json:"build_id"`
}

// TopHeader is the decoded fixed header.
type TopHeader struct {
	Magic     uint32  `json:"magic"`
	Version   uint32  `json:"version"`
	AreaCount uint32  `json:"area_count"`
	CRC       uint32  `json:"crc"`
	Product   Product `json:"product"`
}

// Area is one domain's slot in the reserved region.
type Area struct {
	Index  int            `json:"index"`
	Core   datatypes.Core `json:"core"`
	Offset uint64         `json:"offset"`
	Length uint64         `json:"length"`
}

// End returns the first byte past the area.
func (a Area) End() uint64 { return a.Offset + a.Length }

// Layout partitions a region of total bytes into one area per capacity.
//
// Description:
//
//	Areas 1..N-1 are placed from the top of the region downward in
//	descending index order, each exactly its requested capacity. Area 0
//	is not allocated from its capacity entry; it receives whatever lies
//	between AreasOffset and the lowest allocated area. The result tiles
//	[AreasOffset, total) with no gaps or overlap.
//
// Inputs:
//
//	total      - Region size in bytes.
//	capacities - Requested bytes per area index. capacities[0] is ignored.
//
// Outputs:
//
//	[]Area - One entry per capacity, indexed by area index.
//	error  - ErrNoAreas, ErrTooManyAreas, ErrRegionTooSmall or
//	         ErrCapacityExceeded.
func Layout(total uint64, capacities []uint64) ([]Area, error) {
	n := len(capacities)
	if n == 0 {
		return nil, ErrNoAreas
	}
	if n > MaxAreas {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyAreas, n, MaxAreas)
	}
	if total < AreasOffset {
		return nil, fmt.Errorf("%w: %d < %d", ErrRegionTooSmall, total, AreasOffset)
	}

	areas := make([]Area, n)
	top := total
	for i := n - 1; i >= 1; i-- {
		want := capacities[i]
		if want > top-AreasOffset {
			return nil, fmt.Errorf("%w: area %d wants %d bytes, %d remain",
				ErrCapacityExceeded, i, want, top-AreasOffset)
		}
		top -= want
		areas[i] = Area{Index: i, Offset: top, Length: want}
	}
	areas[0] = Area{Index: 0, Offset: AreasOffset, Length: top - AreasOffset}

	for i := range areas {
		if c, ok := datatypes.CoreAt(i); ok {
			areas[i].Core = c
		}
	}
	return areas, nil
}

// DecodeHeader validates and decodes the header block of a raw region.
func DecodeHeader(buf []byte) (TopHeader, []Area, error) {
	var h TopHeader
	if len(buf) < HeaderBlockSize {
		return h, nil, ErrRegionTooSmall
	}
	h.Magic = le.Uint32(buf[offMagic:])
	h.Version = le.Uint32(buf[offVersion:])
	h.AreaCount = le.Uint32(buf[offAreaCount:])
	h.CRC = le.Uint32(buf[offCRC:])
	h.Product = Product{
		Name:    getString(buf[offProductName : offProductName+ProductNameLen]),
		Version: getString(buf[offProductVersion : offProductVersion+ProductVersionLen]),
		BuildID: getString(buf[offBuildID : offBuildID+BuildIDLen]),
	}

	if h.Magic != Magic {
		return h, nil, fmt.Errorf("%w: 0x%08x", ErrBadMagic, h.Magic)
	}
	if h.Version != Version {
		return h, nil, fmt.Errorf("%w: %d", ErrVersionMismatch, h.Version)
	}
	if h.AreaCount == 0 || h.AreaCount > MaxAreas {
		return h, nil, fmt.Errorf("%w: area count %d", ErrLayoutChanged, h.AreaCount)
	}
	if sum := headerChecksum(buf, int(h.AreaCount)); sum != h.CRC {
		return h, nil, fmt.Errorf("%w: stored 0x%08x computed 0x%08x", ErrChecksumMismatch, h.CRC, sum)
	}

	areas := make([]Area, h.AreaCount)
	for i := range areas {
		at := AreaTableOffset + i*AreaEntrySize
		areas[i] = Area{
			Index:  i,
			Offset: le.Uint64(buf[at:]),
			Length: le.Uint64(buf[at+8:]),
		}
		if c, ok := datatypes.CoreAt(i); ok {
			areas[i].Core = c
		}
	}
	return h, areas, nil
}

func writeHeader(buf []byte, product Product, areas []Area, withTable bool) {
	le.PutUint32(buf[offMagic:], Magic)
	le.PutUint32(buf[offVersion:], Version)
	le.PutUint32(buf[offAreaCount:], uint32(len(areas)))
	putString(buf[offBuildID:offBuildID+BuildIDLen], product.BuildID)
	putString(buf[offProductName:offProductName+ProductNameLen], product.Name)
	putString(buf[offProductVersion:offProductVersion+ProductVersionLen], product.Version)
	if withTable {
		for i, a := range areas {
			at := AreaTableOffset + i*AreaEntrySize
			le.PutUint64(buf[at:], a.Offset)
			le.PutUint64(buf[at+8:], a.Length)
		}
	}
	le.PutUint32(buf[offCRC:], headerChecksum(buf, len(areas)))
}

// headerChecksum covers the TopHeader and the populated area table, with
// the CRC field itself treated as zero.
func headerChecksum(buf []byte, areaCount int) uint32 {
	end := AreaTableOffset + areaCount*AreaEntrySize
	h := crc32.NewIEEE()
	_, _ = h.Write(buf[:offCRC])
	_, _ = h.Write([]byte{0, 0, 0, 0})
	_, _ = h.Write(buf[offCRC+4 : end])
	return h.Sum32()
}

func sameLayout(a, b []Area) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Offset != b[i].Offset || a[i].Length != b[i].Length {
			return false
		}
	}
	return true
}

// putString writes s NUL-padded into the fixed-width field dst. A value
// that fills the field exactly carries no terminator.
func putString(dst []byte, s string) {
	clear(dst)
	s = datatypes.TruncateUTF8(s, len(dst))
	copy(dst, s)
}

func getString(src []byte) string {
	for i, b := range src {
		if b == 0 {
			return string(src[:i])
		}
	}
	return string(src)
}
