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
	"bytes"
	"log/slog"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianMDR/services/mdr/datatypes"
)

const testRegionSize = 64 * 1024

func testCapacities() []uint64 {
	caps := make([]uint64, datatypes.CoreCount)
	for i := 1; i < len(caps); i++ {
		caps[i] = uint64(1024 * i)
	}
	return caps
}

func testProduct() Product {
	return Product{Name: "mdr-board", Version: "1.2.3", BuildID: "build-0001"}
}

func openTest(t *testing.T, region Region, cold bool) *State {
	t.Helper()
	s, err := Open(region, Options{
		Capacities: testCapacities(),
		ColdBoot:   cold,
		Product:    testProduct(),
	})
	require.NoError(t, err)
	return s
}

// =============================================================================
// Layout Tests
// =============================================================================

func TestLayout_TilesRegionAboveBaseInfo(t *testing.T) {
	areas, err := Layout(testRegionSize, testCapacities())
	require.NoError(t, err)
	require.Len(t, areas, datatypes.CoreCount)

	var sum uint64
	for _, a := range areas {
		sum += a.Length
	}
	assert.Equal(t, uint64(testRegionSize), sum+HeaderBlockSize+BaseInfoSize)

	sorted := append([]Area(nil), areas...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })
	assert.Equal(t, uint64(AreasOffset), sorted[0].Offset)
	for i := 1; i < len(sorted); i++ {
		assert.Equal(t, sorted[i-1].End(), sorted[i].Offset, "gap or overlap before area %d", sorted[i].Index)
	}
	assert.Equal(t, uint64(testRegionSize), sorted[len(sorted)-1].End())
}

func TestLayout_HighEndDownward(t *testing.T) {
	areas, err := Layout(0x2000, []uint64{999, 0x100, 0x200})
	require.NoError(t, err)

	assert.Equal(t, Area{Index: 2, Core: datatypes.CoreTEEOS, Offset: 0x1E00, Length: 0x200}, areas[2])
	assert.Equal(t, Area{Index: 1, Core: datatypes.CoreCP, Offset: 0x1D00, Length: 0x100}, areas[1])
	// Area 0 ignores its requested capacity and takes the remainder.
	assert.Equal(t, Area{Index: 0, Core: datatypes.CoreAP, Offset: AreasOffset, Length: 0x1D00 - AreasOffset}, areas[0])
}

func TestLayout_Errors(t *testing.T) {
	tests := []struct {
		name  string
		total uint64
		caps  []uint64
		want  error
	}{
		{"empty table", testRegionSize, nil, ErrNoAreas},
		{"too many areas", testRegionSize, make([]uint64, MaxAreas+1), ErrTooManyAreas},
		{"region too small", AreasOffset - 1, []uint64{0}, ErrRegionTooSmall},
		{"capacities exceed region", 0x1000, []uint64{0, 0x700, 0x200}, ErrCapacityExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Layout(tt.total, tt.caps)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// =============================================================================
// Open Tests
// =============================================================================

func TestOpen_EmptyRegion(t *testing.T) {
	_, err := Open(NewMemoryRegion(0), Options{Capacities: testCapacities()})
	assert.ErrorIs(t, err, ErrRegionEmpty)

	_, err = Open(nil, Options{})
	assert.ErrorIs(t, err, ErrRegionEmpty)
}

func TestOpen_MalformedCapacities(t *testing.T) {
	_, err := Open(NewMemoryRegion(0x1000), Options{Capacities: []uint64{0, 0x1000}})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestOpen_ColdBootZeroesRegion(t *testing.T) {
	region := NewMemoryRegion(testRegionSize)
	for i := range region.Bytes() {
		region.Bytes()[i] = 0xAA
	}

	s := openTest(t, region, true)
	assert.True(t, s.Cold())

	buf := region.Bytes()
	assert.True(t, isBlank(buf[HeaderBlockSize:]), "everything past the header must be zero")

	h, areas, err := DecodeHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, Magic, h.Magic)
	assert.Equal(t, Version, h.Version)
	assert.Equal(t, uint32(datatypes.CoreCount), h.AreaCount)
	assert.Equal(t, testProduct(), h.Product)
	assert.True(t, sameLayout(areas, s.Areas()))

	// The snapshot still shows what was there before.
	assert.Equal(t, byte(0xAA), s.BaseInfoSnapshot()[0])
}

func TestOpen_BlankRegionIsCold(t *testing.T) {
	s := openTest(t, NewMemoryRegion(testRegionSize), false)
	assert.True(t, s.Cold())
	assert.True(t, s.LastBoot().CurrentFault.Empty())
}

func TestOpen_WarmBootKeepsAreas(t *testing.T) {
	region := NewMemoryRegion(testRegionSize)
	first := openTest(t, region, true)

	payload := bytes.Repeat([]byte("hifi"), 64)
	n, err := first.WriteArea(datatypes.CoreHIFI, payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	first.ReinitCurrentFault()
	first.RecordFault(datatypes.FaultDescriptor{
		OriginCore:       datatypes.CoreHIFI,
		FaultType:        datatypes.FaultHIFIWatchdog,
		OriginModuleName: "hifi",
		Description:      "dsp watchdog",
	}, datatypes.PendingFault{ModID: 0x40, Arg1: 1, Arg2: 2}, "2025-01-02 03:04:05.006")
	first.SetRebootReason(datatypes.FaultHIFIWatchdog, 0)

	before := append([]byte(nil), region.Bytes()...)

	second := openTest(t, region, false)
	assert.False(t, second.Cold())

	after := region.Bytes()
	assert.Equal(t, before[AreaTableOffset:HeaderBlockSize], after[AreaTableOffset:HeaderBlockSize], "area table changed")
	assert.Equal(t, before[AreasOffset:], after[AreasOffset:], "area payloads changed")
	assert.True(t, isBlank(after[BaseInfoOffset:BaseInfoOffset+BaseInfoSize]), "base info not cleared")

	last := second.LastBoot()
	assert.Equal(t, uint32(0x40), last.CurrentFault.ModID)
	assert.Equal(t, "dsp watchdog", last.CurrentFault.Description)
	assert.Equal(t, datatypes.FaultHIFIWatchdog, last.RebootReason)
	assert.True(t, second.CurrentFault().Empty())

	got, err := second.ReadArea(datatypes.CoreHIFI)
	require.NoError(t, err)
	assert.Equal(t, payload, got[:len(payload)])
}

func TestOpen_CorruptHeaderFallsBackToCold(t *testing.T) {
	region := NewMemoryRegion(testRegionSize)
	first := openTest(t, region, true)
	_, err := first.WriteArea(datatypes.CoreGPU, []byte("gpu state"))
	require.NoError(t, err)

	region.Bytes()[offProductName] ^= 0xFF

	var logs bytes.Buffer
	second, err := Open(region, Options{
		Capacities: testCapacities(),
		Product:    testProduct(),
		Logger:     slog.New(slog.NewTextHandler(&logs, nil)),
	})
	require.NoError(t, err)
	assert.True(t, second.Cold())
	assert.Contains(t, logs.String(), "checksum mismatch")

	got, err := second.ReadArea(datatypes.CoreGPU)
	require.NoError(t, err)
	assert.True(t, isBlank(got))
}

func TestOpen_ChangedCapacitiesFallBackToCold(t *testing.T) {
	region := NewMemoryRegion(testRegionSize)
	openTest(t, region, true)

	caps := testCapacities()
	caps[3] += 512
	s, err := Open(region, Options{Capacities: caps, Product: testProduct()})
	require.NoError(t, err)
	assert.True(t, s.Cold())
}

func TestOpen_WarmBootUpdatesProduct(t *testing.T) {
	region := NewMemoryRegion(testRegionSize)
	openTest(t, region, true)

	s, err := Open(region, Options{
		Capacities: testCapacities(),
		Product:    Product{Name: "mdr-board", Version: "1.2.4", BuildID: "build-0002"},
	})
	require.NoError(t, err)
	assert.False(t, s.Cold())
	assert.Equal(t, "1.2.4", s.Header().Product.Version)

	_, _, err = DecodeHeader(region.Bytes())
	assert.NoError(t, err, "checksum must be refreshed after product rewrite")
}

// =============================================================================
// CurrentFault Tests
// =============================================================================

func TestState_RecordFaultRoundTrip(t *testing.T) {
	s := openTest(t, NewMemoryRegion(testRegionSize), true)

	s.ReinitCurrentFault()
	cf := s.CurrentFault()
	assert.Equal(t, SentinelStart, cf.Started)
	assert.Equal(t, SentinelStart, cf.LogSaved)
	assert.Equal(t, SentinelClear, cf.RebootDone)

	d := datatypes.FaultDescriptor{
		OriginCore:       datatypes.CoreGPU,
		FaultType:        datatypes.FaultGPUFault,
		FaultSubtype:     2,
		OriginModuleName: "gpu-sched",
		Description:      "job timeout on ring 0",
	}
	s.RecordFault(d, datatypes.PendingFault{ModID: 0x900, Arg1: 7, Arg2: 9}, "2025-05-06 07:08:09.010")

	cf = s.CurrentFault()
	assert.Equal(t, CurrentFault{
		ModID:        0x900,
		Arg1:         7,
		Arg2:         9,
		Origin:       datatypes.CoreGPU,
		FaultType:    datatypes.FaultGPUFault,
		FaultSubtype: 2,
		Started:      SentinelStart,
		LogSaved:     SentinelStart,
		ModuleName:   "gpu-sched",
		Description:  "job timeout on ring 0",
		Timestamp:    "2025-05-06 07:08:09.010",
	}, cf)
}

func TestState_FullWidthStrings(t *testing.T) {
	s := openTest(t, NewMemoryRegion(testRegionSize), true)
	name := "0123456789abcdef"
	require.Len(t, name, datatypes.MaxModuleNameLen)

	s.RecordFault(datatypes.FaultDescriptor{OriginModuleName: name + "overflow"}, datatypes.PendingFault{}, "")
	assert.Equal(t, name, s.CurrentFault().ModuleName)
}

func TestState_MarksAreIdempotent(t *testing.T) {
	s := openTest(t, NewMemoryRegion(testRegionSize), true)
	s.ReinitCurrentFault()

	for i := 0; i < 2; i++ {
		s.MarkDumpDone()
		s.MarkStartedDone()
		s.MarkRebootDone()
	}
	cf := s.CurrentFault()
	assert.Equal(t, SentinelDone, cf.LogSaved)
	assert.Equal(t, SentinelDone, cf.Started)
	assert.Equal(t, SentinelDone, cf.RebootDone)
}

func TestState_ReinitKeepsRebootReason(t *testing.T) {
	s := openTest(t, NewMemoryRegion(testRegionSize), true)
	s.SetRebootReason(datatypes.FaultAPPanic, 1)
	s.ReinitCurrentFault()

	reason, sub := s.RebootReason()
	assert.Equal(t, datatypes.FaultAPPanic, reason)
	assert.Equal(t, datatypes.FaultSubtype(1), sub)
}

func TestState_AreaAt(t *testing.T) {
	s := openTest(t, NewMemoryRegion(testRegionSize), true)

	a, err := s.Area(datatypes.CoreCONN)
	require.NoError(t, err)
	assert.Equal(t, 10, a.Index)

	_, err = s.AreaAt(datatypes.CoreCount)
	assert.ErrorIs(t, err, ErrAreaIndex)
	_, err = s.Area(datatypes.CoreAP | datatypes.CoreCP)
	assert.ErrorIs(t, err, ErrAreaIndex)
}

func TestState_WriteAreaTruncates(t *testing.T) {
	s := openTest(t, NewMemoryRegion(testRegionSize), true)
	a, err := s.Area(datatypes.CoreCP)
	require.NoError(t, err)

	n, err := s.WriteArea(datatypes.CoreCP, make([]byte, a.Length+100))
	require.NoError(t, err)
	assert.Equal(t, int(a.Length), n)
}

func TestSentinel_String(t *testing.T) {
	assert.Equal(t, "start", SentinelStart.String())
	assert.Equal(t, "done", SentinelDone.String())
	assert.Equal(t, "clear", SentinelClear.String())
	assert.Equal(t, "0x00000007", Sentinel(7).String())
}
