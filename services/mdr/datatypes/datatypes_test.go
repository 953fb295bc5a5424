// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCore_IndexAndString(t *testing.T) {
	tests := []struct {
		core  Core
		index int
		name  string
	}{
		{CoreAP, 0, "AP"},
		{CoreCP, 1, "CP"},
		{CoreHIFI, 3, "HIFI"},
		{CoreCONN, 10, "CONN"},
		{Core(0), -1, "CORE(0x0)"},
		{CoreAP | CoreCP, -1, "CORE(0x3)"},
		{Core(1 << 20), -1, "CORE(0x100000)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.index, tt.core.Index())
			assert.Equal(t, tt.name, tt.core.String())
			assert.Equal(t, tt.index >= 0, tt.core.Valid())
		})
	}
}

func TestAllCores_RoundTripIndex(t *testing.T) {
	cores := AllCores()
	require.Len(t, cores, CoreCount)
	for i, c := range cores {
		got, ok := CoreAt(i)
		require.True(t, ok)
		assert.Equal(t, c, got)
		assert.Equal(t, i, c.Index())
	}
	_, ok := CoreAt(CoreCount)
	assert.False(t, ok)
}

func TestParseCore(t *testing.T) {
	c, err := ParseCore(" hifi ")
	require.NoError(t, err)
	assert.Equal(t, CoreHIFI, c)

	c, err = ParseCore("modem")
	require.NoError(t, err)
	assert.Equal(t, CoreCP, c)

	_, err = ParseCore("toaster")
	assert.True(t, errors.Is(err, ErrUnknownCore))
}

func TestCoreMask(t *testing.T) {
	m := MaskOf(CoreAP, CoreGPU, CoreHIFI)

	assert.True(t, m.Has(CoreGPU))
	assert.False(t, m.Has(CoreCP))
	assert.False(t, m.Has(0))
	assert.Equal(t, []Core{CoreAP, CoreHIFI, CoreGPU}, m.Cores())
	assert.Equal(t, "AP|HIFI|GPU", m.String())
	assert.Equal(t, "NONE", CoreMask(0).String())

	var parsed CoreMask
	require.NoError(t, parsed.UnmarshalText([]byte("AP, HIFI|gpu")))
	assert.Equal(t, m, parsed)
	require.NoError(t, parsed.UnmarshalText([]byte("none")))
	assert.Equal(t, CoreMask(0), parsed)
	assert.Error(t, parsed.UnmarshalText([]byte("AP|BOGUS")))
}

func TestFaultDescriptor_Normalized(t *testing.T) {
	d := FaultDescriptor{
		ModIDLo:          200,
		ModIDHi:          100,
		OriginModuleName: strings.Repeat("m", 40),
		Description:      strings.Repeat("é", 40),
	}

	n := d.Normalized()
	assert.Equal(t, uint32(200), n.ModIDHi)
	assert.Len(t, n.OriginModuleName, MaxModuleNameLen)
	assert.LessOrEqual(t, len(n.Description), MaxDescriptionLen)
	assert.True(t, strings.HasPrefix(d.Description, n.Description))

	// The original is a value and must not change.
	assert.Equal(t, uint32(100), d.ModIDHi)
}

func TestFaultDescriptor_Overlaps(t *testing.T) {
	a := FaultDescriptor{ModIDLo: 10, ModIDHi: 20}
	tests := []struct {
		name   string
		lo, hi uint32
		want   bool
	}{
		{"disjoint below", 0, 9, false},
		{"disjoint above", 21, 30, false},
		{"touch low end", 5, 10, true},
		{"touch high end", 20, 25, true},
		{"contained", 12, 13, true},
		{"contains", 0, 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := FaultDescriptor{ModIDLo: tt.lo, ModIDHi: tt.hi}
			assert.Equal(t, tt.want, a.Overlaps(&b))
			assert.Equal(t, tt.want, b.Overlaps(&a))
		})
	}
}

func TestFaultDescriptor_Validate(t *testing.T) {
	valid := FaultDescriptor{
		ModIDLo:        1,
		ModIDHi:        1,
		RebootPriority: RebootLater,
		OriginCore:     CoreHIFI,
	}
	require.NoError(t, valid.Validate())

	badCore := valid
	badCore.OriginCore = CoreAP | CoreHIFI
	assert.ErrorIs(t, badCore.Validate(), ErrInvalidDescriptor)

	badReboot := valid
	badReboot.RebootPriority = 0
	assert.ErrorIs(t, badReboot.Validate(), ErrInvalidDescriptor)
}

func TestRebootPriority_Text(t *testing.T) {
	var p RebootPriority
	require.NoError(t, p.UnmarshalText([]byte("reset_later")))
	assert.Equal(t, RebootLater, p)
	out, err := NoReboot.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "NO_RESET", string(out))
	assert.Error(t, p.UnmarshalText([]byte("sometimes")))
}

func TestFaultType_Names(t *testing.T) {
	assert.Equal(t, "HIFI_S_WDT", FaultHIFIWatchdog.String())
	assert.Equal(t, "TYPE_0x7F", FaultType(0x7f).String())

	ft, err := ParseFaultType("gpu_s_fault")
	require.NoError(t, err)
	assert.Equal(t, FaultGPUFault, ft)

	ft, err = ParseFaultType("TYPE_0x7F")
	require.NoError(t, err)
	assert.Equal(t, FaultType(0x7f), ft)

	_, err = ParseFaultType("nope")
	assert.ErrorIs(t, err, ErrUnknownFaultType)

	assert.Equal(t, "NONE", SubtypeName(FaultGPUFault, 0))
	assert.Equal(t, "GPU_PAGE_FAULT", SubtypeName(FaultGPUFault, 1))
	assert.Equal(t, "SUBTYPE_0x9", SubtypeName(FaultGPUFault, 9))
}

func TestReportRecordEntry_FormatAndParse(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 30, 45, 123_000_000, time.Local)
	entry := ReportRecordEntry{
		Category:  "mdr,test",
		Core:      CoreHIFI,
		FaultType: FaultHIFIException,
		Subtype:   1,
		Time:      ts,
		BootSeq:   42,
		WillReset: true,
	}

	line := entry.Format()
	assert.Equal(t,
		"category=mdr_test,core=HIFI,type=HIFI_S_EXCEPTION,subtype=HIFI_DSP_PANIC,time=2025-06-01 12:30:45.123,bootseq=42,reset=true",
		line)

	rec, err := ParseReportRecord(line)
	require.NoError(t, err)
	assert.Equal(t, "HIFI", rec.Core)
	assert.Equal(t, "HIFI_DSP_PANIC", rec.Subtype)
	assert.True(t, rec.Time.Equal(ts))
	assert.Equal(t, uint64(42), rec.BootSeq)
	assert.True(t, rec.WillReset)
}

func TestReportRecordEntry_Bounded(t *testing.T) {
	entry := ReportRecordEntry{Category: strings.Repeat("x", 400), Core: CoreAP}
	assert.LessOrEqual(t, len(entry.Format()), MaxRecordLen)
}

func TestParseReportRecord_Malformed(t *testing.T) {
	for _, line := range []string{
		"",
		"category=x",
		"category=x,core=AP,type=T,subtype=S,time=bad,bootseq=1,reset=true",
		"category=x,core=AP,type=T,subtype=S,time=2025-01-01 00:00:00.000,bootseq=-1,reset=true",
	} {
		_, err := ParseReportRecord(line)
		assert.ErrorIs(t, err, ErrMalformedRecord, "line %q", line)
	}
}

func TestNewPendingFault(t *testing.T) {
	now := time.Now()
	a := NewPendingFault(7, 1, 2, now)
	b := NewPendingFault(7, 1, 2, now)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, uint32(7), a.ModID)
	assert.Equal(t, now, a.RaisedAt)
}
