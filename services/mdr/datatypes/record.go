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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the ISO-like millisecond layout used in records and
// in the persistent CurrentFault.
const TimestampLayout = "2006-01-02 15:04:05.000"

// MaxRecordLen bounds a formatted ReportRecordEntry.
const MaxRecordLen = 256

// PendingFault is one queued occurrence of a fault.
type PendingFault struct {
	ID       uuid.UUID `json:"id"`
	ModID    uint32    `json:"modid"`
	Arg1     uint32    `json:"arg1"`
	Arg2     uint32    `json:"arg2"`
	RaisedAt time.Time `json:"raised_at"`
}

// NewPendingFault stamps a new occurrence with a random ID.
func NewPendingFault(modid, arg1, arg2 uint32, now time.Time) PendingFault {
	return PendingFault{
		ID:       uuid.New(),
		ModID:    modid,
		Arg1:     arg1,
		Arg2:     arg2,
		RaisedAt: now,
	}
}

// ReportRecordEntry summarizes one fault occurrence on a single line. It is
// the payload pushed to the user-space log daemon.
type ReportRecordEntry struct {
	Category  string       `json:"category"`
	Core      Core         `json:"core"`
	FaultType FaultType    `json:"fault_type"`
	Subtype   FaultSubtype `json:"fault_subtype"`
	Time      time.Time    `json:"time"`
	BootSeq   uint64       `json:"boot_seq"`
	WillReset bool         `json:"will_reset"`
}

// Format renders the entry as
//
//	category=..,core=..,type=..,subtype=..,time=..,bootseq=..,reset=..
//
// truncated to MaxRecordLen bytes. Commas and '=' in the category are
// replaced so the line stays parseable.
func (e ReportRecordEntry) Format() string {
	category := strings.NewReplacer(",", "_", "=", "_", "\n", " ").Replace(e.Category)
	line := fmt.Sprintf("category=%s,core=%s,type=%s,subtype=%s,time=%s,bootseq=%d,reset=%t",
		category,
		e.Core,
		e.FaultType,
		SubtypeName(e.FaultType, e.Subtype),
		e.Time.Format(TimestampLayout),
		e.BootSeq,
		e.WillReset,
	)
	return TruncateUTF8(line, MaxRecordLen)
}

// ReportRecord is the parsed form of a record line as seen by a listener.
// Names are kept as text because a listener may not know every subtype.
type ReportRecord struct {
	Category  string
	Core      string
	FaultType string
	Subtype   string
	Time      time.Time
	BootSeq   uint64
	WillReset bool
}

// ParseReportRecord parses a line produced by ReportRecordEntry.Format.
func ParseReportRecord(line string) (ReportRecord, error) {
	var rec ReportRecord
	seen := 0
	for _, field := range strings.Split(strings.TrimSpace(line), ",") {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return rec, fmt.Errorf("%w: field %q", ErrMalformedRecord, field)
		}
		switch key {
		case "category":
			rec.Category = value
		case "core":
			rec.Core = value
		case "type":
			rec.FaultType = value
		case "subtype":
			rec.Subtype = value
		case "time":
			t, err := time.ParseInLocation(TimestampLayout, value, time.Local)
			if err != nil {
				return rec, fmt.Errorf("%w: time: %v", ErrMalformedRecord, err)
			}
			rec.Time = t
		case "bootseq":
			n, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return rec, fmt.Errorf("%w: bootseq: %v", ErrMalformedRecord, err)
			}
			rec.BootSeq = n
		case "reset":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return rec, fmt.Errorf("%w: reset: %v", ErrMalformedRecord, err)
			}
			rec.WillReset = b
		default:
			continue
		}
		seen++
	}
	if seen != 7 {
		return rec, fmt.Errorf("%w: expected 7 fields, got %d", ErrMalformedRecord, seen)
	}
	return rec, nil
}
