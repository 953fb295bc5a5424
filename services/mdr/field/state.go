// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package field manages the persistent MDR record in reserved memory: the
// top header, the per-domain area table, and the CurrentFault base info
// that explains the most recent reboot.
//
// # Boot Semantics
//
// Open snapshots the region before touching it, so LastBoot and
// BaseInfoSnapshot always describe the state found at boot. A cold boot
// (requested, or detected from an invalid header or a changed layout)
// zeroes the whole region. A warm boot zeroes only the base info; the
// area table and every area payload are left byte-identical.
//
// # Thread Safety
//
// State is safe for concurrent use. The dispatch worker is the only
// writer in practice; HTTP handlers read concurrently.
package field

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/AleutianMDR/services/mdr/datatypes"
)

// Options configures Open.
type Options struct {
	// Capacities holds requested bytes per area index. Entry 0 is ignored;
	// area 0 gets the remainder.
	Capacities []uint64

	// ColdBoot forces full reinitialization.
	ColdBoot bool

	Product Product

	// Logger receives warnings about a discarded record. Nil uses
	// slog.Default().
	Logger *slog.Logger
}

// State is the live view of the persistent record plus its boot snapshot.
type State struct {
	mu       sync.Mutex
	region   Region
	live     []byte
	snapshot []byte
	areas    []Area
	cold     bool
	product  Product
}

// Open lays out the region and prepares it for a new boot.
//
// Description:
//
//	Computes the area table from opts.Capacities, copies the region into
//	the boot snapshot, decides cold vs warm boot, and writes the header.
//	On a warm boot only the base-info block is cleared.
//
// Inputs:
//
//	region - Backing memory. Must be non-empty.
//	opts   - Capacities, boot mode and product identity.
//
// Outputs:
//
//	*State - Ready record. Field accessors never fail after this.
//	error  - ErrRegionEmpty or a layout error. Both are fatal to startup.
func Open(region Region, opts Options) (*State, error) {
	if region == nil || len(region.Bytes()) == 0 {
		return nil, ErrRegionEmpty
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	live := region.Bytes()
	areas, err := Layout(uint64(len(live)), opts.Capacities)
	if err != nil {
		return nil, fmt.Errorf("laying out persistent areas: %w", err)
	}

	snapshot := make([]byte, len(live))
	copy(snapshot, live)

	cold := opts.ColdBoot
	if !cold {
		_, stored, err := DecodeHeader(live)
		switch {
		case err != nil:
			cold = true
			if !isBlank(live[:HeaderBlockSize]) {
				logger.Warn("discarding persistent record", slog.String("reason", err.Error()))
			}
		case !sameLayout(stored, areas):
			cold = true
			logger.Warn("discarding persistent record", slog.String("reason", ErrLayoutChanged.Error()))
		}
	}

	if cold {
		clear(live)
		writeHeader(live, opts.Product, areas, true)
	} else {
		clear(live[BaseInfoOffset : BaseInfoOffset+BaseInfoSize])
		writeHeader(live, opts.Product, areas, false)
	}

	return &State{
		region:   region,
		live:     live,
		snapshot: snapshot,
		areas:    areas,
		cold:     cold,
		product:  opts.Product,
	}, nil
}

// Cold reports whether this boot reinitialized the whole region.
func (s *State) Cold() bool { return s.cold }

// Size returns the region size.
func (s *State) Size() int { return len(s.live) }

// ReinitCurrentFault zeroes CurrentFault and marks processing as started.
// The reboot reason is not part of CurrentFault and is left as is.
func (s *State) ReinitCurrentFault() {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.base()
	clear(base[:currentFaultSize])
	le.PutUint32(base[cfStarted:], uint32(SentinelStart))
	le.PutUint32(base[cfLogSaved:], uint32(SentinelStart))
}

// RecordFault copies the descriptor's identity, the occurrence arguments
// and the timestamp into CurrentFault.
func (s *State) RecordFault(d datatypes.FaultDescriptor, p datatypes.PendingFault, timestamp string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.base()
	le.PutUint32(base[cfModID:], p.ModID)
	le.PutUint32(base[cfArg1:], p.Arg1)
	le.PutUint32(base[cfArg2:], p.Arg2)
	le.PutUint32(base[cfOrigin:], uint32(d.OriginCore))
	le.PutUint32(base[cfFaultType:], uint32(d.FaultType))
	le.PutUint32(base[cfFaultSubtype:], uint32(d.FaultSubtype))
	putString(base[cfModuleName:cfModuleName+datatypes.MaxModuleNameLen], d.OriginModuleName)
	putString(base[cfDescription:cfDescription+datatypes.MaxDescriptionLen], d.Description)
	putString(base[cfTimestamp:cfTimestamp+TimestampLen], timestamp)
}

// SetRebootReason persists the codes explaining the next reboot.
func (s *State) SetRebootReason(reason datatypes.FaultType, sub datatypes.FaultSubtype) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := s.base()
	le.PutUint32(base[rrReason:], uint32(reason))
	le.PutUint32(base[rrSubReason:], uint32(sub))
}

// RebootReason returns the live reboot reason codes.
func (s *State) RebootReason() (datatypes.FaultType, datatypes.FaultSubtype) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := DecodeBaseInfo(s.base())
	return info.RebootReason, info.RebootSubReason
}

func (s *State) MarkDumpDone()    { s.mark(cfLogSaved) }
func (s *State) MarkStartedDone() { s.mark(cfStarted) }
func (s *State) MarkRebootDone()  { s.mark(cfRebootDone) }

func (s *State) mark(off int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	le.PutUint32(s.base()[off:], uint32(SentinelDone))
}

// CurrentFault decodes the live record.
func (s *State) CurrentFault() CurrentFault {
	s.mu.Lock()
	defer s.mu.Unlock()
	return DecodeCurrentFault(s.base())
}

// LastBoot decodes the base info as found at boot.
func (s *State) LastBoot() BaseInfo {
	return DecodeBaseInfo(s.snapshot[BaseInfoOffset : BaseInfoOffset+BaseInfoSize])
}

// BaseInfoSnapshot returns a copy of the base-info block as found at boot.
func (s *State) BaseInfoSnapshot() []byte {
	out := make([]byte, BaseInfoSize)
	copy(out, s.snapshot[BaseInfoOffset:BaseInfoOffset+BaseInfoSize])
	return out
}

// Header returns the live top header.
func (s *State) Header() TopHeader {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, _, _ := DecodeHeader(s.live)
	return h
}

// Areas returns a copy of the area table.
func (s *State) Areas() []Area {
	out := make([]Area, len(s.areas))
	copy(out, s.areas)
	return out
}

// AreaAt returns the area with the given index.
func (s *State) AreaAt(index int) (Area, error) {
	if index < 0 || index >= len(s.areas) {
		return Area{}, fmt.Errorf("%w: %d (area_count %d)", ErrAreaIndex, index, len(s.areas))
	}
	return s.areas[index], nil
}

// Area returns the area owned by core.
func (s *State) Area(core datatypes.Core) (Area, error) {
	return s.AreaAt(core.Index())
}

// WriteArea copies payload into core's area, truncating to the area's
// length. Returns the number of bytes written.
func (s *State) WriteArea(core datatypes.Core, payload []byte) (int, error) {
	area, err := s.Area(core)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return copy(s.live[area.Offset:area.End()], payload), nil
}

// ReadArea returns a copy of core's live area.
func (s *State) ReadArea(core datatypes.Core) ([]byte, error) {
	area, err := s.Area(core)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, area.Length)
	copy(out, s.live[area.Offset:area.End()])
	return out, nil
}

// Sync flushes the region to its backing store.
func (s *State) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.region.Sync()
}

// Close syncs and releases the region.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.region.Sync(), s.region.Close())
}

func (s *State) base() []byte {
	return s.live[BaseInfoOffset : BaseInfoOffset+BaseInfoSize]
}

func isBlank(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
