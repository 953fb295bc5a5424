// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy decides whether a fault escalates to a coordinated
// whole-system reset or is contained to the domains named in its reset
// mask.
package policy

import (
	"sync/atomic"

	"github.com/AleutianAI/AleutianMDR/services/mdr/datatypes"
)

// Class groups non-application-processor domains under one runtime toggle.
type Class int

const (
	ClassNone Class = iota
	ClassSoC
	ClassModem
	ClassWireless
)

func (c Class) String() string {
	switch c {
	case ClassSoC:
		return "soc"
	case ClassModem:
		return "modem"
	case ClassWireless:
		return "wireless"
	default:
		return "none"
	}
}

// Switches are the three runtime toggles. When a class's toggle is on, a
// fault from that class triggers a coordinated reset.
type Switches struct {
	SoCCoprocessors bool `json:"soc_coprocessors" yaml:"soc_coprocessors"`
	Modem           bool `json:"modem" yaml:"modem"`
	Wireless        bool `json:"wireless" yaml:"wireless"`
}

// ClassOf returns the toggle class of core. The application processor and
// unknown cores have no class.
func ClassOf(core datatypes.Core) Class {
	switch core {
	case datatypes.CoreCP:
		return ClassModem
	case datatypes.CoreCONN:
		return ClassWireless
	case datatypes.CoreTEEOS, datatypes.CoreHIFI, datatypes.CoreLPM3, datatypes.CoreIOM3,
		datatypes.CoreISP, datatypes.CoreIVP, datatypes.CoreGPU, datatypes.CoreNPU:
		return ClassSoC
	default:
		return ClassNone
	}
}

// Enabled reports whether the toggle for class is on.
func (s Switches) Enabled(class Class) bool {
	switch class {
	case ClassSoC:
		return s.SoCCoprocessors
	case ClassModem:
		return s.Modem
	case ClassWireless:
		return s.Wireless
	default:
		return false
	}
}

// ShouldCoordinateReset returns true iff origin belongs to a class whose
// toggle is enabled.
func ShouldCoordinateReset(origin datatypes.Core, s Switches) bool {
	return s.Enabled(ClassOf(origin))
}

// WaitMode names the acknowledgements the worker waits for before it
// treats a fault's logs as saved.
type WaitMode int

const (
	// WaitSubsystem waits for the per-subsystem log flag alone.
	WaitSubsystem WaitMode = iota
	// WaitGeneralAndHistory waits for both the general and the
	// product-history log flags; a coordinated reset loses everything
	// the daemon has not yet written.
	WaitGeneralAndHistory
)

func (m WaitMode) String() string {
	if m == WaitGeneralAndHistory {
		return "general+history"
	}
	return "subsystem"
}

// AwaitFor picks the acknowledgement set for a fault from origin, using
// the same decision as ShouldCoordinateReset.
func AwaitFor(origin datatypes.Core, s Switches) WaitMode {
	if ShouldCoordinateReset(origin, s) {
		return WaitGeneralAndHistory
	}
	return WaitSubsystem
}

// Source holds the current switches and allows them to change at runtime.
// The zero value has every toggle off.
type Source struct {
	current atomic.Pointer[Switches]
}

// NewSource creates a Source with initial switches.
func NewSource(initial Switches) *Source {
	s := &Source{}
	s.Store(initial)
	return s
}

// Load returns the current switches.
func (s *Source) Load() Switches {
	if p := s.current.Load(); p != nil {
		return *p
	}
	return Switches{}
}

// Store replaces the current switches and returns the previous value.
func (s *Source) Store(next Switches) Switches {
	prev := s.current.Swap(&next)
	if prev == nil {
		return Switches{}
	}
	return *prev
}
