// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the vocabulary shared by every MDR component:
// domain identifiers and masks, fault descriptors, pending faults, the
// report record line, and the dump/reset/completion callback interfaces.
package datatypes

import (
	"fmt"
	"math/bits"
	"strings"
)

// Core identifies one independently-resettable hardware domain. Every Core
// is a single bit so that sets of domains can be expressed as a CoreMask.
type Core uint32

// Known domains. The bit position doubles as the domain's area index in the
// persistent record.
const (
	CoreAP    Core = 1 << 0
	CoreCP    Core = 1 << 1
	CoreTEEOS Core = 1 << 2
	CoreHIFI  Core = 1 << 3
	CoreLPM3  Core = 1 << 4
	CoreIOM3  Core = 1 << 5
	CoreISP   Core = 1 << 6
	CoreIVP   Core = 1 << 7
	CoreGPU   Core = 1 << 8
	CoreNPU   Core = 1 << 9
	CoreCONN  Core = 1 << 10
)

// CoreCount is the number of known domains and therefore the number of
// persistent areas.
const CoreCount = 11

var coreNames = [CoreCount]string{
	"AP", "CP", "TEEOS", "HIFI", "LPM3", "IOM3", "ISP", "IVP", "GPU", "NPU", "CONN",
}

// AllCores lists the known domains in ascending bit order.
func AllCores() []Core {
	out := make([]Core, CoreCount)
	for i := range out {
		out[i] = Core(1) << uint(i)
	}
	return out
}

// Valid reports whether c is exactly one known domain bit.
func (c Core) Valid() bool {
	return c != 0 && c&(c-1) == 0 && bits.TrailingZeros32(uint32(c)) < CoreCount
}

// Index returns the bit position of c, which is its area index.
// Returns -1 for an invalid Core.
func (c Core) Index() int {
	if !c.Valid() {
		return -1
	}
	return bits.TrailingZeros32(uint32(c))
}

// Mask returns the single-member mask for c.
func (c Core) Mask() CoreMask {
	return CoreMask(c)
}

// String returns the domain's short name, or "CORE(0x..)" when unknown.
func (c Core) String() string {
	if idx := c.Index(); idx >= 0 {
		return coreNames[idx]
	}
	return fmt.Sprintf("CORE(0x%x)", uint32(c))
}

// CoreAt returns the Core whose area index is idx.
func CoreAt(idx int) (Core, bool) {
	if idx < 0 || idx >= CoreCount {
		return 0, false
	}
	return Core(1) << uint(idx), true
}

// ParseCore resolves a short domain name (case-insensitive).
func ParseCore(name string) (Core, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range coreNames {
		if n == upper {
			return Core(1) << uint(i), nil
		}
	}
	// A few aliases that appear in driver code.
	switch upper {
	case "MODEM":
		return CoreCP, nil
	case "WIFI", "BT", "WIRELESS":
		return CoreCONN, nil
	case "TEE":
		return CoreTEEOS, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCore, name)
}

// CoreMask is a set of domains.
type CoreMask uint32

// MaskOf builds a mask from individual cores.
func MaskOf(cores ...Core) CoreMask {
	var m CoreMask
	for _, c := range cores {
		m |= CoreMask(c)
	}
	return m
}

// Has reports whether c is a member of m.
func (m CoreMask) Has(c Core) bool {
	return c != 0 && m&CoreMask(c) == CoreMask(c)
}

// Cores returns the known members of m in ascending bit order.
func (m CoreMask) Cores() []Core {
	var out []Core
	for i := 0; i < CoreCount; i++ {
		c := Core(1) << uint(i)
		if m.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// String renders m as "AP|HIFI", or "NONE" when empty.
func (m CoreMask) String() string {
	cores := m.Cores()
	if len(cores) == 0 {
		return "NONE"
	}
	names := make([]string, len(cores))
	for i, c := range cores {
		names[i] = c.String()
	}
	return strings.Join(names, "|")
}

// ParseCoreMask parses a list of domain names into a mask.
func ParseCoreMask(names []string) (CoreMask, error) {
	var m CoreMask
	for _, n := range names {
		c, err := ParseCore(n)
		if err != nil {
			return 0, err
		}
		m |= c.Mask()
	}
	return m, nil
}
