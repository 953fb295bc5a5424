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
)

// FaultType names the broad kind of a fault. Values are grouped by the
// domain that usually raises them.
type FaultType uint32

const (
	FaultUnknown FaultType = 0x00

	FaultAPPanic    FaultType = 0x01
	FaultAPWatchdog FaultType = 0x02
	FaultAPPress6s  FaultType = 0x03
	FaultAPOOM      FaultType = 0x04

	FaultCPException FaultType = 0x20
	FaultCPResetFail FaultType = 0x21

	FaultTEEException FaultType = 0x30

	FaultHIFIException FaultType = 0x40
	FaultHIFIWatchdog  FaultType = 0x41

	FaultLPM3Exception FaultType = 0x50
	FaultLPM3Watchdog  FaultType = 0x51

	FaultIOM3Exception FaultType = 0x60
	FaultISPException  FaultType = 0x70
	FaultIVPException  FaultType = 0x80
	FaultGPUFault      FaultType = 0x90
	FaultNPUException  FaultType = 0xA0
	FaultCONNException FaultType = 0xB0
)

var faultTypeNames = map[FaultType]string{
	FaultUnknown:       "UNKNOWN",
	FaultAPPanic:       "AP_S_PANIC",
	FaultAPWatchdog:    "AP_S_AWDT",
	FaultAPPress6s:     "AP_S_PRESS6S",
	FaultAPOOM:         "AP_S_OOM",
	FaultCPException:   "CP_S_EXCEPTION",
	FaultCPResetFail:   "CP_S_RESETFAIL",
	FaultTEEException:  "TEE_S_EXCEPTION",
	FaultHIFIException: "HIFI_S_EXCEPTION",
	FaultHIFIWatchdog:  "HIFI_S_WDT",
	FaultLPM3Exception: "LPM3_S_EXCEPTION",
	FaultLPM3Watchdog:  "LPM3_S_WDT",
	FaultIOM3Exception: "IOM3_S_EXCEPTION",
	FaultISPException:  "ISP_S_EXCEPTION",
	FaultIVPException:  "IVP_S_EXCEPTION",
	FaultGPUFault:      "GPU_S_FAULT",
	FaultNPUException:  "NPU_S_EXCEPTION",
	FaultCONNException: "CONN_S_EXCEPTION",
}

// String returns the registered name, or "TYPE_0x.." for unnamed values.
func (t FaultType) String() string {
	if name, ok := faultTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TYPE_0x%X", uint32(t))
}

// ParseFaultType accepts a registered name or a numeric literal.
func ParseFaultType(s string) (FaultType, error) {
	s = strings.TrimSpace(s)
	upper := strings.ToUpper(s)
	for t, name := range faultTypeNames {
		if name == upper {
			return t, nil
		}
	}
	if strings.HasPrefix(upper, "TYPE_") {
		s = s[len("TYPE_"):]
	}
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFaultType, s)
	}
	return FaultType(n), nil
}

func (t FaultType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *FaultType) UnmarshalText(text []byte) error {
	parsed, err := ParseFaultType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// FaultSubtype refines a FaultType. Zero means "no subtype".
type FaultSubtype uint32

type subtypeKey struct {
	t FaultType
	s FaultSubtype
}

var faultSubtypeNames = map[subtypeKey]string{
	{FaultAPPanic, 1}:       "AP_PANIC_SOFTLOCKUP",
	{FaultAPPanic, 2}:       "AP_PANIC_HUNGTASK",
	{FaultAPWatchdog, 1}:    "AP_AWDT_NONSECURE",
	{FaultCPException, 1}:   "CP_DRV_EXC",
	{FaultCPException, 2}:   "CP_PAM_EXC",
	{FaultHIFIException, 1}: "HIFI_DSP_PANIC",
	{FaultHIFIException, 2}: "HIFI_DSP_OOM",
	{FaultLPM3Exception, 1}: "LPM3_DDR_FAIL",
	{FaultGPUFault, 1}:      "GPU_PAGE_FAULT",
	{FaultGPUFault, 2}:      "GPU_JOB_TIMEOUT",
	{FaultNPUException, 1}:  "NPU_AICORE_EXC",
	{FaultCONNException, 1}: "CONN_WIFI_EXC",
	{FaultCONNException, 2}: "CONN_BT_EXC",
}

// SubtypeName names s in the context of t. Zero is "NONE"; subtypes not in
// the table render numerically.
func SubtypeName(t FaultType, s FaultSubtype) string {
	if s == 0 {
		return "NONE"
	}
	if name, ok := faultSubtypeNames[subtypeKey{t, s}]; ok {
		return name
	}
	return fmt.Sprintf("SUBTYPE_0x%X", uint32(s))
}
