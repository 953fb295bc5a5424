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
	"fmt"

	"github.com/AleutianAI/AleutianMDR/services/mdr/datatypes"
)

// Sentinel is the state of a CurrentFault progress flag.
type Sentinel uint32

const (
	SentinelClear Sentinel = 0
	SentinelStart Sentinel = 0x53545254 // "STRT"
	SentinelDone  Sentinel = 0x444F4E45 // "DONE"
)

func (s Sentinel) String() string {
	switch s {
	case SentinelClear:
		return "clear"
	case SentinelStart:
		return "start"
	case SentinelDone:
		return "done"
	default:
		return fmt.Sprintf("0x%08x", uint32(s))
	}
}

func (s Sentinel) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CurrentFault is the decoded base-info record of the fault being (or last)
// processed.
type CurrentFault struct {
	ModID        uint32                 `json:"modid"`
	Arg1         uint32                 `json:"arg1"`
	Arg2         uint32                 `json:"arg2"`
	Origin       datatypes.Core         `json:"origin_core"`
	FaultType    datatypes.FaultType    `json:"fault_type"`
	FaultSubtype datatypes.FaultSubtype `json:"fault_subtype"`
	Started      Sentinel               `json:"started"`
	LogSaved     Sentinel               `json:"log_saved"`
	RebootDone   Sentinel               `json:"reboot_done"`
	ModuleName   string                 `json:"module_name"`
	Description  string                 `json:"description"`
	Timestamp    string                 `json:"timestamp"`
}

// Empty reports whether no fault was recorded.
func (c CurrentFault) Empty() bool {
	return c.Started == SentinelClear && c.ModID == 0 && c.Timestamp == ""
}

// BaseInfo is the decoded base-info block.
type BaseInfo struct {
	CurrentFault    CurrentFault           `json:"current_fault"`
	RebootReason    datatypes.FaultType    `json:"reboot_reason"`
	RebootSubReason datatypes.FaultSubtype `json:"reboot_sub_reason"`
}

// DecodeBaseInfo decodes a base-info block.
func DecodeBaseInfo(base []byte) BaseInfo {
	if len(base) < BaseInfoSize {
		return BaseInfo{}
	}
	return BaseInfo{
		CurrentFault:    DecodeCurrentFault(base),
		RebootReason:    datatypes.FaultType(le.Uint32(base[rrReason:])),
		RebootSubReason: datatypes.FaultSubtype(le.Uint32(base[rrSubReason:])),
	}
}

// DecodeCurrentFault decodes the CurrentFault at the start of a base-info
// block.
func DecodeCurrentFault(base []byte) CurrentFault {
	if len(base) < currentFaultSize {
		return CurrentFault{}
	}
	return CurrentFault{
		ModID:        le.Uint32(base[cfModID:]),
		Arg1:         le.Uint32(base[cfArg1:]),
		Arg2:         le.Uint32(base[cfArg2:]),
		Origin:       datatypes.Core(le.Uint32(base[cfOrigin:])),
		FaultType:    datatypes.FaultType(le.Uint32(base[cfFaultType:])),
		FaultSubtype: datatypes.FaultSubtype(le.Uint32(base[cfFaultSubtype:])),
		Started:      Sentinel(le.Uint32(base[cfStarted:])),
		LogSaved:     Sentinel(le.Uint32(base[cfLogSaved:])),
		RebootDone:   Sentinel(le.Uint32(base[cfRebootDone:])),
		ModuleName:   getString(base[cfModuleName : cfModuleName+datatypes.MaxModuleNameLen]),
		Description:  getString(base[cfDescription : cfDescription+datatypes.MaxDescriptionLen]),
		Timestamp:    getString(base[cfTimestamp : cfTimestamp+TimestampLen]),
	}
}
