// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handoff carries fault records to the user-space log daemon and
// collects its acknowledgements.
//
// # Wire Contract
//
// Messages are JSON envelopes over a websocket:
//
//	{"type": <code>, "pid": <int>, "seq": <n>, "payload": "<record line>"}
//
// Inbound codes (daemon → engine):
//
//	1  listener announces its process id
//	2  general log saved
//	3  product-history log saved
//	4  per-subsystem log saved
//
// Outbound code 0x10 carries one formatted report record.
package handoff

import (
	"strings"

	"github.com/AleutianAI/AleutianMDR/services/mdr/policy"
)

// Code identifies an envelope's meaning.
type Code uint8

const (
	CodeAnnounce       Code = 1
	CodeGeneralSaved   Code = 2
	CodeHistorySaved   Code = 3
	CodeSubsystemSaved Code = 4
	CodeRecord         Code = 0x10
)

func (c Code) String() string {
	switch c {
	case CodeAnnounce:
		return "announce"
	case CodeGeneralSaved:
		return "general_saved"
	case CodeHistorySaved:
		return "history_saved"
	case CodeSubsystemSaved:
		return "subsystem_saved"
	case CodeRecord:
		return "record"
	default:
		return "unknown"
	}
}

// MaxPayloadLen bounds a pushed payload.
const MaxPayloadLen = 512

// Envelope is one message on the handoff transport.
type Envelope struct {
	Type    Code   `json:"type"`
	PID     int    `json:"pid,omitempty"`
	Seq     uint64 `json:"seq,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// Flag is a set of acknowledgement flags.
type Flag uint8

const (
	FlagGeneral Flag = 1 << iota
	FlagHistory
	FlagSubsystem
)

func (f Flag) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	if f&FlagGeneral != 0 {
		parts = append(parts, "general")
	}
	if f&FlagHistory != 0 {
		parts = append(parts, "history")
	}
	if f&FlagSubsystem != 0 {
		parts = append(parts, "subsystem")
	}
	return strings.Join(parts, "|")
}

// FlagFor maps an acknowledgement code to its flag.
func FlagFor(c Code) (Flag, bool) {
	switch c {
	case CodeGeneralSaved:
		return FlagGeneral, true
	case CodeHistorySaved:
		return FlagHistory, true
	case CodeSubsystemSaved:
		return FlagSubsystem, true
	default:
		return 0, false
	}
}

// FlagsFor returns the flags awaited under a policy wait mode.
func FlagsFor(mode policy.WaitMode) Flag {
	if mode == policy.WaitGeneralAndHistory {
		return FlagGeneral | FlagHistory
	}
	return FlagSubsystem
}
