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
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// Text bounds applied when a descriptor is copied into the registry. They
// match the fixed-width fields of the persistent CurrentFault record.
const (
	MaxModuleNameLen  = 16
	MaxDescriptionLen = 48
)

// LowestProcessPriority is the effective priority of a queued fault whose
// modid has no registered descriptor. It ranks below every uint8 priority.
const LowestProcessPriority = 256

// RebootPriority controls whether a fault resets the application processor.
type RebootPriority uint8

const (
	RebootNow RebootPriority = iota + 1
	RebootLater
	NoReboot
)

func (p RebootPriority) String() string {
	switch p {
	case RebootNow:
		return "RESET_NOW"
	case RebootLater:
		return "RESET_LATER"
	case NoReboot:
		return "NO_RESET"
	default:
		return "RESET(" + strconv.Itoa(int(p)) + ")"
	}
}

func (p RebootPriority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *RebootPriority) UnmarshalText(text []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(text))) {
	case "RESET_NOW", "NOW":
		*p = RebootNow
	case "RESET_LATER", "LATER":
		*p = RebootLater
	case "NO_RESET", "NONE":
		*p = NoReboot
	default:
		return fmt.Errorf("%w: reboot priority %q", ErrInvalidDescriptor, text)
	}
	return nil
}

// Reentrancy governs whether a second occurrence of a modid may be queued
// while an earlier one is still pending.
type Reentrancy uint8

const (
	ReentrantAllow Reentrancy = iota
	ReentrantDisallow
)

func (r Reentrancy) String() string {
	if r == ReentrantDisallow {
		return "DISALLOW"
	}
	return "ALLOW"
}

func (r Reentrancy) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Reentrancy) UnmarshalText(text []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(text))) {
	case "ALLOW", "":
		*r = ReentrantAllow
	case "DISALLOW":
		*r = ReentrantDisallow
	default:
		return fmt.Errorf("%w: reentrancy %q", ErrInvalidDescriptor, text)
	}
	return nil
}

// FaultDescriptor identifies one class of fault.
//
// Description:
//
//	A descriptor covers the inclusive modid range [ModIDLo, ModIDHi].
//	ProcessPriority orders the pending queue (lower is more urgent) and
//	is never consulted for reset decisions. NotifyCoreMask selects the
//	domains asked to dump; ResetCoreMask selects the domains commanded
//	to reset.
//
//	OnComplete is optional. With CompletionCommon it is invoked for
//	faults raised by other domains whose notify mask includes this
//	descriptor's OriginCore; with CompletionSpecific it is invoked once
//	for this descriptor's own faults.
//
// Thread Safety:
//
//	Descriptors are values. Registries store and return copies.
type FaultDescriptor struct {
	ModIDLo          uint32             `json:"modid_lo" yaml:"modid_lo"`
	ModIDHi          uint32             `json:"modid_hi" yaml:"modid_hi"`
	ProcessPriority  uint8              `json:"process_priority" yaml:"process_priority"`
	RebootPriority   RebootPriority     `json:"reboot_priority" yaml:"reboot_priority" validate:"oneof=1 2 3"`
	NotifyCoreMask   CoreMask           `json:"notify_core_mask" yaml:"notify_core_mask"`
	ResetCoreMask    CoreMask           `json:"reset_core_mask" yaml:"reset_core_mask"`
	OriginCore       Core               `json:"origin_core" yaml:"origin_core" validate:"single_core"`
	Reentrant        Reentrancy         `json:"reentrant" yaml:"reentrant" validate:"oneof=0 1"`
	UploadFlag       bool               `json:"upload_flag" yaml:"upload_flag"`
	FaultType        FaultType          `json:"fault_type" yaml:"fault_type"`
	FaultSubtype     FaultSubtype       `json:"fault_subtype" yaml:"fault_subtype"`
	OriginModuleName string             `json:"origin_module_name" yaml:"origin_module_name"`
	Description      string             `json:"description" yaml:"description"`
	CompletionKind   CompletionKind     `json:"completion_kind" yaml:"-" validate:"oneof=0 1 2"`
	OnComplete       CompletionListener `json:"-" yaml:"-"`
}

// Contains reports whether modid falls inside the descriptor's range.
func (d *FaultDescriptor) Contains(modid uint32) bool {
	return modid >= d.ModIDLo && modid <= d.ModIDHi
}

// Overlaps reports whether the two inclusive ranges intersect.
func (d *FaultDescriptor) Overlaps(other *FaultDescriptor) bool {
	return d.ModIDLo <= other.ModIDHi && other.ModIDLo <= d.ModIDHi
}

// Normalized returns a copy with a collapsed range (hi < lo becomes
// [lo, lo]) and text fields truncated to their persistent widths.
func (d FaultDescriptor) Normalized() FaultDescriptor {
	if d.ModIDHi < d.ModIDLo {
		d.ModIDHi = d.ModIDLo
	}
	d.OriginModuleName = TruncateUTF8(d.OriginModuleName, MaxModuleNameLen)
	d.Description = TruncateUTF8(d.Description, MaxDescriptionLen)
	return d
}

// Validate checks enum fields and the origin core.
func (d *FaultDescriptor) Validate() error {
	if err := descriptorValidator().Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	return nil
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func descriptorValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("single_core", func(fl validator.FieldLevel) bool {
			return Core(fl.Field().Uint()).Valid()
		})
	})
	return validate
}

// TruncateUTF8 shortens s to at most n bytes without splitting a rune.
func TruncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// MarshalText renders a Core by name.
func (c Core) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText parses a Core by name.
func (c *Core) UnmarshalText(text []byte) error {
	parsed, err := ParseCore(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalText renders a mask as "AP|HIFI".
func (m CoreMask) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses "AP|HIFI", "AP,HIFI" or "NONE".
func (m *CoreMask) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" || strings.EqualFold(s, "NONE") {
		*m = 0
		return nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' })
	parsed, err := ParseCoreMask(parts)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
