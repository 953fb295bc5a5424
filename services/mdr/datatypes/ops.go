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

import "context"

// DumpRequest is handed to a domain's Dumper.
type DumpRequest struct {
	ModID     uint32
	FaultType FaultType
	// Core is the domain being asked to dump.
	Core Core
	// Origin is the domain that raised the fault.
	Origin Core
	// Path is the directory the domain should write its diagnostics to.
	Path   string
	Opaque any
}

// ResetRequest is handed to a domain's Resetter.
type ResetRequest struct {
	ModID     uint32
	FaultType FaultType
	Core      Core
	Opaque    any
}

// DumpDoneFunc is called by a Dumper once its diagnostics are written. It
// may be called from any goroutine, and calling it more than once is
// harmless.
type DumpDoneFunc func(core Core)

// Dumper collects a domain's diagnostics. Dump must not block for long;
// slow collection should continue asynchronously and report through done.
type Dumper interface {
	Dump(ctx context.Context, req DumpRequest, done DumpDoneFunc)
}

// Resetter resets one domain.
type Resetter interface {
	Reset(ctx context.Context, req ResetRequest)
}

// DumpFunc adapts a function to Dumper.
type DumpFunc func(ctx context.Context, req DumpRequest, done DumpDoneFunc)

func (f DumpFunc) Dump(ctx context.Context, req DumpRequest, done DumpDoneFunc) {
	f(ctx, req, done)
}

// ResetFunc adapts a function to Resetter.
type ResetFunc func(ctx context.Context, req ResetRequest)

func (f ResetFunc) Reset(ctx context.Context, req ResetRequest) {
	f(ctx, req)
}

// DomainOps is the pair of operations a domain registers. Either may be
// nil, but not both. Opaque is passed back in every request.
type DomainOps struct {
	Dump   Dumper
	Reset  Resetter
	Opaque any
}

// CompletionKind tags a descriptor's completion listener.
type CompletionKind uint8

const (
	CompletionNone CompletionKind = iota
	// CompletionCommon listeners observe faults raised by other domains.
	CompletionCommon
	// CompletionSpecific listeners observe only their own descriptor's faults.
	CompletionSpecific
)

func (k CompletionKind) String() string {
	switch k {
	case CompletionCommon:
		return "common"
	case CompletionSpecific:
		return "specific"
	default:
		return "none"
	}
}

// CompletionListener is notified after a fault's dumps finish.
type CompletionListener interface {
	OnComplete(modid uint32, path string)
}

// CompletionFunc adapts a function to CompletionListener.
type CompletionFunc func(modid uint32, path string)

func (f CompletionFunc) OnComplete(modid uint32, path string) {
	f(modid, path)
}

var (
	_ Dumper             = DumpFunc(nil)
	_ Resetter           = ResetFunc(nil)
	_ CompletionListener = CompletionFunc(nil)
)
