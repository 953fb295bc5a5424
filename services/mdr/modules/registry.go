// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package modules holds the per-domain dump/reset operations and drives
// them in a deterministic order.
//
// # Traversal Order
//
// Entries are kept in descending domain-id order. A new domain is inserted
// before the first existing entry with a smaller id. Since the application
// processor has the lowest id, it is always visited last, which makes its
// reset the final action of any reset pass.
//
// # Locking
//
// The registry lock covers list mutation and the deferred-reset flag only.
// Every dump and reset call runs on a snapshot with the lock released,
// because domain callbacks may re-enter the registry or raise new faults.
package modules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/AleutianMDR/internal/util"
	"github.com/AleutianAI/AleutianMDR/services/mdr/datatypes"
	"github.com/AleutianAI/AleutianMDR/services/mdr/field"
)

var (
	ErrNilOps           = errors.New("domain ops have neither dump nor reset")
	ErrInvalidCore      = errors.New("domain id is not a single known core")
	ErrDomainRegistered = errors.New("domain already registered")
	ErrDomainNotFound   = errors.New("domain not registered")
)

// AreaProvider resolves a domain's persistent area. *field.State
// satisfies it.
type AreaProvider interface {
	Area(core datatypes.Core) (field.Area, error)
}

type entry struct {
	core datatypes.Core
	ops  datatypes.DomainOps
}

// Registry maps domains to their operations.
type Registry struct {
	mu        sync.Mutex
	entries   []entry
	resetOwed bool
	areas     AreaProvider
	logger    *slog.Logger
}

// NewRegistry creates an empty registry. areas may be nil, in which case
// Register returns a zero Area.
func NewRegistry(areas AreaProvider, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{areas: areas, logger: logger}
}

// Register adds ops for core and returns the domain's persistent area.
func (r *Registry) Register(core datatypes.Core, ops datatypes.DomainOps) (field.Area, error) {
	if !core.Valid() {
		return field.Area{}, fmt.Errorf("%w: 0x%x", ErrInvalidCore, uint32(core))
	}
	if ops.Dump == nil && ops.Reset == nil {
		return field.Area{}, ErrNilOps
	}

	var area field.Area
	if r.areas != nil {
		a, err := r.areas.Area(core)
		if err != nil {
			return field.Area{}, fmt.Errorf("resolving area for %s: %w", core, err)
		}
		area = a
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pos := len(r.entries)
	for i, e := range r.entries {
		if e.core == core {
			return field.Area{}, fmt.Errorf("%w: %s", ErrDomainRegistered, core)
		}
		if e.core < core && pos == len(r.entries) {
			pos = i
		}
	}
	r.entries = append(r.entries, entry{})
	copy(r.entries[pos+1:], r.entries[pos:])
	r.entries[pos] = entry{core: core, ops: ops}
	return area, nil
}

// Unregister removes core's ops.
func (r *Registry) Unregister(core datatypes.Core) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.core == core {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrDomainNotFound, core)
}

// Registered returns the mask of registered domains.
func (r *Registry) Registered() datatypes.CoreMask {
	r.mu.Lock()
	defer r.mu.Unlock()

	var m datatypes.CoreMask
	for _, e := range r.entries {
		m |= e.core.Mask()
	}
	return m
}

// Order returns registered domains in traversal order.
func (r *Registry) Order() []datatypes.Core {
	entries := r.snapshot()
	out := make([]datatypes.Core, len(entries))
	for i, e := range entries {
		out[i] = e.core
	}
	return out
}

// ResetOwed reports whether an application-processor reset was deferred
// and has not yet been honored.
func (r *Registry) ResetOwed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resetOwed
}

func (r *Registry) snapshot() []entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// DispatchDump asks every domain in mask to dump.
//
// Description:
//
//	The trigger (req.Origin) dumps first when it is registered, in the
//	mask and has a Dumper. The walk then restarts from the head and
//	issues every other qualifying dump in traversal order. Each Dumper
//	receives its own Core and Opaque in the request; all share done.
//	A Dumper that panics is reported done so waiters do not stall.
//
// Outputs:
//
//	datatypes.CoreMask - Domains actually dispatched.
func (r *Registry) DispatchDump(ctx context.Context, mask datatypes.CoreMask, req datatypes.DumpRequest, done datatypes.DumpDoneFunc) datatypes.CoreMask {
	entries := r.snapshot()
	if done == nil {
		done = func(datatypes.Core) {}
	}

	var notified datatypes.CoreMask
	issue := func(e entry) {
		domainReq := req
		domainReq.Core = e.core
		domainReq.Opaque = e.ops.Opaque
		notified |= e.core.Mask()
		r.dump(ctx, e, domainReq, done)
	}

	triggered := false
	for _, e := range entries {
		if e.core == req.Origin && mask.Has(e.core) && e.ops.Dump != nil {
			issue(e)
			triggered = true
			break
		}
	}
	for _, e := range entries {
		if triggered && e.core == req.Origin {
			continue
		}
		if !mask.Has(e.core) || e.ops.Dump == nil {
			continue
		}
		issue(e)
	}
	return notified
}

// ResetOutcome reports what DispatchReset did.
type ResetOutcome struct {
	Reset      datatypes.CoreMask
	APDeferred bool
}

// DispatchReset resets every domain in mask.
//
// Description:
//
//	Domains other than the application processor are reset immediately.
//	The application processor is reset when d.RebootPriority is
//	RebootNow, or when a reset is owed and the queue is empty. A
//	RebootLater fault marks a reset as owed; if the queue is already
//	empty that owed reset is honored on the spot. The owed flag is
//	sticky until the next AP reset.
//
// Inputs:
//
//	queueEmpty - Reports whether more faults are pending. Evaluated at
//	             most once, with no registry lock held.
func (r *Registry) DispatchReset(ctx context.Context, mask datatypes.CoreMask, modid uint32, d datatypes.FaultDescriptor, queueEmpty func() bool) ResetOutcome {
	var out ResetOutcome
	for _, e := range r.snapshot() {
		if !mask.Has(e.core) || e.ops.Reset == nil {
			continue
		}
		if e.core == datatypes.CoreAP && !r.claimAPReset(d.RebootPriority, queueEmpty) {
			out.APDeferred = true
			continue
		}
		r.reset(ctx, e, datatypes.ResetRequest{
			ModID:     modid,
			FaultType: d.FaultType,
			Core:      e.core,
			Opaque:    e.ops.Opaque,
		})
		out.Reset |= e.core.Mask()
	}
	return out
}

// claimAPReset decides whether the AP resets now and updates the owed flag.
func (r *Registry) claimAPReset(priority datatypes.RebootPriority, queueEmpty func() bool) bool {
	empty := queueEmpty == nil || queueEmpty()

	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case priority == datatypes.RebootNow:
	case priority == datatypes.RebootLater:
		r.resetOwed = true
		if !empty {
			return false
		}
	case r.resetOwed && empty:
	default:
		return false
	}
	r.resetOwed = false
	return true
}

// HonorDeferredReset resets the application processor if a reset is owed
// and the queue is empty. Returns true if the reset was issued.
func (r *Registry) HonorDeferredReset(ctx context.Context, modid uint32, d datatypes.FaultDescriptor, queueEmpty func() bool) bool {
	if queueEmpty != nil && !queueEmpty() {
		return false
	}
	ap, ok := r.find(datatypes.CoreAP)
	if !ok || ap.ops.Reset == nil {
		return false
	}

	r.mu.Lock()
	owed := r.resetOwed
	r.resetOwed = false
	r.mu.Unlock()
	if !owed {
		return false
	}

	r.logger.Info("honoring deferred reset", slog.Uint64("modid", uint64(modid)))
	r.reset(ctx, ap, datatypes.ResetRequest{
		ModID:     modid,
		FaultType: d.FaultType,
		Core:      datatypes.CoreAP,
		Opaque:    ap.ops.Opaque,
	})
	return true
}

// ResetCore resets a single domain regardless of policy. Resetting the
// application processor clears any owed reset.
func (r *Registry) ResetCore(ctx context.Context, core datatypes.Core, req datatypes.ResetRequest) bool {
	e, ok := r.find(core)
	if !ok || e.ops.Reset == nil {
		return false
	}
	if core == datatypes.CoreAP {
		r.mu.Lock()
		r.resetOwed = false
		r.mu.Unlock()
	}
	req.Core = core
	req.Opaque = e.ops.Opaque
	r.reset(ctx, e, req)
	return true
}

func (r *Registry) find(core datatypes.Core) (entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.core == core {
			return e, true
		}
	}
	return entry{}, false
}

func (r *Registry) dump(ctx context.Context, e entry, req datatypes.DumpRequest, done datatypes.DumpDoneFunc) {
	defer util.RecoverPanic(func(p util.SafeGoResult) {
		util.LogPanic(r.logger, "dump "+e.core.String())(p)
		done(e.core)
	})()
	e.ops.Dump.Dump(ctx, req, done)
}

func (r *Registry) reset(ctx context.Context, e entry, req datatypes.ResetRequest) {
	defer util.RecoverPanic(util.LogPanic(r.logger, "reset "+e.core.String()))()
	e.ops.Reset.Reset(ctx, req)
}
