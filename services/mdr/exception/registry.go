// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package exception holds the registry of fault classes: disjoint modid
// ranges mapped to descriptors.
package exception

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/AleutianMDR/internal/util"
	"github.com/AleutianAI/AleutianMDR/services/mdr/datatypes"
)

var (
	ErrNilDescriptor = errors.New("fault descriptor is nil")
	ErrRangeOverlap  = errors.New("modid range overlaps a registered fault class")
	ErrNotFound      = errors.New("no fault class contains modid")
)

// Registry maps modid ranges to fault descriptors.
//
// # Description
//
// Descriptors are stored as owned copies in registration order. Ranges
// are pairwise disjoint: Register rejects any range that intersects an
// existing one, regardless of the order in which they were registered.
//
// # Thread Safety
//
// Safe for concurrent use. Listener callbacks run with no lock held, so a
// listener may register, unregister or look up fault classes.
type Registry struct {
	mu      sync.RWMutex
	entries []datatypes.FaultDescriptor
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger uses slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register stores a copy of d.
//
// Description:
//
//	A range with ModIDHi < ModIDLo collapses to [ModIDLo, ModIDLo]. Text
//	fields are truncated to their persistent widths.
//
// Outputs:
//
//	uint32 - The resolved ModIDHi.
//	error  - ErrNilDescriptor, datatypes.ErrInvalidDescriptor or
//	         ErrRangeOverlap. The registry is unchanged on error.
func (r *Registry) Register(d *datatypes.FaultDescriptor) (uint32, error) {
	if d == nil {
		return 0, ErrNilDescriptor
	}
	entry := d.Normalized()
	if err := entry.Validate(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].Overlaps(&entry) {
			return 0, fmt.Errorf("%w: [%d,%d] intersects [%d,%d] (%s)",
				ErrRangeOverlap, entry.ModIDLo, entry.ModIDHi,
				r.entries[i].ModIDLo, r.entries[i].ModIDHi, r.entries[i].OriginModuleName)
		}
	}
	r.entries = append(r.entries, entry)
	return entry.ModIDHi, nil
}

// Unregister removes every descriptor whose range contains modid.
func (r *Registry) Unregister(modid uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]
	removed := 0
	for _, e := range r.entries {
		if e.Contains(modid) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	// Drop references held by the tail so listeners can be collected.
	for i := len(kept); i < len(r.entries); i++ {
		r.entries[i] = datatypes.FaultDescriptor{}
	}
	r.entries = kept

	if removed == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, modid)
	}
	return nil
}

// Lookup returns a copy of the first descriptor, in registration order,
// whose range contains modid.
func (r *Registry) Lookup(modid uint32) (datatypes.FaultDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.entries {
		if r.entries[i].Contains(modid) {
			return r.entries[i], true
		}
	}
	return datatypes.FaultDescriptor{}, false
}

// ProcessPriority returns the queue priority of modid, or
// datatypes.LowestProcessPriority when no descriptor covers it.
func (r *Registry) ProcessPriority(modid uint32) int {
	if d, ok := r.Lookup(modid); ok {
		return int(d.ProcessPriority)
	}
	return datatypes.LowestProcessPriority
}

// Snapshot returns copies of all descriptors in registration order.
func (r *Registry) Snapshot() []datatypes.FaultDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]datatypes.FaultDescriptor, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of registered descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ForEachCommonListener notifies completion listeners for a finished fault.
//
// Description:
//
//	Every registered descriptor whose OriginCore differs from the
//	trigger's, whose OriginCore is in the trigger's NotifyCoreMask, and
//	whose listener is tagged CompletionCommon is invoked with
//	(modid, path). Afterwards, the trigger's own listener is invoked if
//	it is tagged CompletionSpecific.
//
//	The scan works on a snapshot taken under the read lock. Listeners
//	run unlocked, one at a time, with panics recovered and logged.
//
// Outputs:
//
//	int - Number of listeners invoked.
func (r *Registry) ForEachCommonListener(trigger datatypes.FaultDescriptor, modid uint32, path string) int {
	var listeners []datatypes.CompletionListener
	for _, d := range r.Snapshot() {
		if d.OnComplete == nil || d.CompletionKind != datatypes.CompletionCommon {
			continue
		}
		if d.OriginCore == trigger.OriginCore || !trigger.NotifyCoreMask.Has(d.OriginCore) {
			continue
		}
		listeners = append(listeners, d.OnComplete)
	}
	if trigger.OnComplete != nil && trigger.CompletionKind == datatypes.CompletionSpecific {
		listeners = append(listeners, trigger.OnComplete)
	}

	for _, l := range listeners {
		r.invoke(l, modid, path)
	}
	return len(listeners)
}

func (r *Registry) invoke(l datatypes.CompletionListener, modid uint32, path string) {
	defer util.RecoverPanic(util.LogPanic(r.logger, "completion listener"))()
	l.OnComplete(modid, path)
}
