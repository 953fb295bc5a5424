// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mdr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianMDR/internal/util"
	"github.com/AleutianAI/AleutianMDR/services/mdr/datatypes"
	"github.com/AleutianAI/AleutianMDR/services/mdr/handoff"
	"github.com/AleutianAI/AleutianMDR/services/mdr/history"
	"github.com/AleutianAI/AleutianMDR/services/mdr/observability"
	"github.com/AleutianAI/AleutianMDR/services/mdr/policy"
	"github.com/AleutianAI/AleutianMDR/services/mdr/upload"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	dumpDirLayout = "20060102-150405"
	uploadTimeout = 2 * time.Minute
)

// process runs one fault through record, handoff, dump, acknowledgement
// and reset.
func (e *Engine) process(ctx context.Context, p datatypes.PendingFault) error {
	d, ok := e.faults.Lookup(p.ModID)
	if !ok {
		e.metrics.FaultSuppressed(observability.ReasonUnregistered)
		e.logger.Warn("no fault class for modid, occurrence discarded",
			"modid", p.ModID, "arg1", p.Arg1, "arg2", p.Arg2)
		return nil
	}

	start := e.now()
	ctx, span := e.tracer.Start(ctx, "mdr.process", trace.WithAttributes(
		attribute.Int64("mdr.modid", int64(p.ModID)),
		attribute.String("mdr.origin", d.OriginCore.String()),
		attribute.String("mdr.fault_type", d.FaultType.String()),
	))
	defer span.End()

	switches := e.policy.Load()
	coordinate := policy.ShouldCoordinateReset(d.OriginCore, switches)
	apReset := d.ResetCoreMask.Has(datatypes.CoreAP)
	path := e.dumpPath(start, d.OriginCore, p.ModID)

	log := e.logger.With("modid", p.ModID, "origin", d.OriginCore.String(), "fault_id", p.ID.String())
	log.Info("processing fault",
		"type", d.FaultType.String(),
		"notify", d.NotifyCoreMask.String(),
		"reset", d.ResetCoreMask.String(),
		"coordinate", coordinate)

	entry := e.record(ctx, p, d, start, coordinate || e.forcesAPReset(d), apReset)
	stored := e.appendHistory(ctx, p, entry, path)
	if !apReset {
		e.pushRecord(entry)
	}

	e.dump(ctx, p, d, path)
	e.field.MarkDumpDone()

	e.faults.ForEachCommonListener(d, p.ModID, path)

	e.awaitAck(ctx, d.OriginCore, switches)

	if coordinate {
		e.setOutcome(ctx, &stored, history.OutcomeRestarted)
		e.metrics.FaultProcessed(d.OriginCore.String(), observability.OutcomeRestarted, e.now().Sub(start))
		span.SetStatus(codes.Error, "coordinated restart")
		e.coordinatedRestart(ctx, p, d)
		return ErrSystemRestart
	}

	e.reset(ctx, p, d)
	e.field.MarkStartedDone()
	e.syncField()

	if e.queue.Empty() && e.domains.HonorDeferredReset(ctx, p.ModID, d, e.queue.Empty) {
		e.field.MarkRebootDone()
		e.metrics.DomainReset(datatypes.CoreAP.String())
		e.syncField()
	}

	e.setOutcome(ctx, &stored, history.OutcomeHandled)
	if d.UploadFlag {
		e.scheduleUpload(stored, path)
	}

	e.metrics.FaultProcessed(d.OriginCore.String(), observability.OutcomeHandled, e.now().Sub(start))
	log.Info("fault processed", "elapsed", e.now().Sub(start).String())
	return nil
}

// record writes the fault into the persistent region and builds its
// report line.
func (e *Engine) record(ctx context.Context, p datatypes.PendingFault, d datatypes.FaultDescriptor, at time.Time, willReset, apReset bool) datatypes.ReportRecordEntry {
	_, span := e.tracer.Start(ctx, "mdr.record")
	defer span.End()

	e.field.ReinitCurrentFault()
	e.handoff.ClearFlags()
	e.field.RecordFault(d, p, at.Format(datatypes.TimestampLayout))

	// Power may be lost before the reset; persist the reason now.
	if apReset {
		e.field.SetRebootReason(d.FaultType, d.FaultSubtype)
		e.syncField()
	}

	return datatypes.ReportRecordEntry{
		Category:  e.cfg.Category,
		Core:      d.OriginCore,
		FaultType: d.FaultType,
		Subtype:   d.FaultSubtype,
		Time:      at,
		BootSeq:   e.history.BootSequence(),
		WillReset: willReset,
	}
}

// forcesAPReset reports whether the reset decision for d will reset the
// application processor, judged from the queue as it stands now.
func (e *Engine) forcesAPReset(d datatypes.FaultDescriptor) bool {
	if !d.ResetCoreMask.Has(datatypes.CoreAP) || !e.domains.Registered().Has(datatypes.CoreAP) {
		return false
	}
	switch d.RebootPriority {
	case datatypes.RebootNow:
		return true
	case datatypes.RebootLater:
		return e.queue.Empty()
	default:
		return e.domains.ResetOwed() && e.queue.Empty()
	}
}

func (e *Engine) appendHistory(ctx context.Context, p datatypes.PendingFault, rec datatypes.ReportRecordEntry, path string) history.Entry {
	h := history.Entry{
		ID:       p.ID,
		ModID:    p.ModID,
		Arg1:     p.Arg1,
		Arg2:     p.Arg2,
		Record:   rec,
		DumpPath: path,
		Outcome:  history.OutcomeRecorded,
		StoredAt: e.now(),
	}
	seq, err := e.history.Append(ctx, h)
	if err != nil {
		e.logger.Warn("failed to append fault history", "modid", p.ModID, "error", err)
		return h
	}
	h.Seq = seq
	return h
}

func (e *Engine) setOutcome(ctx context.Context, h *history.Entry, outcome string) {
	h.Outcome = outcome
	if h.Seq == 0 {
		return
	}
	if err := e.history.SetOutcome(ctx, h.Seq, outcome); err != nil {
		e.logger.Warn("failed to update fault history", "seq", h.Seq, "error", err)
	}
}

func (e *Engine) pushRecord(rec datatypes.ReportRecordEntry) {
	line := rec.Format()
	if _, err := e.handoff.Push([]byte(line)); err != nil {
		e.metrics.HandoffFailure(handoffReason(err))
		e.logger.Warn("failed to hand off fault record", "error", err)
	}
}

func handoffReason(err error) string {
	switch {
	case errors.Is(err, handoff.ErrNoListener):
		return "no_listener"
	case errors.Is(err, handoff.ErrListenerGone):
		return "listener_gone"
	case errors.Is(err, handoff.ErrBufferFull):
		return "buffer_full"
	case errors.Is(err, handoff.ErrPayloadTooLarge):
		return "too_large"
	default:
		return "other"
	}
}

func (e *Engine) dumpPath(at time.Time, origin datatypes.Core, modid uint32) string {
	name := fmt.Sprintf("%s_%s_%d", at.Format(dumpDirLayout), origin, modid)
	return filepath.Join(e.cfg.DumpDir, name)
}

// dump asks every notified domain to dump, trigger first, and waits until
// each has reported done or DumpTimeout passes.
func (e *Engine) dump(ctx context.Context, p datatypes.PendingFault, d datatypes.FaultDescriptor, path string) {
	ctx, span := e.tracer.Start(ctx, "mdr.dump")
	defer span.End()

	if e.cfg.DumpDir != "" {
		if err := os.MkdirAll(path, 0o750); err != nil {
			e.logger.Warn("failed to create dump directory", "path", path, "error", err)
		}
	}

	var (
		mu       sync.Mutex
		finished datatypes.CoreMask
	)
	signal := make(chan struct{}, 1)
	done := func(core datatypes.Core) {
		mu.Lock()
		finished |= core.Mask()
		mu.Unlock()
		select {
		case signal <- struct{}{}:
		default:
		}
	}

	notified := e.domains.DispatchDump(ctx, d.NotifyCoreMask, datatypes.DumpRequest{
		ModID:     p.ModID,
		FaultType: d.FaultType,
		Origin:    d.OriginCore,
		Path:      path,
	}, done)
	span.SetAttributes(attribute.String("mdr.notified", notified.String()))

	timer := time.NewTimer(e.cfg.DumpTimeout)
	defer timer.Stop()
	for {
		mu.Lock()
		pending := notified &^ finished
		mu.Unlock()
		if pending == 0 {
			return
		}
		select {
		case <-signal:
		case <-timer.C:
			e.logger.Warn("dump timed out", "modid", p.ModID, "pending", pending.String())
			return
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) awaitAck(ctx context.Context, origin datatypes.Core, switches policy.Switches) {
	ctx, span := e.tracer.Start(ctx, "mdr.ack")
	defer span.End()

	want := handoff.FlagsFor(policy.AwaitFor(origin, switches))
	got, err := e.handoff.Wait(ctx, want, e.cfg.AckTimeout)
	switch {
	case err == nil:
		e.logger.Debug("log save acknowledged", "flags", got.String())
	case errors.Is(err, handoff.ErrAckTimeout):
		e.metrics.AckTimeout()
		span.SetAttributes(attribute.Bool("mdr.ack_timeout", true))
		e.logger.Warn("log save not acknowledged, proceeding",
			"want", want.String(), "got", got.String(), "timeout", e.cfg.AckTimeout.String())
	default:
		e.logger.Debug("acknowledgement wait interrupted", "error", err)
	}
}

func (e *Engine) reset(ctx context.Context, p datatypes.PendingFault, d datatypes.FaultDescriptor) {
	ctx, span := e.tracer.Start(ctx, "mdr.reset")
	defer span.End()

	out := e.domains.DispatchReset(ctx, d.ResetCoreMask, p.ModID, d, e.queue.Empty)
	for _, core := range out.Reset.Cores() {
		e.metrics.DomainReset(core.String())
	}
	if out.Reset.Has(datatypes.CoreAP) {
		e.field.MarkRebootDone()
	}
	if out.APDeferred {
		e.logger.Info("application processor reset deferred", "modid", p.ModID, "pending", e.queue.Len())
	}
	span.SetAttributes(attribute.String("mdr.reset", out.Reset.String()))
}

// coordinatedRestart persists the reboot reason and resets the application
// processor last. With no AP domain registered the restarter is invoked
// directly.
func (e *Engine) coordinatedRestart(ctx context.Context, p datatypes.PendingFault, d datatypes.FaultDescriptor) {
	e.field.SetRebootReason(d.FaultType, d.FaultSubtype)
	e.field.MarkRebootDone()
	e.syncField()

	e.logger.Error("coordinated system restart",
		"modid", p.ModID, "origin", d.OriginCore.String(), "type", d.FaultType.String())

	req := datatypes.ResetRequest{ModID: p.ModID, FaultType: d.FaultType}
	if e.domains.ResetCore(ctx, datatypes.CoreAP, req) {
		e.metrics.DomainReset(datatypes.CoreAP.String())
		return
	}
	reason := fmt.Sprintf("%s modid=%d", d.FaultType, p.ModID)
	if err := e.restarter.Restart(ctx, reason); err != nil {
		e.logger.Error("restart failed", "error", err)
	}
}

func (e *Engine) syncField() {
	if err := e.field.Sync(); err != nil {
		e.logger.Warn("failed to sync persistent region", "error", err)
	}
}

func (e *Engine) scheduleUpload(h history.Entry, path string) {
	record, err := json.Marshal(h)
	if err != nil {
		e.logger.Warn("failed to encode upload record", "modid", h.ModID, "error", err)
		return
	}
	artifact := upload.Artifact{
		BootSeq:  e.history.BootSequence(),
		ID:       h.ID,
		Record:   record,
		DumpPath: path,
	}

	e.uploads.Add(1)
	util.SafeGo(func() {
		defer e.uploads.Done()
		ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
		defer cancel()
		if err := e.uploader.Upload(ctx, artifact); err != nil {
			e.logger.Warn("fault artifact upload failed", "modid", h.ModID, "error", err)
		}
	}, util.LogPanic(e.slog, "upload"))
}
