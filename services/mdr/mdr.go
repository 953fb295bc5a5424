// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mdr is the exception-coordination engine.
//
// # Description
//
// Hardware-domain drivers register fault classes and per-domain dump/reset
// operations, then call RaiseFault from any context. A single worker
// (Run) drains the queue in priority order and, for each fault, records it
// in the persistent region, hands a report to the user-space log daemon,
// collects dumps from every notified domain, waits for the daemon to
// acknowledge, and finally resets the affected domains or escalates to a
// coordinated system restart.
//
// # Thread Safety
//
// Every exported method of Engine except Run may be called concurrently,
// including from inside dump, reset and completion callbacks. Run must be
// called from one goroutine.
package mdr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianMDR/pkg/logging"
	"github.com/AleutianAI/AleutianMDR/services/mdr/datatypes"
	"github.com/AleutianAI/AleutianMDR/services/mdr/exception"
	"github.com/AleutianAI/AleutianMDR/services/mdr/field"
	"github.com/AleutianAI/AleutianMDR/services/mdr/handoff"
	"github.com/AleutianAI/AleutianMDR/services/mdr/history"
	"github.com/AleutianAI/AleutianMDR/services/mdr/modules"
	"github.com/AleutianAI/AleutianMDR/services/mdr/observability"
	"github.com/AleutianAI/AleutianMDR/services/mdr/policy"
	"github.com/AleutianAI/AleutianMDR/services/mdr/syserr"
	"github.com/AleutianAI/AleutianMDR/services/mdr/upload"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Defaults for Config.
const (
	DefaultAckTimeout  = 5 * time.Second
	DefaultDumpTimeout = 10 * time.Second
	DefaultIdleWait    = time.Second
	DefaultCategory    = "MDR"
	DefaultDumpDir     = "/var/log/mdr"
)

// Config tunes the worker.
type Config struct {
	// AckTimeout bounds the wait for log-saved acknowledgements.
	AckTimeout time.Duration

	// DumpTimeout bounds the wait for every notified domain's dump.
	DumpTimeout time.Duration

	// IdleWait is how long the worker sleeps between queue checks.
	IdleWait time.Duration

	// DumpDir is the parent of per-fault dump directories. Empty disables
	// directory creation; domains still receive a path.
	DumpDir string

	// MaxPending caps the queue. Zero means unbounded.
	MaxPending int

	// Category tags every report record.
	Category string
}

// DefaultConfig returns the production worker settings.
func DefaultConfig() Config {
	return Config{
		AckTimeout:  DefaultAckTimeout,
		DumpTimeout: DefaultDumpTimeout,
		IdleWait:    DefaultIdleWait,
		DumpDir:     DefaultDumpDir,
		Category:    DefaultCategory,
	}
}

func (c Config) withDefaults() Config {
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.DumpTimeout <= 0 {
		c.DumpTimeout = DefaultDumpTimeout
	}
	if c.IdleWait <= 0 {
		c.IdleWait = DefaultIdleWait
	}
	if c.Category == "" {
		c.Category = DefaultCategory
	}
	return c
}

// Handoff is the engine's view of the user-space log channel.
// *handoff.Channel implements it.
type Handoff interface {
	Push(payload []byte) (int, error)
	ClearFlags()
	Wait(ctx context.Context, want handoff.Flag, timeout time.Duration) (handoff.Flag, error)
}

// Options carries the engine's collaborators. Only Field is required.
type Options struct {
	Field     *field.State
	Handoff   Handoff
	Policy    *policy.Source
	History   history.Store
	Uploader  upload.Uploader
	Metrics   observability.Metrics
	Restarter Restarter
	Logger    *logging.Logger
	Tracer    trace.Tracer

	// Clock overrides time.Now.
	Clock func() time.Time
}

// Engine owns the registries, the queue and the persistent record.
type Engine struct {
	cfg Config

	faults  *exception.Registry
	domains *modules.Registry
	queue   *syserr.Queue
	field   *field.State

	handoff   Handoff
	policy    *policy.Source
	history   history.Store
	uploader  upload.Uploader
	metrics   observability.Metrics
	restarter Restarter
	tracer    trace.Tracer
	logger    *logging.Logger
	slog      *slog.Logger
	now       func() time.Time

	dropLimiter *rate.Limiter
	uploads     sync.WaitGroup
}

// New builds an engine.
//
// # Inputs
//
//   - cfg: Worker settings. Zero fields take defaults.
//   - opts: Collaborators. Nil optional collaborators get no-op versions.
//
// # Outputs
//
//   - *Engine: Ready engine. Call Run to start processing.
//   - error: ErrNilField or ErrInvalidConfig.
func New(cfg Config, opts Options) (*Engine, error) {
	if opts.Field == nil {
		return nil, ErrNilField
	}
	if cfg.MaxPending < 0 {
		return nil, fmt.Errorf("%w: max_pending %d", ErrInvalidConfig, cfg.MaxPending)
	}
	cfg = cfg.withDefaults()

	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		cfg:         cfg,
		queue:       syserr.NewQueue(cfg.MaxPending),
		field:       opts.Field,
		handoff:     opts.Handoff,
		policy:      opts.Policy,
		history:     opts.History,
		uploader:    opts.Uploader,
		metrics:     opts.Metrics,
		restarter:   opts.Restarter,
		tracer:      opts.Tracer,
		logger:      logger,
		slog:        logger.Slog(),
		now:         opts.Clock,
		dropLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	if e.handoff == nil {
		e.handoff = handoff.NewChannel(nil, handoff.WithChannelLogger(e.slog))
	}
	if e.policy == nil {
		e.policy = policy.NewSource(policy.Switches{})
	}
	if e.history == nil {
		e.history = history.NopStore{}
	}
	if e.uploader == nil {
		e.uploader = upload.NopUploader{}
	}
	if e.metrics == nil {
		e.metrics = observability.NoOpMetrics{}
	}
	if e.restarter == nil {
		e.restarter = &LogRestarter{Logger: e.slog}
	}
	if e.tracer == nil {
		e.tracer = observability.Tracer()
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.faults = exception.NewRegistry(e.slog)
	e.domains = modules.NewRegistry(e.field, e.slog)
	return e, nil
}

// =============================================================================
// Registration surface
// =============================================================================

// RegisterFaultClass registers a fault descriptor and returns its handle,
// the descriptor's ModIDHi.
func (e *Engine) RegisterFaultClass(d *datatypes.FaultDescriptor) (uint32, error) {
	handle, err := e.faults.Register(d)
	if err != nil {
		return 0, err
	}
	e.logger.Info("fault class registered",
		"modid_lo", d.ModIDLo, "modid_hi", handle,
		"origin", d.OriginCore.String(), "type", d.FaultType.String())
	return handle, nil
}

// UnregisterFaultClass removes the descriptor identified by handle.
func (e *Engine) UnregisterFaultClass(handle uint32) error {
	return e.faults.Unregister(handle)
}

// RegisterDomainOps binds dump/reset operations to core and returns the
// core's persistent area.
func (e *Engine) RegisterDomainOps(core datatypes.Core, ops datatypes.DomainOps) (field.Area, error) {
	area, err := e.domains.Register(core, ops)
	if err != nil {
		return field.Area{}, err
	}
	e.logger.Info("domain ops registered", "core", core.String(), "area_offset", area.Offset, "area_length", area.Length)
	return area, nil
}

// UnregisterDomainOps removes core's operations.
func (e *Engine) UnregisterDomainOps(core datatypes.Core) error {
	return e.domains.Unregister(core)
}

// PersistentArea returns the region slot reserved for core.
func (e *Engine) PersistentArea(core datatypes.Core) (field.Area, error) {
	return e.field.Area(core)
}

// FaultClasses returns the registered descriptors in registration order.
func (e *Engine) FaultClasses() []datatypes.FaultDescriptor {
	return e.faults.Snapshot()
}

// Domains returns the cores with registered operations.
func (e *Engine) Domains() datatypes.CoreMask {
	return e.domains.Registered()
}

// Field returns the persistent record.
func (e *Engine) Field() *field.State {
	return e.field
}

// History returns the fault history store.
func (e *Engine) History() history.Store {
	return e.history
}

// Pending returns the number of queued faults.
func (e *Engine) Pending() int {
	return e.queue.Len()
}

// PendingFaults returns a copy of the queued faults in arrival order.
func (e *Engine) PendingFaults() []datatypes.PendingFault {
	return e.queue.Snapshot()
}

// =============================================================================
// Raise
// =============================================================================

// RaiseFault queues one occurrence of modid. It never blocks and never
// fails: duplicates of non-reentrant classes are dropped silently, and
// overflow is logged under a rate limit.
func (e *Engine) RaiseFault(modid, arg1, arg2 uint32) {
	p := datatypes.NewPendingFault(modid, arg1, arg2, e.now())
	d, known := e.faults.Lookup(modid)
	disallow := known && d.Reentrant == datatypes.ReentrantDisallow

	switch e.queue.Push(p, disallow) {
	case syserr.Duplicate:
		e.metrics.FaultSuppressed(observability.ReasonDuplicate)
		e.logger.Debug("duplicate fault suppressed", "modid", modid)
	case syserr.Overflow:
		e.metrics.FaultSuppressed(observability.ReasonOverflow)
		if e.dropLimiter.Allow() {
			e.logger.Warn("fault queue full, occurrence dropped",
				"modid", modid, "max_pending", e.cfg.MaxPending)
		}
	default:
		core := "UNKNOWN"
		if known {
			core = d.OriginCore.String()
		}
		e.metrics.FaultRaised(core)
		e.metrics.QueueDepth(e.queue.Len())
	}
}

// =============================================================================
// Worker
// =============================================================================

// Run processes faults until ctx is done.
//
// # Outputs
//
//   - error: nil on cancellation, ErrSystemRestart after a coordinated
//     restart.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("mdr worker started",
		"ack_timeout", e.cfg.AckTimeout.String(), "idle_wait", e.cfg.IdleWait.String())
	defer e.logger.Info("mdr worker stopped")

	for {
		if err := e.ProcessPending(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		e.queue.Wait(ctx, e.cfg.IdleWait)
	}
}

// ProcessPending drains the queue on the calling goroutine, always taking
// the pending fault with the lowest process priority next.
func (e *Engine) ProcessPending(ctx context.Context) error {
	for ctx.Err() == nil {
		p, ok := e.queue.SelectNext(e.faults.ProcessPriority)
		if !ok {
			return nil
		}
		e.metrics.QueueDepth(e.queue.Len())
		if err := e.process(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close waits for in-flight uploads and releases the uploader.
func (e *Engine) Close() error {
	e.uploads.Wait()
	return e.uploader.Close()
}
