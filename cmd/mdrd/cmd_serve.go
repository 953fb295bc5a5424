// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianMDR/pkg/logging"
	"github.com/AleutianAI/AleutianMDR/services/mdr"
	"github.com/AleutianAI/AleutianMDR/services/mdr/config"
	"github.com/AleutianAI/AleutianMDR/services/mdr/datatypes"
	"github.com/AleutianAI/AleutianMDR/services/mdr/field"
	"github.com/AleutianAI/AleutianMDR/services/mdr/handoff"
	"github.com/AleutianAI/AleutianMDR/services/mdr/history"
	"github.com/AleutianAI/AleutianMDR/services/mdr/observability"
	"github.com/AleutianAI/AleutianMDR/services/mdr/policy"
	"github.com/AleutianAI/AleutianMDR/services/mdr/routes"
	mdrbadger "github.com/AleutianAI/AleutianMDR/services/mdr/storage/badger"
	"github.com/AleutianAI/AleutianMDR/services/mdr/upload"
)

const (
	restartModeLog    = "log"
	restartModeExit   = "exit"
	restartModeReboot = "reboot"

	shutdownTimeout = 10 * time.Second
)

var errRestart = errors.New("system restart requested")

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine, the HTTP surface and the handoff hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func runServe(parent context.Context, opts *rootOptions) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	ring := logging.NewRingExporter(cfg.Logging.WindowLines).WithMaxBytes(cfg.Logging.WindowBytes)
	lc, err := cfg.LoggerConfig("mdrd")
	if err != nil {
		return err
	}
	lc.Exporter = ring
	logger := logging.New(lc)
	defer logger.Close()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	st, err := buildStack(ctx, cfg, logger, ring)
	if err != nil {
		return err
	}
	defer st.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runEngine(gctx, st.engine, cfg.Restart.Mode, logger)
	})
	if st.exit != nil {
		g.Go(func() error {
			select {
			case <-st.exit.requested:
				return errRestart
			case <-gctx.Done():
				return nil
			}
		})
	}
	if opts.configPath != "" {
		w, err := config.NewPolicyWatcher(opts.configPath, st.policy, logger.Slog())
		if err != nil {
			logger.Warn("policy hot reload disabled", "error", err)
		} else {
			defer w.Stop()
			g.Go(func() error {
				w.Start(gctx)
				return nil
			})
		}
	}

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           st.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		logger.Info("mdrd listening", "addr", cfg.Server.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	if errors.Is(err, errRestart) {
		logger.Warn("exiting for system restart", "mode", cfg.Restart.Mode)
	}
	return err
}

// runEngine runs the worker. In log mode a coordinated restart only
// restarts the worker loop; in the other modes it ends the process.
func runEngine(ctx context.Context, eng *mdr.Engine, mode string, logger *logging.Logger) error {
	for {
		err := eng.Run(ctx)
		if !errors.Is(err, mdr.ErrSystemRestart) {
			return err
		}
		if mode != restartModeLog {
			return errRestart
		}
		logger.Warn("coordinated restart recorded, resuming worker")
	}
}

// =============================================================================
// Stack assembly
// =============================================================================

// stack is everything serve wires together, minus the goroutines.
type stack struct {
	engine   *mdr.Engine
	field    *field.State
	policy   *policy.Source
	hub      *handoff.Hub
	channel  *handoff.Channel
	registry *prometheus.Registry
	router   *gin.Engine
	exit     *exitRestarter

	closers []func() error
}

func (s *stack) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("shutdown step failed", "error", err)
		}
	}
	s.closers = nil
}

func buildStack(ctx context.Context, cfg config.Config, logger *logging.Logger, ring *logging.RingExporter) (*stack, error) {
	st := &stack{}
	ok := false
	defer func() {
		if !ok {
			st.close()
		}
	}()
	log := logger.Slog()

	region, err := openRegion(cfg.Region)
	if err != nil {
		return nil, err
	}
	caps, err := cfg.Capacities()
	if err != nil {
		region.Close()
		return nil, err
	}
	fs, err := field.Open(region, field.Options{
		Capacities: caps,
		ColdBoot:   cfg.Region.ColdBoot,
		Product:    cfg.Product.Product(),
		Logger:     log,
	})
	if err != nil {
		region.Close()
		return nil, fmt.Errorf("open persistent field: %w", err)
	}
	st.field = fs
	st.closers = append(st.closers, st.field.Close)

	hist, err := openHistory(ctx, cfg.History, log)
	if err != nil {
		return nil, err
	}
	st.closers = append(st.closers, hist.Close)

	var uploader upload.Uploader = upload.NopUploader{}
	if cfg.Upload.Enabled {
		gcs, err := upload.NewGCSUploader(ctx, cfg.Upload, log)
		if err != nil {
			return nil, err
		}
		uploader = gcs
	}

	st.registry = prometheus.NewRegistry()
	st.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := observability.NewPrometheusMetrics(st.registry)
	if err != nil {
		return nil, err
	}

	st.hub = handoff.NewHub(handoff.HubConfig{Logger: log})
	st.channel = handoff.NewChannel(st.hub,
		handoff.WithLivenessCheck(handoff.ProcessAlive),
		handoff.WithChannelLogger(log))
	st.policy = policy.NewSource(cfg.Policy)

	restarter, exit := newRestarter(cfg.Restart.Mode, log)
	st.exit = exit

	engine, err := mdr.New(cfg.EngineConfig(), mdr.Options{
		Field:     st.field,
		Handoff:   st.channel,
		Policy:    st.policy,
		History:   hist,
		Uploader:  uploader,
		Metrics:   metrics,
		Restarter: restarter,
		Logger:    logger,
		Tracer:    observability.Tracer(),
	})
	if err != nil {
		return nil, err
	}
	st.engine = engine
	// Closed first: it waits for uploads and closes the uploader.
	st.closers = append(st.closers, st.engine.Close)

	if err := registerDomains(st.engine, cfg, st.field, ring, restarter, log); err != nil {
		return nil, err
	}
	for i := range cfg.FaultClasses {
		d := cfg.FaultClasses[i]
		if _, err := st.engine.RegisterFaultClass(&d); err != nil {
			return nil, fmt.Errorf("fault_classes[%d]: %w", i, err)
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName(cfg)))
	routes.SetupRoutes(router, routes.Deps{
		Engine:   st.engine,
		Hub:      st.hub,
		Control:  st.channel,
		Window:   ring.Window,
		Gatherer: st.registry,
	})
	st.router = router

	logger.Info("mdrd stack ready",
		"cold_boot", st.field.Cold(),
		"domains", st.engine.Domains().String(),
		"fault_classes", len(cfg.FaultClasses),
		"boot_seq", hist.BootSequence())
	ok = true
	return st, nil
}

func serviceName(cfg config.Config) string {
	if cfg.Telemetry.ServiceName != "" {
		return cfg.Telemetry.ServiceName
	}
	return "mdrd"
}

func openRegion(cfg config.RegionConfig) (field.Region, error) {
	if cfg.Path == "" {
		return field.NewMemoryRegion(int(cfg.Size)), nil
	}
	r, err := field.MapFile(cfg.Path, int64(cfg.Size), int64(cfg.MaxSize))
	if err != nil {
		return nil, fmt.Errorf("map region %s: %w", cfg.Path, err)
	}
	return r, nil
}

func openHistory(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (history.Store, error) {
	if cfg.Disabled {
		return history.NopStore{}, nil
	}
	bc := mdrbadger.InMemoryConfig()
	if !cfg.InMemory {
		bc = mdrbadger.DefaultConfig(cfg.Path)
	}
	bc.Logger = log
	return history.Open(ctx, bc)
}

func registerDomains(eng *mdr.Engine, cfg config.Config, st *field.State, ring *logging.RingExporter, restarter mdr.Restarter, log *slog.Logger) error {
	ap := &mdr.APDomain{Field: st, Window: ring.Window, Restarter: restarter, Logger: log}
	if _, err := eng.RegisterDomainOps(datatypes.CoreAP, ap.Ops()); err != nil {
		return fmt.Errorf("register AP domain: %w", err)
	}
	for i, dc := range cfg.Domains {
		core, err := datatypes.ParseCore(dc.Core)
		if err != nil {
			return fmt.Errorf("domains[%d]: %w", i, err)
		}
		x := &mdr.ExecDomain{
			DumpCommand:  dc.Dump,
			ResetCommand: dc.Reset,
			Timeout:      dc.Timeout,
			Logger:       log.With("core", core.String()),
		}
		if _, err := eng.RegisterDomainOps(core, x.Ops()); err != nil {
			return fmt.Errorf("domains[%d]: %w", i, err)
		}
	}
	return nil
}

// =============================================================================
// Restarters
// =============================================================================

func newRestarter(mode string, log *slog.Logger) (mdr.Restarter, *exitRestarter) {
	switch mode {
	case restartModeExit:
		r := &exitRestarter{logger: log, requested: make(chan struct{})}
		return r, r
	case restartModeReboot:
		return &mdr.RebootRestarter{Logger: log}, nil
	default:
		return &mdr.LogRestarter{Logger: log}, nil
	}
}

// exitRestarter ends serve with ExitRestart so the supervisor restarts the
// daemon.
type exitRestarter struct {
	logger    *slog.Logger
	once      sync.Once
	requested chan struct{}
}

var _ mdr.Restarter = (*exitRestarter)(nil)

func (r *exitRestarter) Restart(_ context.Context, reason string) error {
	r.logger.Warn("restart requested, daemon will exit", "reason", reason)
	r.once.Do(func() { close(r.requested) })
	return nil
}
