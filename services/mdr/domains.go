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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianMDR/internal/util"
	"github.com/AleutianAI/AleutianMDR/services/mdr/datatypes"
	"github.com/AleutianAI/AleutianMDR/services/mdr/field"
)

// =============================================================================
// Application processor domain
// =============================================================================

// APDomain is the in-process application-processor domain.
//
// Its dump writes the recent log window, the boot-time base-info block and
// the live current fault under <path>/ap, and stores the newest log lines
// that fit in the AP persistent area. Its reset hands off to Restarter.
type APDomain struct {
	Field     *field.State
	Window    func() []byte
	Restarter Restarter
	Logger    *slog.Logger
}

var (
	_ datatypes.Dumper   = (*APDomain)(nil)
	_ datatypes.Resetter = (*APDomain)(nil)
)

// Ops returns the domain's operations for RegisterDomainOps.
func (a *APDomain) Ops() datatypes.DomainOps {
	return datatypes.DomainOps{Dump: a, Reset: a}
}

func (a *APDomain) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

func (a *APDomain) Dump(_ context.Context, req datatypes.DumpRequest, done datatypes.DumpDoneFunc) {
	defer done(req.Core)

	var window []byte
	if a.Window != nil {
		window = a.Window()
	}

	if area, err := a.Field.Area(datatypes.CoreAP); err == nil && area.Length > 0 {
		tail := window
		if uint64(len(tail)) > area.Length {
			tail = tail[uint64(len(tail))-area.Length:]
		}
		if _, err := a.Field.WriteArea(datatypes.CoreAP, tail); err != nil {
			a.logger().Warn("failed to store log tail", "error", err)
		}
	}

	dir := filepath.Join(req.Path, "ap")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		a.logger().Warn("failed to create AP dump directory", "path", dir, "error", err)
		return
	}
	current, err := json.MarshalIndent(a.Field.CurrentFault(), "", "  ")
	if err != nil {
		a.logger().Warn("failed to encode current fault", "error", err)
	}
	files := map[string][]byte{
		"log.txt":      window,
		"baseinfo.bin": a.Field.BaseInfoSnapshot(),
		"current.json": current,
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o640); err != nil {
			a.logger().Warn("failed to write AP dump file", "file", name, "error", err)
		}
	}
}

func (a *APDomain) Reset(ctx context.Context, req datatypes.ResetRequest) {
	if a.Restarter == nil {
		return
	}
	reason := fmt.Sprintf("%s modid=%d", req.FaultType, req.ModID)
	if err := a.Restarter.Restart(ctx, reason); err != nil {
		a.logger().Error("restart failed", "error", err)
	}
}

// =============================================================================
// Exec domain
// =============================================================================

// ExecDomain drives an external domain through commands.
//
// # Description
//
// DumpCommand and ResetCommand are argv slices. Each run gets the
// environment variables MDR_MODID, MDR_CORE, MDR_FAULT_TYPE and, for dumps,
// MDR_PATH. Dumps run in the background and report done when the command
// exits; resets run synchronously. Both are killed after Timeout.
type ExecDomain struct {
	DumpCommand  []string
	ResetCommand []string
	Timeout      time.Duration
	Logger       *slog.Logger
}

var (
	_ datatypes.Dumper   = (*ExecDomain)(nil)
	_ datatypes.Resetter = (*ExecDomain)(nil)
)

// Ops returns the domain's operations. A missing command leaves the
// corresponding operation nil.
func (x *ExecDomain) Ops() datatypes.DomainOps {
	var ops datatypes.DomainOps
	if len(x.DumpCommand) > 0 {
		ops.Dump = x
	}
	if len(x.ResetCommand) > 0 {
		ops.Reset = x
	}
	return ops
}

func (x *ExecDomain) logger() *slog.Logger {
	if x.Logger == nil {
		return slog.Default()
	}
	return x.Logger
}

func (x *ExecDomain) Dump(ctx context.Context, req datatypes.DumpRequest, done datatypes.DumpDoneFunc) {
	env := []string{
		"MDR_MODID=" + strconv.FormatUint(uint64(req.ModID), 10),
		"MDR_CORE=" + req.Core.String(),
		"MDR_FAULT_TYPE=" + req.FaultType.String(),
		"MDR_PATH=" + req.Path,
	}
	util.SafeGo(func() {
		defer done(req.Core)
		if err := x.run(ctx, x.DumpCommand, env); err != nil {
			x.logger().Warn("domain dump command failed", "core", req.Core.String(), "error", err)
		}
	}, util.LogPanic(x.logger(), "exec dump"))
}

func (x *ExecDomain) Reset(ctx context.Context, req datatypes.ResetRequest) {
	env := []string{
		"MDR_MODID=" + strconv.FormatUint(uint64(req.ModID), 10),
		"MDR_CORE=" + req.Core.String(),
		"MDR_FAULT_TYPE=" + req.FaultType.String(),
	}
	if err := x.run(ctx, x.ResetCommand, env); err != nil {
		x.logger().Warn("domain reset command failed", "core", req.Core.String(), "error", err)
	}
}

func (x *ExecDomain) run(ctx context.Context, argv, env []string) error {
	if len(argv) == 0 {
		return nil
	}
	timeout := x.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	// A command runs until Timeout even after the worker stops waiting.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", argv[0], err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}
