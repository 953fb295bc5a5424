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
	"log/slog"
	"sync/atomic"
)

// Restarter performs the whole-device restart that ends a coordinated
// reset.
type Restarter interface {
	Restart(ctx context.Context, reason string) error
}

// LogRestarter only records that a restart was requested. The supervisor
// of the process is expected to act on Run returning ErrSystemRestart.
type LogRestarter struct {
	Logger *slog.Logger

	count atomic.Int64
}

var _ Restarter = (*LogRestarter)(nil)

func (r *LogRestarter) Restart(_ context.Context, reason string) error {
	n := r.count.Add(1)
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error("system restart requested", "reason", reason, "count", n)
	return nil
}

// Count returns how many restarts were requested.
func (r *LogRestarter) Count() int64 {
	return r.count.Load()
}
