// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build linux

package mdr

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// RebootRestarter flushes filesystems and reboots the machine.
// The process needs CAP_SYS_BOOT.
type RebootRestarter struct {
	Logger *slog.Logger
}

var _ Restarter = (*RebootRestarter)(nil)

func (r *RebootRestarter) Restart(_ context.Context, reason string) error {
	if r.Logger != nil {
		r.Logger.Error("rebooting", "reason", reason)
	}
	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	return nil
}
