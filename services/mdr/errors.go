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

import "errors"

var (
	// ErrSystemRestart is returned by Run after a coordinated restart was
	// issued. The engine must not be run again in this boot.
	ErrSystemRestart = errors.New("coordinated system restart issued")

	ErrNilField          = errors.New("field state is required")
	ErrInvalidConfig     = errors.New("invalid engine configuration")
	ErrRebootUnsupported = errors.New("reboot is not supported on this platform")
)
