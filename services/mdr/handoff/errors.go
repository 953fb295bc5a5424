// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handoff

import "errors"

var (
	// Delivery failures. All are reported to the caller and non-fatal.
	ErrNoListener      = errors.New("no listener has announced itself")
	ErrListenerGone    = errors.New("listener process no longer exists")
	ErrBufferFull      = errors.New("listener receive buffer is full")
	ErrPayloadTooLarge = errors.New("payload exceeds maximum record length")

	ErrInvalidPID  = errors.New("listener pid must be positive")
	ErrUnknownCode = errors.New("unknown control code")
	ErrAckTimeout  = errors.New("timed out waiting for acknowledgement")
)
