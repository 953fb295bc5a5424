// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package util holds small concurrency helpers shared by the MDR daemon.
//
// # Contents
//
//   - RingBuffer: a bounded, mutex-protected FIFO that drops its oldest
//     entry when full. Backs the diagnostic log window.
//   - SafeGo / RecoverPanic: goroutine launch and deferred recovery that
//     turn a panic into a SafeGoResult instead of crashing the daemon.
//     Domain dump/reset callbacks and completion listeners run under
//     RecoverPanic so one misbehaving driver cannot take down the worker.
//
// # Thread Safety
//
// Everything in this package is safe for concurrent use.
package util
