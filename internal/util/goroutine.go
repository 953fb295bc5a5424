// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// SafeGoResult describes a recovered panic.
type SafeGoResult struct {
	// PanicValue is the value passed to panic().
	PanicValue any

	// Stack is the stack trace captured at recovery time.
	Stack string
}

// Error formats the panic value so a SafeGoResult can be logged or wrapped.
func (r SafeGoResult) Error() string {
	return fmt.Sprintf("panic: %v", r.PanicValue)
}

// SafeGo runs fn in a new goroutine and recovers any panic.
//
// # Description
//
// A panic inside fn is converted to a SafeGoResult and passed to onPanic
// (if non-nil). The process keeps running.
//
// # Example
//
//	util.SafeGo(func() {
//	    uploader.Upload(ctx, artifact)
//	}, util.LogPanic(logger, "upload"))
func SafeGo(fn func(), onPanic func(SafeGoResult)) {
	go func() {
		defer RecoverPanic(onPanic)()
		fn()
	}()
}

// RecoverPanic returns a function meant to be deferred. It recovers a panic
// in the current goroutine and reports it to onPanic.
//
// # Example
//
//	func (r *Registry) invoke(fn func()) {
//	    defer util.RecoverPanic(r.onPanic)()
//	    fn()
//	}
func RecoverPanic(onPanic func(SafeGoResult)) func() {
	return func() {
		if v := recover(); v != nil {
			result := SafeGoResult{
				PanicValue: v,
				Stack:      string(debug.Stack()),
			}
			if onPanic != nil {
				onPanic(result)
			}
		}
	}
}

// LogPanic returns an onPanic handler that logs the panic at error level
// under the given operation name.
func LogPanic(logger *slog.Logger, op string) func(SafeGoResult) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(r SafeGoResult) {
		logger.Error("recovered panic",
			slog.String("op", op),
			slog.Any("panic", r.PanicValue),
			slog.String("stack", r.Stack),
		)
	}
}
