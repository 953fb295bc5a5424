// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianMDR/internal/util"
)

// =============================================================================
// Built-in Exporters
// =============================================================================

// NopExporter discards all entries.
type NopExporter struct{}

func (e *NopExporter) Export(ctx context.Context, entry LogEntry) error { return nil }
func (e *NopExporter) Flush(ctx context.Context) error                  { return nil }
func (e *NopExporter) Close() error                                     { return nil }

// BufferedExporter collects entries in memory. Intended for tests.
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewBufferedExporter creates an empty BufferedExporter.
func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{
		entries: make([]LogEntry, 0, 64),
	}
}

func (e *BufferedExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

func (e *BufferedExporter) Flush(ctx context.Context) error { return nil }
func (e *BufferedExporter) Close() error                    { return nil }

// Entries returns a copy of the collected entries.
func (e *BufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]LogEntry, len(e.entries))
	copy(result, e.entries)
	return result
}

// WriterExporter writes one formatted line per entry to an io.Writer.
type WriterExporter struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriterExporter creates a WriterExporter. It does not own w.
func NewWriterExporter(w io.Writer) *WriterExporter {
	return &WriterExporter{w: w}
}

func (e *WriterExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := io.WriteString(e.w, FormatEntry(entry)+"\n")
	return err
}

func (e *WriterExporter) Flush(ctx context.Context) error { return nil }
func (e *WriterExporter) Close() error                    { return nil }

// RingExporter keeps the most recent formatted log lines.
//
// # Description
//
// Each exported entry is rendered with FormatEntry and pushed into a
// fixed-capacity ring; the oldest line is dropped when full. Window
// returns the lines joined by newlines, bounded by both line count and
// byte size, which is what the MDR base-info endpoint appends after the
// persisted record.
//
// # Thread Safety
//
// Safe for concurrent use.
type RingExporter struct {
	lines    *util.RingBuffer[string]
	maxBytes int
}

// DefaultWindowBytes bounds Window output when NewRingExporter is given
// no explicit byte limit.
const DefaultWindowBytes = 64 * 1024

// NewRingExporter creates a RingExporter holding up to capacity lines.
// A capacity <= 0 is raised to 1.
func NewRingExporter(capacity int) *RingExporter {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingExporter{
		lines:    util.NewRingBuffer[string](capacity),
		maxBytes: DefaultWindowBytes,
	}
}

// WithMaxBytes sets the byte bound applied by Window.
func (e *RingExporter) WithMaxBytes(n int) *RingExporter {
	if n > 0 {
		e.maxBytes = n
	}
	return e
}

func (e *RingExporter) Export(ctx context.Context, entry LogEntry) error {
	e.lines.Push(FormatEntry(entry))
	return nil
}

func (e *RingExporter) Flush(ctx context.Context) error { return nil }
func (e *RingExporter) Close() error                    { return nil }

// Lines returns the buffered lines, oldest first.
func (e *RingExporter) Lines() []string {
	return e.lines.Snapshot()
}

// Dropped returns how many lines fell out of the window.
func (e *RingExporter) Dropped() int64 {
	return e.lines.DroppedCount()
}

// Window returns the newest lines that fit within the byte bound, oldest
// first, each terminated by '\n'.
func (e *RingExporter) Window() []byte {
	lines := e.lines.Snapshot()
	total := 0
	start := len(lines)
	for start > 0 {
		n := len(lines[start-1]) + 1
		if total+n > e.maxBytes {
			break
		}
		total += n
		start--
	}
	var b strings.Builder
	b.Grow(total)
	for _, line := range lines[start:] {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// FormatEntry renders an entry as
// "2006-01-02 15:04:05.000 LEVEL message k=v ..." with keys sorted.
func FormatEntry(entry LogEntry) string {
	var b strings.Builder
	b.WriteString(entry.Timestamp.Format("2006-01-02 15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(entry.Level.String())
	b.WriteByte(' ')
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Attrs))
	for k := range entry.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, formatValue(entry.Attrs[k]))
	}
	return b.String()
}

func formatValue(v any) any {
	switch t := v.(type) {
	case time.Duration:
		return t.String()
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case error:
		return t.Error()
	default:
		return v
	}
}

var (
	_ LogExporter = (*NopExporter)(nil)
	_ LogExporter = (*BufferedExporter)(nil)
	_ LogExporter = (*WriterExporter)(nil)
	_ LogExporter = (*RingExporter)(nil)
)
