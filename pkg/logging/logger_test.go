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
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"loud", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFromSlogLevel(t *testing.T) {
	if fromSlogLevel(slog.LevelWarn+1) != LevelWarn {
		t.Error("levels between warn and error should map to warn")
	}
	if fromSlogLevel(slog.LevelDebug-4) != LevelDebug {
		t.Error("levels below debug should map to debug")
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_WithLogDir(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "mdrd-test",
		Quiet:   true,
	})
	logger.Info("hello", "key", "value")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	name := "mdrd-test_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file missing message: %s", data)
	}
}

func TestNew_WithLogDir_InvalidPath(t *testing.T) {
	logger := New(Config{LogDir: "/dev/null/not-a-dir", Quiet: true})
	defer logger.Close()

	if logger.file != nil {
		t.Error("file should be nil when LogDir cannot be created")
	}
	logger.Info("still works")
}

func TestLogger_ExporterReceivesEntries(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Service:  "mdrd",
		Quiet:    true,
		Exporter: exporter,
	})
	defer logger.Close()

	logger.Debug("filtered")
	logger.With("fault", 7).Warn("dump slow", "core", "HIFI")

	entries := exporter.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Message != "dump slow" || e.Level != LevelWarn || e.Service != "mdrd" {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.Attrs["fault"] != int64(7) || e.Attrs["core"] != "HIFI" {
		t.Errorf("unexpected attrs %v", e.Attrs)
	}
	if _, ok := e.Attrs["service"]; ok {
		t.Error("service should not be duplicated into attrs")
	}
}

func TestLogger_SlogRecordsReachExporter(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Quiet: true, Exporter: exporter})
	defer logger.Close()

	logger.Slog().WithGroup("handoff").Info("listener announced", slog.Int("pid", 42))

	entries := exporter.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Attrs["handoff.pid"] != int64(42) {
		t.Errorf("grouped attr missing: %v", entries[0].Attrs)
	}
}

type failingExporter struct{ NopExporter }

func (f *failingExporter) Flush(ctx context.Context) error { return errors.New("flush failed") }

func TestLogger_CloseReturnsExporterError(t *testing.T) {
	logger := New(Config{Quiet: true, Exporter: &failingExporter{}})
	if err := logger.Close(); err == nil || !strings.Contains(err.Error(), "flush failed") {
		t.Errorf("Close() error = %v, want flush failure", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
}

func TestUseJSON(t *testing.T) {
	if !useJSON(Config{JSON: true}) {
		t.Error("JSON=true should force JSON")
	}
	if !useJSON(Config{Format: FormatJSON}) {
		t.Error("FormatJSON should select JSON")
	}
	if useJSON(Config{Format: FormatText}) {
		t.Error("FormatText should select text")
	}
}

// =============================================================================
// Exporter Tests
// =============================================================================

func TestWriterExporter(t *testing.T) {
	var buf bytes.Buffer
	exporter := NewWriterExporter(&buf)
	ts := time.Date(2025, 3, 4, 5, 6, 7, 8_000_000, time.UTC)

	err := exporter.Export(context.Background(), LogEntry{
		Timestamp: ts,
		Level:     LevelError,
		Message:   "reset failed",
		Attrs:     map[string]any{"core": "GPU", "err": errors.New("busy")},
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	want := "2025-03-04 05:06:07.008 ERROR reset failed core=GPU err=busy\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestRingExporter_Window(t *testing.T) {
	ring := NewRingExporter(3)
	logger := New(Config{Quiet: true, Exporter: ring})
	defer logger.Close()

	for _, msg := range []string{"one", "two", "three", "four"} {
		logger.Info(msg)
	}

	lines := ring.Lines()
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	if !strings.HasSuffix(lines[0], "INFO two") {
		t.Errorf("oldest line = %q, want suffix 'INFO two'", lines[0])
	}
	if ring.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", ring.Dropped())
	}

	window := string(ring.Window())
	if strings.Count(window, "\n") != 3 || !strings.HasSuffix(window, "INFO four\n") {
		t.Errorf("unexpected window %q", window)
	}
}

func TestRingExporter_WindowByteBound(t *testing.T) {
	ring := NewRingExporter(10).WithMaxBytes(40)
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, msg := range []string{"aaaa", "bbbb", "cccc"} {
		_ = ring.Export(context.Background(), LogEntry{Timestamp: ts, Level: LevelInfo, Message: msg})
	}

	// Each line is 34 bytes with its newline, so only the newest fits.
	window := string(ring.Window())
	if window != "2025-01-01 00:00:00.000 INFO cccc\n" {
		t.Errorf("Window() = %q", window)
	}
}

func TestNewRingExporter_ClampsCapacity(t *testing.T) {
	ring := NewRingExporter(0)
	_ = ring.Export(context.Background(), LogEntry{Message: "x"})
	_ = ring.Export(context.Background(), LogEntry{Message: "y"})
	if len(ring.Lines()) != 1 {
		t.Errorf("capacity should clamp to 1, got %d lines", len(ring.Lines()))
	}
}
