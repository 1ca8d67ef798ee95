// Copyright (C) 2025 Praxis Learning (oss@praxislearn.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLevel_slogLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(99), slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.level.slogLevel(); got != tt.want {
			t.Errorf("slogLevel(%d) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestNew_FileSink(t *testing.T) {
	tmpDir := t.TempDir()
	logger := New(Config{
		LogDir:  tmpDir,
		Service: "cli",
		Quiet:   true,
	})
	defer logger.Close()

	if logger.file == nil {
		t.Fatal("expected a log file when LogDir is set")
	}

	files, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 log file, got %d", len(files))
	}
	if !strings.HasPrefix(files[0].Name(), "cli_") {
		t.Errorf("log file %q should be named after the service", files[0].Name())
	}
}

func TestNew_FileSinkDefaultsServiceName(t *testing.T) {
	tmpDir := t.TempDir()
	logger := New(Config{LogDir: tmpDir, Quiet: true})
	defer logger.Close()

	files, _ := os.ReadDir(tmpDir)
	if len(files) != 1 || !strings.HasPrefix(files[0].Name(), "praxis_") {
		t.Errorf("expected a praxis_ prefixed file, got %v", files)
	}
}

func TestNew_UnwritableLogDirIsNonFatal(t *testing.T) {
	logger := New(Config{
		LogDir: "/proc/praxis/logs/cannot/exist",
		Quiet:  true,
	})
	defer logger.Close()

	if logger.file != nil {
		t.Error("file sink should be disabled for an unwritable directory")
	}
	logger.Info("still works")
}

func TestLogger_FileContentIsJSON(t *testing.T) {
	tmpDir := t.TempDir()
	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  tmpDir,
		Service: "cli",
		Quiet:   true,
	})

	logger.Info("stream finished", "session_id", "sess-9")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	files, _ := os.ReadDir(tmpDir)
	if len(files) == 0 {
		t.Fatal("no log file created")
	}
	content, err := os.ReadFile(filepath.Join(tmpDir, files[0].Name()))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), `"session_id":"sess-9"`) {
		t.Errorf("log file should carry JSON attrs, got: %s", content)
	}
	if !strings.Contains(string(content), `"service":"cli"`) {
		t.Errorf("log file should stamp the service, got: %s", content)
	}
}

func TestLogger_ExporterReceivesEntries(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelDebug,
		Exporter: exporter,
		Quiet:    true,
	})
	defer logger.Close()

	logger.Debug("connecting", "attempt", 1)
	logger.Info("connected", "session_id", "sess-1")
	time.Sleep(50 * time.Millisecond)

	entries := exporter.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != LevelDebug || entries[0].Message != "connecting" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Attrs["session_id"] != "sess-1" {
		t.Errorf("Attrs[session_id] = %v, want sess-1", entries[1].Attrs["session_id"])
	}
}

func TestLogger_ExporterHonorsLevel(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelWarn,
		Exporter: exporter,
		Quiet:    true,
	})
	defer logger.Close()

	logger.Debug("debug")
	logger.Info("info")
	logger.Warn("warn")
	logger.Error("error")
	time.Sleep(50 * time.Millisecond)

	if got := len(exporter.Entries()); got != 2 {
		t.Errorf("expected only warn and error exported, got %d entries", got)
	}
}

func TestLogger_ConcurrentUse(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Exporter: exporter,
		Quiet:    true,
	})
	defer logger.Close()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Info("concurrent", "n", n)
		}(i)
	}
	wg.Wait()
	time.Sleep(100 * time.Millisecond)

	if got := len(exporter.Entries()); got != 100 {
		t.Errorf("expected 100 entries, got %d", got)
	}
}

func TestLogger_Close_NoResources(t *testing.T) {
	logger := New(Config{Quiet: true})
	if err := logger.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestLogger_Close_SurfacesExporterErrors(t *testing.T) {
	exporter := &errorExporter{flushErr: errors.New("flush failed")}
	logger := New(Config{Exporter: exporter, Quiet: true})

	err := logger.Close()
	if err == nil || !strings.Contains(err.Error(), "flush exporter") {
		t.Errorf("expected flush error from Close, got %v", err)
	}
}

// errorExporter fails on demand.
type errorExporter struct {
	flushErr error
	closeErr error
}

func (e *errorExporter) Export(ctx context.Context, entry LogEntry) error { return nil }
func (e *errorExporter) Flush(ctx context.Context) error                  { return e.flushErr }
func (e *errorExporter) Close() error                                     { return e.closeErr }

func TestMultiHandler_IndependentLevelFiltering(t *testing.T) {
	var debugSink, errorSink strings.Builder
	mh := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&debugSink, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&errorSink, &slog.HandlerOptions{Level: slog.LevelError}),
	}}

	record := slog.Record{Level: slog.LevelInfo, Message: "info line"}
	if err := mh.Handle(context.Background(), record); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if debugSink.Len() == 0 {
		t.Error("debug sink should receive info records")
	}
	if errorSink.Len() != 0 {
		t.Error("error sink should filter out info records")
	}
	if !mh.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("handler should be enabled when any sink accepts the level")
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		input string
		want  string
	}{
		{"~/.praxis/logs", filepath.Join(home, ".praxis/logs")},
		{"~", home},
		{"/var/log", "/var/log"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := expandPath(tt.input); got != tt.want {
			t.Errorf("expandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAttrMap(t *testing.T) {
	got := attrMap([]any{"k1", "v1", "k2", 42, 99, "bad-key", "orphan"})
	if len(got) != 2 || got["k1"] != "v1" || got["k2"] != 42 {
		t.Errorf("attrMap = %v", got)
	}
}

func TestBufferedExporter_EntriesReturnsCopy(t *testing.T) {
	e := NewBufferedExporter()
	_ = e.Export(context.Background(), LogEntry{Message: "original"})

	first := e.Entries()
	first[0].Message = "modified"

	if e.Entries()[0].Message != "original" {
		t.Error("Entries must return a copy")
	}
}
