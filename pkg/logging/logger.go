// Copyright (C) 2026 Arbiter AI (oss@arbiter-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for Arbiter components.
//
// This package implements a layered logging architecture:
//
//   - Default: stderr output for CLI compatibility (follows Unix conventions)
//   - Optional: file logging with automatic directory creation
//   - Enterprise: extensible via LogExporter interface for cloud upload
//
// # Basic Usage
//
// For simple CLI usage with stderr output:
//
//	logger := logging.Default()
//	logger.Info("forecast submitted", "forecast_id", id)
//	logger.Error("resolution failed", "error", err)
//
// # File Logging
//
// To enable file logging alongside stderr:
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    LogDir:  "~/.arbiter/logs",
//	    Service: "verdictd",
//	})
//	defer logger.Close()
//
// This creates log files named `{service}_{date}.log` in JSON format.
//
// # Thread Safety
//
// Logger is safe for concurrent use. The underlying slog.Logger is
// thread-safe and file handles are guarded by a mutex.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Level represents log severity. Levels follow the slog convention and are
// ordered Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = iota

	// LevelInfo is for normal operational messages.
	LevelInfo

	// LevelWarn is for potentially problematic situations.
	LevelWarn

	// LevelError is for operation failures the system survives.
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a level name ("debug", "info", "warn", "error") to a
// Level. Unknown names default to LevelInfo.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// LogExporter is the enterprise extension point for log export.
//
// Implementations can upload logs to cloud storage or forward them to log
// aggregation systems. Export must be non-blocking; buffer internally and
// flush in batches. Export failures must not disrupt normal logging.
//
// The open source version uses nil (no export).
type LogExporter interface {
	// Export sends one entry to the external system. Called for each log
	// entry with a short-timeout context; implementations should buffer.
	Export(ctx context.Context, entry LogEntry) error

	// Flush sends all buffered entries. Called during graceful shutdown.
	Flush(ctx context.Context) error

	// Close releases resources. Called after Flush during shutdown.
	Close() error
}

// LogEntry is the exporter-facing representation of one log record.
type LogEntry struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Service string            `json:"service,omitempty"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// Config configures Logger behavior. A zero-value Config creates a logger
// that writes Info+ messages to stderr in text format.
type Config struct {
	// Level sets the minimum log level. Default: LevelInfo.
	Level Level

	// LogDir enables file logging to the specified directory. The file is
	// named "{Service}_{YYYY-MM-DD}.log" in JSON format. Supports ~ for
	// home directory expansion. Default: "" (file logging disabled).
	LogDir string

	// Service identifies the component generating logs and is included in
	// every entry as the "service" attribute. Default: "" (omitted).
	Service string

	// JSON enables JSON output on stderr. File logs are always JSON.
	// Default: false (text format for stderr).
	JSON bool

	// Quiet disables stderr output. Useful for daemon processes where
	// stderr is not monitored. Default: false.
	Quiet bool

	// Exporter is the optional enterprise log export hook. Default: nil.
	Exporter LogExporter
}

// Logger wraps slog.Logger with file lifecycle and export plumbing.
type Logger struct {
	*slog.Logger

	mu       sync.Mutex
	file     *os.File
	exporter LogExporter
}

// Default returns a logger writing Info+ text to stderr.
func Default() *Logger {
	return New(Config{})
}

// New creates a Logger from the given configuration.
//
// Description:
//
//	Builds the destination set (stderr, optional file, optional exporter)
//	and wraps it in a slog.Logger. File logging failures degrade to
//	stderr-only with a warning rather than failing startup.
//
// Inputs:
//
//	cfg - Logger configuration. Zero value is valid.
//
// Outputs:
//
//	*Logger - Ready-to-use logger. Call Close() if LogDir or Exporter set.
func New(cfg Config) *Logger {
	l := &Logger{exporter: cfg.Exporter}

	var writers []io.Writer
	if !cfg.Quiet {
		writers = append(writers, os.Stderr)
	}

	if cfg.LogDir != "" {
		if f, err := openLogFile(cfg.LogDir, cfg.Service); err != nil {
			fmt.Fprintf(os.Stderr, "logging: file output disabled: %v\n", err)
		} else {
			l.file = f
			writers = append(writers, f)
		}
	}

	var out io.Writer = io.Discard
	if len(writers) == 1 {
		out = writers[0]
	} else if len(writers) > 1 {
		out = io.MultiWriter(writers...)
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.toSlogLevel()}
	var handler slog.Handler
	if cfg.JSON || cfg.LogDir != "" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	if cfg.Exporter != nil {
		handler = &exportHandler{Handler: handler, exporter: cfg.Exporter, service: cfg.Service}
	}

	logger := slog.New(handler)
	if cfg.Service != "" {
		logger = logger.With(slog.String("service", cfg.Service))
	}
	l.Logger = logger
	return l
}

// Close flushes and closes the log file and exporter, if any.
// Safe to call multiple times.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	if l.exporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.exporter.Flush(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		cancel()
		if err := l.exporter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		l.exporter = nil
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		l.file = nil
	}
	return firstErr
}

// WithTrace returns a logger with trace_id and span_id attached from the
// span context, if the context carries a valid span. All request-path logs
// should flow through this so traces and logs can be joined.
func WithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

func openLogFile(dir, service string) (*os.File, error) {
	if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("expand home directory: %w", err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if service == "" {
		service = "arbiter"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().UTC().Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// exportHandler tees records to a LogExporter after normal handling.
type exportHandler struct {
	slog.Handler
	exporter LogExporter
	service  string
}

func (h *exportHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.Handler.Handle(ctx, r)

	entry := LogEntry{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
		Service: h.service,
		Attrs:   make(map[string]string, r.NumAttrs()),
	}
	r.Attrs(func(a slog.Attr) bool {
		entry.Attrs[a.Key] = a.Value.String()
		return true
	})

	exportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	_ = h.exporter.Export(exportCtx, entry) // export failures never disrupt logging
	return err
}

func (h *exportHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &exportHandler{Handler: h.Handler.WithAttrs(attrs), exporter: h.exporter, service: h.service}
}

func (h *exportHandler) WithGroup(name string) slog.Handler {
	return &exportHandler{Handler: h.Handler.WithGroup(name), exporter: h.exporter, service: h.service}
}
