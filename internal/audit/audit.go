// Package audit records one structured entry per proxied or denied request.
//
// Sinks are safe for concurrent use. Each entry is written whole: a reader
// of a JSON Lines audit file never sees a partially written line.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/tjamescouch/agentauth/internal/model"
)

// Sink accepts audit entries. Write must not block on anything but its own
// storage, and its error is informational: callers never fail a response
// because an entry could not be stored.
type Sink interface {
	Write(entry model.AuditEntry) error
}

// FileSink appends entries as JSON Lines to a single file.
type FileSink struct {
	mu     sync.Mutex
	f      *os.File
	closed bool
}

// OpenFile opens (creating if needed) the audit file at path in append mode.
// The file is created with 0600 permissions: entries reveal which APIs agents call.
func OpenFile(path string) (*FileSink, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("audit: create dir %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &FileSink{f: f}, nil
}

// Write encodes entry and appends it as one line with a single write call.
func (s *FileSink) Write(entry model.AuditEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: encode entry: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("audit: write to closed sink")
	}
	if _, err := s.f.Write(line); err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file. Later writes fail.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.f.Sync(); err != nil {
		_ = s.f.Close()
		return fmt.Errorf("audit: sync: %w", err)
	}
	return s.f.Close()
}

// LogSink emits entries through a structured logger. It is the fallback
// when no audit file is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "audit")}
}

// Write logs entry at info level under the message "audit".
func (s *LogSink) Write(entry model.AuditEntry) error {
	attrs := []any{
		"backend", entry.Backend,
		"method", entry.Method,
		"path", entry.Path,
		"allowed", entry.Allowed,
	}
	if entry.Status != nil {
		attrs = append(attrs, "status", *entry.Status)
	}
	if entry.DurationMs != nil {
		attrs = append(attrs, "duration_ms", *entry.DurationMs)
	}
	if entry.Reason != "" {
		attrs = append(attrs, "reason", entry.Reason)
	}
	s.logger.Log(context.Background(), slog.LevelInfo, "audit", attrs...)
	return nil
}

// Memory keeps entries in memory. Useful for tests and embedding.
type Memory struct {
	mu      sync.Mutex
	entries []model.AuditEntry
}

// Write appends entry.
func (m *Memory) Write(entry model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// Entries returns a snapshot of the recorded entries.
func (m *Memory) Entries() []model.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.entries)
}

var (
	_ Sink = (*FileSink)(nil)
	_ Sink = (*LogSink)(nil)
	_ Sink = (*Memory)(nil)
)
