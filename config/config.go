// Package config provides parley's hot-reloadable server settings: a TOML
// file format, an atomically swappable store, and an fsnotify watcher that
// feeds file edits back into the store.
package config

import (
	"fmt"
	"time"

	"github.com/parley-ls/parley/protocol"
)

// Settings is the server configuration surface. All fields have working
// defaults; an absent config file is not an error.
type Settings struct {
	// DebounceMS is the delay in milliseconds between the last edit to a
	// document and diagnostics recomputation.
	DebounceMS int64 `toml:"debounce_ms"`

	// MinSeverity is the least severe diagnostic level published to the
	// client: "error", "warning", "information", or "hint".
	MinSeverity string `toml:"min_severity"`

	// LogLevel controls server logging: "debug", "info", "warn", "error".
	LogLevel string `toml:"log_level"`
}

// DefaultSettings returns the settings used when no config file exists.
func DefaultSettings() *Settings {
	return &Settings{
		DebounceMS:  300,
		MinSeverity: "hint",
		LogLevel:    "info",
	}
}

var severities = map[string]protocol.DiagnosticSeverity{
	"error":       protocol.SeverityError,
	"warning":     protocol.SeverityWarning,
	"information": protocol.SeverityInformation,
	"hint":        protocol.SeverityHint,
}

// Validate rejects settings that would misconfigure the server.
func (s *Settings) Validate() error {
	if s.DebounceMS < 0 {
		return fmt.Errorf("debounce_ms must be >= 0, got %d", s.DebounceMS)
	}
	if s.MinSeverity != "" {
		if _, ok := severities[s.MinSeverity]; !ok {
			return fmt.Errorf("unknown min_severity %q", s.MinSeverity)
		}
	}
	switch s.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", s.LogLevel)
	}
	return nil
}

// Debounce returns the debounce delay as a duration.
func (s *Settings) Debounce() time.Duration {
	return time.Duration(s.DebounceMS) * time.Millisecond
}

// Severity returns the diagnostic severity floor.
func (s *Settings) Severity() protocol.DiagnosticSeverity {
	if sev, ok := severities[s.MinSeverity]; ok {
		return sev
	}
	return protocol.SeverityHint
}
