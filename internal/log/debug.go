// SPDX-License-Identifier: MIT

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Redacted replaces sensitive values in debug log output.
const Redacted = "[REDACTED]"

var sensitiveSubstrings = []string{"password", "token", "secret", "auth", "cookie"}

// Suffixes that make a "*key*" field name safe to log as-is.
var safeKeySuffixes = []string{"_count", "_id", "_ids", "_name", "_names"}

// SensitiveField reports whether a field name must be redacted in debug logs.
func SensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range sensitiveSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	if strings.Contains(lower, "key") {
		for _, suffix := range safeKeySuffixes {
			if strings.HasSuffix(lower, suffix) {
				return false
			}
		}
		return true
	}
	return false
}

// DebugLogger writes one JSON object per line to a per-session log file.
// Every entry carries timestamp, session_id and level; arbitrary extra
// fields are redacted according to SensitiveField unless LogKeys is set.
type DebugLogger struct {
	mu        sync.Mutex
	sessionID string
	logKeys   bool
	out       *os.File
	logger    zerolog.Logger
}

// DebugOptions configures a DebugLogger.
type DebugOptions struct {
	Dir       string // logs root directory, created if missing
	Name      string // log file base name
	SessionID string
	LogKeys   bool // opt-in: log key material without redaction
}

// NewDebugLogger opens <dir>/<name>-<timestamp>.log and returns a logger
// bound to it. The caller owns Close.
func NewDebugLogger(opts DebugOptions) (*DebugLogger, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("debug log dir not set")
	}
	if err := os.MkdirAll(opts.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create debug log dir: %w", err)
	}
	name := opts.Name
	if name == "" {
		name = "session"
	}
	path := filepath.Join(opts.Dir, fmt.Sprintf("%s-%s.log", name, time.Now().UTC().Format("20060102T150405Z")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) // #nosec G304 -- path is built from configured dir
	if err != nil {
		return nil, fmt.Errorf("open debug log: %w", err)
	}
	l := zerolog.New(f).With().Logger()
	return &DebugLogger{
		sessionID: opts.SessionID,
		logKeys:   opts.LogKeys,
		out:       f,
		logger:    l,
	}, nil
}

// Path returns the underlying log file path.
func (d *DebugLogger) Path() string {
	if d == nil || d.out == nil {
		return ""
	}
	return d.out.Name()
}

// Close flushes and closes the log file.
func (d *DebugLogger) Close() error {
	if d == nil || d.out == nil {
		return nil
	}
	return d.out.Close()
}

// Log writes one debug event. Level must be one of DEBUG, INFO, WARNING,
// ERROR; anything else is coerced to DEBUG. Nil-safe.
func (d *DebugLogger) Log(level, operation, message string, fields map[string]any) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	switch level {
	case "DEBUG", "INFO", "WARNING", "ERROR":
	default:
		level = "DEBUG"
	}

	ev := d.logger.Log().
		Str("timestamp", time.Now().UTC().Format(time.RFC3339)).
		Str(FieldSessionID, d.sessionID).
		Str("level", level)
	if operation != "" {
		ev = ev.Str(FieldOperation, operation)
	}
	if message != "" {
		ev = ev.Str("message", message)
	}
	for k, v := range fields {
		ev = ev.Interface(k, d.redact(k, v))
	}
	ev.Send()
}

// redact walks nested maps and slices, replacing sensitive values.
func (d *DebugLogger) redact(name string, v any) any {
	if d.logKeys {
		return v
	}
	if SensitiveField(name) {
		return Redacted
	}
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = d.redact(k, inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = d.redact(name, inner)
		}
		return out
	default:
		return v
	}
}
