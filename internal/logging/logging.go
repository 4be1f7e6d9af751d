// Package logging provides structured logging for the content store.
//
// This package wraps the standard library's log/slog package so that every
// component logs the same way. It supports text and JSON output, a
// configurable level, and component-scoped loggers.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false) // Text format
//	logging.Init(slog.LevelDebug, true) // JSON format for production
//
//	// Get a component logger
//	log := logging.Component("retention")
//	log.Info("archival sweep finished", "archived", 1000)
//
//	// Log with context
//	log.Error("cold write failed", "error", err, "content_id", id)
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu     sync.RWMutex
	logger *slog.Logger
)

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	InitWithWriter(os.Stdout, level, jsonFormat)
}

// InitWithWriter initializes the global logger writing to w.
func InitWithWriter(w io.Writer, level slog.Level, jsonFormat bool) {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	InitWithHandler(handler)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	l := slog.New(handler)

	mu.Lock()
	logger = l
	mu.Unlock()

	slog.SetDefault(l)
}

// ParseLevel converts a config level name into a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func base() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		return l
	}
	return slog.Default()
}

// With returns a new logger with additional attributes.
func With(args ...any) *slog.Logger {
	return base().With(args...)
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// Component loggers are usually created at package init, before Init runs,
// so the returned logger resolves the global handler on every call.
//
// Example:
//
//	log := logging.Component("cascade")
//	log.Info("started") // Output: time=... level=INFO component=cascade msg=started
func Component(name string) *slog.Logger {
	return slog.New(&componentHandler{attrs: []slog.Attr{slog.String("component", name)}})
}

// componentHandler forwards to whatever handler the global logger has at
// the time of the call.
type componentHandler struct {
	attrs  []slog.Attr
	groups []string
}

func (h *componentHandler) resolve() slog.Handler {
	hd := base().Handler()
	if len(h.attrs) > 0 {
		hd = hd.WithAttrs(h.attrs)
	}
	for _, g := range h.groups {
		hd = hd.WithGroup(g)
	}
	return hd
}

func (h *componentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return base().Handler().Enabled(ctx, level)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.resolve().Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &componentHandler{attrs: merged, groups: h.groups}
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &componentHandler{attrs: h.attrs, groups: groups}
}

// WithContext returns a logger that includes context values.
// This is useful for request-scoped logging.
func WithContext(ctx context.Context) *slog.Logger {
	l := base()

	if advisorID, ok := ctx.Value(contextKeyAdvisorID).(string); ok {
		l = l.With("advisor_id", advisorID)
	}
	if requestID, ok := ctx.Value(contextKeyRequestID).(string); ok {
		l = l.With("request_id", requestID)
	}

	return l
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeyAdvisorID contextKey = iota
	contextKeyRequestID
)

// ContextWithAdvisorID adds an advisor ID to the context for logging.
func ContextWithAdvisorID(ctx context.Context, advisorID string) context.Context {
	return context.WithValue(ctx, contextKeyAdvisorID, advisorID)
}

// ContextWithRequestID adds a request ID to the context for logging.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// =============================================================================
// Convenience Functions
// =============================================================================

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	base().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	base().Info(msg, args...)
}

// Warn logs at warning level.
func Warn(msg string, args ...any) {
	base().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	base().Error(msg, args...)
}
