package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelTrace sits below slog's debug level
const LevelTrace = slog.Level(-8)

var redactedKeys = map[string]struct{}{
	"plaintext":   {},
	"ciphertext":  {},
	"value":       {},
	"master_key":  {},
	"key":         {},
	"salt":        {},
	"password":    {},
	"secret":      {},
	"private_key": {},
}

// SlogLogger implements Logger on top of log/slog and redacts sensitive keys
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger writes JSON records at or above level to w
func NewSlogLogger(w io.Writer, level slog.Level) *SlogLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &SlogLogger{logger: slog.New(&redactingHandler{inner: handler})}
}

// NewStdLogger returns the default logger writing to stderr at the given level name
func NewStdLogger(level string) *SlogLogger {
	return NewSlogLogger(os.Stderr, ParseLevel(level))
}

// ParseLevel maps a level name to an slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "fatal":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (l *SlogLogger) log(level slog.Level, msg string, fields []LogField) {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

func (l *SlogLogger) Trace(msg string, fields ...LogField) { l.log(LevelTrace, msg, fields) }
func (l *SlogLogger) Debug(msg string, fields ...LogField) { l.log(slog.LevelDebug, msg, fields) }
func (l *SlogLogger) Info(msg string, fields ...LogField)  { l.log(slog.LevelInfo, msg, fields) }
func (l *SlogLogger) Warn(msg string, fields ...LogField)  { l.log(slog.LevelWarn, msg, fields) }
func (l *SlogLogger) Error(msg string, fields ...LogField) { l.log(slog.LevelError, msg, fields) }

// Fatal logs at error level and exits
func (l *SlogLogger) Fatal(msg string, fields ...LogField) {
	l.log(slog.LevelError, msg, fields)
	os.Exit(1)
}

// With returns a logger that always carries fields
func (l *SlogLogger) With(fields ...LogField) Logger {
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, slog.Any(f.Key, f.Value))
	}
	return &SlogLogger{logger: l.logger.With(args...)}
}

type redactingHandler struct {
	inner slog.Handler
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, record slog.Record) error {
	redacted := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		redacted.AddAttrs(redactAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, redacted)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		redacted = append(redacted, redactAttr(attr))
	}
	return &redactingHandler{inner: h.inner.WithAttrs(redacted)}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{inner: h.inner.WithGroup(name)}
}

func redactAttr(attr slog.Attr) slog.Attr {
	if _, ok := redactedKeys[strings.ToLower(attr.Key)]; ok {
		return slog.String(attr.Key, "[REDACTED]")
	}
	if attr.Value.Kind() == slog.KindGroup {
		group := attr.Value.Group()
		out := make([]slog.Attr, 0, len(group))
		for _, nested := range group {
			out = append(out, redactAttr(nested))
		}
		return slog.Attr{Key: attr.Key, Value: slog.GroupValue(out...)}
	}
	return attr
}

// NopLogger discards everything
type NopLogger struct{}

func (NopLogger) Trace(string, ...LogField) {}
func (NopLogger) Debug(string, ...LogField) {}
func (NopLogger) Info(string, ...LogField)  {}
func (NopLogger) Warn(string, ...LogField)  {}
func (NopLogger) Error(string, ...LogField) {}
func (NopLogger) Fatal(string, ...LogField) {}

// With returns the receiver
func (n NopLogger) With(...LogField) Logger { return n }
