package logging

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const maxLoggedSQL = 1000

// LoggerConfig configures DBLogger. LogLevel uses GORM's ordering: Silent < Error < Warn < Info.
type LoggerConfig struct {
	LogLevel             LogLevel
	IgnoreRecordNotFound bool
	SlowThreshold        time.Duration
	SourceField          string
}

func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		LogLevel:             Warn,
		IgnoreRecordNotFound: true,
		SlowThreshold:        200 * time.Millisecond,
		SourceField:          "source",
	}
}

// DBLogger is GORM's logger.Interface on top of a Logger. Statements are passed through
// SanitizeSQL, so sealed column values never reach the log as literals.
type DBLogger struct {
	out    Logger
	config LoggerConfig
}

func NewDBLogger(l Logger, config LoggerConfig) *DBLogger {
	return &DBLogger{out: l, config: config}
}

var gormLevels = map[logger.LogLevel]LogLevel{
	logger.Silent: Silent,
	logger.Error:  Error,
	logger.Warn:   Warn,
	logger.Info:   Info,
}

// LogMode implements logger.Interface
func (l *DBLogger) LogMode(level logger.LogLevel) logger.Interface {
	clone := *l
	if mapped, ok := gormLevels[level]; ok {
		clone.config.LogLevel = mapped
	}
	return &clone
}

func (l *DBLogger) enabled(level LogLevel) bool {
	return l.config.LogLevel > Silent && l.config.LogLevel >= level
}

func (l *DBLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.enabled(Info) {
		l.out.Info(fmt.Sprintf(msg, data...), contextFields(ctx)...)
	}
}

func (l *DBLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.enabled(Warn) {
		l.out.Warn(fmt.Sprintf(msg, data...), contextFields(ctx)...)
	}
}

func (l *DBLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.enabled(Error) {
		l.out.Error(fmt.Sprintf(msg, data...), contextFields(ctx)...)
	}
}

// Trace implements logger.Interface. Failures log at error level, slow statements at
// warn, everything else at info. A missing record is an expected outcome of First and
// is logged at info when IgnoreRecordNotFound is set.
func (l *DBLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if !l.enabled(Error) {
		return
	}

	elapsed := time.Since(begin)
	statement, rows := fc()
	sanitized, redacted := redactSQL(statement)

	fields := append(contextFields(ctx),
		Duration("elapsed", elapsed),
		String("sql", sanitized),
		Int64("rows_affected", rows),
	)
	if redacted > 0 {
		fields = append(fields, Int("redacted_literals", redacted))
	}
	if l.config.SourceField != "" {
		if src := caller(4); src != "" {
			fields = append(fields, String(l.config.SourceField, src))
		}
	}

	failed := err != nil && !(l.config.IgnoreRecordNotFound && isRecordNotFound(err))
	slow := l.config.SlowThreshold > 0 && elapsed > l.config.SlowThreshold

	switch {
	case failed:
		l.out.Error("Database query failed", append(fields, ErrorField(err))...)
	case slow && l.enabled(Warn):
		l.out.Warn("Slow SQL query detected", fields...)
	case l.enabled(Info):
		l.out.Info("Database query executed", fields...)
	}
}

var (
	credentialAssignment = regexp.MustCompile(`(?i)(password|token|secret|key)(\s*=\s*['"])[^'"]*(['"])`)
	// sealed columns render as hex blob literals: x'..' on sqlite/mysql, '\x..' on postgres
	binaryLiteral = regexp.MustCompile(`(?i)(x'|\\x)[0-9a-f]{16,}'?`)
)

// SanitizeSQL masks credential assignments and binary literals and caps the length of a
// statement before it is logged
func SanitizeSQL(sql string) string {
	sanitized, _ := redactSQL(sql)
	return sanitized
}

func redactSQL(sql string) (string, int) {
	out := credentialAssignment.ReplaceAllString(sql, "${1}${2}***${3}")
	redacted := len(binaryLiteral.FindAllStringIndex(out, -1))
	out = binaryLiteral.ReplaceAllString(out, "<binary>")
	if len(out) > maxLoggedSQL {
		out = out[:maxLoggedSQL] + "... (truncated)"
	}
	return out, redacted
}

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

// contextFields copies correlation IDs stored under plain string keys
func contextFields(ctx context.Context) []LogField {
	if ctx == nil {
		return nil
	}
	var fields []LogField
	for _, key := range []string{"trace_id", "request_id", "user_id", "tenant_id"} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			fields = append(fields, String(key, v))
		}
	}
	return fields
}

func isRecordNotFound(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "record not found")
}
