// Package logging provides structured logging for secure column operations.
// It includes a GORM logger adapter and an slog-backed default Logger.
package logging

import "time"

// LogLevel is the verbosity of DBLogger, numerically aligned with GORM's logger levels
type LogLevel int

const (
	Silent LogLevel = iota + 1
	Error
	Warn
	Info
)

// Logger is what every package of the module logs through. Implementations must never
// be handed plaintext of a secure column; callers log column names and counts only.
type Logger interface {
	Trace(msg string, fields ...LogField)
	Debug(msg string, fields ...LogField)
	Info(msg string, fields ...LogField)
	Warn(msg string, fields ...LogField)
	Error(msg string, fields ...LogField)
	Fatal(msg string, fields ...LogField)
	With(fields ...LogField) Logger
}

// LogField is one structured key/value pair
type LogField struct {
	Key   string
	Value interface{}
}

func String(key string, value string) LogField          { return LogField{key, value} }
func Int(key string, value int) LogField                { return LogField{key, value} }
func Int64(key string, value int64) LogField            { return LogField{key, value} }
func Bool(key string, value bool) LogField              { return LogField{key, value} }
func Duration(key string, value time.Duration) LogField { return LogField{key, value} }
func Strings(key string, value []string) LogField       { return LogField{key, value} }
func Any(key string, value interface{}) LogField        { return LogField{key, value} }

// ErrorField logs err under "error"
func ErrorField(err error) LogField { return LogField{"error", err} }

// OperationLogger logs the outcome of one repository or client operation on a table,
// with its elapsed time
type OperationLogger struct {
	out       Logger
	operation string
	table     string
	started   time.Time
	extra     []LogField
}

func NewOperationLogger(l Logger, operation, table string) *OperationLogger {
	return &OperationLogger{out: l, operation: operation, table: table, started: time.Now()}
}

// WithField adds a field to every later entry
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.extra = append(ol.extra, LogField{key, value})
	return ol
}

func (ol *OperationLogger) fields(status string, more ...LogField) []LogField {
	out := make([]LogField, 0, len(ol.extra)+len(more)+4)
	out = append(out, ol.extra...)
	out = append(out,
		String("operation", ol.operation),
		String("table", ol.table),
		Duration("duration", time.Since(ol.started)),
		String("status", status),
	)
	return append(out, more...)
}

// Success logs at debug level; successful operations are the common case
func (ol *OperationLogger) Success(message string) {
	ol.out.Debug(message, ol.fields("success")...)
}

func (ol *OperationLogger) Error(message string, err error) {
	ol.out.Error(message, ol.fields("error", ErrorField(err))...)
}

func (ol *OperationLogger) Warn(message string) {
	ol.out.Warn(message, ol.fields("warning")...)
}
