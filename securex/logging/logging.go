package logging

import internal "go-securex/securex/internal/logging"

// Re-export Logger and helpers for external packages/examples

type Logger = internal.Logger
type LogLevel = internal.LogLevel
type LogField = internal.LogField
type NopLogger = internal.NopLogger

var (
	String     = internal.String
	Int        = internal.Int
	Int64      = internal.Int64
	Bool       = internal.Bool
	Duration   = internal.Duration
	Strings    = internal.Strings
	ErrorField = internal.ErrorField
	Any        = internal.Any
)

const (
	Silent LogLevel = internal.Silent
	Error  LogLevel = internal.Error
	Warn   LogLevel = internal.Warn
	Info   LogLevel = internal.Info
)

type LoggerConfig = internal.LoggerConfig

func NewDBLogger(l Logger, cfg LoggerConfig) *internal.DBLogger { return internal.NewDBLogger(l, cfg) }
func NewStdLogger(level string) Logger                          { return internal.NewStdLogger(level) }
