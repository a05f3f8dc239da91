package services

import (
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity level of a log entry
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// LogField represents a structured log field
type LogField = zap.Field

// Logger interface for structured logging
type Logger interface {
	Debug(msg string, fields ...LogField)
	Info(msg string, fields ...LogField)
	Warn(msg string, fields ...LogField)
	Error(msg string, err error, fields ...LogField)
	With(fields ...LogField) Logger
}

// StructuredLogger implements Logger on top of zap
type StructuredLogger struct {
	zl *zap.Logger
}

// NewStructuredLogger creates a JSON logger writing to output
func NewStructuredLogger(level LogLevel, output io.Writer) *StructuredLogger {
	return newStructuredLogger(level, "json", output)
}

func newStructuredLogger(level LogLevel, format string, output io.Writer) *StructuredLogger {
	if output == nil {
		output = os.Stdout
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder

	var encoder zapcore.Encoder
	if strings.EqualFold(format, "text") || strings.EqualFold(format, "console") {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(output), level.zapLevel())
	return &StructuredLogger{zl: zap.New(core)}
}

// NewZapLogger adapts an existing zap logger
func NewZapLogger(zl *zap.Logger) *StructuredLogger {
	if zl == nil {
		zl = zap.NewNop()
	}
	return &StructuredLogger{zl: zl}
}

// NewNopLogger discards everything
func NewNopLogger() *StructuredLogger {
	return NewZapLogger(zap.NewNop())
}

func (l *StructuredLogger) Debug(msg string, fields ...LogField) {
	l.zl.Debug(msg, fields...)
}

func (l *StructuredLogger) Info(msg string, fields ...LogField) {
	l.zl.Info(msg, fields...)
}

func (l *StructuredLogger) Warn(msg string, fields ...LogField) {
	l.zl.Warn(msg, fields...)
}

// Error logs an error message; err may be nil
func (l *StructuredLogger) Error(msg string, err error, fields ...LogField) {
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.zl.Error(msg, fields...)
}

// With creates a new logger with additional base fields
func (l *StructuredLogger) With(fields ...LogField) Logger {
	return &StructuredLogger{zl: l.zl.With(fields...)}
}

// Sync flushes buffered entries
func (l *StructuredLogger) Sync() error {
	return l.zl.Sync()
}

func String(key, value string) LogField {
	return zap.String(key, value)
}

func Int(key string, value int) LogField {
	return zap.Int(key, value)
}

func Int64(key string, value int64) LogField {
	return zap.Int64(key, value)
}

func Float64(key string, value float64) LogField {
	return zap.Float64(key, value)
}

func Bool(key string, value bool) LogField {
	return zap.Bool(key, value)
}

func Duration(key string, value time.Duration) LogField {
	return zap.Duration(key, value)
}

func Any(key string, value interface{}) LogField {
	return zap.Any(key, value)
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level  LogLevel
	Format string // "json" or "text"
	Output io.Writer
}

// NewLoggerFromConfig creates a logger from configuration
func NewLoggerFromConfig(config *LoggerConfig) *StructuredLogger {
	if config == nil {
		return NewStructuredLogger(LogLevelInfo, os.Stdout)
	}

	level := config.Level
	if level == "" {
		level = LogLevelInfo
	}

	return newStructuredLogger(level, config.Format, config.Output)
}

// ParseLogLevel parses a log level string
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}
