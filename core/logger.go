package core

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger adapts a zap.Logger to the Logger interface. Fields arrive as
// maps at call sites and are converted to zap fields in sorted key order so
// output is stable across runs.
type ZapLogger struct {
	base *zap.Logger
}

// NewLogger builds the process logger from logging configuration.
// Format "json" emits one JSON object per line; "text" uses the console
// encoder for local development.
func NewLogger(cfg LoggingConfig, serviceName string) (*ZapLogger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: log level %q", ErrInvalidConfiguration, cfg.Level)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.MessageKey = "message"

	zcfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Encoding:         "json",
		EncoderConfig:    encCfg,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "text" {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}

	base, err := zcfg.Build(zap.Fields(zap.String("service", serviceName)))
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return &ZapLogger{base: base}, nil
}

// NewLoggerFromZap wraps an existing zap logger, for tests and callers that
// manage their own zap configuration.
func NewLoggerFromZap(base *zap.Logger) *ZapLogger {
	return &ZapLogger{base: base}
}

// With returns a child logger carrying the given fields on every entry.
func (l *ZapLogger) With(fields map[string]interface{}) *ZapLogger {
	return &ZapLogger{base: l.base.With(fieldsToZap(fields)...)}
}

// Zap exposes the underlying zap logger for packages that need typed fields.
func (l *ZapLogger) Zap() *zap.Logger {
	return l.base
}

// Sync flushes buffered entries. Call before process exit.
func (l *ZapLogger) Sync() error {
	return l.base.Sync()
}

func (l *ZapLogger) Info(msg string, fields map[string]interface{}) {
	l.base.Info(msg, fieldsToZap(fields)...)
}

func (l *ZapLogger) Error(msg string, fields map[string]interface{}) {
	l.base.Error(msg, fieldsToZap(fields)...)
}

func (l *ZapLogger) Warn(msg string, fields map[string]interface{}) {
	l.base.Warn(msg, fieldsToZap(fields)...)
}

func (l *ZapLogger) Debug(msg string, fields map[string]interface{}) {
	l.base.Debug(msg, fieldsToZap(fields)...)
}

func fieldsToZap(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	zf := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		switch v := fields[k].(type) {
		case error:
			zf = append(zf, zap.String(k, v.Error()))
		default:
			zf = append(zf, zap.Any(k, v))
		}
	}
	return zf
}
