// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides structured logging for the kernel, host loop
// and governance layer.
//
// Feature: CORE_LOGGING
// Spec: spec/core/logging.md
package telemetry

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a structured key-value pair attached to a log line.
type Field = zap.Field

// F constructs a Field. Thin alias kept so call sites never import zap
// directly — mirrors the teacher's pkg/logging.NewField shape.
func F(key string, value any) Field {
	return zap.Any(key, value)
}

// Logger is the structured logging surface used throughout the kernel.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	With(fields ...Field) Logger
}

type zapLogger struct {
	z *zap.Logger
}

// NewLogger constructs a Logger. If verbose is true, Debug-level logs are
// emitted; otherwise the floor is Info. Output is structured JSON on
// stderr, matching how a long-running host process would be operated.
func NewLogger(verbose bool) Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(cfg),
		zapcore.Lock(os.Stderr),
		level,
	)

	return &zapLogger{z: zap.New(core)}
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() Logger {
	return &zapLogger{z: zap.NewNop()}
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, fields...) }

func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{z: l.z.With(fields...)}
}
