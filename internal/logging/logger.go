// Package logging provides the structured logging contract used throughout
// activeproxy. The interface shape (Fork for per-component child loggers,
// leveled Debugf/Infof/Warnf methods, Errorf that logs and returns an
// error carrying the same message) follows the
// teacher's own Logger interface; the backend is go.uber.org/zap instead of
// a hand-rolled log.Logger wrapper.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging contract used by every package in this module. Its
// shape mirrors the teacher's chshare.Logger: a small set of leveled
// convenience methods plus Fork for scoping a child logger to a component
// or a single connection.
type Logger interface {
	// Debugf logs at debug level.
	Debugf(f string, args ...interface{})
	// Infof logs at info level.
	Infof(f string, args ...interface{})
	// Warnf logs at warning level.
	Warnf(f string, args ...interface{})
	// Errorf logs at error level and returns a wrapped error carrying the
	// same message, mirroring the teacher's Logger.Errorf.
	Errorf(f string, args ...interface{}) error
	// Panicf logs at panic level and then panics.
	Panicf(f string, args ...interface{})

	// With returns a child Logger with the given structured fields attached
	// to every subsequent log line.
	With(fields ...Field) Logger

	// Fork returns a child Logger whose name is "parent/name", matching the
	// teacher's Fork(prefix) convention.
	Fork(name string) Logger

	// Sync flushes any buffered log entries.
	Sync() error
}

// Field is a structured logging key/value pair.
type Field = zap.Field

// String, Int, Uint32, Uint64, Duration, and Err construct Fields; these
// are thin re-exports so callers never need to import zap directly.
var (
	String   = zap.String
	Int      = zap.Int
	Uint32   = zap.Uint32
	Uint64   = zap.Uint64
	Duration = zap.Duration
	Err      = zap.Error
	Bool     = zap.Bool
)

type zapLogger struct {
	z    *zap.Logger
	s    *zap.SugaredLogger
	name string
}

// New builds a Logger backed by zap. debug enables debug-level output;
// otherwise info and above are logged.
func New(debug bool) Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		z = zap.NewNop()
	}
	return &zapLogger{z: z, s: z.Sugar()}
}

// Nop returns a Logger that discards everything, for tests that don't care
// about log output.
func Nop() Logger {
	z := zap.NewNop()
	return &zapLogger{z: z, s: z.Sugar()}
}

func (l *zapLogger) Debugf(f string, args ...interface{}) { l.s.Debugf(f, args...) }
func (l *zapLogger) Infof(f string, args ...interface{})  { l.s.Infof(f, args...) }
func (l *zapLogger) Warnf(f string, args ...interface{})  { l.s.Warnf(f, args...) }

func (l *zapLogger) Errorf(f string, args ...interface{}) error {
	err := fmt.Errorf(f, args...)
	l.s.Error(err.Error())
	return err
}

func (l *zapLogger) Panicf(f string, args ...interface{}) {
	l.s.Panicf(f, args...)
}

func (l *zapLogger) With(fields ...Field) Logger {
	z := l.z.With(fields...)
	return &zapLogger{z: z, s: z.Sugar(), name: l.name}
}

func (l *zapLogger) Fork(name string) Logger {
	full := name
	if l.name != "" {
		full = l.name + "/" + name
	}
	z := l.z.With(String("component", full))
	return &zapLogger{z: z, s: z.Sugar(), name: full}
}

func (l *zapLogger) Sync() error {
	return l.z.Sync()
}
