// Package logging defines the small Logger interface used throughout the
// scheduler, backed by go.uber.org/zap.
package logging

import (
	"go.uber.org/zap"
)

// Logger is the logging surface every scheduler component takes through
// its constructor. No package reaches for the log stdlib or a package
// level logger directly.
//
// With binds fields to a child Logger so a caller that's about to make
// several log calls about the same execution or task doesn't have to
// repeat the same Field on every one of them — scheduler.go does this
// once per picked execution rather than attaching
// Field{"execution", id} to each of pickAndExecute's half-dozen log
// calls individually.
type Logger interface {
	Debug(msg string, args ...Field)
	Info(msg string, args ...Field)
	Warn(msg string, args ...Field)
	Error(msg string, args ...Field)
	With(args ...Field) Logger
}

// Field is a single structured logging key/value pair.
type Field struct {
	Key string
	Val any
}

// ZapLogger adapts a *zap.Logger to the Logger interface, translating
// Field values to zap.Field lazily at each call rather than up front,
// since With's bound fields are stored as zap.Fields on construction
// and only the per-call args need translating.
type ZapLogger struct {
	zl *zap.Logger
}

// NewZapLogger wraps an existing zap logger.
func NewZapLogger(zl *zap.Logger) Logger {
	return &ZapLogger{zl: zl}
}

// NewNop returns a Logger that discards everything, for tests that don't
// care about log output.
func NewNop() Logger {
	return NewZapLogger(zap.NewNop())
}

func (z *ZapLogger) Debug(msg string, args ...Field) { z.zl.Debug(msg, toZapFields(args)...) }
func (z *ZapLogger) Info(msg string, args ...Field)  { z.zl.Info(msg, toZapFields(args)...) }
func (z *ZapLogger) Warn(msg string, args ...Field)  { z.zl.Warn(msg, toZapFields(args)...) }
func (z *ZapLogger) Error(msg string, args ...Field) { z.zl.Error(msg, toZapFields(args)...) }

// With returns a child logger with args permanently attached, via
// zap's own With rather than re-appending the slice on every call.
func (z *ZapLogger) With(args ...Field) Logger {
	return &ZapLogger{zl: z.zl.With(toZapFields(args)...)}
}

func toZapFields(args []Field) []zap.Field {
	res := make([]zap.Field, 0, len(args))
	for _, arg := range args {
		res = append(res, zap.Any(arg.Key, arg.Val))
	}
	return res
}

// Err is a small helper for the common "err" field.
func Err(err error) Field {
	return Field{Key: "err", Val: err}
}
