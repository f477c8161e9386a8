// Package log provides scoped logging built on zerolog.
package log

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const scopeFieldName = "s"

// Logger is a scoped logger.
type Logger struct {
	lg zerolog.Logger
}

// Field is a structured log field attachable via [Logger.With].
type Field func(zerolog.Context) zerolog.Context

// Str returns a string field.
func Str(key, val string) Field {
	return func(c zerolog.Context) zerolog.Context { return c.Str(key, val) }
}

// Int64 returns an int64 field.
func Int64(key string, val int64) Field {
	return func(c zerolog.Context) zerolog.Context { return c.Int64(key, val) }
}

// Elapsed returns a duration field named "elapsed".
func Elapsed(dur time.Duration) Field {
	return func(c zerolog.Context) zerolog.Context { return c.Dur("elapsed", dur) }
}

// InitGlobals configures the global zerolog logger and returns it.
func InitGlobals(level zerolog.Level, json, noColor bool) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	lg := zerolog.New(os.Stderr)
	if !json {
		lg = lg.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    noColor,
			TimeFormat: time.RFC3339,
		})
	}

	lg = lg.Level(level).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &lg

	return lg
}

// New returns a logger scoped to the given component name.
func New(scope string) Logger {
	lg := zerolog.DefaultContextLogger
	if lg == nil {
		nop := zerolog.Nop()
		lg = &nop
	}

	return Logger{lg: lg.With().Str(scopeFieldName, scope).Logger()}
}

// Ctx returns the logger attached to the context.
func Ctx(ctx context.Context) Logger {
	return Logger{lg: *zerolog.Ctx(ctx)}
}

// With returns a copy of the logger with the fields attached.
func (l Logger) With(fields ...Field) Logger {
	c := l.lg.With()
	for _, f := range fields {
		c = f(c)
	}

	return Logger{lg: c.Logger()}
}

func (l Logger) Trace(msg string) {
	l.lg.Trace().Msg(msg)
}

func (l Logger) Tracef(format string, vals ...any) {
	l.lg.Trace().Msgf(format, vals...)
}

func (l Logger) Debug(msg string) {
	l.lg.Debug().Msg(msg)
}

func (l Logger) Debugf(format string, vals ...any) {
	l.lg.Debug().Msgf(format, vals...)
}

func (l Logger) Info(msg string) {
	l.lg.Info().Msg(msg)
}

func (l Logger) Infof(format string, vals ...any) {
	l.lg.Info().Msgf(format, vals...)
}

func (l Logger) Warn(msg string) {
	l.lg.Warn().Msg(msg)
}

func (l Logger) Warnf(format string, vals ...any) {
	l.lg.Warn().Msgf(format, vals...)
}

// Error logs err with an optional message.
func (l Logger) Error(err error, msg string) {
	l.lg.Error().Err(err).Msg(msg)
}

func (l Logger) Errorf(err error, format string, vals ...any) {
	l.lg.Error().Err(err).Msgf(format, vals...)
}
