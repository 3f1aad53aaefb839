/************************************************************************************
 *
 * shardwire, a Go client for Discord's Gateway and Voice real-time services
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 * Copyright 2025 shardwire authors
 *
 * Licensed under the BSD 3-Clause License.
 * See the LICENSE file for details.
 *
 ************************************************************************************/

package shardwire

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger defines the logging interface used throughout the gateway and voice
// subsystems. Implementations must be safe for concurrent use.
type Logger interface {
	Info(msg string)
	Debug(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)

	// WithField returns a Logger carrying an additional structured field.
	WithField(key string, value any) Logger
	// WithFields returns a Logger carrying additional structured fields.
	WithFields(fields map[string]any) Logger
}

// LogLevel defines the minimum severity a DefaultLogger will emit.
type LogLevel int

const (
	LogLevelDebugLevel LogLevel = iota
	LogLevelInfoLevel
	LogLevelWarnLevel
	LogLevelErrorLevel
	LogLevelFatalLevel
)

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LogLevelDebugLevel:
		return zerolog.DebugLevel
	case LogLevelInfoLevel:
		return zerolog.InfoLevel
	case LogLevelWarnLevel:
		return zerolog.WarnLevel
	case LogLevelErrorLevel:
		return zerolog.ErrorLevel
	case LogLevelFatalLevel:
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// DefaultLogger is the zerolog-backed Logger implementation used when a
// Cluster or Shard is not given one explicitly.
type DefaultLogger struct {
	logger zerolog.Logger
}

var _ Logger = (*DefaultLogger)(nil)

// NewDefaultLogger builds a DefaultLogger writing newline-delimited JSON
// records to out at the given minimum level. A nil out defaults to os.Stdout.
func NewDefaultLogger(out io.Writer, level LogLevel) *DefaultLogger {
	if out == nil {
		out = os.Stdout
	}
	zl := zerolog.New(out).Level(level.zerolog()).With().Timestamp().Logger()
	return &DefaultLogger{logger: zl}
}

func (l *DefaultLogger) WithField(key string, value any) Logger {
	return &DefaultLogger{logger: l.logger.With().Interface(key, value).Logger()}
}

func (l *DefaultLogger) WithFields(fields map[string]any) Logger {
	return &DefaultLogger{logger: l.logger.With().Fields(fields).Logger()}
}

func (l *DefaultLogger) Info(msg string)  { l.logger.Info().Msg(msg) }
func (l *DefaultLogger) Debug(msg string) { l.logger.Debug().Msg(msg) }
func (l *DefaultLogger) Warn(msg string)  { l.logger.Warn().Msg(msg) }
func (l *DefaultLogger) Error(msg string) { l.logger.Error().Msg(msg) }

// Fatal logs at fatal level and terminates the process, matching zerolog's
// own Fatal semantics (and the donor's prior os.Exit(1) behavior).
func (l *DefaultLogger) Fatal(msg string) { l.logger.Fatal().Msg(msg) }

// noopLogger discards everything; used as a safe zero-value fallback.
type noopLogger struct{}

var _ Logger = noopLogger{}

func (noopLogger) Info(string)                          {}
func (noopLogger) Debug(string)                          {}
func (noopLogger) Warn(string)                           {}
func (noopLogger) Error(string)                          {}
func (noopLogger) Fatal(string)                          {}
func (noopLogger) WithField(string, any) Logger          { return noopLogger{} }
func (noopLogger) WithFields(map[string]any) Logger      { return noopLogger{} }
