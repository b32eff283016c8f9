// Package logger builds the zap loggers used by the service.
//
// Production deployments log JSON (one object per line); the text format
// uses zap's development encoder for local runs.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the minimum severity that gets written.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Validate checks that l is a known level.
func (l Level) Validate() error {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return nil
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", l)
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Format selects the encoder.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Validate checks that f is a known format.
func (f Format) Validate() error {
	switch f {
	case FormatText, FormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", f)
	}
}

// New builds a logger writing to stderr.
func New(level Level, format Format) (*zap.Logger, error) {
	if err := level.Validate(); err != nil {
		return nil, err
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}

	var cfg zap.Config
	if format == FormatJSON {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level.zapLevel())

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l, nil
}

// ErrorField is a shorthand for attaching an error under the "err" key, the
// key the access log and handlers use.
func ErrorField(err error) zap.Field {
	return zap.NamedError("err", err)
}
