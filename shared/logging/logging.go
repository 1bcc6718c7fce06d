// Package logging builds the zap loggers used by both services
package logging

import (
	"fmt"

	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger for the environment. Production logs JSON, anything
// else logs colored console output.
func New(env, level string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	lvl := zap.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// TemporalLogger adapts zap to the Temporal SDK logger
type TemporalLogger struct {
	s *zap.SugaredLogger
}

var (
	_ log.Logger     = (*TemporalLogger)(nil)
	_ log.WithLogger = (*TemporalLogger)(nil)
)

// NewTemporalLogger wraps logger for use in client and worker options
func NewTemporalLogger(logger *zap.Logger) *TemporalLogger {
	return &TemporalLogger{s: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *TemporalLogger) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l *TemporalLogger) Info(msg string, keyvals ...interface{})  { l.s.Infow(msg, keyvals...) }
func (l *TemporalLogger) Warn(msg string, keyvals ...interface{})  { l.s.Warnw(msg, keyvals...) }
func (l *TemporalLogger) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }

// With returns a logger that always adds keyvals
func (l *TemporalLogger) With(keyvals ...interface{}) log.Logger {
	return &TemporalLogger{s: l.s.With(keyvals...)}
}
