// Package logger builds the zap logger shared by the CLI, the pipeline and
// the watcher.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap SugaredLogger.
type Logger struct {
	*zap.SugaredLogger
}

// Options select the encoder and level.
type Options struct {
	Debug  bool   // development config, debug level, console output
	Level  string // "debug", "info", "warn", "error"; ignored when Debug
	Format string // "console" or "json"; ignored when Debug
}

// Build creates a logger writing to stderr, keeping stdout free for the
// health report and transcript paths.
func Build(opts Options) (*Logger, error) {
	var cfg zap.Config
	if opts.Debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.LevelKey = "level"
		cfg.EncoderConfig.MessageKey = "msg"
		cfg.EncoderConfig.CallerKey = "caller"
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.LevelKey = "level"
		cfg.EncoderConfig.MessageKey = "msg"
		cfg.EncoderConfig.CallerKey = "caller"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.Sampling = nil

		switch opts.Format {
		case "", "console":
			cfg.Encoding = "console"
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
			cfg.DisableCaller = true
		case "json":
			cfg.Encoding = "json"
		default:
			return nil, fmt.Errorf("logger: unknown format %q", opts.Format)
		}

		if opts.Level != "" {
			lvl, err := zapcore.ParseLevel(opts.Level)
			if err != nil {
				return nil, fmt.Errorf("logger: %w", err)
			}
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	l, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("logger: build: %w", err)
	}
	return &Logger{l.Sugar()}, nil
}

// New is Build with defaults, falling back to a no-op logger if zap cannot
// open stderr.
func New(debug bool) *Logger {
	l, err := Build(Options{Debug: debug})
	if err != nil {
		return NewNop()
	}
	return l
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{zap.NewNop().Sugar()}
}

// FromCore wraps an existing core; tests pass a zaptest/observer core.
func FromCore(core zapcore.Core) *Logger {
	return &Logger{zap.New(core).Sugar()}
}

// Named returns a child logger with the given name segment.
func (l *Logger) Named(name string) *Logger {
	return &Logger{l.SugaredLogger.Named(name)}
}

// With returns a child logger carrying the given key-value pairs.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{l.SugaredLogger.With(args...)}
}
