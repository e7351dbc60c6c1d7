package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the logger flavor. Level and Format override the
// defaults of the chosen flavor when set.
type Options struct {
	Development bool
	Level       string // debug, info, warn, error
	Format      string // json or console
}

// New creates a new zap logger. Output always goes to stderr so command
// output on stdout stays clean.
func New(opts Options) (*zap.Logger, error) {
	var cfg zap.Config

	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.OutputPaths = []string{"stderr"}

	if opts.Level != "" {
		level, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}

	switch strings.ToLower(opts.Format) {
	case "":
	case "json", "console":
		cfg.Encoding = strings.ToLower(opts.Format)
		if cfg.Encoding == "json" {
			cfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
		}
	default:
		return nil, fmt.Errorf("invalid log format %q", opts.Format)
	}

	return cfg.Build()
}

// Must creates a logger or panics
func Must(opts Options) *zap.Logger {
	log, err := New(opts)
	if err != nil {
		panic(err)
	}
	return log
}

// ForConnection scopes log to one named connection.
func ForConnection(log *zap.Logger, name, protocol string) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log.With(zap.String("connection", name), zap.String("protocol", protocol))
}
