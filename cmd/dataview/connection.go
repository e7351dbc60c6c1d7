package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/newthinker/dataview/internal/backend"
	"github.com/newthinker/dataview/internal/clients"
	"github.com/newthinker/dataview/internal/config"
	"github.com/newthinker/dataview/internal/logger"
	"github.com/newthinker/dataview/internal/metrics"
	"github.com/newthinker/dataview/internal/storage"
	"go.uber.org/zap"
)

// loadConfig reads --config, or falls back to defaults.
func loadConfig(log *zap.Logger) (*config.Config, error) {
	var cfg *config.Config
	if cfgFile != "" {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg = config.Defaults()
		log.Warn("no config file specified, using defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// setup loads the config and builds the logger its log section asks for.
// --debug forces a development logger at debug level.
func setup() (*config.Config, *zap.Logger, error) {
	boot := logger.Must(logger.Options{Development: debug})
	defer boot.Sync()

	cfg, err := loadConfig(boot)
	if err != nil {
		return nil, nil, err
	}
	opts := logger.Options{
		Development: cfg.Log.Development || debug,
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
	}
	if debug {
		opts.Level = "debug"
	}
	log, err := logger.New(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("building logger: %w", err)
	}
	return cfg, log, nil
}

// backendOptions maps the backend section onto the execution service.
func backendOptions(cfg *config.Config, reg *metrics.Registry, progress backend.ProgressFunc) backend.Options {
	return backend.Options{
		S3Driver:          cfg.Backend.S3Driver,
		DownloadDir:       cfg.Backend.DownloadDir,
		HTTPClient:        &http.Client{Timeout: cfg.Backend.HTTPTimeout},
		MaxArchiveEntries: cfg.Backend.MaxArchiveEntries,
		MaxPreviewSize:    cfg.Backend.MaxPreviewSize,
		Metrics:           reg,
		Progress:          progress,
	}
}

// withConnection handles config, logger and connection setup and teardown.
func withConnection(progress backend.ProgressFunc, fn func(ctx context.Context, c storage.Client, log *zap.Logger) error) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	manager := clients.NewManager(cfg, clients.ServiceBackends(backendOptions(cfg, nil, progress), log), log)
	ctx := context.Background()
	defer manager.Close(ctx)

	c, err := manager.Get(ctx, connection)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	return fn(ctx, c, log)
}

func size(n int64) string {
	if n < 0 {
		return "?"
	}
	return humanize.IBytes(uint64(n))
}
