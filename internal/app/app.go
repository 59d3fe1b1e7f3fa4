// Package app wires configuration into the portal components.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"opsportal/internal/activity"
	"opsportal/internal/cache"
	"opsportal/internal/catalog"
	"opsportal/internal/config"
	"opsportal/internal/db"
	"opsportal/internal/fetch"
	"opsportal/internal/hub"
	"opsportal/internal/journal"
	"opsportal/internal/orders"
)

type Options struct {
	Workspace string
	Config    *config.Config
	// Token is the default bearer token for hub requests.
	Token string
	// JournalPath overrides the workspace journal location.
	JournalPath string
	Logger      *slog.Logger
}

type App struct {
	Config  *config.Config
	Catalog *catalog.Registry
	Fetcher *fetch.Client
	Cache   *cache.Cache
	Hub     *hub.Client
	Journal *journal.Store
	Logger  *slog.Logger
}

// LoadConfig reads an explicit config file when path is set, otherwise the
// workspace config or the defaults.
func LoadConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		return config.FromFile(path)
	}
	return config.LoadOptional(workspace)
}

// New builds every component from opts. Callers must Close the result.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg, err := catalog.New(cfg.Backend.APIPrefix, cfg.Catalog.Entities)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	c, err := cache.New(cfg.Cache.Size)
	if err != nil {
		return nil, fmt.Errorf("build cache: %w", err)
	}
	f := fetch.New(cfg.Backend.BaseURL, reg)
	f.Timeout = cfg.Backend.Timeout.Duration
	f.Headers = cfg.Backend.Headers
	f.Token = opts.Token
	f.Logger = logger

	a := &App{Config: cfg, Catalog: reg, Fetcher: f, Cache: c, Logger: logger}
	gw := orders.Gateway{Transport: f, Cache: c, APIPrefix: cfg.Backend.APIPrefix, Logger: logger}
	if cfg.Journal.Enabled {
		store, err := journal.Open(ctx, db.Config{Workspace: opts.Workspace, Path: opts.JournalPath})
		if err != nil {
			return nil, err
		}
		a.Journal = store
		gw.Journal = store
	}
	a.Hub = &hub.Client{
		Fetcher:       f,
		Cache:         c,
		Catalog:       reg,
		Gateway:       gw,
		Aggregator:    activity.Aggregator{},
		APIPrefix:     cfg.Backend.APIPrefix,
		ActivityLimit: cfg.Activity.Limit,
		Logger:        logger,
	}
	return a, nil
}

func (a *App) Close() error {
	if a == nil || a.Journal == nil {
		return nil
	}
	return a.Journal.Close()
}
