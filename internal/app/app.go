// Package app assembles the worker from configuration: connection store,
// provider adapters, registry, scanner, refresher, sweeper and the
// operational HTTP server.
package app

import (
	"context"
	"fmt"
	"time"

	"token-refresher/internal/common/errors"
	"token-refresher/internal/common/logging"
	"token-refresher/internal/config"
	"token-refresher/internal/connections"
	"token-refresher/internal/providers/oauth"
	"token-refresher/internal/refresher"
	"token-refresher/internal/registry"
	"token-refresher/internal/scanner"
	"token-refresher/internal/server"
	"token-refresher/internal/sweeper"

	// Store backends register themselves with the connections factory.
	_ "token-refresher/internal/connections/memory"
	_ "token-refresher/internal/connections/postgres"
	_ "token-refresher/internal/connections/redis"
	_ "token-refresher/internal/connections/sqlite"
)

// App holds the assembled worker components.
type App struct {
	Config   *config.Config
	Store    connections.Store
	Registry *registry.Registry
	Sweeper  *sweeper.Sweeper
	Server   *server.Server
	logger   logging.Logger
}

// New builds the worker from the given validated configuration.
func New(cfg *config.Config, logger logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	store, err := newStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize connection store: %w", err)
	}

	reg, err := newRegistry(cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	schedule, err := newSchedule(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	scan := scanner.New(time.Duration(cfg.BufferMinutes) * time.Minute)
	sw := sweeper.New(reg, scan, refresher.New(logger), schedule, logger)
	srv := server.New(cfg.Port, cfg.SweepSchedule, sw, store, logger)

	logger.Info("Worker assembled",
		logging.Field{Key: "store", Value: cfg.DatabaseType},
		logging.Field{Key: "providers", Value: reg.Len()},
		logging.Field{Key: "schedule", Value: cfg.SweepSchedule},
		logging.Field{Key: "buffer_minutes", Value: cfg.BufferMinutes},
	)

	return &App{
		Config:   cfg,
		Store:    store,
		Registry: reg,
		Sweeper:  sw,
		Server:   srv,
		logger:   logger,
	}, nil
}

// Cleanup stops the sweeper and releases the store.
func (a *App) Cleanup() {
	a.Sweeper.Stop()
	if err := a.Store.Close(); err != nil {
		a.logger.Warn("Failed to close connection store",
			logging.Field{Key: "error", Value: err.Error()},
		)
	}
}

func newStore(cfg *config.Config) (connections.Store, error) {
	settings := map[string]string{
		"path":     cfg.DatabasePath,
		"host":     cfg.PostgresHost,
		"port":     cfg.PostgresPort,
		"database": cfg.PostgresDB,
		"username": cfg.PostgresUser,
		"password": cfg.PostgresPassword,
		"sslmode":  cfg.PostgresSSLMode,
	}
	if cfg.DatabaseType == "redis" {
		settings = map[string]string{
			"address":  cfg.RedisAddress,
			"password": cfg.RedisPassword,
			"db":       cfg.RedisDB,
		}
	}

	return connections.NewStore(context.Background(), cfg.DatabaseType, settings)
}

// newRegistry registers one service per provider whose credentials are
// configured. An unconfigured provider is skipped with a log line, not an
// error: deployments rarely carry all four credential sets.
func newRegistry(cfg *config.Config, store connections.Store, logger logging.Logger) (*registry.Registry, error) {
	opts := oauth.Options{Timeout: cfg.GetProviderTimeout()}

	var services []*registry.Service
	add := func(id, name string, adapter *oauth.Adapter) {
		services = append(services, &registry.Service{
			ID:      id,
			Name:    name,
			Store:   store,
			Adapter: adapter,
		})
	}

	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		add(oauth.ProviderGoogle, "Google", oauth.NewGoogle(cfg.GoogleClientID, cfg.GoogleClientSecret, opts))
	} else {
		logger.Info("Google provider not configured, skipping")
	}

	if cfg.FacebookClientID != "" && cfg.FacebookClientSecret != "" {
		add(oauth.ProviderFacebook, "Facebook", oauth.NewFacebook(cfg.FacebookClientID, cfg.FacebookClientSecret, opts))
	} else {
		logger.Info("Facebook provider not configured, skipping")
	}

	if cfg.LinkedInClientID != "" && cfg.LinkedInClientSecret != "" {
		add(oauth.ProviderLinkedIn, "LinkedIn", oauth.NewLinkedIn(cfg.LinkedInClientID, cfg.LinkedInClientSecret, opts))
	} else {
		logger.Info("LinkedIn provider not configured, skipping")
	}

	if cfg.AppleClientID != "" {
		apple, err := oauth.NewApple(oauth.AppleConfig{
			ClientID:   cfg.AppleClientID,
			TeamID:     cfg.AppleTeamID,
			KeyID:      cfg.AppleKeyID,
			PrivateKey: cfg.ApplePrivateKey,
		}, opts)
		if err != nil {
			return nil, err
		}
		add(oauth.ProviderApple, "Apple", apple)
	} else {
		logger.Info("Apple provider not configured, skipping")
	}

	if len(services) == 0 {
		return nil, errors.ConfigError("no provider credentials configured, nothing to refresh")
	}

	return registry.New(services...)
}

// newSchedule builds the sweep cadence: a fixed interval when the schedule is
// a duration, otherwise a cron schedule.
func newSchedule(cfg *config.Config) (sweeper.Schedule, error) {
	if interval, ok := cfg.SweepInterval(); ok {
		return sweeper.Every(interval), nil
	}
	return cfg.CronSchedule()
}
