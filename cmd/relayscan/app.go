package main

import (
	"context"
	"fmt"
	"time"

	"github.com/HerbHall/relayscan/internal/broker"
	"github.com/HerbHall/relayscan/internal/config"
	"github.com/HerbHall/relayscan/internal/control"
	"github.com/HerbHall/relayscan/internal/event"
	"github.com/HerbHall/relayscan/internal/recon"
	"github.com/HerbHall/relayscan/internal/registry"
	"github.com/HerbHall/relayscan/internal/server"
	"github.com/HerbHall/relayscan/internal/store"
	"github.com/HerbHall/relayscan/internal/vault"
	"github.com/HerbHall/relayscan/internal/version"
	"github.com/HerbHall/relayscan/internal/webhook"
	"github.com/HerbHall/relayscan/pkg/plugin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// app is the wired set of long-lived components shared by serve and scan.
type app struct {
	viper  *viper.Viper
	logger *zap.Logger
	db     *store.SQLiteStore
	bus    *event.Bus
	reg    *registry.Registry
	recon  *recon.Module
}

// modules returns the plugins in registration order. The registry sorts
// them by dependency, so the order here only affects listings.
func modules() []plugin.Plugin {
	return []plugin.Plugin{
		vault.New(),
		recon.New(),
		control.New(),
		webhook.New(),
		broker.New(),
	}
}

// bootstrap opens the database, validates and initializes every plugin and
// starts them. The caller owns shutdown.
func bootstrap(ctx context.Context, v *viper.Viper, logger *zap.Logger) (*app, error) {
	dbPath := v.GetString("database.path")
	db, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}
	if err := db.CheckVersion(ctx, version.Short()); err != nil {
		db.Close()
		return nil, err
	}

	a := &app{
		viper:  v,
		logger: logger,
		db:     db,
		bus:    event.NewBus(logger.Named("event")),
		reg:    registry.New(logger.Named("registry")),
	}

	for _, m := range modules() {
		name := m.Info().Name
		if key := "plugins." + name + ".enabled"; v.IsSet(key) && !v.GetBool(key) {
			logger.Info("plugin disabled by configuration", zap.String("name", name))
			continue
		}
		if err := a.reg.Register(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("register plugin: %w", err)
		}
	}
	if err := a.reg.Validate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("plugin validation: %w", err)
	}

	cfg := config.New(v)
	err = a.reg.InitAll(ctx, func(name string) plugin.Dependencies {
		return plugin.Dependencies{
			Config:  cfg.Sub("plugins." + name),
			Logger:  logger.Named(name),
			Store:   db,
			Bus:     a.bus,
			Plugins: a.reg,
		}
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("plugin init: %w", err)
	}
	if err := a.reg.StartAll(ctx); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("plugin start: %w", err)
	}

	if p, ok := a.reg.Get("recon"); ok {
		a.recon, _ = p.(*recon.Module)
	}
	return a, nil
}

// close stops plugins in reverse order, drains async event handlers and
// closes the database. Errors are logged, not returned.
func (a *app) close(ctx context.Context) {
	a.reg.StopAll(ctx)
	if err := a.bus.Wait(ctx); err != nil {
		a.logger.Warn("event handlers still running at shutdown", zap.Error(err))
	}
	a.reg.Unsubscribe()
	if err := a.db.Close(); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
}

// loadConfig reads configuration and builds the logger from it.
func loadConfig(path string) (*viper.Viper, *zap.Logger, error) {
	v, err := server.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	logger, err := config.NewLogger(v)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	if used := v.ConfigFileUsed(); used != "" {
		logger.Info("loaded configuration", zap.String("file", used))
	}
	return v, logger, nil
}

// shutdownTimeout reads server.shutdown_timeout with a floor of one second.
func shutdownTimeout(v *viper.Viper) time.Duration {
	d := v.GetDuration("server.shutdown_timeout")
	if d < time.Second {
		return time.Second
	}
	return d
}
