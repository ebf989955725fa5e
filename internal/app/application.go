// Package app assembles the banking server: configuration, storage,
// services and the network front ends, started and stopped as one unit.
package app

import (
	"context"
	"fmt"

	"github.com/appbancaria/banca/internal/app/server"
	"github.com/appbancaria/banca/internal/app/services/auth"
	"github.com/appbancaria/banca/internal/app/services/ledger"
	"github.com/appbancaria/banca/internal/app/storage/postgres"
	"github.com/appbancaria/banca/internal/app/system"
	"github.com/appbancaria/banca/internal/config"
	"github.com/appbancaria/banca/internal/platform/migrations"
	"github.com/appbancaria/banca/pkg/logger"
)

// Application owns every component of the running server.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	gateway *postgres.Gateway
	server  *server.Server
	manager *system.Manager
}

// New builds the application. It connects to the database eagerly and runs
// the schema migrations; a database that stays unreachable through the
// configured retry budget fails startup.
func New(ctx context.Context, cfg *config.Config) (*Application, error) {
	log := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Component: "app",
	})

	gateway := postgres.NewGateway(cfg.Database, log.WithField("component", "postgres"))
	if err := gateway.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db, err := gateway.DB(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring database handle: %w", err)
	}
	if err := migrations.Apply(ctx, db.DB); err != nil {
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	store := postgres.New(gateway)
	authSvc := auth.New(store, store, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, log.WithField("component", "auth"))
	ledgerSvc := ledger.New(store, log.WithField("component", "ledger"))

	registry := server.NewRegistry(authSvc, log.WithField("component", "registry"))
	sweeper := server.NewSweeper(registry, cfg.SweepInterval, log.WithField("component", "sweeper"))

	srv := server.New(server.Options{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		ReadTimeout:       cfg.ReadTimeout,
		RequestsPerSecond: float64(cfg.RequestsPerSecond),
		RequestBurst:      cfg.RequestBurst,
	}, authSvc, ledgerSvc, registry, log.WithField("component", "server"))

	admin := server.NewAdmin(cfg.AdminAddr, registry, gateway, log.WithField("component", "admin"))

	manager := system.NewManager()
	for _, svc := range []system.Service{sweeper, srv, admin} {
		if err := manager.Register(svc); err != nil {
			return nil, err
		}
	}

	return &Application{
		cfg:     cfg,
		log:     log,
		gateway: gateway,
		server:  srv,
		manager: manager,
	}, nil
}

// Start launches every registered service. A failure rolls back the ones
// already started.
func (a *Application) Start(ctx context.Context) error {
	if err := a.manager.StartAll(ctx); err != nil {
		return err
	}
	a.log.WithField("port", a.cfg.Port).Info("aplicación bancaria iniciada")
	return nil
}

// Stop halts the services in reverse start order and closes the database.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.StopAll(ctx)
	if cerr := a.gateway.Close(); err == nil {
		err = cerr
	}
	a.log.Info("aplicación bancaria detenida")
	return err
}

// Server exposes the TCP front end, mostly for tests.
func (a *Application) Server() *server.Server { return a.server }

// ListConnected reports the clients currently connected to the TCP port.
func (a *Application) ListConnected(ctx context.Context) []server.ConnectionInfo {
	return a.server.ListConnected(ctx)
}
