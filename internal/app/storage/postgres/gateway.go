// Package postgres implements the storage interfaces on PostgreSQL and owns
// the managed database connection the whole server shares.
package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/appbancaria/banca/internal/config"
	"github.com/appbancaria/banca/pkg/logger"
)

// Gateway owns the database handle. It connects lazily, probes liveness on
// checkout and reconnects with a bounded retry policy.
type Gateway struct {
	cfg config.DatabaseConfig
	log *logger.Logger

	mu sync.Mutex
	db *sqlx.DB
}

// NewGateway creates an unconnected gateway. The first DB call connects.
func NewGateway(cfg config.DatabaseConfig, log *logger.Logger) *Gateway {
	if log == nil {
		log = logger.NewDefault("postgres")
	}
	return &Gateway{cfg: cfg, log: log}
}

// Connect establishes the connection eagerly. Used at startup so a dead
// database aborts the server before the listener ever opens.
func (g *Gateway) Connect(ctx context.Context) error {
	_, err := g.DB(ctx)
	return err
}

// DB returns a live handle, reconnecting if the current one is missing or
// fails a short liveness probe.
func (g *Gateway) DB(ctx context.Context) (*sqlx.DB, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.db != nil {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := g.db.PingContext(probeCtx)
		cancel()
		if err == nil {
			return g.db, nil
		}
		g.log.WithError(err).Warn("database liveness probe failed; reconnecting")
		g.db.Close()
		g.db = nil
	}

	if err := g.connectLocked(ctx); err != nil {
		return nil, err
	}
	return g.db, nil
}

func (g *Gateway) connectLocked(ctx context.Context) error {
	dsn, err := g.cfg.DSN()
	if err != nil {
		return err
	}

	attempts := g.cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := g.cfg.ConnectBackoff
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		db, err := sqlx.Open("postgres", dsn)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = db.PingContext(pingCtx)
			cancel()
			if err == nil {
				g.db = db
				g.log.Infof("database connection established (attempt %d/%d)", attempt, attempts)
				return nil
			}
			db.Close()
		}
		lastErr = err
		g.log.WithError(err).Warnf("database connection attempt %d/%d failed", attempt, attempts)

		if attempt < attempts {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("database unreachable after %d attempts: %w", attempts, lastErr)
}

// CleanStaleStatements purges server-side cached prepared statements.
// Statement names can collide when a session survives a reconnect, so the
// purge runs before compound writes.
func (g *Gateway) CleanStaleStatements(ctx context.Context) {
	g.mu.Lock()
	db := g.db
	g.mu.Unlock()
	if db == nil {
		return
	}
	if _, err := db.ExecContext(ctx, "DEALLOCATE ALL"); err != nil {
		g.log.WithError(err).Debug("stale statement cleanup failed")
	}
}

// Ping probes the current handle without reconnecting.
func (g *Gateway) Ping(ctx context.Context) error {
	g.mu.Lock()
	db := g.db
	g.mu.Unlock()
	if db == nil {
		return fmt.Errorf("database not connected")
	}
	return db.PingContext(ctx)
}

// Close releases the handle. Idempotent; internal state is cleared even when
// the underlying close errors.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.db == nil {
		return nil
	}
	err := g.db.Close()
	g.db = nil
	return err
}
