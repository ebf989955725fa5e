package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/appbancaria/banca/internal/app/domain/bank"
	"github.com/appbancaria/banca/internal/app/services/auth"
	"github.com/appbancaria/banca/internal/app/storage/memory"
	"github.com/appbancaria/banca/pkg/logger"
)

func newTestRegistry(t *testing.T) (*Registry, *auth.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	authSvc := auth.New(store, store, "secreto", time.Hour, logger.NewDefault("auth-test"))
	return NewRegistry(authSvc, logger.NewDefault("registry-test")), authSvc, store
}

func pipeConn(t *testing.T) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return server
}

func TestSweepRemovesDeadEntries(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()

	live := registry.Add(pipeConn(t))
	dead := registry.Add(pipeConn(t))
	dead.MarkDead()

	registry.Sweep(ctx)

	if got := registry.Len(); got != 1 {
		t.Fatalf("expected 1 entry after sweep, got %d", got)
	}
	if live.isDead() {
		t.Fatal("live entry was touched")
	}
}

func TestSweepLogsOutBoundSession(t *testing.T) {
	registry, authSvc, store := newTestRegistry(t)
	ctx := context.Background()

	if _, _, err := store.CreateClientWithAccount(ctx, bank.Profile{
		Nombre:         "Ana",
		Identificacion: 1,
		Correo:         "ana@example.com",
		Contrasena:     "clave",
	}, "123456"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	result, err := authSvc.Login(ctx, "ana@example.com", "clave")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	entry := registry.Add(pipeConn(t))
	entry.BindSession("ana@example.com", result.SessionID, "Ana")
	entry.MarkDead()

	registry.Sweep(ctx)

	if registry.Len() != 0 {
		t.Fatalf("entry not removed")
	}
	if _, _, err := authSvc.Validate(ctx, result.Token); err == nil {
		t.Fatal("session survived the eviction")
	}
}

func TestListConnectedSweepsFirst(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()

	registry.Add(pipeConn(t))
	dead := registry.Add(pipeConn(t))
	dead.MarkDead()

	infos := registry.ListConnected(ctx)
	if len(infos) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(infos))
	}
	if infos[0].Label != "Cliente sin identificar" {
		t.Fatalf("unexpected label %q", infos[0].Label)
	}
	if infos[0].Authenticated {
		t.Fatal("unauthenticated entry reported as authenticated")
	}
}

func TestCloseAllEmptiesRegistry(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	ctx := context.Background()

	registry.Add(pipeConn(t))
	registry.Add(pipeConn(t))
	registry.Add(pipeConn(t))

	if closed := registry.CloseAll(ctx); closed != 3 {
		t.Fatalf("expected 3 closed, got %d", closed)
	}
	if registry.Len() != 0 {
		t.Fatal("registry not empty")
	}
}

func TestSweeperEvictsWithinInterval(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	sweeper := NewSweeper(registry, 20*time.Millisecond, logger.NewDefault("sweeper-test"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sweeper.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sweeper.Stop(context.Background())

	entry := registry.Add(pipeConn(t))
	entry.MarkDead()

	deadline := time.Now().Add(time.Second)
	for registry.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("dead entry not swept in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
