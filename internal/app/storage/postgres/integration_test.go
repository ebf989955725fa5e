package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/appbancaria/banca/internal/app/domain/bank"
	"github.com/appbancaria/banca/internal/platform/migrations"
)

// openIntegrationDB connects to the database named by TEST_POSTGRES_DSN and
// applies the schema. Tests are skipped when the variable is unset.
func openIntegrationDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping integration test")
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Fatalf("connecting to %s: %v", dsn, err)
	}
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := migrations.Apply(ctx, db.DB); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	return db
}

func TestIntegrationClientAccountRoundTrip(t *testing.T) {
	db := openIntegrationDB(t)
	store := NewWithDB(db)
	ctx := context.Background()

	suffix := time.Now().UnixNano() % 1_000_000
	correo := fmt.Sprintf("it-%d@example.com", suffix)
	numeroCuenta := fmt.Sprintf("%06d", suffix)

	client, account, err := store.CreateClientWithAccount(ctx, bank.Profile{
		Nombre:         "Prueba Integración",
		Identificacion: 900_000_000 + suffix,
		Correo:         correo,
		Contrasena:     "clave",
	}, numeroCuenta)
	if err != nil {
		t.Fatalf("CreateClientWithAccount: %v", err)
	}

	got, err := store.GetClientByCorreo(ctx, correo)
	if err != nil {
		t.Fatalf("GetClientByCorreo: %v", err)
	}
	if got.ID != client.ID {
		t.Fatalf("client id %d, want %d", got.ID, client.ID)
	}

	if err := store.UpdateSessionID(ctx, client.ID, "ses-integracion"); err != nil {
		t.Fatalf("UpdateSessionID: %v", err)
	}
	bySession, err := store.GetClientBySession(ctx, "ses-integracion")
	if err != nil {
		t.Fatalf("GetClientBySession: %v", err)
	}
	if bySession.ID != client.ID {
		t.Fatalf("session resolved to client %d, want %d", bySession.ID, client.ID)
	}

	result, err := store.Deposit(ctx, account.NumeroCuenta, account.NumeroCuenta, 125.50)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if result.SaldoNuevo != result.SaldoAnterior+125.50 {
		t.Fatalf("unexpected balances: %+v", result)
	}

	records, err := store.ListTransactionsByDestination(ctx, client.ID)
	if err != nil {
		t.Fatalf("ListTransactionsByDestination: %v", err)
	}
	if len(records) == 0 {
		t.Fatal("deposit not visible in history")
	}

	if err := store.ClearSessionID(ctx, correo, "ses-integracion"); err != nil {
		t.Fatalf("ClearSessionID: %v", err)
	}
}
