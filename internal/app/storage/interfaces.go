// Package storage defines the persistence interfaces implemented by the
// postgres store and the in-memory store used in tests.
package storage

import (
	"context"
	"errors"

	"github.com/appbancaria/banca/internal/app/domain/bank"
)

// Sentinel errors shared by all store implementations. Services translate
// them into wire-level service errors.
var (
	// ErrNotFound reports a missing client, account or session binding.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate reports a correo or identificacion collision.
	ErrDuplicate = errors.New("duplicate record")
	// ErrDuplicateAccountNumber reports a numero_cuenta collision on insert.
	// Callers can retry with a freshly generated number.
	ErrDuplicateAccountNumber = errors.New("duplicate account number")
	// ErrNoActiveSession reports a conditional session clear that matched
	// no row (already logged out or superseded).
	ErrNoActiveSession = errors.New("no active session")
)

// ClientStore persists client identity and session binding.
type ClientStore interface {
	GetClientByCorreo(ctx context.Context, correo string) (bank.Client, error)
	GetClientBySession(ctx context.Context, sessionID string) (bank.Client, error)
	// UpdateSessionID binds a new session id to the client, overwriting any
	// previous binding. Overwriting is what invalidates older tokens.
	UpdateSessionID(ctx context.Context, clientID int64, sessionID string) error
	// ClearSessionID clears the binding only if it still equals sessionID;
	// returns ErrNoActiveSession when no row matches.
	ClearSessionID(ctx context.Context, correo, sessionID string) error
}

// AccountStore persists accounts and the client+account creation unit.
type AccountStore interface {
	GetAccountByNumber(ctx context.Context, numeroCuenta string) (bank.Account, error)
	GetAccountByClient(ctx context.Context, clientID int64) (bank.Account, error)
	GetAccountByIdentificacion(ctx context.Context, identificacion int64) (bank.Account, error)
	AccountNumberExists(ctx context.Context, numeroCuenta string) (bool, error)
	// CreateClientWithAccount inserts the client and its zero-balance account
	// as one atomic unit; neither row survives a failure of the other.
	CreateClientWithAccount(ctx context.Context, profile bank.Profile, numeroCuenta string) (bank.Client, bank.Account, error)
}

// TransactionStore persists the append-only transaction log.
type TransactionStore interface {
	// Deposit credits the destination account and appends one transaction
	// record as a single atomic unit, returning the balances around the
	// credit. The origin account is recorded but never debited.
	Deposit(ctx context.Context, numeroCuentaOrigen, numeroCuentaDestino string, monto float64) (bank.DepositResult, error)
	// ListTransactionsByDestination returns records whose destination account
	// belongs to the client, ordered by fecha_hora ascending.
	ListTransactionsByDestination(ctx context.Context, clientID int64) ([]bank.Transaction, error)
}

// Store aggregates every persistence concern the services need.
type Store interface {
	ClientStore
	AccountStore
	TransactionStore
}
