// Package memory provides an in-memory implementation of the storage
// interfaces. It backs the service tests and mirrors the postgres store's
// semantics, including its sentinel errors.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/appbancaria/banca/internal/app/domain/bank"
	"github.com/appbancaria/banca/internal/app/storage"
)

// Store is a mutex-guarded in-memory store.
type Store struct {
	mu           sync.Mutex
	nextClientID int64
	nextAcctID   int64
	nextTxID     int64
	clients      map[int64]*bank.Client
	accounts     map[int64]*bank.Account
	transactions []bank.Transaction
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		clients:  make(map[int64]*bank.Client),
		accounts: make(map[int64]*bank.Account),
	}
}

// --- ClientStore ------------------------------------------------------------

func (s *Store) GetClientByCorreo(ctx context.Context, correo string) (bank.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.Correo == correo {
			return cloneClient(c), nil
		}
	}
	return bank.Client{}, storage.ErrNotFound
}

func (s *Store) GetClientBySession(ctx context.Context, sessionID string) (bank.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.SessionID != nil && *c.SessionID == sessionID {
			return cloneClient(c), nil
		}
	}
	return bank.Client{}, storage.ErrNotFound
}

func (s *Store) UpdateSessionID(ctx context.Context, clientID int64, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return storage.ErrNotFound
	}
	sid := sessionID
	c.SessionID = &sid
	return nil
}

func (s *Store) ClearSessionID(ctx context.Context, correo, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.Correo == correo && c.SessionID != nil && *c.SessionID == sessionID {
			c.SessionID = nil
			return nil
		}
	}
	return storage.ErrNoActiveSession
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) GetAccountByNumber(ctx context.Context, numeroCuenta string) (bank.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a := s.accountByNumberLocked(numeroCuenta); a != nil {
		return *a, nil
	}
	return bank.Account{}, storage.ErrNotFound
}

func (s *Store) GetAccountByClient(ctx context.Context, clientID int64) (bank.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.ClientID == clientID {
			return *a, nil
		}
	}
	return bank.Account{}, storage.ErrNotFound
}

func (s *Store) GetAccountByIdentificacion(ctx context.Context, identificacion int64) (bank.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.Identificacion == identificacion {
			for _, a := range s.accounts {
				if a.ClientID == c.ID {
					return *a, nil
				}
			}
		}
	}
	return bank.Account{}, storage.ErrNotFound
}

func (s *Store) AccountNumberExists(ctx context.Context, numeroCuenta string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountByNumberLocked(numeroCuenta) != nil, nil
}

func (s *Store) CreateClientWithAccount(ctx context.Context, profile bank.Profile, numeroCuenta string) (bank.Client, bank.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.clients {
		if c.Correo == profile.Correo || c.Identificacion == profile.Identificacion {
			return bank.Client{}, bank.Account{}, storage.ErrDuplicate
		}
	}
	if s.accountByNumberLocked(numeroCuenta) != nil {
		return bank.Client{}, bank.Account{}, storage.ErrDuplicateAccountNumber
	}

	s.nextClientID++
	client := &bank.Client{
		ID:             s.nextClientID,
		Nombre:         profile.Nombre,
		Correo:         profile.Correo,
		Identificacion: profile.Identificacion,
		Contrasena:     profile.Contrasena,
	}
	s.clients[client.ID] = client

	s.nextAcctID++
	account := &bank.Account{
		ID:           s.nextAcctID,
		NumeroCuenta: numeroCuenta,
		ClientID:     client.ID,
		Saldo:        0,
	}
	s.accounts[account.ID] = account

	return cloneClient(client), *account, nil
}

// --- TransactionStore -------------------------------------------------------

func (s *Store) Deposit(ctx context.Context, numeroCuentaOrigen, numeroCuentaDestino string, monto float64) (bank.DepositResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	destino := s.accountByNumberLocked(numeroCuentaDestino)
	if destino == nil {
		return bank.DepositResult{}, storage.ErrNotFound
	}

	saldoAnterior := destino.Saldo
	destino.Saldo += monto

	var identificacionOrigen string
	if origen := s.accountByNumberLocked(numeroCuentaOrigen); origen != nil {
		if owner, ok := s.clients[origen.ClientID]; ok {
			identificacionOrigen = formatInt(owner.Identificacion)
		}
	}

	s.nextTxID++
	s.transactions = append(s.transactions, bank.Transaction{
		ID:                   s.nextTxID,
		Tipo:                 bank.TipoConsignacion,
		Monto:                monto,
		FechaHora:            time.Now().UTC(),
		CuentaOrigen:         numeroCuentaOrigen,
		CuentaDestino:        numeroCuentaDestino,
		IdentificacionOrigen: identificacionOrigen,
	})

	return bank.DepositResult{
		Monto:               monto,
		SaldoAnterior:       saldoAnterior,
		SaldoNuevo:          destino.Saldo,
		NumeroCuentaOrigen:  numeroCuentaOrigen,
		NumeroCuentaDestino: numeroCuentaDestino,
	}, nil
}

func (s *Store) ListTransactionsByDestination(ctx context.Context, clientID int64) ([]bank.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []bank.Transaction
	for _, tx := range s.transactions {
		destino := s.accountByNumberLocked(tx.CuentaDestino)
		if destino != nil && destino.ClientID == clientID {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (s *Store) accountByNumberLocked(numeroCuenta string) *bank.Account {
	for _, a := range s.accounts {
		if a.NumeroCuenta == numeroCuenta {
			return a
		}
	}
	return nil
}

func cloneClient(c *bank.Client) bank.Client {
	out := *c
	if c.SessionID != nil {
		sid := *c.SessionID
		out.SessionID = &sid
	}
	return out
}

// formatInt matches the text projection of numero_identificacion used by the
// postgres history query.
func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
