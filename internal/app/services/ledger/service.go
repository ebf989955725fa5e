// Package ledger implements the account operations: balance queries, account
// creation, consignaciones and transaction history. Compound mutations run as
// one atomic unit of work in the store.
package ledger

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/appbancaria/banca/internal/app/domain/bank"
	"github.com/appbancaria/banca/internal/app/storage"
	"github.com/appbancaria/banca/internal/errors"
	"github.com/appbancaria/banca/pkg/logger"
)

// maxNumberAttempts bounds the account number collision retry loop.
const maxNumberAttempts = 100

// Service performs ledger operations against the store.
type Service struct {
	store storage.Store
	log   *logger.Logger

	// numberFn generates candidate account numbers; replaceable in tests.
	numberFn func() string
}

// New creates the ledger service.
func New(store storage.Store, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{
		store: store,
		log:   log,
		numberFn: func() string {
			return fmt.Sprintf("%d", 100000+rand.Intn(900000))
		},
	}
}

// BalanceByAccount returns the balance of the given account number.
func (s *Service) BalanceByAccount(ctx context.Context, numeroCuenta string) (float64, error) {
	account, err := s.store.GetAccountByNumber(ctx, numeroCuenta)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return 0, errors.NotFound("Cuenta no encontrada")
		}
		return 0, errors.Persistence("error consultando saldo", err)
	}
	return account.Saldo, nil
}

// BalanceByIdentification returns the balance of the account owned by the
// client with the given identification.
func (s *Service) BalanceByIdentification(ctx context.Context, identificacion int64) (float64, error) {
	account, err := s.store.GetAccountByIdentificacion(ctx, identificacion)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return 0, errors.NotFound("Cliente no encontrado")
		}
		return 0, errors.Persistence("error consultando saldo", err)
	}
	return account.Saldo, nil
}

// CreateAccount creates a client and its zero-balance account atomically,
// returning the generated account number. Duplicate correo or identificacion
// leaves no rows behind.
func (s *Service) CreateAccount(ctx context.Context, profile bank.Profile) (string, error) {
	if profile.Nombre == "" || profile.Correo == "" || profile.Contrasena == "" || profile.Identificacion == 0 {
		return "", errors.Business("nombre, identificacion, correo y contrasena son obligatorios")
	}

	// The existence pre-check in uniqueAccountNumber can race a concurrent
	// creation drawing the same candidate. The insert itself is the arbiter,
	// so a number collision at insert time regenerates instead of failing.
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		numeroCuenta, err := s.uniqueAccountNumber(ctx)
		if err != nil {
			return "", err
		}

		_, account, err := s.store.CreateClientWithAccount(ctx, profile, numeroCuenta)
		if err != nil {
			if stderrors.Is(err, storage.ErrDuplicateAccountNumber) {
				continue
			}
			if stderrors.Is(err, storage.ErrDuplicate) {
				return "", errors.Business("Ya existe un cliente con ese correo o número de identificación")
			}
			return "", errors.Persistence("error creando cuenta", err)
		}

		s.log.WithFields(map[string]interface{}{
			"correo":       profile.Correo,
			"numeroCuenta": account.NumeroCuenta,
		}).Info("cuenta creada")

		return account.NumeroCuenta, nil
	}
	return "", errors.Internal("no se pudo generar un número de cuenta único", nil)
}

func (s *Service) uniqueAccountNumber(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		candidate := s.numberFn()
		exists, err := s.store.AccountNumberExists(ctx, candidate)
		if err != nil {
			return "", errors.Persistence("error verificando número de cuenta", err)
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", errors.Internal("no se pudo generar un número de cuenta único", nil)
}

// Deposit performs a consignación: the destination account is credited and
// one transaction record is appended. The origin account, resolved from the
// caller's session, is recorded in the ledger entry but never debited.
func (s *Service) Deposit(ctx context.Context, sessionID, numeroCuentaDestino string, monto float64) (bank.DepositResult, error) {
	if monto <= 0 || math.IsNaN(monto) || math.IsInf(monto, 0) {
		return bank.DepositResult{}, errors.Business("El monto debe ser mayor que cero")
	}

	origen, err := s.accountBySession(ctx, sessionID)
	if err != nil {
		return bank.DepositResult{}, err
	}

	result, err := s.store.Deposit(ctx, origen.NumeroCuenta, numeroCuentaDestino, monto)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return bank.DepositResult{}, errors.Business("Cuenta de destino no encontrada").
				WithDetails("numeroCuentaDestino", numeroCuentaDestino)
		}
		return bank.DepositResult{}, errors.Persistence("error en la consignación", err)
	}

	s.log.WithFields(map[string]interface{}{
		"origen":  result.NumeroCuentaOrigen,
		"destino": result.NumeroCuentaDestino,
		"monto":   result.Monto,
	}).Info("consignación exitosa")

	return result, nil
}

// History returns the caller's incoming transactions, oldest first.
func (s *Service) History(ctx context.Context, sessionID string) ([]bank.Transaction, error) {
	client, err := s.clientBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	records, err := s.store.ListTransactionsByDestination(ctx, client.ID)
	if err != nil {
		return nil, errors.Persistence("error consultando historial", err)
	}
	return records, nil
}

// ClientInfo returns the caller's profile together with its account state.
func (s *Service) ClientInfo(ctx context.Context, sessionID string) (bank.ClientInfo, error) {
	client, err := s.clientBySession(ctx, sessionID)
	if err != nil {
		return bank.ClientInfo{}, err
	}

	account, err := s.store.GetAccountByClient(ctx, client.ID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return bank.ClientInfo{}, errors.NotFound("No se encontró una cuenta asociada al cliente")
		}
		return bank.ClientInfo{}, errors.Persistence("error consultando información del cliente", err)
	}

	return bank.ClientInfo{
		ClientID:       client.ID,
		Nombre:         client.Nombre,
		Correo:         client.Correo,
		Identificacion: client.Identificacion,
		NumeroCuenta:   account.NumeroCuenta,
		Saldo:          account.Saldo,
	}, nil
}

func (s *Service) clientBySession(ctx context.Context, sessionID string) (bank.Client, error) {
	client, err := s.store.GetClientBySession(ctx, sessionID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return bank.Client{}, errors.Business("No se encontró un cliente con el ID de sesión proporcionado")
		}
		return bank.Client{}, errors.Persistence("error resolviendo sesión", err)
	}
	return client, nil
}

func (s *Service) accountBySession(ctx context.Context, sessionID string) (bank.Account, error) {
	client, err := s.clientBySession(ctx, sessionID)
	if err != nil {
		return bank.Account{}, err
	}
	account, err := s.store.GetAccountByClient(ctx, client.ID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return bank.Account{}, errors.Business("No se encontró una cuenta asociada a la sesión activa")
		}
		return bank.Account{}, errors.Persistence("error resolviendo cuenta de origen", err)
	}
	return account, nil
}
