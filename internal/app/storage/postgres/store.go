package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/appbancaria/banca/internal/app/domain/bank"
	"github.com/appbancaria/banca/internal/app/storage"
)

// pq error code for unique_violation.
const pqUniqueViolation = "23505"

// Store implements the storage interfaces backed by PostgreSQL. Mutating
// compound operations are serialized behind a single writer mutex so two
// workers can never interleave transaction state.
type Store struct {
	gw *Gateway
	db *sqlx.DB

	writeMu sync.Mutex
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the gateway's managed connection.
func New(gw *Gateway) *Store {
	return &Store{gw: gw}
}

// NewWithDB creates a Store over a fixed handle. Used in tests.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) handle(ctx context.Context) (*sqlx.DB, error) {
	if s.db != nil {
		return s.db, nil
	}
	return s.gw.DB(ctx)
}

func (s *Store) cleanStatements(ctx context.Context) {
	if s.gw != nil {
		s.gw.CleanStaleStatements(ctx)
	}
}

type clientRow struct {
	ID             int64          `db:"id"`
	Nombre         string         `db:"nombre_completo"`
	Correo         string         `db:"correo_electronico"`
	Identificacion int64          `db:"numero_identificacion"`
	Contrasena     string         `db:"contrasena"`
	SessionID      sql.NullString `db:"id_sesion"`
}

func (r clientRow) toDomain() bank.Client {
	c := bank.Client{
		ID:             r.ID,
		Nombre:         r.Nombre,
		Correo:         r.Correo,
		Identificacion: r.Identificacion,
		Contrasena:     r.Contrasena,
	}
	if r.SessionID.Valid {
		sid := r.SessionID.String
		c.SessionID = &sid
	}
	return c
}

type accountRow struct {
	ID           int64   `db:"id"`
	NumeroCuenta string  `db:"numero_cuenta"`
	ClientID     int64   `db:"cliente_id"`
	Saldo        float64 `db:"saldo"`
}

func (r accountRow) toDomain() bank.Account {
	return bank.Account{ID: r.ID, NumeroCuenta: r.NumeroCuenta, ClientID: r.ClientID, Saldo: r.Saldo}
}

const clientColumns = `id, nombre_completo, correo_electronico, numero_identificacion, contrasena, id_sesion`

// --- ClientStore ------------------------------------------------------------

func (s *Store) GetClientByCorreo(ctx context.Context, correo string) (bank.Client, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return bank.Client{}, err
	}

	var row clientRow
	err = db.GetContext(ctx, &row, `
		SELECT `+clientColumns+`
		FROM clientes
		WHERE correo_electronico = $1
	`, correo)
	if errors.Is(err, sql.ErrNoRows) {
		return bank.Client{}, storage.ErrNotFound
	}
	if err != nil {
		return bank.Client{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetClientBySession(ctx context.Context, sessionID string) (bank.Client, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return bank.Client{}, err
	}

	var row clientRow
	err = db.GetContext(ctx, &row, `
		SELECT `+clientColumns+`
		FROM clientes
		WHERE id_sesion = $1
	`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return bank.Client{}, storage.ErrNotFound
	}
	if err != nil {
		return bank.Client{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateSessionID(ctx context.Context, clientID int64, sessionID string) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := db.ExecContext(ctx, `
		UPDATE clientes SET id_sesion = $1 WHERE id = $2
	`, sessionID, clientID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ClearSessionID(ctx context.Context, correo, sessionID string) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := db.ExecContext(ctx, `
		UPDATE clientes SET id_sesion = NULL
		WHERE correo_electronico = $1 AND id_sesion = $2
	`, correo, sessionID)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNoActiveSession
	}
	return nil
}

// --- AccountStore -----------------------------------------------------------

func (s *Store) GetAccountByNumber(ctx context.Context, numeroCuenta string) (bank.Account, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return bank.Account{}, err
	}

	var row accountRow
	err = db.GetContext(ctx, &row, `
		SELECT id, numero_cuenta, cliente_id, saldo
		FROM cuentas
		WHERE numero_cuenta = $1
	`, numeroCuenta)
	if errors.Is(err, sql.ErrNoRows) {
		return bank.Account{}, storage.ErrNotFound
	}
	if err != nil {
		return bank.Account{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetAccountByClient(ctx context.Context, clientID int64) (bank.Account, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return bank.Account{}, err
	}

	var row accountRow
	err = db.GetContext(ctx, &row, `
		SELECT id, numero_cuenta, cliente_id, saldo
		FROM cuentas
		WHERE cliente_id = $1
	`, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return bank.Account{}, storage.ErrNotFound
	}
	if err != nil {
		return bank.Account{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetAccountByIdentificacion(ctx context.Context, identificacion int64) (bank.Account, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return bank.Account{}, err
	}

	var row accountRow
	err = db.GetContext(ctx, &row, `
		SELECT id, numero_cuenta, cliente_id, saldo
		FROM cuentas
		WHERE cliente_id = (SELECT id FROM clientes WHERE numero_identificacion = $1)
	`, identificacion)
	if errors.Is(err, sql.ErrNoRows) {
		return bank.Account{}, storage.ErrNotFound
	}
	if err != nil {
		return bank.Account{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) AccountNumberExists(ctx context.Context, numeroCuenta string) (bool, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return false, err
	}

	var count int
	err = db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM cuentas WHERE numero_cuenta = $1
	`, numeroCuenta)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) CreateClientWithAccount(ctx context.Context, profile bank.Profile, numeroCuenta string) (bank.Client, bank.Account, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return bank.Client{}, bank.Account{}, err
	}
	s.cleanStatements(ctx)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return bank.Client{}, bank.Account{}, err
	}
	defer tx.Rollback()

	var count int
	err = tx.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM clientes
		WHERE correo_electronico = $1 OR numero_identificacion = $2
	`, profile.Correo, profile.Identificacion)
	if err != nil {
		return bank.Client{}, bank.Account{}, err
	}
	if count > 0 {
		return bank.Client{}, bank.Account{}, storage.ErrDuplicate
	}

	var clientID int64
	err = tx.GetContext(ctx, &clientID, `
		INSERT INTO clientes (nombre_completo, correo_electronico, numero_identificacion, contrasena)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, profile.Nombre, profile.Correo, profile.Identificacion, profile.Contrasena)
	if err != nil {
		return bank.Client{}, bank.Account{}, mapUniqueViolation(err)
	}

	var accountID int64
	err = tx.GetContext(ctx, &accountID, `
		INSERT INTO cuentas (numero_cuenta, cliente_id, saldo)
		VALUES ($1, $2, 0)
		RETURNING id
	`, numeroCuenta, clientID)
	if err != nil {
		// The only unique constraint on cuentas is numero_cuenta, so a
		// violation here means the generated number lost a race.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return bank.Client{}, bank.Account{}, fmt.Errorf("%w: %s", storage.ErrDuplicateAccountNumber, pqErr.Constraint)
		}
		return bank.Client{}, bank.Account{}, err
	}

	if err := tx.Commit(); err != nil {
		return bank.Client{}, bank.Account{}, err
	}

	client := bank.Client{
		ID:             clientID,
		Nombre:         profile.Nombre,
		Correo:         profile.Correo,
		Identificacion: profile.Identificacion,
		Contrasena:     profile.Contrasena,
	}
	account := bank.Account{ID: accountID, NumeroCuenta: numeroCuenta, ClientID: clientID, Saldo: 0}
	return client, account, nil
}

// --- TransactionStore -------------------------------------------------------

func (s *Store) Deposit(ctx context.Context, numeroCuentaOrigen, numeroCuentaDestino string, monto float64) (bank.DepositResult, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return bank.DepositResult{}, err
	}
	s.cleanStatements(ctx)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return bank.DepositResult{}, err
	}
	defer tx.Rollback()

	var saldoAnterior float64
	err = tx.GetContext(ctx, &saldoAnterior, `
		SELECT saldo FROM cuentas WHERE numero_cuenta = $1
	`, numeroCuentaDestino)
	if errors.Is(err, sql.ErrNoRows) {
		return bank.DepositResult{}, storage.ErrNotFound
	}
	if err != nil {
		return bank.DepositResult{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE cuentas SET saldo = saldo + $1 WHERE numero_cuenta = $2
	`, monto, numeroCuentaDestino); err != nil {
		return bank.DepositResult{}, err
	}

	var saldoNuevo float64
	err = tx.GetContext(ctx, &saldoNuevo, `
		SELECT saldo FROM cuentas WHERE numero_cuenta = $1
	`, numeroCuentaDestino)
	if err != nil {
		return bank.DepositResult{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO transacciones (tipo_transaccion, monto, cuenta_origen_id, cuenta_destino_id)
		VALUES ($1, $2,
			(SELECT id FROM cuentas WHERE numero_cuenta = $3),
			(SELECT id FROM cuentas WHERE numero_cuenta = $4))
	`, bank.TipoConsignacion, monto, numeroCuentaOrigen, numeroCuentaDestino); err != nil {
		return bank.DepositResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return bank.DepositResult{}, err
	}

	return bank.DepositResult{
		Monto:               monto,
		SaldoAnterior:       saldoAnterior,
		SaldoNuevo:          saldoNuevo,
		NumeroCuentaOrigen:  numeroCuentaOrigen,
		NumeroCuentaDestino: numeroCuentaDestino,
	}, nil
}

func (s *Store) ListTransactionsByDestination(ctx context.Context, clientID int64) ([]bank.Transaction, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	type txRow struct {
		ID                   int64        `db:"id"`
		Tipo                 string       `db:"tipo_transaccion"`
		Monto                float64      `db:"monto"`
		FechaHora            sql.NullTime `db:"fecha_hora"`
		CuentaOrigen         string       `db:"cuenta_origen"`
		CuentaDestino        string       `db:"cuenta_destino"`
		IdentificacionOrigen string       `db:"identificacion_origen"`
	}

	var rows []txRow
	err = db.SelectContext(ctx, &rows, `
		SELECT t.id, t.tipo_transaccion, t.monto, t.fecha_hora,
		       c.numero_cuenta AS cuenta_origen,
		       c2.numero_cuenta AS cuenta_destino,
		       cl.numero_identificacion::text AS identificacion_origen
		FROM transacciones t
		JOIN cuentas c ON t.cuenta_origen_id = c.id
		JOIN cuentas c2 ON t.cuenta_destino_id = c2.id
		JOIN clientes cl ON c.cliente_id = cl.id
		WHERE c2.cliente_id = $1
		ORDER BY t.fecha_hora ASC
	`, clientID)
	if err != nil {
		return nil, err
	}

	result := make([]bank.Transaction, 0, len(rows))
	for _, r := range rows {
		record := bank.Transaction{
			ID:                   r.ID,
			Tipo:                 r.Tipo,
			Monto:                r.Monto,
			CuentaOrigen:         r.CuentaOrigen,
			CuentaDestino:        r.CuentaDestino,
			IdentificacionOrigen: r.IdentificacionOrigen,
		}
		if r.FechaHora.Valid {
			record.FechaHora = r.FechaHora.Time
		}
		result = append(result, record)
	}
	return result, nil
}

func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
		return fmt.Errorf("%w: %s", storage.ErrDuplicate, pqErr.Constraint)
	}
	return err
}
