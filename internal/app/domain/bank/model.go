// Package bank holds the core banking domain records.
package bank

import "time"

// Client is the identity record behind one or more accounts. SessionID is nil
// when the client is logged out; a client has at most one live session.
type Client struct {
	ID             int64
	Nombre         string
	Correo         string
	Identificacion int64
	Contrasena     string
	SessionID      *string
}

// Account is a single balance-bearing account owned by exactly one client.
// NumeroCuenta is the server-generated public account number.
type Account struct {
	ID           int64
	NumeroCuenta string
	ClientID     int64
	Saldo        float64
}

// Transaction is one append-only ledger entry. CuentaOrigen and CuentaDestino
// carry public account numbers; IdentificacionOrigen is the origin owner's
// identification, as surfaced by the history query.
type Transaction struct {
	ID                   int64
	Tipo                 string
	Monto                float64
	FechaHora            time.Time
	CuentaOrigen         string
	CuentaDestino        string
	IdentificacionOrigen string
}

// TipoConsignacion is the only transaction type the ledger currently writes.
const TipoConsignacion = "consignacion"

// Profile is the input to account creation.
type Profile struct {
	Nombre         string
	Identificacion int64
	Correo         string
	Contrasena     string
}

// ClientInfo is the full per-client view returned by login and
// obtener_informacion_cliente: profile plus the client's account state.
type ClientInfo struct {
	ClientID       int64
	Nombre         string
	Correo         string
	Identificacion int64
	NumeroCuenta   string
	Saldo          float64
}

// DepositResult reports the outcome of a consignación.
type DepositResult struct {
	Monto               float64
	SaldoAnterior       float64
	SaldoNuevo          float64
	NumeroCuentaOrigen  string
	NumeroCuentaDestino string
}
