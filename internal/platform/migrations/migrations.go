// Package migrations applies the banking schema at startup. Statements are
// idempotent so repeated application is safe.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS clientes (
		id BIGSERIAL PRIMARY KEY,
		nombre_completo TEXT NOT NULL,
		correo_electronico TEXT NOT NULL UNIQUE,
		numero_identificacion BIGINT NOT NULL UNIQUE,
		contrasena TEXT NOT NULL,
		id_sesion TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS cuentas (
		id BIGSERIAL PRIMARY KEY,
		numero_cuenta TEXT NOT NULL UNIQUE,
		cliente_id BIGINT NOT NULL REFERENCES clientes(id),
		saldo DOUBLE PRECISION NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS transacciones (
		id BIGSERIAL PRIMARY KEY,
		tipo_transaccion TEXT NOT NULL,
		monto DOUBLE PRECISION NOT NULL,
		fecha_hora TIMESTAMPTZ NOT NULL DEFAULT now(),
		cuenta_origen_id BIGINT NOT NULL REFERENCES cuentas(id),
		cuenta_destino_id BIGINT NOT NULL REFERENCES cuentas(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_clientes_id_sesion ON clientes (id_sesion)`,
	`CREATE INDEX IF NOT EXISTS idx_transacciones_destino ON transacciones (cuenta_destino_id, fecha_hora)`,
}

// Apply executes all schema statements in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
