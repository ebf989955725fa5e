package server

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/appbancaria/banca/internal/app/domain/bank"
	"github.com/appbancaria/banca/internal/app/metrics"
	"github.com/appbancaria/banca/internal/app/protocol"
	"github.com/appbancaria/banca/internal/errors"
	"github.com/appbancaria/banca/pkg/logger"
)

// maxLineBytes caps a single request line.
const maxLineBytes = 64 * 1024

// dispatcher serves one connection: read one line, handle, write one line.
// Requests on a connection are strictly ordered; only socket-level failures
// end the loop.
type dispatcher struct {
	srv     *Server
	conn    net.Conn
	entry   *ConnectedClient
	limiter *rate.Limiter
	log     *logger.Logger
}

func newDispatcher(srv *Server, conn net.Conn, entry *ConnectedClient) *dispatcher {
	var limiter *rate.Limiter
	if srv.requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(srv.requestsPerSecond), srv.requestBurst)
	}
	return &dispatcher{
		srv:     srv,
		conn:    conn,
		entry:   entry,
		limiter: limiter,
		log:     srv.log.WithField("remoteAddr", conn.RemoteAddr().String()),
	}
}

// run processes requests until the peer disconnects or the context ends.
// On exit the entry is flagged dead; the sweeper finishes the eviction.
func (d *dispatcher) run(ctx context.Context) {
	defer func() {
		d.entry.MarkDead()
		metrics.ConnectionClosed()
		d.log.Info("cliente desconectado")
	}()

	metrics.ConnectionOpened()
	d.log.Info("nuevo cliente conectado")

	scanner := bufio.NewScanner(d.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	encoder := json.NewEncoder(d.conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if d.srv.readTimeout > 0 {
			_ = d.conn.SetReadDeadline(time.Now().Add(d.srv.readTimeout))
		}
		if !scanner.Scan() {
			// A line over the cap leaves the stream unrecoverable, but the
			// peer is still connected and owed a reply before the close.
			if stderrors.Is(scanner.Err(), bufio.ErrTooLong) {
				resp := protocol.NewResponse(protocol.StatusBadRequest, "Invalid request format", nil)
				metrics.RecordRequest("invalid", resp.Codigo, 0)
				_ = encoder.Encode(resp)
			}
			// EOF, deadline expiry or unreadable stream
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := d.handleLine(ctx, line)
		if err := encoder.Encode(resp); err != nil {
			d.log.WithError(err).Warn("error escribiendo respuesta")
			return
		}
	}
}

func (d *dispatcher) handleLine(ctx context.Context, line []byte) protocol.Response {
	start := time.Now()

	if d.limiter != nil && !d.limiter.Allow() {
		resp := protocol.NewResponse(protocol.StatusBadRequest, "Demasiadas solicitudes", nil)
		metrics.RecordRequest("rate_limited", resp.Codigo, time.Since(start))
		return resp
	}

	req, err := protocol.Parse(line)
	if err != nil {
		resp := protocol.ErrorResponse(err)
		metrics.RecordRequest("invalid", resp.Codigo, time.Since(start))
		return resp
	}

	resp := d.handle(ctx, req)
	metrics.RecordRequest(req.Op, resp.Codigo, time.Since(start))
	return resp
}

// handle routes one parsed request. Downstream errors are converted to
// structured responses so the loop keeps serving the connection.
func (d *dispatcher) handle(ctx context.Context, req *protocol.Request) protocol.Response {
	auth := d.srv.auth
	ledger := d.srv.ledger

	var sessionID string
	if req.RequiresAuth() {
		token := req.BearerToken()
		if token == "" {
			metrics.RecordAuthFailure()
			return protocol.NewResponse(protocol.StatusUnauthorized, "Token requerido", nil)
		}
		_, claims, err := auth.Validate(ctx, token)
		if err != nil {
			metrics.RecordAuthFailure()
			return protocol.ErrorResponse(err)
		}
		sessionID = claims.SessionID
	}

	switch req.Op {
	case protocol.OpPing:
		return protocol.NewResponse(protocol.StatusOK, "pong", nil)

	case protocol.OpLogin:
		result, err := auth.Login(ctx, req.Login.Correo, req.Login.Contrasena)
		if err != nil {
			// persistence failures during login are not credential failures
			if errors.Is(err, errors.CodeUnauthorized) {
				metrics.RecordAuthFailure()
			}
			return protocol.ErrorResponse(err)
		}
		d.entry.BindSession(result.Info.Correo, result.SessionID, result.Info.Nombre)
		datos := clientInfoDatos(result.Info)
		datos["token"] = result.Token
		datos["idSesion"] = result.SessionID
		return protocol.NewResponse(protocol.StatusOK, "Inicio de sesión exitoso", datos)

	case protocol.OpCrearCuenta:
		profile := bank.Profile{
			Nombre:         req.Create.Nombre,
			Identificacion: int64(req.Create.Identificacion),
			Correo:         req.Create.Correo,
			Contrasena:     req.Create.Contrasena,
		}
		numeroCuenta, err := ledger.CreateAccount(ctx, profile)
		if err != nil {
			return protocol.ErrorResponse(err)
		}
		return protocol.NewResponse(protocol.StatusCreated, "Cuenta creada exitosamente", map[string]interface{}{
			"numeroCuenta": numeroCuenta,
			"titular":      profile.Nombre,
		})

	case protocol.OpConsultaSaldo:
		return d.handleBalance(ctx, sessionID, req.Balance)

	case protocol.OpConsignaCuenta:
		result, err := ledger.Deposit(ctx, sessionID, req.Deposit.NumeroCuentaDestino, req.Deposit.Monto)
		if err != nil {
			return protocol.ErrorResponse(err)
		}
		return protocol.NewResponse(protocol.StatusOK, "Consignación exitosa", map[string]interface{}{
			"saldoAnterior":       result.SaldoAnterior,
			"saldoNuevo":          result.SaldoNuevo,
			"monto":               result.Monto,
			"numeroCuentaOrigen":  result.NumeroCuentaOrigen,
			"numeroCuentaDestino": result.NumeroCuentaDestino,
		})

	case protocol.OpLogout:
		if err := auth.Logout(ctx, req.Logout.Correo, sessionID); err != nil {
			return protocol.ErrorResponse(err)
		}
		d.entry.ClearSession()
		return protocol.NewResponse(protocol.StatusOK, "Sesión cerrada exitosamente", nil)

	case protocol.OpHistorial:
		records, err := ledger.History(ctx, sessionID)
		if err != nil {
			return protocol.ErrorResponse(err)
		}
		historial := make([]map[string]interface{}, 0, len(records))
		for _, r := range records {
			historial = append(historial, map[string]interface{}{
				"tipo_transaccion":      r.Tipo,
				"fecha_hora":            r.FechaHora,
				"monto":                 r.Monto,
				"cuenta_origen":         r.CuentaOrigen,
				"cuenta_destino":        r.CuentaDestino,
				"identificacion_origen": r.IdentificacionOrigen,
			})
		}
		return protocol.NewResponse(protocol.StatusOK, "Consulta de historial exitosa", map[string]interface{}{
			"historial": historial,
		})

	case protocol.OpInfoCliente, protocol.OpValidarToken:
		info, err := ledger.ClientInfo(ctx, sessionID)
		if err != nil {
			return protocol.ErrorResponse(err)
		}
		datos := clientInfoDatos(info)
		datos["idSesion"] = sessionID
		return protocol.NewResponse(protocol.StatusOK, "Token válido", datos)
	}

	return protocol.NewResponse(protocol.StatusBadRequest, "Operación no soportada", nil)
}

// handleBalance applies the ownership rule before any lookup: an explicit
// account number or identification must match the caller's own; a mismatch is
// rejected without revealing anything about the target.
func (d *dispatcher) handleBalance(ctx context.Context, sessionID string, payload *protocol.BalancePayload) protocol.Response {
	own, err := d.srv.ledger.ClientInfo(ctx, sessionID)
	if err != nil {
		return protocol.ErrorResponse(err)
	}

	if payload.NumeroCuenta != "" && payload.NumeroCuenta != own.NumeroCuenta {
		return protocol.ErrorResponse(errors.Forbidden("No autorizado para consultar esta cuenta"))
	}
	if payload.Identificacion != 0 && int64(payload.Identificacion) != own.Identificacion {
		return protocol.ErrorResponse(errors.Forbidden("No autorizado para consultar esta cuenta"))
	}

	var saldo float64
	switch {
	case payload.NumeroCuenta != "":
		saldo, err = d.srv.ledger.BalanceByAccount(ctx, payload.NumeroCuenta)
	case payload.Identificacion != 0:
		saldo, err = d.srv.ledger.BalanceByIdentification(ctx, int64(payload.Identificacion))
	default:
		// no selector: the caller's own account
		saldo = own.Saldo
	}
	if err != nil {
		return protocol.ErrorResponse(err)
	}

	return protocol.NewResponse(protocol.StatusOK, "Consulta de saldo exitosa", map[string]interface{}{
		"saldo": saldo,
	})
}

func clientInfoDatos(info bank.ClientInfo) map[string]interface{} {
	return map[string]interface{}{
		"nombre":         info.Nombre,
		"correo":         info.Correo,
		"identificacion": strconv.FormatInt(info.Identificacion, 10),
		"numeroCuenta":   info.NumeroCuenta,
		"saldo":          info.Saldo,
	}
}
