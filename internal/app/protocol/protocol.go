// Package protocol defines the line-oriented JSON wire format: one request
// object per line in, one response object per line out. Requests are decoded
// into a typed operation union at parse time; unknown operations surface as a
// single unsupported variant.
package protocol

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/appbancaria/banca/internal/errors"
)

// Operation names. registrar_usuario is a legacy alias of crear_cuenta and is
// normalized away during parsing.
const (
	OpPing             = "ping"
	OpLogin            = "login"
	OpLogout           = "logout"
	OpCrearCuenta      = "crear_cuenta"
	OpRegistrarUsuario = "registrar_usuario"
	OpConsultaSaldo    = "consulta_saldo"
	OpConsignaCuenta   = "consigna_cuenta"
	OpHistorial        = "historial_transacciones"
	OpInfoCliente      = "obtener_informacion_cliente"
	OpValidarToken     = "validar_token"
)

// Response status codes.
const (
	StatusOK           = 200
	StatusCreated      = 201
	StatusBadRequest   = 400
	StatusUnauthorized = 401
	StatusForbidden    = 403
	StatusInternal     = 500
)

// envelope is the raw request frame before payload typing.
type envelope struct {
	TipoOperacion string          `json:"tipoOperacion"`
	Datos         json.RawMessage `json:"datos"`
}

// Response is the wire response frame. Datos is always present.
type Response struct {
	Codigo  int                    `json:"codigo"`
	Mensaje string                 `json:"mensaje"`
	Datos   map[string]interface{} `json:"datos"`
}

// NewResponse builds a response with a non-nil datos object.
func NewResponse(codigo int, mensaje string, datos map[string]interface{}) Response {
	if datos == nil {
		datos = map[string]interface{}{}
	}
	return Response{Codigo: codigo, Mensaje: mensaje, Datos: datos}
}

// ErrorResponse converts any error into a response frame using the service
// error taxonomy; unclassified errors become a 500.
func ErrorResponse(err error) Response {
	if svcErr := errors.GetServiceError(err); svcErr != nil {
		datos := map[string]interface{}{}
		for k, v := range svcErr.Details {
			datos[k] = v
		}
		return NewResponse(svcErr.Status, svcErr.Message, datos)
	}
	return NewResponse(StatusInternal, "Error interno del servidor", nil)
}

// FlexInt64 decodes a JSON number or a numeric string. Deployed clients send
// identificacion both ways.
type FlexInt64 int64

func (f *FlexInt64) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	// tolerate clients that serialize integers as floats
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		*f = FlexInt64(int64(v))
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = FlexInt64(v)
	return nil
}

// Typed payloads, one per operation.

type LoginPayload struct {
	Correo     string `json:"correo"`
	Contrasena string `json:"contrasena"`
}

type LogoutPayload struct {
	Correo string `json:"correo"`
	Token  string `json:"token"`
}

type CreateAccountPayload struct {
	Nombre         string    `json:"nombre"`
	Identificacion FlexInt64 `json:"identificacion"`
	Correo         string    `json:"correo"`
	Contrasena     string    `json:"contrasena"`
}

type BalancePayload struct {
	Token          string    `json:"token"`
	NumeroCuenta   string    `json:"numeroCuenta"`
	Identificacion FlexInt64 `json:"identificacion"`
}

type DepositPayload struct {
	Token               string  `json:"token"`
	NumeroCuentaDestino string  `json:"numeroCuentaDestino"`
	Monto               float64 `json:"monto"`
}

type TokenPayload struct {
	Token string `json:"token"`
}

// Request is the tagged union over the fixed operation set. Exactly one
// payload field is non-nil for operations that carry one.
type Request struct {
	Op string

	Login   *LoginPayload
	Logout  *LogoutPayload
	Create  *CreateAccountPayload
	Balance *BalancePayload
	Deposit *DepositPayload
	Token   *TokenPayload
}

// Parse decodes one request line into the typed union.
func Parse(line []byte) (*Request, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, errors.BadRequest("Invalid request format")
	}

	op := strings.ToLower(strings.TrimSpace(env.TipoOperacion))
	if op == "" {
		return nil, errors.BadRequest("Operación no soportada")
	}
	if op == OpRegistrarUsuario {
		op = OpCrearCuenta
	}

	req := &Request{Op: op}

	switch op {
	case OpPing:
		// no payload
	case OpLogin:
		req.Login = &LoginPayload{}
		if err := decodeDatos(env.Datos, req.Login); err != nil {
			return nil, err
		}
	case OpLogout:
		req.Logout = &LogoutPayload{}
		if err := decodeDatos(env.Datos, req.Logout); err != nil {
			return nil, err
		}
	case OpCrearCuenta:
		req.Create = &CreateAccountPayload{}
		if err := decodeDatos(env.Datos, req.Create); err != nil {
			return nil, err
		}
	case OpConsultaSaldo:
		req.Balance = &BalancePayload{}
		if err := decodeDatos(env.Datos, req.Balance); err != nil {
			return nil, err
		}
	case OpConsignaCuenta:
		req.Deposit = &DepositPayload{}
		if err := decodeDatos(env.Datos, req.Deposit); err != nil {
			return nil, err
		}
	case OpHistorial, OpInfoCliente, OpValidarToken:
		req.Token = &TokenPayload{}
		if err := decodeDatos(env.Datos, req.Token); err != nil {
			return nil, err
		}
	default:
		return nil, errors.BadRequest("Operación no soportada")
	}

	return req, nil
}

func decodeDatos(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.BadRequest("Invalid request format")
	}
	return nil
}

// BearerToken returns the token carried by the request, if any.
func (r *Request) BearerToken() string {
	switch {
	case r.Logout != nil:
		return r.Logout.Token
	case r.Balance != nil:
		return r.Balance.Token
	case r.Deposit != nil:
		return r.Deposit.Token
	case r.Token != nil:
		return r.Token.Token
	}
	return ""
}

// RequiresAuth reports whether the operation needs a valid bearer token.
func (r *Request) RequiresAuth() bool {
	switch r.Op {
	case OpPing, OpLogin, OpCrearCuenta:
		return false
	}
	return true
}
