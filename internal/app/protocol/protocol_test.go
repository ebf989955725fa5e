package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	svcerr "github.com/appbancaria/banca/internal/errors"
)

func TestParsePing(t *testing.T) {
	req, err := Parse([]byte(`{"tipoOperacion":"ping"}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if req.Op != OpPing {
		t.Fatalf("expected ping, got %q", req.Op)
	}
	if req.RequiresAuth() {
		t.Fatal("ping should not require auth")
	}
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`esto no es json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	se := svcerr.GetServiceError(err)
	if se == nil || se.Status != StatusBadRequest {
		t.Fatalf("expected 400 service error, got %v", err)
	}
	if se.Message != "Invalid request format" {
		t.Fatalf("unexpected message %q", se.Message)
	}
}

func TestParseUnknownOperation(t *testing.T) {
	for _, raw := range []string{
		`{"tipoOperacion":"transferir"}`,
		`{"tipoOperacion":""}`,
		`{"datos":{}}`,
	} {
		_, err := Parse([]byte(raw))
		if err == nil {
			t.Fatalf("expected error for %s", raw)
		}
		se := svcerr.GetServiceError(err)
		if se == nil || se.Message != "Operación no soportada" {
			t.Fatalf("unexpected error for %s: %v", raw, err)
		}
	}
}

func TestParseRegistrarUsuarioAlias(t *testing.T) {
	req, err := Parse([]byte(`{"tipoOperacion":"registrar_usuario","datos":{"nombre":"Ana","identificacion":123,"correo":"a@b.co","contrasena":"x"}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if req.Op != OpCrearCuenta {
		t.Fatalf("alias not normalized, got %q", req.Op)
	}
	if req.Create == nil || req.Create.Nombre != "Ana" {
		t.Fatalf("payload not decoded: %+v", req.Create)
	}
}

func TestParseOperationCaseInsensitive(t *testing.T) {
	req, err := Parse([]byte(`{"tipoOperacion":"PING"}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if req.Op != OpPing {
		t.Fatalf("expected ping, got %q", req.Op)
	}
}

func TestFlexInt64(t *testing.T) {
	cases := []struct {
		raw  string
		want int64
	}{
		{`{"identificacion":123456}`, 123456},
		{`{"identificacion":"123456"}`, 123456},
		{`{"identificacion":1.23456e5}`, 123456},
		{`{"identificacion":null}`, 0},
	}
	for _, tc := range cases {
		var payload BalancePayload
		if err := json.Unmarshal([]byte(tc.raw), &payload); err != nil {
			t.Fatalf("unmarshal %s: %v", tc.raw, err)
		}
		if int64(payload.Identificacion) != tc.want {
			t.Fatalf("%s: got %d, want %d", tc.raw, payload.Identificacion, tc.want)
		}
	}
}

func TestBearerTokenPerOperation(t *testing.T) {
	req, err := Parse([]byte(`{"tipoOperacion":"consulta_saldo","datos":{"token":"abc","numeroCuenta":"123456"}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if req.BearerToken() != "abc" {
		t.Fatalf("got token %q", req.BearerToken())
	}
	if !req.RequiresAuth() {
		t.Fatal("consulta_saldo must require auth")
	}

	req, err = Parse([]byte(`{"tipoOperacion":"validar_token","datos":{"token":"xyz"}}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if req.BearerToken() != "xyz" {
		t.Fatalf("got token %q", req.BearerToken())
	}
}

func TestNewResponseDatosNeverNil(t *testing.T) {
	resp := NewResponse(StatusOK, "pong", nil)
	if resp.Datos == nil {
		t.Fatal("datos must not be nil")
	}
	out, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["datos"].(map[string]interface{}); !ok {
		t.Fatalf("datos missing or wrong type in %s", out)
	}
}

func TestErrorResponseMapping(t *testing.T) {
	resp := ErrorResponse(svcerr.Forbidden("No autorizado para consultar esta cuenta"))
	if resp.Codigo != StatusForbidden {
		t.Fatalf("got codigo %d", resp.Codigo)
	}
	if resp.Mensaje != "No autorizado para consultar esta cuenta" {
		t.Fatalf("got mensaje %q", resp.Mensaje)
	}

	resp = ErrorResponse(errors.New("boom"))
	if resp.Codigo != StatusInternal || resp.Mensaje != "Error interno del servidor" {
		t.Fatalf("unclassified error not mapped to 500: %+v", resp)
	}
}
