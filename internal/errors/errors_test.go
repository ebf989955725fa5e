package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestIsMatchesCodeThroughWrapping(t *testing.T) {
	err := Unauthorized("Correo o contraseña incorrectos")
	wrapped := fmt.Errorf("login: %w", err)

	if !Is(wrapped, CodeUnauthorized) {
		t.Fatal("wrapped unauthorized error not classified")
	}
	if Is(wrapped, CodeForbidden) {
		t.Fatal("unauthorized error classified as forbidden")
	}
	if Is(stderrors.New("plain"), CodeInternal) {
		t.Fatal("unclassified error matched a code")
	}
}

func TestWithDetailsSurvivesExtraction(t *testing.T) {
	err := Business("Cuenta de destino no encontrada").
		WithDetails("numeroCuentaDestino", "999999")

	se := GetServiceError(fmt.Errorf("deposit: %w", err))
	if se == nil {
		t.Fatal("service error not extracted")
	}
	if se.Details["numeroCuentaDestino"] != "999999" {
		t.Fatalf("detail lost: %+v", se.Details)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := stderrors.New("conexión rechazada")
	err := Persistence("error consultando cliente", cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("cause not reachable through Unwrap")
	}
	if se := GetServiceError(err); se == nil || se.Status != 500 {
		t.Fatalf("unexpected classification: %+v", se)
	}
}
