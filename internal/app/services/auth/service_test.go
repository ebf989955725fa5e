package auth

import (
	"context"
	"testing"
	"time"

	"github.com/appbancaria/banca/internal/app/domain/bank"
	"github.com/appbancaria/banca/internal/app/storage/memory"
	"github.com/appbancaria/banca/internal/errors"
	"github.com/appbancaria/banca/pkg/logger"
)

const testSecret = "secreto_de_prueba"

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := New(store, store, testSecret, time.Hour, logger.NewDefault("auth-test"))
	return svc, store
}

func seedClient(t *testing.T, store *memory.Store) bank.Client {
	t.Helper()
	client, _, err := store.CreateClientWithAccount(context.Background(), bank.Profile{
		Nombre:         "Ana García",
		Identificacion: 10203040,
		Correo:         "ana@example.com",
		Contrasena:     "clave123",
	}, "123456")
	if err != nil {
		t.Fatalf("seeding client: %v", err)
	}
	return client
}

func TestLoginIssuesValidToken(t *testing.T) {
	svc, store := newTestService(t)
	seedClient(t, store)
	ctx := context.Background()

	result, err := svc.Login(ctx, "ana@example.com", "clave123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if result.Token == "" || result.SessionID == "" {
		t.Fatalf("incomplete result: %+v", result)
	}
	if result.Info.NumeroCuenta != "123456" {
		t.Fatalf("account not resolved: %+v", result.Info)
	}

	client, claims, err := svc.Validate(ctx, result.Token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if claims.SessionID != result.SessionID {
		t.Fatalf("session mismatch: %q vs %q", claims.SessionID, result.SessionID)
	}
	if client.Correo != "ana@example.com" {
		t.Fatalf("wrong client: %+v", client)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, store := newTestService(t)
	seedClient(t, store)
	ctx := context.Background()

	cases := []struct{ correo, contrasena string }{
		{"ana@example.com", "incorrecta"},
		{"nadie@example.com", "clave123"},
	}
	for _, tc := range cases {
		_, err := svc.Login(ctx, tc.correo, tc.contrasena)
		se := errors.GetServiceError(err)
		if se == nil || se.Status != 401 {
			t.Fatalf("%s: expected 401, got %v", tc.correo, err)
		}
		if se.Message != "Correo o contraseña incorrectos" {
			t.Fatalf("credential failure must not reveal the field: %q", se.Message)
		}
	}
}

func TestSecondLoginInvalidatesFirstToken(t *testing.T) {
	svc, store := newTestService(t)
	seedClient(t, store)
	ctx := context.Background()

	first, err := svc.Login(ctx, "ana@example.com", "clave123")
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	second, err := svc.Login(ctx, "ana@example.com", "clave123")
	if err != nil {
		t.Fatalf("second login: %v", err)
	}

	if _, _, err := svc.Validate(ctx, second.Token); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}
	if _, _, err := svc.Validate(ctx, first.Token); err == nil {
		t.Fatal("superseded token still accepted")
	}
}

func TestValidateRejectsForgedToken(t *testing.T) {
	svc, store := newTestService(t)
	seedClient(t, store)
	ctx := context.Background()

	forger := New(store, store, "otro_secreto", time.Hour, logger.NewDefault("forger"))
	result, err := forger.Login(ctx, "ana@example.com", "clave123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	_, _, err = svc.Validate(ctx, result.Token)
	se := errors.GetServiceError(err)
	if se == nil || se.Status != 401 {
		t.Fatalf("expected 401 for wrong signature, got %v", err)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	svc, _ := newTestService(t)
	_, _, err := svc.Validate(context.Background(), "no.es.jwt")
	se := errors.GetServiceError(err)
	if se == nil || se.Status != 401 {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestLogoutEndsSession(t *testing.T) {
	svc, store := newTestService(t)
	seedClient(t, store)
	ctx := context.Background()

	result, err := svc.Login(ctx, "ana@example.com", "clave123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := svc.Logout(ctx, "ana@example.com", result.SessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, _, err := svc.Validate(ctx, result.Token); err == nil {
		t.Fatal("token still valid after logout")
	}

	err = svc.Logout(ctx, "ana@example.com", result.SessionID)
	se := errors.GetServiceError(err)
	if se == nil || se.Message != "No se encontró una sesión activa para el correo proporcionado" {
		t.Fatalf("expected no-active-session error, got %v", err)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	store := memory.New()
	seedClient(t, store)
	svc := New(store, store, testSecret, time.Millisecond, logger.NewDefault("auth-test"))
	ctx := context.Background()

	result, err := svc.Login(ctx, "ana@example.com", "clave123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	_, _, err = svc.Validate(ctx, result.Token)
	se := errors.GetServiceError(err)
	if se == nil || se.Status != 401 {
		t.Fatalf("expected 401 for expired token, got %v", err)
	}
}
