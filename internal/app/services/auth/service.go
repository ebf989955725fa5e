// Package auth implements credential verification, session token issuance
// and validation. A token is only as valid as the session id it carries:
// the client's stored id_sesion must still match, so a newer login or a
// logout invalidates older tokens regardless of their expiry.
package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/appbancaria/banca/internal/app/domain/bank"
	"github.com/appbancaria/banca/internal/app/storage"
	"github.com/appbancaria/banca/internal/errors"
	"github.com/appbancaria/banca/pkg/logger"
)

// Claims are the JWT claims embedded in every issued token.
type Claims struct {
	ClientID  int64  `json:"clientId"`
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

// Service issues and validates session tokens.
type Service struct {
	clients  storage.ClientStore
	accounts storage.AccountStore
	secret   []byte
	ttl      time.Duration
	log      *logger.Logger
}

// New creates the auth service. ttl <= 0 defaults to one hour.
func New(clients storage.ClientStore, accounts storage.AccountStore, secret string, ttl time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{
		clients:  clients,
		accounts: accounts,
		secret:   []byte(secret),
		ttl:      ttl,
		log:      log,
	}
}

// LoginResult carries the issued token and the authenticated client's view.
type LoginResult struct {
	Token     string
	SessionID string
	ExpiresAt time.Time
	Info      bank.ClientInfo
}

// Login verifies the credential pair and issues a fresh session. The stored
// id_sesion is overwritten, which silently invalidates any prior token for
// this client. The failure message never reveals which field was wrong.
func (s *Service) Login(ctx context.Context, correo, contrasena string) (LoginResult, error) {
	client, err := s.clients.GetClientByCorreo(ctx, correo)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return LoginResult{}, errors.Unauthorized("Correo o contraseña incorrectos")
		}
		return LoginResult{}, errors.Persistence("error consultando cliente", err)
	}

	// Credentials are stored and compared in plain text.
	if client.Contrasena != contrasena {
		return LoginResult{}, errors.Unauthorized("Correo o contraseña incorrectos")
	}

	sessionID := uuid.NewString()
	if err := s.clients.UpdateSessionID(ctx, client.ID, sessionID); err != nil {
		return LoginResult{}, errors.Persistence("error registrando sesión", err)
	}

	now := time.Now()
	expiresAt := now.Add(s.ttl)
	claims := &Claims{
		ClientID:  client.ID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return LoginResult{}, errors.Internal("error generando token", err)
	}

	account, err := s.accounts.GetAccountByClient(ctx, client.ID)
	if err != nil && !stderrors.Is(err, storage.ErrNotFound) {
		return LoginResult{}, errors.Persistence("error consultando cuenta", err)
	}

	s.log.WithField("correo", correo).Info("login exitoso")

	return LoginResult{
		Token:     token,
		SessionID: sessionID,
		ExpiresAt: expiresAt,
		Info: bank.ClientInfo{
			ClientID:       client.ID,
			Nombre:         client.Nombre,
			Correo:         client.Correo,
			Identificacion: client.Identificacion,
			NumeroCuenta:   account.NumeroCuenta,
			Saldo:          account.Saldo,
		},
	}, nil
}

// Validate checks the token's signature and expiry, then requires that its
// session id is still the client's current one. Superseded, logged-out or
// forged sessions fail even when the token itself has not expired.
func (s *Service) Validate(ctx context.Context, tokenString string) (bank.Client, *Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return bank.Client{}, nil, errors.InvalidToken(err)
	}
	if !token.Valid || claims.SessionID == "" {
		return bank.Client{}, nil, errors.InvalidToken(nil)
	}

	client, err := s.clients.GetClientBySession(ctx, claims.SessionID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return bank.Client{}, nil, errors.Unauthorized("Sesión no activa")
		}
		return bank.Client{}, nil, errors.Persistence("error validando sesión", err)
	}
	if client.ID != claims.ClientID {
		return bank.Client{}, nil, errors.Unauthorized("Sesión no activa")
	}

	return client, claims, nil
}

// Logout clears the session binding only while it still matches sessionID.
func (s *Service) Logout(ctx context.Context, correo, sessionID string) error {
	err := s.clients.ClearSessionID(ctx, correo, sessionID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNoActiveSession) {
			return errors.Business("No se encontró una sesión activa para el correo proporcionado")
		}
		return errors.Persistence("error cerrando sesión", err)
	}
	s.log.WithField("correo", correo).Info("sesión cerrada")
	return nil
}
