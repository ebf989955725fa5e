// Package errors defines the service error taxonomy shared by the dispatcher
// and the domain services. Every error that crosses the protocol boundary is
// classified into a ServiceError carrying the wire status code sent back to
// the client.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies an error class independently of its message.
type Code string

const (
	CodeBadRequest   Code = "bad_request"
	CodeBusiness     Code = "business_error"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeNotFound     Code = "not_found"
	CodePersistence  Code = "persistence_error"
	CodeInternal     Code = "internal_error"
)

// ServiceError is an error with a stable classification and a wire status.
type ServiceError struct {
	Code    Code
	Message string
	Status  int
	Details map[string]interface{}
	cause   error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.cause }

// WithDetails attaches a detail entry and returns the error for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// BadRequest is a malformed or unsupported request (protocol level).
func BadRequest(message string) *ServiceError {
	return &ServiceError{Code: CodeBadRequest, Message: message, Status: 400}
}

// Business is a domain rule violation; reported on the wire as 400.
func Business(message string) *ServiceError {
	return &ServiceError{Code: CodeBusiness, Message: message, Status: 400}
}

// NotFound is a missing entity; a business condition on this protocol, so it
// shares the 400 wire status.
func NotFound(message string) *ServiceError {
	return &ServiceError{Code: CodeNotFound, Message: message, Status: 400}
}

// Unauthorized is a failed credential or token check.
func Unauthorized(message string) *ServiceError {
	return &ServiceError{Code: CodeUnauthorized, Message: message, Status: 401}
}

// InvalidToken wraps a token verification failure.
func InvalidToken(cause error) *ServiceError {
	return &ServiceError{Code: CodeUnauthorized, Message: "Token inválido o expirado", Status: 401, cause: cause}
}

// Forbidden is an authorization failure for an authenticated caller.
func Forbidden(message string) *ServiceError {
	return &ServiceError{Code: CodeForbidden, Message: message, Status: 403}
}

// Persistence wraps a database failure.
func Persistence(message string, cause error) *ServiceError {
	return &ServiceError{Code: CodePersistence, Message: message, Status: 500, cause: cause}
}

// Internal wraps an unexpected failure.
func Internal(message string, cause error) *ServiceError {
	return &ServiceError{Code: CodeInternal, Message: message, Status: 500, cause: cause}
}

// GetServiceError extracts a ServiceError from err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// Is reports whether err classifies as the given code.
func Is(err error, code Code) bool {
	if svcErr := GetServiceError(err); svcErr != nil {
		return svcErr.Code == code
	}
	return false
}
