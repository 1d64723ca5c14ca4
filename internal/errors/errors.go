// internal/errors/errors.go
// Package errors provides standardized error handling for the ingest service.
// Every pipeline step either produces a value or one of the classified codes
// below; the HTTP surface maps codes to transport status.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the ingest service.
type ErrorCode string

const (
	// Ingestion pipeline errors
	INGEST_INVALID_PAYLOAD      ErrorCode = "INGEST_INVALID_PAYLOAD"      // Payload missing or not URL-shaped when it must be
	INGEST_DUPLICATE            ErrorCode = "INGEST_DUPLICATE"            // Fingerprint already has a live asset
	INGEST_REDIRECT_LOOP        ErrorCode = "INGEST_REDIRECT_LOOP"        // A normalized URL was revisited during traversal
	INGEST_BUDGET_EXCEEDED      ErrorCode = "INGEST_BUDGET_EXCEEDED"      // Redirect/HTML hop cap or traversal deadline reached
	INGEST_UNRECOGNIZED_CONTENT ErrorCode = "INGEST_UNRECOGNIZED_CONTENT" // Final response was neither media, HTML, nor a usable attachment
	INGEST_CONTENT_INVALID      ErrorCode = "INGEST_CONTENT_INVALID"      // Declared media failed magic-byte or minimum-size checks
	INGEST_UPSTREAM             ErrorCode = "INGEST_UPSTREAM"             // Network failure talking to the remote vendor
	INGEST_STORAGE              ErrorCode = "INGEST_STORAGE"              // Blob store rejected or failed the write

	// Validation errors
	INGEST_VALIDATION  ErrorCode = "INGEST_VALIDATION"  // General request validation error
	INGEST_BAD_REQUEST ErrorCode = "INGEST_BAD_REQUEST" // Bad request
	INGEST_CURSOR      ErrorCode = "INGEST_CURSOR"      // Invalid pagination cursor

	// Authentication/Authorization errors
	INGEST_AUTHZ         ErrorCode = "INGEST_AUTHZ"         // Authorization failed
	INGEST_AUTHN         ErrorCode = "INGEST_AUTHN"         // Authentication failed
	INGEST_JWT_INVALID   ErrorCode = "INGEST_JWT_INVALID"   // Invalid JWT
	INGEST_JWT_EXPIRED   ErrorCode = "INGEST_JWT_EXPIRED"   // Expired JWT
	INGEST_JWT_MALFORMED ErrorCode = "INGEST_JWT_MALFORMED" // Malformed JWT

	// Resource errors
	INGEST_NOT_FOUND ErrorCode = "INGEST_NOT_FOUND" // Resource not found
	INGEST_CONFLICT  ErrorCode = "INGEST_CONFLICT"  // Resource conflict

	// Server errors
	INGEST_INTERNAL    ErrorCode = "INGEST_INTERNAL"    // Internal server error
	INGEST_UNAVAILABLE ErrorCode = "INGEST_UNAVAILABLE" // Service unavailable
)

// Error represents a standardized error response.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId"`
	Details       interface{} `json:"details,omitempty"`
	HTTPStatus    int         `json:"-"`
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, correlationID string, details interface{}) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		Details:       details,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target carries the same error code. This lets callers use
// errors.Is against sentinel-style values without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case INGEST_INVALID_PAYLOAD, INGEST_VALIDATION, INGEST_BAD_REQUEST, INGEST_CURSOR, INGEST_CONTENT_INVALID:
		return http.StatusBadRequest
	case INGEST_DUPLICATE, INGEST_CONFLICT:
		return http.StatusConflict
	case INGEST_REDIRECT_LOOP, INGEST_BUDGET_EXCEEDED, INGEST_UNRECOGNIZED_CONTENT:
		return http.StatusUnprocessableEntity
	case INGEST_UPSTREAM:
		return http.StatusBadGateway
	case INGEST_AUTHZ:
		return http.StatusForbidden
	case INGEST_AUTHN, INGEST_JWT_INVALID, INGEST_JWT_EXPIRED, INGEST_JWT_MALFORMED:
		return http.StatusUnauthorized
	case INGEST_NOT_FOUND:
		return http.StatusNotFound
	case INGEST_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
