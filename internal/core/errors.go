package core

import (
	"errors"
	"fmt"
)

// Error codes reported to the originating connection.
const (
	ErrCodeValidation     = "validation_error"
	ErrCodeNotParticipant = "not_participant"
	ErrCodeNotFound       = "conversation_not_found"
	ErrCodePersistence    = "persistence_error"
	ErrCodeBadRequest     = "bad_request"
	ErrCodeUnknownType    = "unknown_type"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeUnavailable    = "unavailable"
)

var (
	// ErrHubStopped is returned by hub operations once Run has returned.
	ErrHubStopped = errors.New("hub stopped")
	// ErrClientClosed is returned when submitting to a client that already left.
	ErrClientClosed = errors.New("client closed")
)

// Error wraps a code and human-readable message. Cause is kept for logs only
// and never leaves the server.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsValidation reports whether the error belongs to the validation class:
// the request was rejected before any state was mutated.
func (e *Error) IsValidation() bool {
	switch e.Code {
	case ErrCodeValidation, ErrCodeNotParticipant, ErrCodeNotFound, ErrCodeBadRequest, ErrCodeUnknownType:
		return true
	}
	return false
}

func coreError(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func validationError(msg string) *Error {
	return coreError(ErrCodeValidation, msg)
}

func persistenceError(msg string, cause error) *Error {
	return &Error{Code: ErrCodePersistence, Message: msg, Cause: cause}
}

// AsError extracts a *Error from err, wrapping anything else as unavailable.
func AsError(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Code: ErrCodeUnavailable, Message: "request could not be processed", Cause: err}
}
