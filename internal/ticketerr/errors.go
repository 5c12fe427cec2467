// Package ticketerr defines the error taxonomy shared by the ticket store,
// the transfer workflow and check-in. Callers match with errors.Is / errors.As
// and map to user-facing text or HTTP codes.
package ticketerr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("lost a concurrent update")
	ErrPermissionDenied = errors.New("permission denied")
	ErrSelfTransfer     = errors.New("cannot transfer a ticket to yourself")
	ErrExhausted        = errors.New("ticket fully redeemed")
	ErrWrongEvent       = errors.New("ticket belongs to a different event")
	ErrInactive         = errors.New("ticket is disabled")
	ErrAlreadyClaimed   = errors.New("transfer already claimed")
	ErrAlreadyCancelled = errors.New("transfer already cancelled")
	ErrExpired          = errors.New("transfer expired")
)

// ValidationError marks malformed input or a precondition violated before any
// state change happened.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// Validation builds a ValidationError with the given reason.
func Validation(reason string) error {
	return &ValidationError{Reason: reason}
}

// Validationf builds a ValidationError with a formatted reason.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Terminal maps a settled transfer status to the matching terminal error.
// Unknown or still-pending statuses map to ErrConflict: the caller observed a
// race it cannot classify and should re-read.
func Terminal(status string) error {
	switch status {
	case "CLAIMED":
		return ErrAlreadyClaimed
	case "CANCELLED":
		return ErrAlreadyCancelled
	case "EXPIRED":
		return ErrExpired
	default:
		return ErrConflict
	}
}

// HTTPStatus maps a taxonomy error to an HTTP status code for API handlers.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrSelfTransfer):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict),
		errors.Is(err, ErrAlreadyClaimed),
		errors.Is(err, ErrAlreadyCancelled),
		errors.Is(err, ErrExpired),
		errors.Is(err, ErrExhausted):
		return http.StatusConflict
	case errors.Is(err, ErrWrongEvent), errors.Is(err, ErrInactive):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
