package apperr

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

var (
	// ErrInvalidAmount rejects non-positive amounts before any balance is touched.
	ErrInvalidAmount = errors.New("amount must be a positive number")

	// ErrInsufficientBalance occurs when a balance pool cannot cover a debit.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNotFound covers missing users, cards, card types and transactions, including
	// records that exist but are not owned by the caller.
	ErrNotFound = errors.New("not found")

	// ErrExternalService indicates the card issuer failed or declined; no local state changed.
	ErrExternalService = errors.New("card issuer request failed")

	// ErrIndeterminate indicates the card issuer outcome is unknown, either after a
	// timeout or because the result could not be recorded. The operation is left
	// pending for manual reconciliation.
	ErrIndeterminate = errors.New("card issuer outcome unknown, pending reconciliation")

	// ErrAlreadyProcessed is returned when deciding a transaction that is already terminal.
	ErrAlreadyProcessed = errors.New("transaction already processed")

	// ErrDuplicate indicates a request identifier that was already used.
	ErrDuplicate = errors.New("duplicate request")

	// ErrInvalidTransition rejects a status change the transaction state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrForbidden means the caller is authenticated but lacks the required role.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthorized covers bad credentials and missing or expired tokens.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited is returned while a throttle or login lockout is active.
	ErrRateLimited = errors.New("too many attempts, try again later")

	// ErrInvalidInput rejects malformed request fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrBusy means another request for the same account is still running.
	ErrBusy = errors.New("another request is in progress, retry shortly")
)

// Status maps a domain error to the HTTP status used by handlers.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyProcessed), errors.Is(err, ErrDuplicate), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrExternalService):
		return http.StatusBadGateway
	case errors.Is(err, ErrIndeterminate):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ToFiber converts err into a *fiber.Error with a short user-facing message.
// Unknown errors are reported generically so internals do not leak.
func ToFiber(err error) *fiber.Error {
	status := Status(err)
	if status == http.StatusInternalServerError {
		return fiber.NewError(status, "internal error")
	}
	return fiber.NewError(status, err.Error())
}
