package decision

import (
	"errors"
	"fmt"

	"depositgate/internal/app/apperr"
	"depositgate/internal/app/model"
)

var ErrNoAccount = fmt.Errorf("account %w", apperr.ErrNotFound)

// StatusError reports a decision on a transaction that is no longer pending
type StatusError struct {
	Status model.TransactionStatus
}

func (e *StatusError) Error() string {
	return "transaction already " + string(e.Status)
}

func (e *StatusError) Unwrap() error {
	return apperr.ErrAlreadyProcessed
}

// Expected reports whether err is an outcome operators cause, as opposed to a
// failure that needs attention
func Expected(err error) bool {
	for _, target := range []error{
		apperr.ErrAlreadyProcessed,
		apperr.ErrInProgress,
		apperr.ErrNotFound,
		apperr.ErrInsufficientFunds,
		apperr.ErrInvalidInput,
		apperr.ErrValidation,
		apperr.ErrUnauthorized,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Describe renders the operator acknowledgement of a decision outcome
func Describe(kind model.ActionKind, res *Result, err error) string {
	var se *StatusError
	switch {
	case err == nil && kind == model.ActionApprove:
		return fmt.Sprintf("✅ Approved. New balance: %s ETB", res.Balance.StringFixed(2))
	case err == nil:
		return "❌ Rejected"
	case errors.As(err, &se):
		return fmt.Sprintf("ℹ️ Transaction already %s", se.Status)
	case errors.Is(err, apperr.ErrInProgress):
		return "⏳ Already in progress"
	case errors.Is(err, ErrNoAccount):
		return "⚠️ Player account not found"
	case errors.Is(err, apperr.ErrNotFound):
		return "⚠️ Transaction not found"
	case errors.Is(err, apperr.ErrInsufficientFunds):
		return "⚠️ Insufficient balance"
	case errors.Is(err, apperr.ErrValidation):
		return "⚠️ Reason must be at least 3 characters"
	case errors.Is(err, apperr.ErrInvalidInput):
		return "⚠️ Unknown action"
	}
	return "⚠️ Processing failed, operations were notified"
}
