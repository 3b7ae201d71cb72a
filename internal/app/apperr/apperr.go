package apperr

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrAlreadyProcessed  = errors.New("already processed")
	ErrInProgress        = errors.New("already in progress")
	ErrInvalidInput      = errors.New("invalid input")
	ErrValidation        = errors.New("validation failed")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrTransport wraps failures of the messaging API
	ErrTransport = errors.New("transport failure")
	// ErrStore wraps failures of the record store
	ErrStore = errors.New("store failure")
)
