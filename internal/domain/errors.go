package domain

import "errors"

var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("payment not found")
	ErrGateway          = errors.New("gateway error")
	ErrNetwork          = errors.New("gateway network error")
	ErrInvalidState     = errors.New("invalid payment state")
	ErrConflictingEvent = errors.New("conflicting late event")

	ErrPaymentAlreadyExists = errors.New("payment already exists")
	ErrConcurrentUpdate     = errors.New("payment was modified concurrently")
)
