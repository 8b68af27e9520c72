// Package common defines shared constants and sentinel errors used across
// the client engine and the reference server. Callers should use errors.Is
// to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateOperation reports an operation id that already has a
	// recorded outcome.
	ErrDuplicateOperation = errors.New("duplicate operation")

	// Sync errors.
	ErrVersionConflict = errors.New("version conflict")

	// Push-handler errors (permanent, not retried automatically).
	ErrUnknownItemType = errors.New("unknown outbox item type")
	ErrInvalidPayload  = errors.New("invalid payload")

	// Auth errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrUnauthorized = errors.New("unauthorized")
)
