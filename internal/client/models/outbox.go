package models

import "encoding/json"

// OutboxStatus is the lifecycle state of a pending mutation.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSending OutboxStatus = "sending"
	// OutboxStatusError is terminal: the item exceeded its retry budget or
	// was rejected permanently, and is excluded from further drains until a
	// manual retry resets it.
	OutboxStatusError OutboxStatus = "error"
)

// OutboxItem is one pending local mutation awaiting transmission.
//
// OperationID is the idempotency key: stable across retries, unique per
// logical mutation, so a server-side replay of the same push never
// double-applies.
type OutboxItem struct {
	ID           string
	Type         string
	Payload      json.RawMessage
	OperationID  string
	Status       OutboxStatus
	RetryCount   int
	ErrorMessage string
	CreatedAt    int64 // unix millis
}
