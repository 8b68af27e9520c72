// Package syncwire defines the transport-level types exchanged between the
// sync client and the sync server: changes pulled since a cursor, outbox
// items pushed in batches, and their per-item results. All timestamps are
// Unix milliseconds.
package syncwire

import "encoding/json"

// Operation is the kind of remote mutation a Change describes.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Record is the transport form of one row: identity, the domain fields as an
// opaque document, and ordering metadata used for conflict resolution.
type Record struct {
	Table     string         `json:"table"`
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	UpdatedAt int64          `json:"updated_at"`
	Version   int64          `json:"version"`
	Deleted   bool           `json:"deleted,omitempty"`
}

// Change describes one remote mutation.
type Change struct {
	Table     string    `json:"table"`
	Operation Operation `json:"operation"`
	Record    Record    `json:"record"`
	Timestamp int64     `json:"timestamp"`
	Version   int64     `json:"version"`
}

// ChangeSet is one page of changes plus the continuation cursor.
// NextToken is opaque to the client; any monotonically comparable encoding
// (sequence number, timestamp) is valid on the server side.
type ChangeSet struct {
	Changes   []Change `json:"changes"`
	NextToken string   `json:"next_token"`
	HasMore   bool     `json:"has_more"`
}

// PushItem is one pending local mutation in a push batch. OperationID is the
// idempotency key: a server-side retry of the same id must not double-apply.
type PushItem struct {
	Type        string          `json:"type"`
	OperationID string          `json:"operation_id"`
	Payload     json.RawMessage `json:"payload"`
}

// PushRequest is the body of POST /v1/push.
type PushRequest struct {
	Items []PushItem `json:"items"`
}

// PushResult reports the outcome for a single pushed item. When the server
// applied its own derived fields, Record carries the authoritative row the
// client should overwrite its local copy with. Permanent marks validation
// rejections that must not be retried automatically.
type PushResult struct {
	OperationID string  `json:"operation_id"`
	Success     bool    `json:"success"`
	Record      *Record `json:"record,omitempty"`
	Error       string  `json:"error,omitempty"`
	Permanent   bool    `json:"permanent,omitempty"`
}

// PushResponse is the body returned by POST /v1/push. Results are positional:
// one per pushed item, in request order.
type PushResponse struct {
	Results []PushResult `json:"results"`
}
