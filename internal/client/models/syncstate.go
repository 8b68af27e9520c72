package models

// SyncState is the durable pull cursor for one sync scope.
//
// LastToken is opaque and only ever advances for a given scope. A pull with
// a stale token is safe to repeat and never skips records.
type SyncState struct {
	Scope        string
	LastToken    string
	LastSyncedAt int64 // unix millis
}

// DefaultScope is the scope used when the caller does not partition syncing.
const DefaultScope = "main"
