// Package models defines the client-side data model: locally stored records
// with sync metadata, pending outbox items, and per-scope sync state.
package models

import "github.com/ddanilov/podvault/internal/syncwire"

// Record is a row in a named logical table plus local sync metadata.
//
// A record is created by a local write or by applying a remote change.
// Local writes mark NeedsSync; a confirmed server apply sets SyncedAt.
// Deletion is a tombstone (Deleted=true) until the deletion round-trips.
type Record struct {
	Table     string
	ID        string
	Fields    map[string]any
	UpdatedAt int64 // unix millis
	Version   int64
	Deleted   bool

	SyncedAt  *int64 // unix millis; nil until first confirmed sync
	NeedsSync bool
}

// Wire converts the record to its transport form, dropping local-only
// metadata.
func (r *Record) Wire() syncwire.Record {
	return syncwire.Record{
		Table:     r.Table,
		ID:        r.ID,
		Fields:    r.Fields,
		UpdatedAt: r.UpdatedAt,
		Version:   r.Version,
		Deleted:   r.Deleted,
	}
}

// RecordFromWire builds a local record from a server-originated one. The
// result is marked clean: syncedAt is stamped by the store on write.
func RecordFromWire(rec syncwire.Record) *Record {
	return &Record{
		Table:     rec.Table,
		ID:        rec.ID,
		Fields:    rec.Fields,
		UpdatedAt: rec.UpdatedAt,
		Version:   rec.Version,
		Deleted:   rec.Deleted,
	}
}
