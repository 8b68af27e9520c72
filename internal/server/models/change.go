// Package models holds the server-side domain types shared by the
// changelog repositories and the sync service.
package models

import "github.com/ddanilov/podvault/internal/syncwire"

// LoggedChange is one row of the append-only change log. Seq is the
// server-assigned sequence number that pull cursors are built from; it only
// ever grows.
type LoggedChange struct {
	Seq    int64
	Change syncwire.Change
}
