package store

import (
	"io"

	"github.com/google/uuid"
)

// Stores is the top-level container for all storage backends.
type Stores struct {
	Servers ServerStore
	Users   UserStore

	closer io.Closer
}

// NewStores bundles the stores with the resource that owns their connections.
func NewStores(servers ServerStore, users UserStore, closer io.Closer) *Stores {
	return &Stores{Servers: servers, Users: users, closer: closer}
}

// Close releases the underlying database handle.
func (s *Stores) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// StoreConfig selects and configures a backend.
type StoreConfig struct {
	Mode        string // "managed" (Postgres) or "standalone" (SQLite)
	PostgresDSN string
	SQLitePath  string
}

// GenNewID returns a time-ordered UUID for new rows.
func GenNewID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
