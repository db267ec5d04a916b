// Package session persists session memory records keyed by session ID.
//
// A failing store never aborts a turn: callers log the error and continue
// without memory.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/aixgo-dev/recall/pkg/memory"
)

// Common errors for storage operations.
var (
	// ErrMemoryNotFound is returned when no record is stored for a session.
	ErrMemoryNotFound = errors.New("session memory not found")
	// ErrStorageClosed is returned when operating on a closed storage backend.
	ErrStorageClosed = errors.New("storage backend is closed")
)

// StorageBackend abstracts session memory persistence.
// Implementations must be safe for concurrent use.
type StorageBackend interface {
	// SaveMemory creates or replaces the record for a session.
	SaveMemory(ctx context.Context, sessionID string, mem *memory.SessionMemory) error

	// LoadMemory retrieves the record for a session.
	// Returns ErrMemoryNotFound if none is stored.
	LoadMemory(ctx context.Context, sessionID string) (*memory.SessionMemory, error)

	// DeleteMemory removes the record for a session. Deleting a missing
	// record is not an error.
	DeleteMemory(ctx context.Context, sessionID string) error

	// ListSessions returns the IDs of sessions with a stored record, sorted.
	ListSessions(ctx context.Context) ([]string, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the backend.
	Close() error
}

// record is the persisted envelope around a memory.
type record struct {
	SessionID string                `json:"session_id" firestore:"session_id"`
	SavedAt   time.Time             `json:"saved_at" firestore:"saved_at"`
	Memory    *memory.SessionMemory `json:"memory" firestore:"-"`
	// MemoryJSON carries the memory in document stores.
	MemoryJSON string `json:"-" firestore:"memory"`
}

// NopBackend stores nothing. It is used when persistence is disabled.
type NopBackend struct{}

// SaveMemory implements StorageBackend
func (NopBackend) SaveMemory(context.Context, string, *memory.SessionMemory) error { return nil }

// LoadMemory implements StorageBackend
func (NopBackend) LoadMemory(context.Context, string) (*memory.SessionMemory, error) {
	return nil, ErrMemoryNotFound
}

// DeleteMemory implements StorageBackend
func (NopBackend) DeleteMemory(context.Context, string) error { return nil }

// ListSessions implements StorageBackend
func (NopBackend) ListSessions(context.Context) ([]string, error) { return []string{}, nil }

// Ping implements StorageBackend
func (NopBackend) Ping(context.Context) error { return nil }

// Close implements StorageBackend
func (NopBackend) Close() error { return nil }
