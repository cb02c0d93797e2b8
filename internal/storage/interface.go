package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when the key has no value.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable marks a backend that cannot be reached or is not loaded.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrMarkerHeld is returned when another session owns the active-session marker.
	ErrMarkerHeld = errors.New("active session marker held")
)

// Entry is one key/value pair returned by Query.
type Entry struct {
	Key   string
	Value []byte
}

// Provider is a per-user key/value store. Keys are opaque strings scoped to
// a user id; values are serialized entities. Implementations must be safe
// for concurrent use.
type Provider interface {
	// Lifecycle
	Init() error
	Load() error
	Close() error

	Get(ctx context.Context, userID, key string) ([]byte, error)
	Put(ctx context.Context, userID, key string, value []byte) error
	Delete(ctx context.Context, userID, key string) error
	// Query returns all entries whose key starts with prefix, ordered by key.
	Query(ctx context.Context, userID, prefix string) ([]Entry, error)
	// Users lists user ids that have at least one key.
	Users(ctx context.Context) ([]string, error)

	// Utils
	GetConfigPath() string
}
