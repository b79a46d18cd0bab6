package session

import (
	"context"
	"time"
)

// Store is the durable transcript log. Messages are keyed by session id and
// returned in timestamp order.
type Store interface {
	// EnsureSchema creates the tables if they do not exist. Safe to call
	// concurrently and repeatedly.
	EnsureSchema(ctx context.Context) error

	// Append inserts msgs in one transaction. It does not deduplicate.
	Append(ctx context.Context, sessionID string, msgs ...Message) error

	// LoadAll returns every message of the session in ascending timestamp order.
	LoadAll(ctx context.Context, sessionID string) ([]Message, error)

	// DeleteByTimestamp removes at most one message. No match is not an error.
	DeleteByTimestamp(ctx context.Context, sessionID string, ts float64) error

	// Clear removes every message of the session.
	Clear(ctx context.Context, sessionID string) error

	// Compact deletes the removed timestamps and inserts summary atomically.
	Compact(ctx context.Context, sessionID string, removed []float64, summary Message) error

	// Sessions lists stored sessions.
	Sessions(ctx context.Context) ([]SessionInfo, error)

	Close() error
}

// SessionInfo is a lightweight summary of a stored session (for listing).
type SessionInfo struct {
	ID       string
	Messages int
	First    time.Time
	Last     time.Time
}
