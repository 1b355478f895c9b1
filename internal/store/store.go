package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means no session exists with the given id.
	ErrNotFound = errors.New("session not found")
	// ErrNotActive means the session is stopped and accepts no captures.
	ErrNotActive = errors.New("session is not active")
)

// Store is the session collection contract. Every mutating operation commits
// durably before returning success, and operations on the same store are
// serialized with respect to each other.
type Store interface {
	// CreateSession appends a fresh active session and returns it.
	CreateSession(ctx context.Context) (Session, error)

	// AppendCapture adds a capture to an active session. Returns the
	// capture as stored (timestamps normalized), ErrNotFound for unknown
	// ids, ErrNotActive for stopped sessions.
	AppendCapture(ctx context.Context, sessionID string, c Capture) (Capture, error)

	// StopSession marks the session stopped and fixes its end time.
	// Stopping an already-stopped session is a no-op that returns the
	// existing summary.
	StopSession(ctx context.Context, sessionID string) (Summary, error)

	// ListSummaries returns all sessions, most recently created first.
	ListSummaries(ctx context.Context) ([]Summary, error)

	// GetDetail returns the summary plus the capture timeline.
	GetDetail(ctx context.Context, sessionID string) (Detail, error)

	// DeleteSession removes the session and returns the removed record so
	// the caller can release externally stored images.
	DeleteSession(ctx context.Context, sessionID string) (Session, error)

	Close() error
}
