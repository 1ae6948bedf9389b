// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"benchchat/internal/domain"
)

var (
	// ErrSessionNotFound is returned when a referenced session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned when appending a message to a closed session.
	ErrSessionClosed = errors.New("session is closed")
)

// Repository defines the interface for persisting sessions, messages,
// audit records and settings.
type Repository interface {
	// CreateSession creates a new active session for a user.
	CreateSession(ctx context.Context, userID, title string) (*domain.Session, error)

	// GetSession retrieves a session by id. Returns (nil, nil) when not found.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// ListSessions returns a user's sessions, most recent activity first.
	ListSessions(ctx context.Context, userID string) ([]*domain.Session, error)

	// CloseSession marks a session Closed and stamps its end time.
	// History remains queryable by the old id.
	CloseSession(ctx context.Context, sessionID string) error

	// GetIdleSessions returns active sessions with no activity within ttl.
	GetIdleSessions(ctx context.Context, ttl time.Duration) ([]*domain.Session, error)

	// AppendMessage appends a message to its session's log and returns the
	// assigned ordering index. Appends to the same session are serialized;
	// ordering indices are gapless and strictly increasing per session.
	AppendMessage(ctx context.Context, msg *domain.Message) (int64, error)

	// GetHistory returns all messages of a session in append order.
	GetHistory(ctx context.Context, sessionID string) ([]*domain.Message, error)

	// GetMessage retrieves a message by id. Returns (nil, nil) when not found.
	GetMessage(ctx context.Context, messageID string) (*domain.Message, error)

	// UpdateMessageExecution writes execution bookkeeping onto a message.
	// This is the only permitted post-append mutation.
	UpdateMessageExecution(ctx context.Context, messageID, command, result string, isError bool, durationMs int64) error

	// AppendAudit persists one execution audit record.
	AppendAudit(ctx context.Context, rec *domain.AuditRecord) error

	// ListAudit returns a session's audit records in chronological order.
	ListAudit(ctx context.Context, sessionID string) ([]*domain.AuditRecord, error)

	// GetSettings retrieves persisted settings. Returns (nil, nil) when the
	// settings row has never been written.
	GetSettings(ctx context.Context) (*domain.Settings, error)

	// SaveSettings persists settings, replacing any previous value.
	SaveSettings(ctx context.Context, s *domain.Settings) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
