package interfaces

import (
	"errors"
	"time"

	"spectra/domain/entities"
)

// ErrSessionNotFound is returned by SessionStore implementations when
// a session id has no row.
var ErrSessionNotFound = errors.New("session not found")

// SessionFilter narrows ListSessions results. Zero values match all.
type SessionFilter struct {
	Status entities.SessionStatus
	UserID string
}

// SessionStore is the durable persistence boundary for sessions,
// workflows, credentials and state snapshots.
type SessionStore interface {
	// SaveSession writes or replaces a session row. The session blob is
	// serialized by the caller and may be ciphertext.
	SaveSession(session *entities.Session, blob []byte) error

	// LoadSession reads a session row and its blob.
	LoadSession(id string) (*entities.Session, []byte, error)

	// DeleteSession removes a session and its dependent rows.
	DeleteSession(id string) error

	// ListSessions returns summaries of sessions matching the filter.
	ListSessions(filter SessionFilter) ([]entities.SessionSummary, error)

	// SaveWorkflow writes or replaces a workflow row.
	SaveWorkflow(workflow *entities.Workflow, blob []byte) error

	// LoadWorkflows reads all workflow blobs for a session.
	LoadWorkflows(sessionID string) ([][]byte, error)

	// SaveCredentials writes credentials, replacing any existing row for
	// the same session and domain.
	SaveCredentials(sessionID string, creds *entities.Credentials, blob []byte) error

	// LoadCredentials reads all credential blobs for a session.
	LoadCredentials(sessionID string) ([][]byte, error)

	// AppendState appends a point-in-time state snapshot for a session.
	AppendState(sessionID string, blob []byte) error

	// PurgeExpired deletes sessions whose expiry is before cutoff and
	// returns the ids removed.
	PurgeExpired(cutoff time.Time) ([]string, error)

	// Close releases the underlying database.
	Close() error
}

// SessionMirror is an optional low-latency cache in front of the store.
type SessionMirror interface {
	Put(key string, value []byte, ttl time.Duration) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	Close() error
}
