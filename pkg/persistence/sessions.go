package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"conductor/pkg/proto"
)

// ErrSessionNotFound is returned when a requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// CreateSession creates a new session record in PENDING state.
func (ops *DatabaseOperations) CreateSession(sessionID, title string) error {
	now := time.Now().UTC()
	_, err := ops.db.Exec(`
		INSERT INTO sessions (session_id, title, task_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, title, string(proto.StatePending), now, now)
	if err != nil {
		return fmt.Errorf("%w: failed to create session: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// GetSession retrieves a session by id.
func (ops *DatabaseOperations) GetSession(sessionID string) (*Session, error) {
	row := ops.db.QueryRow(`
		SELECT session_id, title, task_status, current_request_id, created_at, updated_at
		FROM sessions
		WHERE session_id = ?
	`, sessionID)
	return scanSession(row)
}

// GetLatestSession returns the most recently updated session, used for resume.
func (ops *DatabaseOperations) GetLatestSession() (*Session, error) {
	row := ops.db.QueryRow(`
		SELECT session_id, title, task_status, current_request_id, created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC
		LIMIT 1
	`)
	return scanSession(row)
}

// UpdateSessionStatus stores a task-status transition.
func (ops *DatabaseOperations) UpdateSessionStatus(sessionID string, status proto.State) error {
	result, err := ops.db.Exec(`
		UPDATE sessions SET task_status = ?, updated_at = ? WHERE session_id = ?
	`, string(status), time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("%w: failed to update session status: %v", ErrStoreUnavailable, err)
	}
	return checkSessionAffected(result)
}

// SetCurrentRequest records the outstanding request id for the session, or
// clears it when nil.
func (ops *DatabaseOperations) SetCurrentRequest(sessionID string, requestID *int64) error {
	result, err := ops.db.Exec(`
		UPDATE sessions SET current_request_id = ?, updated_at = ? WHERE session_id = ?
	`, requestID, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("%w: failed to set current request: %v", ErrStoreUnavailable, err)
	}
	return checkSessionAffected(result)
}

// SetSessionTitle updates the display title.
func (ops *DatabaseOperations) SetSessionTitle(sessionID, title string) error {
	result, err := ops.db.Exec(`
		UPDATE sessions SET title = ?, updated_at = ? WHERE session_id = ?
	`, title, time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("%w: failed to set session title: %v", ErrStoreUnavailable, err)
	}
	return checkSessionAffected(result)
}

func checkSessionAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func scanSession(row *sql.Row) (*Session, error) {
	var session Session
	var status string
	var currentRequestID sql.NullInt64

	err := row.Scan(&session.SessionID, &session.Title, &status, &currentRequestID,
		&session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	session.TaskStatus = proto.State(status)
	if currentRequestID.Valid {
		id := currentRequestID.Int64
		session.CurrentRequestID = &id
	}
	return &session, nil
}
