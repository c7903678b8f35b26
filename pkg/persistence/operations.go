package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"conductor/pkg/proto"
)

// ErrRequestNotFound is returned when a requested tool request does not exist.
var ErrRequestNotFound = errors.New("request not found")

// DatabaseOperations provides the store surface consumed by the identifier
// allocator and the message/request log: insert, select-by-filter, and
// max-over-scope.
type DatabaseOperations struct {
	db *sql.DB
}

// NewDatabaseOperations creates a new DatabaseOperations instance.
func NewDatabaseOperations(db *sql.DB) *DatabaseOperations {
	return &DatabaseOperations{db: db}
}

// Allowlisted tables, columns, and filter keys for dynamic max-scope queries.
//
//nolint:gochecknoglobals // Static allowlists for query building
var (
	maxTables  = map[string]bool{"messages": true, "requests": true}
	maxColumns = map[string]bool{"id": true, "request_id": true}
	filterKeys = map[string]bool{"session_id": true, "role": true, "status": true, "tool": true}
)

// MaxID returns the maximum value of an integer column over the filtered scope,
// or 0 for an empty scope. It scans for the true maximum rather than trusting
// insertion order: concurrent writers or manual edits can leave a smaller
// "last" row after a larger one.
func (ops *DatabaseOperations) MaxID(table, column string, filter map[string]any) (int64, error) {
	if !maxTables[table] {
		return 0, fmt.Errorf("max query not allowed for table %q", table)
	}
	if !maxColumns[column] {
		return 0, fmt.Errorf("max query not allowed for column %q", column)
	}

	where, args, err := buildFilter(filter)
	if err != nil {
		return 0, err
	}

	//nolint:gosec // Table and column names validated against allowlists above
	query := fmt.Sprintf(`SELECT COALESCE(MAX(%s), 0) FROM %s%s`, column, table, where)

	var max int64
	if err := ops.db.QueryRow(query, args...).Scan(&max); err != nil {
		return 0, fmt.Errorf("%w: max query failed: %v", ErrStoreUnavailable, err)
	}
	return max, nil
}

// buildFilter renders a deterministic WHERE clause from an allowlisted filter map.
func buildFilter(filter map[string]any) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		if !filterKeys[k] {
			return "", nil, fmt.Errorf("filter key %q not allowed", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s = ?", k))
		args = append(args, filter[k])
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

// InsertMessage appends a message to the durable log. Messages are immutable
// once written; there is deliberately no update path.
func (ops *DatabaseOperations) InsertMessage(msg *proto.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("refusing to insert invalid message: %w", err)
	}

	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal message metadata: %w", err)
	}

	_, err = ops.db.Exec(`
		INSERT INTO messages (id, session_id, role, content, metadata, sender, target, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.SessionID, string(msg.Role), msg.Content, string(metadata),
		msg.Sender, msg.Target, msg.RequestID, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: failed to insert message %d: %v", ErrStoreUnavailable, msg.ID, err)
	}
	return nil
}

// ListMessages returns messages matching the filter in conversation order.
// With a Limit set, the most recent N messages are returned, still oldest-first.
func (ops *DatabaseOperations) ListMessages(filter *MessageFilter) ([]*proto.Message, error) {
	query := `
		SELECT id, session_id, role, content, metadata, sender, target, request_id, created_at
		FROM messages
		WHERE session_id = ?
	`
	args := []any{filter.SessionID}

	if filter.RequestID != nil {
		query += ` AND request_id = ?`
		args = append(args, *filter.RequestID)
	}

	if len(filter.Roles) > 0 {
		placeholders := strings.Repeat("?,", len(filter.Roles))
		query += ` AND role IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, r := range filter.Roles {
			args = append(args, r)
		}
	}

	query += ` ORDER BY id ASC`

	rows, err := ops.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query messages: %v", ErrStoreUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*proto.Message
	for rows.Next() {
		msg, scanErr := scanMessage(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	if filter.Limit > 0 && len(messages) > filter.Limit {
		messages = messages[len(messages)-filter.Limit:]
	}
	return messages, nil
}

func scanMessage(rows *sql.Rows) (*proto.Message, error) {
	var msg proto.Message
	var role, metadata string
	var requestID sql.NullInt64

	err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &metadata,
		&msg.Sender, &msg.Target, &requestID, &msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}

	msg.Role = proto.Role(role)
	if requestID.Valid {
		id := requestID.Int64
		msg.RequestID = &id
	}
	if err := json.Unmarshal([]byte(metadata), &msg.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
	}
	return &msg, nil
}

// InsertRequest stores a newly submitted tool request.
func (ops *DatabaseOperations) InsertRequest(req *proto.Request) error {
	_, err := ops.db.Exec(`
		INSERT INTO requests (id, session_id, tool, status, user_text, payload, retryable, submitted_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, req.ID, req.SessionID, req.Tool, string(req.Status), req.UserText,
		req.Payload, boolToInt(req.Retryable), req.SubmittedAt, req.CompletedAt)
	if err != nil {
		return fmt.Errorf("%w: failed to insert request %d: %v", ErrStoreUnavailable, req.ID, err)
	}
	return nil
}

// UpdateRequestStatus transitions a persisted request. Terminal statuses also
// record the payload, retryability, and completion time.
func (ops *DatabaseOperations) UpdateRequestStatus(sessionID string, id int64, status proto.RequestStatus, payload string, retryable bool) error {
	var result sql.Result
	var err error

	if status.IsTerminal() {
		result, err = ops.db.Exec(`
			UPDATE requests
			SET status = ?, payload = ?, retryable = ?, completed_at = ?
			WHERE session_id = ? AND id = ?
		`, string(status), payload, boolToInt(retryable), time.Now().UTC(), sessionID, id)
	} else {
		result, err = ops.db.Exec(`
			UPDATE requests SET status = ? WHERE session_id = ? AND id = ?
		`, string(status), sessionID, id)
	}
	if err != nil {
		return fmt.Errorf("%w: failed to update request %d: %v", ErrStoreUnavailable, id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRequestNotFound
	}
	return nil
}

// GetRequest retrieves one request by session and id.
func (ops *DatabaseOperations) GetRequest(sessionID string, id int64) (*proto.Request, error) {
	row := ops.db.QueryRow(`
		SELECT id, session_id, tool, status, user_text, payload, retryable, submitted_at, completed_at
		FROM requests
		WHERE session_id = ? AND id = ?
	`, sessionID, id)
	return scanRequest(row)
}

// ListRequests returns requests matching the filter, oldest-first.
func (ops *DatabaseOperations) ListRequests(filter *RequestFilter) ([]*proto.Request, error) {
	query := `
		SELECT id, session_id, tool, status, user_text, payload, retryable, submitted_at, completed_at
		FROM requests
		WHERE session_id = ?
	`
	args := []any{filter.SessionID}

	if len(filter.Statuses) > 0 {
		placeholders := strings.Repeat("?,", len(filter.Statuses))
		query += ` AND status IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, s := range filter.Statuses {
			args = append(args, s)
		}
	}

	query += ` ORDER BY id ASC`

	rows, err := ops.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query requests: %v", ErrStoreUnavailable, err)
	}
	defer func() { _ = rows.Close() }()

	var requests []*proto.Request
	for rows.Next() {
		var req proto.Request
		var status string
		var retryable int
		var completedAt sql.NullTime

		if err := rows.Scan(&req.ID, &req.SessionID, &req.Tool, &status, &req.UserText,
			&req.Payload, &retryable, &req.SubmittedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		req.Status = proto.RequestStatus(status)
		req.Retryable = retryable != 0
		if completedAt.Valid {
			t := completedAt.Time
			req.CompletedAt = &t
		}
		requests = append(requests, &req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate requests: %w", err)
	}
	return requests, nil
}

func scanRequest(row *sql.Row) (*proto.Request, error) {
	var req proto.Request
	var status string
	var retryable int
	var completedAt sql.NullTime

	err := row.Scan(&req.ID, &req.SessionID, &req.Tool, &status, &req.UserText,
		&req.Payload, &retryable, &req.SubmittedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan request: %w", err)
	}

	req.Status = proto.RequestStatus(status)
	req.Retryable = retryable != 0
	if completedAt.Valid {
		t := completedAt.Time
		req.CompletedAt = &t
	}
	return &req, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
