package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/missionctl/missionctl/internal/common/tracing"
	"github.com/missionctl/missionctl/internal/db/dialect"
	v1 "github.com/missionctl/missionctl/pkg/api/v1"
)

// Feed query limits. Callers may ask for less; asking for more is clamped.
const (
	DefaultFeedLimit = 50
	MaxFeedLimit     = 200
	MaxFeedLiteLimit = 500
)

// InsertEvent appends an event to the feed, assigning id and created_at.
// A nil payload is stored as an empty object.
func (s *Store) InsertEvent(ctx context.Context, in *v1.EventIn) (*v1.Event, error) {
	event := &v1.Event{
		ID:        uuid.New().String(),
		Type:      in.Type,
		Agent:     in.Agent,
		TaskID:    in.TaskID,
		Payload:   in.Payload,
		CreatedAt: time.Now().UTC(),
	}
	if event.Payload == nil {
		event.Payload = map[string]interface{}{}
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, err
	}

	_, err = s.db.Writer().ExecContext(ctx, s.db.Writer().Rebind(`
		INSERT INTO events (id, type, agent, task_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), event.ID, event.Type, event.Agent, event.TaskID, string(payload), event.CreatedAt)
	if err != nil {
		return nil, err
	}
	return event, nil
}

// ApplyTaskStatus moves a task to next and records the triggering event, both
// in one transaction. The stored payload is the incoming payload augmented
// with previous_status, new_status and transition_applied. Restating the
// current status skips the graph check but still bumps updated_at.
//
// Returns the recorded event and the status the task held before the change.
func (s *Store) ApplyTaskStatus(ctx context.Context, taskID string, next v1.TaskStatus, in *v1.EventIn) (*v1.Event, v1.TaskStatus, error) {
	tx, err := s.db.Writer().BeginTx(ctx, nil)
	if err != nil {
		return nil, "", err
	}

	var current v1.TaskStatus
	err = tx.QueryRowContext(ctx, s.db.Writer().Rebind(`
		SELECT status FROM tasks WHERE id = ?
	`), taskID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		_ = tx.Rollback()
		return nil, "", fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		_ = tx.Rollback()
		return nil, "", err
	}

	if next != current && !allowedTransition(current, next) {
		_ = tx.Rollback()
		return nil, current, &TransitionError{From: current, To: next}
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, s.db.Writer().Rebind(`
		UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`), next, now, taskID, current)
	if err != nil {
		_ = tx.Rollback()
		return nil, current, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return nil, current, err
	}
	if affected == 0 {
		// Another writer moved the task between our read and write. Report the
		// transition against whatever the task holds now.
		fresh := current
		_ = tx.QueryRowContext(ctx, s.db.Writer().Rebind(`
			SELECT status FROM tasks WHERE id = ?
		`), taskID).Scan(&fresh)
		_ = tx.Rollback()
		return nil, fresh, &TransitionError{From: fresh, To: next}
	}

	payload := make(map[string]interface{}, len(in.Payload)+3)
	for k, v := range in.Payload {
		payload[k] = v
	}
	payload["previous_status"] = string(current)
	payload["new_status"] = string(next)
	payload["transition_applied"] = true

	event := &v1.Event{
		ID:        uuid.New().String(),
		Type:      in.Type,
		Agent:     in.Agent,
		TaskID:    in.TaskID,
		Payload:   payload,
		CreatedAt: now,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		_ = tx.Rollback()
		return nil, current, err
	}
	_, err = tx.ExecContext(ctx, s.db.Writer().Rebind(`
		INSERT INTO events (id, type, agent, task_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), event.ID, event.Type, event.Agent, event.TaskID, string(raw), event.CreatedAt)
	if err != nil {
		_ = tx.Rollback()
		return nil, current, err
	}

	if err := tx.Commit(); err != nil {
		return nil, current, err
	}
	return event, current, nil
}

func allowedTransition(from, to v1.TaskStatus) bool {
	for _, next := range Transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ListFeed returns the most recent events, newest first. A non-positive limit
// falls back to the default; anything above MaxFeedLimit is clamped.
func (s *Store) ListFeed(ctx context.Context, limit int) ([]v1.Event, error) {
	ctx, span := tracing.Tracer("missionctl-db").Start(ctx, "db.ListFeed")
	defer span.End()

	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	if limit > MaxFeedLimit {
		limit = MaxFeedLimit
	}

	rows, err := s.db.Reader().QueryContext(ctx, s.db.Reader().Rebind(`
		SELECT id, type, agent, task_id, payload, created_at
		FROM events
		ORDER BY created_at DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]v1.Event, 0)
	for rows.Next() {
		var event v1.Event
		var agent, taskID sql.NullString
		var payload string
		if err := rows.Scan(&event.ID, &event.Type, &agent, &taskID, &payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		if agent.Valid {
			event.Agent = &agent.String
		}
		if taskID.Valid {
			event.TaskID = &taskID.String
		}
		event.Payload = decodePayload(payload)
		events = append(events, event)
	}
	return events, rows.Err()
}

// ListFeedLite returns recent events with only the hot payload fields
// projected, newest first. A non-positive limit falls back to the default;
// anything above MaxFeedLiteLimit is clamped.
func (s *Store) ListFeedLite(ctx context.Context, limit int) ([]v1.EventLite, error) {
	ctx, span := tracing.Tracer("missionctl-db").Start(ctx, "db.ListFeedLite")
	defer span.End()

	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	if limit > MaxFeedLiteLimit {
		limit = MaxFeedLiteLimit
	}

	driver := s.db.DriverName()
	query := fmt.Sprintf(`
		SELECT id, type, agent, task_id, created_at,
			%s, %s, %s, %s, %s, %s
		FROM events
		ORDER BY created_at DESC
		LIMIT ?`,
		dialect.JSONExtract(driver, "payload", "method"),
		dialect.JSONExtract(driver, "payload", "path"),
		dialect.JSONExtract(driver, "payload", "status_code"),
		dialect.JSONExtract(driver, "payload", "error_type"),
		dialect.JSONExtract(driver, "payload", "test_id"),
		dialect.JSONExtract(driver, "payload", "round"),
	)

	rows, err := s.db.Reader().QueryContext(ctx, s.db.Reader().Rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]v1.EventLite, 0)
	for rows.Next() {
		var lite v1.EventLite
		var agent, taskID, method, path, errorType, testID sql.NullString
		var statusCode, round sql.NullInt64
		if err := rows.Scan(&lite.ID, &lite.Type, &agent, &taskID, &lite.CreatedAt,
			&method, &path, &statusCode, &errorType, &testID, &round); err != nil {
			return nil, err
		}
		if agent.Valid {
			lite.Agent = &agent.String
		}
		if taskID.Valid {
			lite.TaskID = &taskID.String
		}
		if method.Valid {
			lite.Method = &method.String
		}
		if path.Valid {
			lite.Path = &path.String
		}
		if statusCode.Valid {
			code := int(statusCode.Int64)
			lite.StatusCode = &code
		}
		if errorType.Valid {
			lite.ErrorType = &errorType.String
		}
		if testID.Valid {
			lite.TestID = &testID.String
		}
		if round.Valid {
			r := int(round.Int64)
			lite.Round = &r
		}
		entries = append(entries, lite)
	}
	return entries, rows.Err()
}

func decodePayload(raw string) map[string]interface{} {
	payload := map[string]interface{}{}
	_ = json.Unmarshal([]byte(raw), &payload)
	return payload
}
