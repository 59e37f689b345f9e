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
	v1 "github.com/missionctl/missionctl/pkg/api/v1"
)

const boardColumnLimit = 100

// CreateTask inserts a new task and returns it with assigned id and timestamps.
func (s *Store) CreateTask(ctx context.Context, title string, status v1.TaskStatus, assignee *string, tags []string) (*v1.Task, error) {
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	task := &v1.Task{
		ID:        uuid.New().String(),
		Title:     title,
		Status:    status,
		Assignee:  assignee,
		Tags:      tags,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.Writer().ExecContext(ctx, s.db.Writer().Rebind(`
		INSERT INTO tasks (id, title, status, assignee, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), task.ID, task.Title, task.Status, task.Assignee, string(tagsJSON), task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, id string) (*v1.Task, error) {
	task := &v1.Task{}
	var assignee sql.NullString
	var tagsJSON string
	err := s.db.Reader().QueryRowContext(ctx, s.db.Reader().Rebind(`
		SELECT id, title, status, assignee, tags, created_at, updated_at
		FROM tasks WHERE id = ?
	`), id).Scan(&task.ID, &task.Title, &task.Status, &assignee, &tagsJSON, &task.CreatedAt, &task.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if assignee.Valid {
		task.Assignee = &assignee.String
	}
	task.Tags = decodeTags(tagsJSON)
	return task, nil
}

// ListBoard returns the five status columns in canonical order, each holding
// up to 100 of the most recently updated cards.
func (s *Store) ListBoard(ctx context.Context) (*v1.Board, error) {
	ctx, span := tracing.Tracer("missionctl-db").Start(ctx, "db.ListBoard")
	defer span.End()

	board := &v1.Board{Columns: make([]v1.BoardColumn, 0, len(Statuses))}
	for _, status := range Statuses {
		cards, err := s.listTasksByStatus(ctx, status, boardColumnLimit)
		if err != nil {
			return nil, err
		}
		board.Columns = append(board.Columns, v1.BoardColumn{
			Title: string(status),
			Count: len(cards),
			Cards: cards,
		})
	}
	return board, nil
}

func (s *Store) listTasksByStatus(ctx context.Context, status v1.TaskStatus, limit int) ([]v1.Task, error) {
	rows, err := s.db.Reader().QueryContext(ctx, s.db.Reader().Rebind(`
		SELECT id, title, status, assignee, tags, created_at, updated_at
		FROM tasks
		WHERE status = ?
		ORDER BY updated_at DESC
		LIMIT ?
	`), status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]v1.Task, 0)
	for rows.Next() {
		var task v1.Task
		var assignee sql.NullString
		var tagsJSON string
		if err := rows.Scan(&task.ID, &task.Title, &task.Status, &assignee, &tagsJSON, &task.CreatedAt, &task.UpdatedAt); err != nil {
			return nil, err
		}
		if assignee.Valid {
			task.Assignee = &assignee.String
		}
		task.Tags = decodeTags(tagsJSON)
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func decodeTags(raw string) []string {
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil || tags == nil {
		return []string{}
	}
	return tags
}
