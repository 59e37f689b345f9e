package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	v1 "github.com/missionctl/missionctl/pkg/api/v1"
)

// CreateComment attaches a comment to a task. Task existence is the caller's
// concern; comments carry no foreign key.
func (s *Store) CreateComment(ctx context.Context, taskID, author, body string) (*v1.Comment, error) {
	comment := &v1.Comment{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Author:    author,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.Writer().ExecContext(ctx, s.db.Writer().Rebind(`
		INSERT INTO comments (id, task_id, author, body, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), comment.ID, comment.TaskID, comment.Author, comment.Body, comment.CreatedAt)
	if err != nil {
		return nil, err
	}
	return comment, nil
}
