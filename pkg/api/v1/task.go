package v1

import "time"

// TaskStatus represents the board column a task sits in
type TaskStatus string

const (
	TaskStatusInbox      TaskStatus = "INBOX"
	TaskStatusAssigned   TaskStatus = "ASSIGNED"
	TaskStatusInProgress TaskStatus = "IN PROGRESS"
	TaskStatusReview     TaskStatus = "REVIEW"
	TaskStatusDone       TaskStatus = "DONE"
)

// Task represents a tracked unit of work on the board
type Task struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Status    TaskStatus `json:"status"`
	Assignee  *string    `json:"assignee"`
	Tags      []string   `json:"tags"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// CreateTaskRequest for creating a new task. Status defaults to INBOX when omitted.
type CreateTaskRequest struct {
	Title    string      `json:"title" binding:"required"`
	Status   *TaskStatus `json:"status,omitempty"`
	Assignee *string     `json:"assignee,omitempty"`
	Tags     []string    `json:"tags,omitempty"`
}

// Comment represents a note attached to a task
type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateCommentRequest for attaching a comment to a task
type CreateCommentRequest struct {
	Author string `json:"author" binding:"required"`
	Body   string `json:"body" binding:"required"`
}
