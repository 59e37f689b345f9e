package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	v1 "github.com/missionctl/missionctl/pkg/api/v1"
)

// Statuses lists the board columns in canonical order.
var Statuses = []v1.TaskStatus{
	v1.TaskStatusInbox,
	v1.TaskStatusAssigned,
	v1.TaskStatusInProgress,
	v1.TaskStatusReview,
	v1.TaskStatusDone,
}

// Transitions is the closed task-status graph. Restating the current status
// is always accepted; any other edge must be listed here.
var Transitions = map[v1.TaskStatus][]v1.TaskStatus{
	v1.TaskStatusInbox:      {v1.TaskStatusAssigned},
	v1.TaskStatusAssigned:   {v1.TaskStatusInProgress, v1.TaskStatusReview},
	v1.TaskStatusInProgress: {v1.TaskStatusReview, v1.TaskStatusDone},
	v1.TaskStatusReview:     {v1.TaskStatusInProgress, v1.TaskStatusDone},
	v1.TaskStatusDone:       {},
}

// ValidStatus reports whether s is one of the five board statuses.
func ValidStatus(s v1.TaskStatus) bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// FormatStatuses renders a status set as a sorted single-quoted list, e.g.
// ['IN PROGRESS', 'REVIEW']. Collaborator tooling matches validation errors
// against this exact rendering, so keep it stable.
func FormatStatuses(statuses []v1.TaskStatus) string {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	sort.Strings(names)
	for i, name := range names {
		names[i] = "'" + name + "'"
	}
	return "[" + strings.Join(names, ", ") + "]"
}

// ErrTaskNotFound is returned when a referenced task does not exist.
var ErrTaskNotFound = errors.New("task not found")

// TransitionError reports a status change that is not an edge of the
// transition graph.
type TransitionError struct {
	From v1.TaskStatus
	To   v1.TaskStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s; allowed=%s", e.From, e.To, FormatStatuses(Transitions[e.From]))
}
