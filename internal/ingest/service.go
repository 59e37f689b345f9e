// Package ingest validates incoming events, persists the accepted ones, and
// mirrors every verdict onto the stream so live subscribers see intent and
// outcome.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/missionctl/missionctl/internal/agents"
	"github.com/missionctl/missionctl/internal/common/logger"
	"github.com/missionctl/missionctl/internal/metrics"
	"github.com/missionctl/missionctl/internal/store"
	"github.com/missionctl/missionctl/internal/stream"
	v1 "github.com/missionctl/missionctl/pkg/api/v1"
)

// ValidationError carries every problem found with a rejected event.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Errors, "; ")
}

// Service is the single write path for tasks, comments and events.
type Service struct {
	store  *store.Store
	broker stream.Broker
	agents *agents.Directory
	log    *logger.Logger
}

// NewService wires the ingest pipeline.
func NewService(st *store.Store, broker stream.Broker, directory *agents.Directory, log *logger.Logger) *Service {
	return &Service{
		store:  st,
		broker: broker,
		agents: directory,
		log:    log.WithComponent("ingest"),
	}
}

// Ingest runs the validation pipeline for one event. Accepted events are
// inserted and then published, followed by an event.validation receipt.
// Rejected events are never inserted; only the receipt is published, and the
// returned error is a *ValidationError listing every problem found.
func (s *Service) Ingest(ctx context.Context, in *v1.EventIn) (*v1.Event, error) {
	var errs []string
	details := map[string]interface{}{}

	switch in.Type {
	case v1.EventTypeTaskHandoff:
		if taskIDOf(in) == "" {
			errs = append(errs, "task.handoff requires task_id")
		}
		known := s.agents.KnownSlugs()
		errs = append(errs, validateHandoffPayload(in.Payload, known)...)
		details["known_agents_count"] = len(known)
	case v1.EventTypeTaskStatus:
		return s.ingestTaskStatus(ctx, in, details)
	}

	if len(errs) > 0 {
		s.reject(ctx, in, errs, details)
		return nil, &ValidationError{Errors: errs}
	}

	event, err := s.store.InsertEvent(ctx, in)
	if err != nil {
		return nil, err
	}
	s.accept(ctx, in, event, details)
	return event, nil
}

// ingestTaskStatus collects every validation problem before rejecting, then
// applies the transition and records the event in one transaction.
func (s *Service) ingestTaskStatus(ctx context.Context, in *v1.EventIn, details map[string]interface{}) (*v1.Event, error) {
	var errs []string

	taskID := taskIDOf(in)
	if taskID == "" {
		errs = append(errs, "task.status requires task_id")
	}

	next := v1.TaskStatus(strings.ToUpper(strings.TrimSpace(stringField(in.Payload, "new_status"))))
	if next == "" {
		errs = append(errs, "payload.new_status is required")
	} else if !store.ValidStatus(next) {
		errs = append(errs, fmt.Sprintf("payload.new_status invalid: %s; allowed=%s", next, store.FormatStatuses(store.Statuses)))
	}

	// The task is looked up even when earlier checks failed so a missing task
	// shows up in the same error list.
	taskExists := false
	if taskID != "" {
		_, err := s.store.GetTask(ctx, taskID)
		switch {
		case errors.Is(err, store.ErrTaskNotFound):
			errs = append(errs, fmt.Sprintf("task not found: %s", taskID))
		case err != nil:
			return nil, err
		default:
			taskExists = true
		}
	}

	if len(errs) == 0 && taskExists {
		event, prev, err := s.store.ApplyTaskStatus(ctx, taskID, next, in)
		var transitionErr *store.TransitionError
		switch {
		case errors.As(err, &transitionErr):
			errs = append(errs, transitionErr.Error())
		case errors.Is(err, store.ErrTaskNotFound):
			errs = append(errs, fmt.Sprintf("task not found: %s", taskID))
		case err != nil:
			return nil, err
		default:
			details["transition"] = map[string]interface{}{
				"from": string(prev),
				"to":   string(next),
			}
			s.accept(ctx, in, event, details)
			return event, nil
		}
	}

	s.reject(ctx, in, errs, details)
	return nil, &ValidationError{Errors: errs}
}

// CreateTask validates the requested status and inserts the task. No event is
// recorded; board state is queryable immediately.
func (s *Service) CreateTask(ctx context.Context, in *v1.CreateTaskRequest) (*v1.Task, error) {
	status := v1.TaskStatusInbox
	if in.Status != nil {
		status = *in.Status
	}
	if !store.ValidStatus(status) {
		return nil, &ValidationError{
			Errors: []string{fmt.Sprintf("invalid task status: %s; allowed=%s", status, store.FormatStatuses(store.Statuses))},
		}
	}
	return s.store.CreateTask(ctx, in.Title, status, in.Assignee, in.Tags)
}

// AddComment checks the task exists, inserts the comment, then announces it
// on the stream as comment.created. The receipt carries the author as agent.
func (s *Service) AddComment(ctx context.Context, taskID string, in *v1.CreateCommentRequest) (*v1.Comment, error) {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	comment, err := s.store.CreateComment(ctx, taskID, in.Author, in.Body)
	if err != nil {
		return nil, err
	}

	author := in.Author
	s.publish(ctx, &v1.Event{
		ID:        uuid.New().String(),
		Type:      v1.EventTypeCommentCreated,
		Agent:     &author,
		TaskID:    &taskID,
		Payload:   map[string]interface{}{"comment_id": comment.ID},
		CreatedAt: time.Now().UTC(),
	})
	return comment, nil
}

func (s *Service) accept(ctx context.Context, in *v1.EventIn, event *v1.Event, details map[string]interface{}) {
	metrics.EventAccepted(in.Type)
	s.publish(ctx, event)
	s.publishValidation(ctx, in, true, []string{}, details)
}

func (s *Service) reject(ctx context.Context, in *v1.EventIn, errs []string, details map[string]interface{}) {
	metrics.EventRejected(in.Type)
	s.log.Debug("event rejected",
		zap.String("type", in.Type),
		zap.Strings("errors", errs))
	s.publishValidation(ctx, in, false, errs, details)
}

// publish sends one event to live subscribers. Failures are logged and
// counted, never surfaced: the durable row already exists and pollers will
// catch up through the query API.
func (s *Service) publish(ctx context.Context, event *v1.Event) {
	raw, err := json.Marshal(event)
	if err != nil {
		s.log.Error("failed to encode event for stream", zap.Error(err))
		return
	}
	if _, err := s.broker.Publish(ctx, string(raw)); err != nil {
		metrics.StreamPublishError()
		s.log.Error("failed to publish event to stream",
			zap.Error(err),
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type))
	}
}

// publishValidation emits the event.validation receipt for an ingest attempt.
// Receipts live only on the stream; they are not persisted.
func (s *Service) publishValidation(ctx context.Context, in *v1.EventIn, accepted bool, errs []string, details map[string]interface{}) {
	if errs == nil {
		errs = []string{}
	}
	if details == nil {
		details = map[string]interface{}{}
	}
	s.publish(ctx, &v1.Event{
		ID:     uuid.New().String(),
		Type:   v1.EventTypeValidation,
		Agent:  in.Agent,
		TaskID: in.TaskID,
		Payload: map[string]interface{}{
			"event_type": in.Type,
			"accepted":   accepted,
			"errors":     errs,
			"details":    details,
		},
		CreatedAt: time.Now().UTC(),
	})
}

func taskIDOf(in *v1.EventIn) string {
	if in.TaskID == nil {
		return ""
	}
	return strings.TrimSpace(*in.TaskID)
}
