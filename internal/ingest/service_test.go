package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/missionctl/missionctl/internal/agents"
	"github.com/missionctl/missionctl/internal/common/config"
	"github.com/missionctl/missionctl/internal/common/logger"
	"github.com/missionctl/missionctl/internal/db"
	"github.com/missionctl/missionctl/internal/store"
	"github.com/missionctl/missionctl/internal/stream"
	v1 "github.com/missionctl/missionctl/pkg/api/v1"
)

func newTestService(t *testing.T, agentSlugs ...string) (*Service, *store.Store, *stream.MemoryBroker) {
	t.Helper()

	pool, err := db.Open(config.DatabaseConfig{
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	st, err := store.New(pool)
	require.NoError(t, err)

	broker := stream.NewMemoryBroker(1024)
	t.Cleanup(func() { _ = broker.Close() })

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)

	agentsCfg := config.AgentsConfig{}
	if len(agentSlugs) > 0 {
		homes := t.TempDir()
		for _, slug := range agentSlugs {
			require.NoError(t, os.Mkdir(filepath.Join(homes, slug), 0o755))
		}
		agentsCfg.HomesDir = homes
	}
	directory, err := agents.Load(agentsCfg, log)
	require.NoError(t, err)

	return NewService(st, broker, directory, log), st, broker
}

// drainStream reads every published event back out of the broker in order.
func drainStream(t *testing.T, broker stream.Broker) []v1.Event {
	t.Helper()
	entries, err := broker.Read(context.Background(), stream.ZeroID, 0, 1024)
	require.NoError(t, err)

	events := make([]v1.Event, 0, len(entries))
	for _, entry := range entries {
		var ev v1.Event
		require.NoError(t, json.Unmarshal([]byte(entry.Event), &ev))
		events = append(events, ev)
	}
	return events
}

func validHandoffPayload(to string) map[string]interface{} {
	return map[string]interface{}{
		"to":              to,
		"problem":         "flaky login test",
		"context":         "fails 1 in 5 runs on CI",
		"expected_output": "green pipeline",
		"artifact_refs":   []interface{}{"ci/run/4812"},
		"review_gate":     true,
	}
}

func ingestErrors(t *testing.T, err error) []string {
	t.Helper()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	return verr.Errors
}

func TestIngestFreeformEventAccepted(t *testing.T) {
	svc, st, broker := newTestService(t)
	ctx := context.Background()

	agent := "pulse"
	event, err := svc.Ingest(ctx, &v1.EventIn{
		Type:    v1.EventTypeAgentHeartbeat,
		Agent:   &agent,
		Payload: map[string]interface{}{"ok": true, "source": "mc-heartbeat"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, event.ID)
	assert.Equal(t, v1.EventTypeAgentHeartbeat, event.Type)

	feed, err := st.ListFeed(ctx, 50)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, event.ID, feed[0].ID)

	published := drainStream(t, broker)
	require.Len(t, published, 2)
	assert.Equal(t, v1.EventTypeAgentHeartbeat, published[0].Type)
	assert.Equal(t, event.ID, published[0].ID)

	receipt := published[1]
	assert.Equal(t, v1.EventTypeValidation, receipt.Type)
	assert.Equal(t, v1.EventTypeAgentHeartbeat, receipt.Payload["event_type"])
	assert.Equal(t, true, receipt.Payload["accepted"])
	assert.Empty(t, receipt.Payload["errors"])
}

func TestIngestHandoffAccepted(t *testing.T) {
	svc, st, broker := newTestService(t, "scout", "builder")
	ctx := context.Background()

	task, err := st.CreateTask(ctx, "port the importer", v1.TaskStatusInbox, nil, nil)
	require.NoError(t, err)

	agent := "scout"
	event, err := svc.Ingest(ctx, &v1.EventIn{
		Type:    v1.EventTypeTaskHandoff,
		Agent:   &agent,
		TaskID:  &task.ID,
		Payload: validHandoffPayload("builder"),
	})
	require.NoError(t, err)
	assert.Equal(t, "builder", event.Payload["to"])

	published := drainStream(t, broker)
	require.Len(t, published, 2)
	receipt := published[1]
	assert.Equal(t, true, receipt.Payload["accepted"])
	details, ok := receipt.Payload["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(2), details["known_agents_count"])
}

func TestIngestHandoffCollectsEveryError(t *testing.T) {
	svc, st, broker := newTestService(t, "scout")

	_, err := svc.Ingest(context.Background(), &v1.EventIn{
		Type:    v1.EventTypeTaskHandoff,
		Payload: map[string]interface{}{},
	})
	assert.Equal(t, []string{
		"task.handoff requires task_id",
		"payload.to is required",
		"payload.problem is required",
		"payload.context is required",
		"payload.expected_output is required",
		"payload.artifact_refs must be a non-empty list",
		"payload.review_gate must be boolean",
	}, ingestErrors(t, err))

	// Rejected events never reach the feed; the stream carries only the receipt.
	feed, ferr := st.ListFeed(context.Background(), 50)
	require.NoError(t, ferr)
	assert.Empty(t, feed)

	published := drainStream(t, broker)
	require.Len(t, published, 1)
	assert.Equal(t, v1.EventTypeValidation, published[0].Type)
	assert.Equal(t, false, published[0].Payload["accepted"])
}

func TestIngestHandoffUnknownTarget(t *testing.T) {
	svc, st, _ := newTestService(t, "scout")
	ctx := context.Background()

	task, err := st.CreateTask(ctx, "triage", v1.TaskStatusInbox, nil, nil)
	require.NoError(t, err)

	_, err = svc.Ingest(ctx, &v1.EventIn{
		Type:    v1.EventTypeTaskHandoff,
		TaskID:  &task.ID,
		Payload: validHandoffPayload("ghost"),
	})
	assert.Equal(t, []string{"payload.to agent not found: ghost"}, ingestErrors(t, err))
}

func TestIngestHandoffAnyTargetWhenRosterEmpty(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	task, err := st.CreateTask(ctx, "triage", v1.TaskStatusInbox, nil, nil)
	require.NoError(t, err)

	_, err = svc.Ingest(ctx, &v1.EventIn{
		Type:    v1.EventTypeTaskHandoff,
		TaskID:  &task.ID,
		Payload: validHandoffPayload("anyone-at-all"),
	})
	require.NoError(t, err)
}

func TestIngestHandoffArtifactRefs(t *testing.T) {
	svc, st, _ := newTestService(t, "scout")
	ctx := context.Background()

	task, err := st.CreateTask(ctx, "triage", v1.TaskStatusInbox, nil, nil)
	require.NoError(t, err)

	cases := []struct {
		name string
		refs interface{}
		want string
	}{
		{"missing", nil, "payload.artifact_refs must be a non-empty list"},
		{"empty list", []interface{}{}, "payload.artifact_refs must be a non-empty list"},
		{"not a list", "ci/run/1", "payload.artifact_refs must be a non-empty list"},
		{"blank item", []interface{}{"ci/run/1", "  "}, "payload.artifact_refs must contain non-empty strings"},
		{"non-string item", []interface{}{"ci/run/1", 7.0}, "payload.artifact_refs must contain non-empty strings"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := validHandoffPayload("scout")
			if tc.refs == nil {
				delete(payload, "artifact_refs")
			} else {
				payload["artifact_refs"] = tc.refs
			}
			_, err := svc.Ingest(ctx, &v1.EventIn{
				Type:    v1.EventTypeTaskHandoff,
				TaskID:  &task.ID,
				Payload: payload,
			})
			assert.Equal(t, []string{tc.want}, ingestErrors(t, err))
		})
	}
}

func TestIngestTaskStatusLifecycle(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	task, err := st.CreateTask(ctx, "ship it", v1.TaskStatusInbox, nil, nil)
	require.NoError(t, err)

	for _, next := range []v1.TaskStatus{
		v1.TaskStatusAssigned,
		v1.TaskStatusInProgress,
		v1.TaskStatusReview,
		v1.TaskStatusDone,
	} {
		event, err := svc.Ingest(ctx, &v1.EventIn{
			Type:    v1.EventTypeTaskStatus,
			TaskID:  &task.ID,
			Payload: map[string]interface{}{"new_status": string(next)},
		})
		require.NoError(t, err, "transition to %s", next)
		assert.Equal(t, string(next), event.Payload["new_status"])
		assert.Equal(t, true, event.Payload["transition_applied"])

		got, err := st.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, next, got.Status)
	}
}

func TestIngestTaskStatusAugmentsPayload(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	task, err := st.CreateTask(ctx, "ship it", v1.TaskStatusInbox, nil, nil)
	require.NoError(t, err)

	event, err := svc.Ingest(ctx, &v1.EventIn{
		Type:    v1.EventTypeTaskStatus,
		TaskID:  &task.ID,
		Payload: map[string]interface{}{"new_status": "assigned", "note": "picked up"},
	})
	require.NoError(t, err)
	assert.Equal(t, "INBOX", event.Payload["previous_status"])
	assert.Equal(t, "ASSIGNED", event.Payload["new_status"])
	assert.Equal(t, true, event.Payload["transition_applied"])
	assert.Equal(t, "picked up", event.Payload["note"])
}

func TestIngestTaskStatusSelfTransition(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	task, err := st.CreateTask(ctx, "idempotent nudge", v1.TaskStatusAssigned, nil, nil)
	require.NoError(t, err)

	event, err := svc.Ingest(ctx, &v1.EventIn{
		Type:    v1.EventTypeTaskStatus,
		TaskID:  &task.ID,
		Payload: map[string]interface{}{"new_status": "ASSIGNED"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ASSIGNED", event.Payload["previous_status"])
	assert.Equal(t, "ASSIGNED", event.Payload["new_status"])
	assert.Equal(t, true, event.Payload["transition_applied"])

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.TaskStatusAssigned, got.Status)
}

func TestIngestTaskStatusIllegalTransition(t *testing.T) {
	svc, st, broker := newTestService(t)
	ctx := context.Background()

	task, err := st.CreateTask(ctx, "no shortcuts", v1.TaskStatusInbox, nil, nil)
	require.NoError(t, err)

	_, err = svc.Ingest(ctx, &v1.EventIn{
		Type:    v1.EventTypeTaskStatus,
		TaskID:  &task.ID,
		Payload: map[string]interface{}{"new_status": "DONE"},
	})
	assert.Equal(t, []string{"invalid status transition: INBOX -> DONE; allowed=['ASSIGNED']"}, ingestErrors(t, err))

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.TaskStatusInbox, got.Status)

	feed, err := st.ListFeed(ctx, 50)
	require.NoError(t, err)
	assert.Empty(t, feed)

	published := drainStream(t, broker)
	require.Len(t, published, 1)
	assert.Equal(t, false, published[0].Payload["accepted"])
}

func TestIngestTaskStatusUnknownStatus(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	task, err := st.CreateTask(ctx, "strict enum", v1.TaskStatusInbox, nil, nil)
	require.NoError(t, err)

	_, err = svc.Ingest(ctx, &v1.EventIn{
		Type:    v1.EventTypeTaskStatus,
		TaskID:  &task.ID,
		Payload: map[string]interface{}{"new_status": "limbo"},
	})
	assert.Equal(t,
		[]string{"payload.new_status invalid: LIMBO; allowed=['ASSIGNED', 'DONE', 'IN PROGRESS', 'INBOX', 'REVIEW']"},
		ingestErrors(t, err))
}

func TestIngestTaskStatusCollectsEveryError(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Ingest(context.Background(), &v1.EventIn{
		Type:    v1.EventTypeTaskStatus,
		Payload: map[string]interface{}{},
	})
	assert.Equal(t, []string{
		"task.status requires task_id",
		"payload.new_status is required",
	}, ingestErrors(t, err))
}

func TestIngestTaskStatusTaskNotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	missing := "00000000-0000-0000-0000-000000000000"
	_, err := svc.Ingest(context.Background(), &v1.EventIn{
		Type:    v1.EventTypeTaskStatus,
		TaskID:  &missing,
		Payload: map[string]interface{}{"new_status": "ASSIGNED"},
	})
	assert.Equal(t, []string{fmt.Sprintf("task not found: %s", missing)}, ingestErrors(t, err))
}

func TestIngestTaskStatusNormalizesInput(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	task, err := st.CreateTask(ctx, "case blind", v1.TaskStatusAssigned, nil, nil)
	require.NoError(t, err)

	event, err := svc.Ingest(ctx, &v1.EventIn{
		Type:    v1.EventTypeTaskStatus,
		TaskID:  &task.ID,
		Payload: map[string]interface{}{"new_status": "  in progress "},
	})
	require.NoError(t, err)
	assert.Equal(t, "IN PROGRESS", event.Payload["new_status"])

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, v1.TaskStatusInProgress, got.Status)
}

func TestCreateTaskRejectsUnknownStatus(t *testing.T) {
	svc, _, _ := newTestService(t)

	bad := v1.TaskStatus("LIMBO")
	_, err := svc.CreateTask(context.Background(), &v1.CreateTaskRequest{
		Title:  "never lands",
		Status: &bad,
	})
	assert.Equal(t,
		[]string{"invalid task status: LIMBO; allowed=['ASSIGNED', 'DONE', 'IN PROGRESS', 'INBOX', 'REVIEW']"},
		ingestErrors(t, err))
}

func TestAddCommentPublishesEvent(t *testing.T) {
	svc, st, broker := newTestService(t)
	ctx := context.Background()

	task, err := st.CreateTask(ctx, "needs a note", v1.TaskStatusInbox, nil, nil)
	require.NoError(t, err)

	comment, err := svc.AddComment(ctx, task.ID, &v1.CreateCommentRequest{
		Author: "scout",
		Body:   "blocked on credentials",
	})
	require.NoError(t, err)
	require.NotEmpty(t, comment.ID)

	published := drainStream(t, broker)
	require.Len(t, published, 1)
	ev := published[0]
	assert.Equal(t, v1.EventTypeCommentCreated, ev.Type)
	require.NotNil(t, ev.Agent)
	assert.Equal(t, "scout", *ev.Agent)
	require.NotNil(t, ev.TaskID)
	assert.Equal(t, task.ID, *ev.TaskID)
	assert.Equal(t, comment.ID, ev.Payload["comment_id"])
}

func TestAddCommentUnknownTask(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.AddComment(context.Background(), "00000000-0000-0000-0000-000000000000", &v1.CreateCommentRequest{
		Author: "scout",
		Body:   "lost",
	})
	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}
