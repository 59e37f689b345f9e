package v1

import "time"

// Well-known event types carried on the stream. The ingest pipeline attaches
// payload contracts to task.handoff and task.status only; the rest pass through
// as opaque payloads.
const (
	EventTypeTaskCreated         = "task.created"
	EventTypeTaskUpdated         = "task.updated"
	EventTypeTaskAssigned        = "task.assigned"
	EventTypeTaskHandoff         = "task.handoff"
	EventTypeTaskStatus          = "task.status"
	EventTypeTaskReviewRequested = "task.review.requested"
	EventTypeArtifactCreated     = "artifact.created"
	EventTypeAgentHeartbeat      = "agent.heartbeat"
	EventTypeCommentCreated      = "comment.created"
	EventTypeChatMessageSent     = "chat.message.sent"
	EventTypeChatMessageReceived = "chat.message.received"
	EventTypeChatProxyError      = "chat.proxy.error"
	EventTypeChatGatewayAccess   = "chat.gateway.access"
	EventTypeVoiceState          = "voice.state"
	EventTypeVoiceASRFinal       = "voice.asr.final"
	EventTypeVoiceLLMFirstToken  = "voice.llm.first_token"
	EventTypeVoiceTTSStart       = "voice.tts.start"
	EventTypeVoiceError          = "voice.error"
	EventTypeAssessmentProbe     = "assessment.probe"
	EventTypeValidation          = "event.validation"
)

// Event is a single append-only record in the activity feed
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Agent     *string                `json:"agent"`
	TaskID    *string                `json:"task_id"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}

// EventIn is the ingest request body for POST /v1/events
type EventIn struct {
	Type    string                 `json:"type" binding:"required"`
	Agent   *string                `json:"agent,omitempty"`
	TaskID  *string                `json:"task_id,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// EventLite is a feed entry with only the hot payload fields projected,
// cheap enough for tight UI polling loops.
type EventLite struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Agent      *string   `json:"agent"`
	TaskID     *string   `json:"task_id"`
	CreatedAt  time.Time `json:"created_at"`
	Method     *string   `json:"method"`
	Path       *string   `json:"path"`
	StatusCode *int      `json:"status_code"`
	ErrorType  *string   `json:"error_type"`
	TestID     *string   `json:"test_id"`
	Round      *int      `json:"round"`
}

// ValidationPayload is the payload of an event.validation stream record,
// published for every ingest attempt whether accepted or rejected.
type ValidationPayload struct {
	EventType string                 `json:"event_type"`
	Accepted  bool                   `json:"accepted"`
	Errors    []string               `json:"errors"`
	Details   map[string]interface{} `json:"details"`
}

// ErrorResponse is the error envelope: {"detail": <string or object>}
type ErrorResponse struct {
	Detail interface{} `json:"detail"`
}

// ValidationErrors is the detail object for rejected ingest requests
type ValidationErrors struct {
	Errors []string `json:"errors"`
}
