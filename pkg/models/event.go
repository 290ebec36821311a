package models

import "encoding/json"

// AgentEventType enumerates the event taxonomy a session publishes to its
// /agent/{sessionId} topic.
type AgentEventType string

const (
	EventPlanReady      AgentEventType = "PLAN_READY"
	EventStepStart      AgentEventType = "STEP_START"
	EventStepComplete   AgentEventType = "STEP_COMPLETE"
	EventIterationStart AgentEventType = "ITERATION_START"
	EventThinking       AgentEventType = "THINKING"
	EventToolCall       AgentEventType = "TOOL_CALL"
	EventToolResult     AgentEventType = "TOOL_RESULT"
	EventFinalAnswer    AgentEventType = "FINAL_ANSWER"
	EventStatusChange   AgentEventType = "STATUS_CHANGE"
	EventError          AgentEventType = "ERROR"
)

// StepCompletePayload is the structured payload of a STEP_COMPLETE event.
type StepCompletePayload struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
}

// ToolResultPayload is the structured payload of a TOOL_RESULT event.
type ToolResultPayload struct {
	ToolName string `json:"toolName"`
	Output   string `json:"output"`
}

// AgentEvent is one frame published on a session's event topic. Content
// carries free text (e.g. streamed tokens, final answer, status label);
// Payload carries the type-specific structured data, pre-marshaled so
// publish never fails on encoding.
type AgentEvent struct {
	SessionID      string          `json:"session_id"`
	Type           AgentEventType  `json:"type"`
	Content        string          `json:"content,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	IterationIndex int             `json:"iteration_index"`
	TimestampMs    int64           `json:"timestamp_ms"`
	// Sequence is a per-session monotonic counter used to verify
	// publish ordering (Testable Property 8); it is not part of the
	// wire contract subscribers depend on, only an ordering aid.
	Sequence uint64 `json:"sequence"`
}

// WithPayload marshals v into the event's Payload field. Marshal errors
// are swallowed (payload stays nil) since event publish must never fail
// the loop — matching the Event Publisher's fire-and-forget contract.
func (e AgentEvent) WithPayload(v any) AgentEvent {
	if v == nil {
		return e
	}
	if b, err := json.Marshal(v); err == nil {
		e.Payload = b
	}
	return e
}
