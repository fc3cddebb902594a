package events

import "time"

// Type represents an emitted event type.
type Type string

const (
	RequestAccepted  Type = "RequestAccepted"
	RequestRejected  Type = "RequestRejected"
	UpstreamStarted  Type = "UpstreamStarted"
	UpstreamFinished Type = "UpstreamFinished"
	UpstreamFailed   Type = "UpstreamFailed"
	ReplyClassified  Type = "ReplyClassified"
	StreamFinished   Type = "StreamFinished"
	StreamBroken     Type = "StreamBroken"
)

// Event is the common envelope for request lifecycle events.
type Event struct {
	Type      Type      `json:"type"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// RequestAcceptedPayload is emitted once auth and validation pass.
type RequestAcceptedPayload struct {
	Model      string `json:"model"`
	Overridden bool   `json:"overridden"`
	Stream     bool   `json:"stream"`
	Messages   int    `json:"messages"`
	Tools      int    `json:"tools"`
	PromptSize int    `json:"prompt_size"`
}

// RequestRejectedPayload records why a request never reached the upstream bot.
type RequestRejectedPayload struct {
	Status int    `json:"status"`
	Reason string `json:"reason"`
}

// UpstreamStartedPayload marks the start of a bot call.
type UpstreamStartedPayload struct {
	Bot    string `json:"bot"`
	Prompt string `json:"prompt"`
}

// UpstreamFinishedPayload closes a bot call.
type UpstreamFinishedPayload struct {
	Bot        string `json:"bot"`
	Fragments  int    `json:"fragments"`
	Bytes      int    `json:"bytes"`
	DurationMs int64  `json:"duration_ms"`
}

// UpstreamFailedPayload records a bot call error.
type UpstreamFailedPayload struct {
	Bot        string `json:"bot"`
	Message    string `json:"message"`
	DurationMs int64  `json:"duration_ms"`
}

// ReplyClassifiedPayload reports the buffered path's decision.
type ReplyClassifiedPayload struct {
	FinishReason string `json:"finish_reason"`
	ToolCalls    int    `json:"tool_calls"`
}

// StreamPayload closes a streamed response.
type StreamPayload struct {
	CompletionID string `json:"completion_id"`
	Fragments    int    `json:"fragments"`
	Message      string `json:"message,omitempty"`
}
