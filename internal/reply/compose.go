package reply

import (
	"strings"
	"time"

	"poe-bridge/internal/wire"

	"github.com/google/uuid"
)

// NewCompletionID returns a fresh "chatcmpl-" identifier.
func NewCompletionID() string {
	return "chatcmpl-" + hexID(24)
}

// NewCallID returns a fresh "call_" identifier for tool calls without one.
func NewCallID() string {
	return "call_" + hexID(16)
}

func hexID(n int) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n < len(id) {
		return id[:n]
	}
	return id
}

// Composer builds response envelopes. Now is injectable for tests.
type Composer struct {
	Now func() time.Time
}

func (c Composer) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Compose wraps a classified result in a chat.completion envelope.
func (c Composer) Compose(result Result, model string) wire.ChatCompletion {
	message := wire.AssistantMessage{Role: wire.RoleAssistant}
	finish := wire.FinishStop
	if result.Kind == KindToolCalls {
		message.ToolCalls = result.ToolCalls
		finish = wire.FinishToolCalls
	} else {
		message.Content = wire.String(result.Text)
	}
	return wire.ChatCompletion{
		ID:      NewCompletionID(),
		Object:  wire.ObjectCompletion,
		Created: c.now().Unix(),
		Model:   model,
		Choices: []wire.Choice{{Index: 0, Message: message, FinishReason: finish}},
	}
}

// Compose uses the wall clock.
func Compose(result Result, model string) wire.ChatCompletion {
	return Composer{}.Compose(result, model)
}
