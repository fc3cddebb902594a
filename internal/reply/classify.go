package reply

import (
	"bytes"
	"encoding/json"
	"strings"

	"poe-bridge/internal/wire"
)

// Kind tags a classified upstream reply.
type Kind int

const (
	KindText Kind = iota
	KindToolCalls
)

// Result is the classified upstream reply. Text is set for KindText and
// ToolCalls for KindToolCalls.
type Result struct {
	Kind      Kind
	Text      string
	ToolCalls []wire.ToolCall
}

// TextResult wraps plain assistant text.
func TextResult(text string) Result {
	return Result{Kind: KindText, Text: text}
}

// ToolCallResult wraps structured invocations.
func ToolCallResult(calls []wire.ToolCall) Result {
	return Result{Kind: KindToolCalls, ToolCalls: calls}
}

type rawToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// Classify decides whether the collected upstream text is a tool-call payload.
// Anything that is not a well-formed {"tool_calls":[...]} object, or that holds a
// call without a function name, is returned as text.
func Classify(text string) Result {
	trimmed := strings.TrimSpace(text)
	if calls, ok := parseToolCalls(trimmed); ok {
		return ToolCallResult(calls)
	}
	return TextResult(trimmed)
}

func parseToolCalls(text string) ([]wire.ToolCall, bool) {
	if !strings.HasPrefix(text, "{") || !strings.HasSuffix(text, "}") {
		return nil, false
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &object); err != nil {
		return nil, false
	}
	raw, ok := object["tool_calls"]
	if !ok || isNull(raw) {
		return nil, false
	}
	var items []rawToolCall
	if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
		return nil, false
	}
	calls := make([]wire.ToolCall, 0, len(items))
	for _, item := range items {
		if item.Function.Name == "" {
			return nil, false
		}
		call := wire.ToolCall{
			ID:   item.ID,
			Type: item.Type,
			Function: wire.FunctionCall{
				Name:      item.Function.Name,
				Arguments: argumentsString(item.Function.Arguments),
			},
		}
		if call.ID == "" {
			call.ID = NewCallID()
		}
		if call.Type == "" {
			call.Type = wire.ToolTypeFunction
		}
		calls = append(calls, call)
	}
	return calls, true
}

// argumentsString returns the arguments payload as the JSON string OpenAI clients
// expect. Bots sometimes emit an object instead of an encoded string.
func argumentsString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || isNull(trimmed) {
		return "{}"
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	var out bytes.Buffer
	if err := json.Compact(&out, trimmed); err != nil {
		return string(trimmed)
	}
	return out.String()
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
