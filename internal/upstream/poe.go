package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	// DefaultPoeBaseURL is the Poe bot query endpoint root.
	DefaultPoeBaseURL = "https://api.poe.com"

	poeProtocolVersion = "1.2"
	maxEventBytes      = 1024 * 1024
)

// ErrNoDoneEvent is returned when the bot closes the stream without a done event.
var ErrNoDoneEvent = errors.New("poe: stream ended without done event")

// BotError is an error event sent by the bot.
type BotError struct {
	Text       string
	AllowRetry bool
	Type       string
}

func (e *BotError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("poe bot error (%s): %s", e.Type, e.Text)
	}
	return "poe bot error: " + e.Text
}

// PoeClient speaks the Poe bot query protocol over SSE.
type PoeClient struct {
	apiKey    string
	baseURL   string
	userAgent string
	client    *retryablehttp.Client
}

// NewPoeClient constructs a client. Requests are attempted exactly once.
func NewPoeClient(apiKey, baseURL, userAgent string, logger *zap.Logger) *PoeClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.HTTPClient.Timeout = 0
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = nil
	if logger != nil {
		client.Logger = leveledLogger{logger.Sugar()}
	}
	if baseURL == "" {
		baseURL = DefaultPoeBaseURL
	}
	return &PoeClient{
		apiKey:    apiKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    client,
	}
}

type poeMessage struct {
	Role        string `json:"role"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	Timestamp   int64  `json:"timestamp"`
	MessageID   string `json:"message_id"`
	Feedback    []any  `json:"feedback"`
	Attachments []any  `json:"attachments"`
}

type poeQuery struct {
	Version        string       `json:"version"`
	Type           string       `json:"type"`
	Query          []poeMessage `json:"query"`
	UserID         string       `json:"user_id"`
	ConversationID string       `json:"conversation_id"`
	MessageID      string       `json:"message_id"`
	Metadata       string       `json:"metadata"`
}

type poeEventData struct {
	Text       string `json:"text"`
	AllowRetry bool   `json:"allow_retry"`
	ErrorType  string `json:"error_type"`
}

func (c *PoeClient) Stream(ctx context.Context, req Request, onFragment func(string) error) error {
	query := poeQuery{
		Version: poeProtocolVersion,
		Type:    "query",
		Query: []poeMessage{{
			Role:        "user",
			Content:     req.Prompt,
			ContentType: "text/markdown",
			MessageID:   uuid.NewString(),
			Feedback:    []any{},
			Attachments: []any{},
		}},
		UserID:         uuid.NewString(),
		ConversationID: uuid.NewString(),
		MessageID:      uuid.NewString(),
	}
	body, err := json.Marshal(query)
	if err != nil {
		return fmt.Errorf("poe: marshal query: %w", err)
	}

	endpoint := c.baseURL + "/bot/" + url.PathEscape(req.Bot)
	request, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("poe: build request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+c.apiKey)
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "text/event-stream")
	if c.userAgent != "" {
		request.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(request)
	if err != nil {
		return fmt.Errorf("poe: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("poe: bot %s returned status %d: %s", req.Bot, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	done := false
	err = consumeSSE(ctx, resp.Body, func(event, data string) error {
		switch event {
		case "text", "replace_response":
			var payload poeEventData
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				return fmt.Errorf("poe: decode %s event: %w", event, err)
			}
			if payload.Text == "" {
				return nil
			}
			return onFragment(payload.Text)
		case "error":
			var payload poeEventData
			if err := json.Unmarshal([]byte(data), &payload); err != nil {
				return &BotError{Text: data}
			}
			return &BotError{Text: payload.Text, AllowRetry: payload.AllowRetry, Type: payload.ErrorType}
		case "done":
			done = true
			return errStopStream
		default:
			// meta, suggested_reply, json, file and unknown events carry no reply text.
			return nil
		}
	})
	if err != nil && !errors.Is(err, errStopStream) {
		return err
	}
	if !done {
		return ErrNoDoneEvent
	}
	return nil
}

var errStopStream = errors.New("stop stream")

// consumeSSE parses a Server-Sent Events stream, invoking fn for each event.
func consumeSSE(ctx context.Context, r io.Reader, fn func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)
	var eventName string
	var dataBuf strings.Builder
	flush := func() error {
		if dataBuf.Len() == 0 && eventName == "" {
			return nil
		}
		name, payload := eventName, dataBuf.String()
		eventName = ""
		dataBuf.Reset()
		return fn(name, payload)
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Text()
		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "event:") {
			eventName = strings.TrimSpace(line[len("event:"):])
			continue
		}
		if strings.HasPrefix(line, "data:") {
			if dataBuf.Len() > 0 {
				dataBuf.WriteByte('\n')
			}
			dataBuf.WriteString(strings.TrimPrefix(line[len("data:"):], " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	l *zap.SugaredLogger
}

func (z leveledLogger) Error(msg string, keysAndValues ...interface{}) { z.l.Errorw(msg, keysAndValues...) }
func (z leveledLogger) Info(msg string, keysAndValues ...interface{})  { z.l.Debugw(msg, keysAndValues...) }
func (z leveledLogger) Debug(msg string, keysAndValues ...interface{}) { z.l.Debugw(msg, keysAndValues...) }
func (z leveledLogger) Warn(msg string, keysAndValues ...interface{})  { z.l.Warnw(msg, keysAndValues...) }
