package bridge

import (
	"context"
	"strings"
	"time"

	"poe-bridge/internal/config"
	"poe-bridge/internal/events"
	"poe-bridge/internal/prompt"
	"poe-bridge/internal/render"
	"poe-bridge/internal/reply"
	"poe-bridge/internal/stream"
	"poe-bridge/internal/tokens"
	"poe-bridge/internal/upstream"
	"poe-bridge/internal/wire"

	"go.uber.org/zap"
)

// UpstreamErrorPrefix starts the content of a buffered reply whose bot call failed.
const UpstreamErrorPrefix = "Error from Poe API: "

// Bridge turns one chat-completion request into one bot call.
type Bridge struct {
	client   upstream.Client
	renderer render.Renderer
	logger   *zap.Logger
	cfg      config.Config
	composer reply.Composer
	counter  *tokens.Counter
}

// NewBridge constructs a Bridge. renderer and counter may be nil.
func NewBridge(client upstream.Client, renderer render.Renderer, logger *zap.Logger, cfg config.Config, counter *tokens.Counter) *Bridge {
	if renderer == nil {
		renderer = render.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{client: client, renderer: renderer, logger: logger, cfg: cfg, counter: counter}
}

// SetClock overrides the timestamp source for composed envelopes.
func (b *Bridge) SetClock(now func() time.Time) {
	b.composer.Now = now
}

// Streams reports whether req is answered with an SSE stream.
func (b *Bridge) Streams(req wire.ChatRequest) bool {
	return req.Stream && b.cfg.StreamingEnabled
}

// Prepare flattens req into the prompt and bot name sent upstream.
func (b *Bridge) Prepare(req wire.ChatRequest) prompt.Assembled {
	return prompt.Assemble(req, prompt.Options{
		SystemPrompt: b.cfg.SystemPrompt,
		DefaultModel: b.cfg.DefaultModel,
		ToolsEnabled: b.cfg.ToolsEnabled,
	})
}

func (b *Bridge) now() time.Time {
	if b.composer.Now != nil {
		return b.composer.Now()
	}
	return time.Now()
}

func (b *Bridge) emit(requestID string, t events.Type, payload any) {
	b.renderer.Emit(events.Event{Type: t, RequestID: requestID, Timestamp: time.Now(), Payload: payload})
}

func (b *Bridge) accepted(requestID string, req wire.ChatRequest, assembled prompt.Assembled) {
	b.emit(requestID, events.RequestAccepted, events.RequestAcceptedPayload{
		Model:      assembled.Model,
		Overridden: assembled.Overridden,
		Stream:     b.Streams(req),
		Messages:   len(req.Messages),
		Tools:      len(req.Tools),
		PromptSize: len(assembled.Prompt),
	})
	b.emit(requestID, events.UpstreamStarted, events.UpstreamStartedPayload{Bot: assembled.Model, Prompt: assembled.Prompt})
}

func (b *Bridge) finished(requestID, bot string, started time.Time, fragments, size int, err error) {
	duration := time.Since(started).Milliseconds()
	if err != nil {
		b.emit(requestID, events.UpstreamFailed, events.UpstreamFailedPayload{Bot: bot, Message: err.Error(), DurationMs: duration})
		return
	}
	b.emit(requestID, events.UpstreamFinished, events.UpstreamFinishedPayload{Bot: bot, Fragments: fragments, Bytes: size, DurationMs: duration})
}

// Complete performs the buffered exchange. Upstream failures are reported to
// the caller as assistant text rather than as an error.
func (b *Bridge) Complete(ctx context.Context, requestID string, req wire.ChatRequest) wire.ChatCompletion {
	assembled := b.Prepare(req)
	b.accepted(requestID, req, assembled)

	started := time.Now()
	var builder strings.Builder
	fragments := 0
	err := b.client.Stream(ctx, upstream.Request{Bot: assembled.Model, Prompt: assembled.Prompt}, func(fragment string) error {
		fragments++
		builder.WriteString(fragment)
		return nil
	})
	b.finished(requestID, assembled.Model, started, fragments, builder.Len(), err)

	var result reply.Result
	switch {
	case err != nil:
		b.logger.Warn("upstream call failed", zap.String("request_id", requestID), zap.String("bot", assembled.Model), zap.Error(err))
		result = reply.TextResult(UpstreamErrorPrefix + err.Error())
	case b.cfg.ToolsEnabled:
		result = reply.Classify(builder.String())
	default:
		result = reply.TextResult(strings.TrimSpace(builder.String()))
	}

	completion := b.composer.Compose(result, assembled.Model)
	completion.Usage = b.counter.Usage(assembled.Prompt, builder.String())

	b.emit(requestID, events.ReplyClassified, events.ReplyClassifiedPayload{
		FinishReason: completion.Choices[0].FinishReason,
		ToolCalls:    len(result.ToolCalls),
	})
	return completion
}

// Stream relays the bot's fragments to out as they arrive. A returned error
// means the stream was cut short and carries no terminal frames.
func (b *Bridge) Stream(ctx context.Context, requestID string, req wire.ChatRequest, out *stream.Writer) error {
	assembled := b.Prepare(req)
	b.accepted(requestID, req, assembled)

	relay := stream.NewRelay(out, assembled.Model, b.now())
	started := time.Now()
	size := 0
	called := false
	var upstreamErr, writeErr error
	err := relay.Run(func(emit func(string) error) error {
		called = true
		upstreamErr = b.client.Stream(ctx, upstream.Request{Bot: assembled.Model, Prompt: assembled.Prompt}, func(fragment string) error {
			size += len(fragment)
			if err := emit(fragment); err != nil {
				writeErr = err
				return err
			}
			return nil
		})
		return upstreamErr
	})
	if called {
		// A failed write to the caller stops the bot call; that is not a bot error.
		if writeErr != nil {
			upstreamErr = nil
		}
		b.finished(requestID, assembled.Model, started, relay.Fragments(), size, upstreamErr)
	}

	payload := events.StreamPayload{CompletionID: relay.ID(), Fragments: relay.Fragments()}
	if err != nil {
		payload.Message = err.Error()
		b.emit(requestID, events.StreamBroken, payload)
		return err
	}
	b.emit(requestID, events.StreamFinished, payload)
	return nil
}
