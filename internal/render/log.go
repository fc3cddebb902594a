package render

import (
	"sync"

	"poe-bridge/internal/events"
	"poe-bridge/internal/util"

	"go.uber.org/zap"
)

const promptPreviewBytes = 512

// LogRenderer writes lifecycle events as structured log lines.
type LogRenderer struct {
	logger  *zap.Logger
	verbose bool
	mu      sync.Mutex
	counts  map[events.Type]int
}

// NewLogRenderer creates a renderer backed by logger. Prompt previews are only
// logged in verbose mode.
func NewLogRenderer(logger *zap.Logger, verbose bool) *LogRenderer {
	return &LogRenderer{logger: logger, verbose: verbose, counts: map[events.Type]int{}}
}

func (r *LogRenderer) Emit(event events.Event) {
	r.mu.Lock()
	r.counts[event.Type]++
	r.mu.Unlock()

	log := r.logger.With(zap.String("request_id", event.RequestID))
	switch payload := event.Payload.(type) {
	case events.RequestAcceptedPayload:
		log.Info("request accepted",
			zap.String("model", payload.Model),
			zap.Bool("model_override", payload.Overridden),
			zap.Bool("stream", payload.Stream),
			zap.Int("messages", payload.Messages),
			zap.Int("tools", payload.Tools),
			zap.Int("prompt_bytes", payload.PromptSize))
	case events.RequestRejectedPayload:
		log.Warn("request rejected", zap.Int("status", payload.Status), zap.String("reason", payload.Reason))
	case events.UpstreamStartedPayload:
		if !r.verbose {
			return
		}
		preview := util.Preview(util.RedactSecrets(payload.Prompt), 0, promptPreviewBytes)
		log.Debug("upstream call started", zap.String("bot", payload.Bot), zap.String("prompt_preview", preview))
	case events.UpstreamFinishedPayload:
		log.Info("upstream call finished",
			zap.String("bot", payload.Bot),
			zap.Int("fragments", payload.Fragments),
			zap.Int("bytes", payload.Bytes),
			zap.Int64("duration_ms", payload.DurationMs))
	case events.UpstreamFailedPayload:
		log.Error("upstream call failed",
			zap.String("bot", payload.Bot),
			zap.String("error", util.RedactSecrets(payload.Message)),
			zap.Int64("duration_ms", payload.DurationMs))
	case events.ReplyClassifiedPayload:
		log.Debug("reply classified", zap.String("finish_reason", payload.FinishReason), zap.Int("tool_calls", payload.ToolCalls))
	case events.StreamPayload:
		fields := []zap.Field{zap.String("completion_id", payload.CompletionID), zap.Int("fragments", payload.Fragments)}
		if event.Type == events.StreamBroken {
			log.Error("stream broken", append(fields, zap.String("error", util.RedactSecrets(payload.Message)))...)
			return
		}
		log.Info("stream finished", fields...)
	}
}

// Count reports how many events of type t were emitted.
func (r *LogRenderer) Count(t events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[t]
}

func (r *LogRenderer) Close() error {
	_ = r.logger.Sync()
	return nil
}
