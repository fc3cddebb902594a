package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"poe-bridge/internal/bridge"
	"poe-bridge/internal/config"
	"poe-bridge/internal/events"
	"poe-bridge/internal/exchange"
	"poe-bridge/internal/render"
	"poe-bridge/internal/stream"
	"poe-bridge/internal/version"
	"poe-bridge/internal/wire"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const maxBodyBytes = 8 << 20

// Server is the OpenAI-compatible HTTP surface of the bridge.
type Server struct {
	cfg       config.Config
	bridge    *bridge.Bridge
	exchanges *exchange.Store
	renderer  render.Renderer
	logger    *zap.Logger
	limiter   *semaphore.Weighted
	started   time.Time
	mux       *http.ServeMux
}

// NewServer wires the routes. exchanges and renderer may be nil.
func NewServer(cfg config.Config, b *bridge.Bridge, exchanges *exchange.Store, renderer render.Renderer, logger *zap.Logger) *Server {
	if renderer == nil {
		renderer = render.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := cfg.MaxConcurrent
	if limit <= 0 {
		limit = config.DefaultMaxConcurrent
	}
	s := &Server{
		cfg:       cfg,
		bridge:    b,
		exchanges: exchanges,
		renderer:  renderer,
		logger:    logger,
		limiter:   semaphore.NewWeighted(int64(limit)),
		started:   time.Now(),
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	s.mux.HandleFunc("GET /v1/models", s.handleModels)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /debug/exchanges", s.handleExchanges)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) reject(w http.ResponseWriter, requestID string, err *apiError) {
	s.renderer.Emit(events.Event{
		Type:      events.RequestRejected,
		RequestID: requestID,
		Timestamp: time.Now(),
		Payload:   events.RequestRejectedPayload{Status: err.status, Reason: err.code},
	})
	writeError(w, err)
}

// admit runs the configuration and authorization checks, in that order.
func (s *Server) admit(r *http.Request) *apiError {
	if !s.cfg.Configured() {
		return errNotConfigured
	}
	if !s.authorized(r.Header.Get("Authorization")) {
		return errUnauthorized
	}
	return nil
}

func (s *Server) authorized(header string) bool {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)

	if err := s.admit(r); err != nil {
		s.reject(w, requestID, err)
		return
	}

	var req wire.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.logger.Debug("invalid request body", zap.String("request_id", requestID), zap.Error(err))
		s.reject(w, requestID, errInvalidBody)
		return
	}
	if len(req.Messages) == 0 {
		s.reject(w, requestID, errNoMessages)
		return
	}

	if err := s.limiter.Acquire(r.Context(), 1); err != nil {
		s.logger.Debug("client left while queued", zap.String("request_id", requestID), zap.Error(err))
		return
	}
	defer s.limiter.Release(1)

	if !s.bridge.Streams(req) {
		writeJSON(w, http.StatusOK, s.bridge.Complete(r.Context(), requestID, req))
		return
	}

	if err := s.bridge.Stream(r.Context(), requestID, req, stream.NewWriter(w)); err != nil {
		// Headers are already sent; the only way to signal failure is to cut the stream.
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if err := s.admit(r); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.ModelList{
		Object: "list",
		Data: []wire.Model{{
			ID:      s.cfg.DefaultModel,
			Object:  "model",
			Created: s.started.Unix(),
			OwnedBy: "poe",
		}},
	})
}

type healthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Configured bool   `json:"configured"`
	Upstream   string `json:"upstream"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     "ok",
		Version:    version.Version,
		Configured: s.cfg.Configured(),
		Upstream:   s.cfg.Upstream,
	})
}

type exchangeList struct {
	Object string           `json:"object"`
	Data   []exchange.Entry `json:"data"`
}

func (s *Server) handleExchanges(w http.ResponseWriter, r *http.Request) {
	if err := s.admit(r); err != nil {
		writeError(w, err)
		return
	}
	entries := []exchange.Entry{}
	if s.exchanges != nil {
		entries = s.exchanges.List()
	}
	writeJSON(w, http.StatusOK, exchangeList{Object: "list", Data: entries})
}

// AccessLog wraps next with one structured log line per request.
func AccessLog(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", rec.Header().Get("X-Request-Id")),
			}
			if v := recover(); v != nil {
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					logger.Warn("stream aborted", fields...)
				} else {
					logger.Error("handler panic", append(fields, zap.Any("panic", v))...)
				}
				panic(v)
			}
			logger.Info("request", fields...)
		}()
		next.ServeHTTP(rec, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
