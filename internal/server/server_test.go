package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"poe-bridge/internal/bridge"
	"poe-bridge/internal/config"
	"poe-bridge/internal/exchange"
	"poe-bridge/internal/upstream"
	"poe-bridge/internal/wire"

	"go.uber.org/zap"
)

const testToken = "secret-token"

func testConfig() config.Config {
	return config.Config{
		DefaultModel:     "Default-Bot",
		PoeAPIKey:        "poe-key",
		AuthToken:        testToken,
		Upstream:         config.UpstreamPoe,
		MaxConcurrent:    4,
		ToolsEnabled:     true,
		StreamingEnabled: true,
	}
}

func newTestServer(t *testing.T, cfg config.Config, client upstream.Client, store *exchange.Store) *httptest.Server {
	t.Helper()
	b := bridge.NewBridge(client, nil, zap.NewNop(), cfg, nil)
	srv := httptest.NewServer(AccessLog(NewServer(cfg, b, store, nil, zap.NewNop()), zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/chat/completions", strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) wire.ErrorBody {
	t.Helper()
	var payload wire.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return payload.Error
}

const helloBody = `{"model":"gpt-4o","messages":[{"role":"user","content":"Hello"}]}`

func TestChatCompletionBuffered(t *testing.T) {
	client := upstream.NewScriptedClient("Hello", " world")
	srv := newTestServer(t, testConfig(), client, nil)

	resp := post(t, srv, testToken, helloBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
	var completion wire.ChatCompletion
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if completion.Object != wire.ObjectCompletion || !strings.HasPrefix(completion.ID, "chatcmpl-") {
		t.Fatalf("unexpected envelope: %+v", completion)
	}
	if completion.Model != "Default-Bot" {
		t.Fatalf("expected default model, got %q", completion.Model)
	}
	if got := *completion.Choices[0].Message.Content; got != "Hello world" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestChatCompletionToolCall(t *testing.T) {
	client := upstream.NewScriptedClient(`{"tool_calls":[{"id":"call_9","type":"function","function":{"name":"read_file","arguments":"{\"path\":\"a.go\"}"}}]}`)
	srv := newTestServer(t, testConfig(), client, nil)

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"read a.go"}],
		"tools":[{"type":"function","function":{"name":"read_file","description":"Read a file","parameters":{"type":"object"}}}]}`
	resp := post(t, srv, testToken, body)

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	choice := raw["choices"].([]any)[0].(map[string]any)
	if choice["finish_reason"] != "tool_calls" {
		t.Fatalf("expected tool_calls finish, got %v", choice["finish_reason"])
	}
	calls := choice["message"].(map[string]any)["tool_calls"].([]any)
	if calls[0].(map[string]any)["id"] != "call_9" {
		t.Fatalf("expected call id to be kept")
	}
	if !strings.Contains(client.LastRequest().Prompt, "- **read_file**: Read a file") {
		t.Fatalf("expected tool manifest in prompt")
	}
}

func TestUnauthorizedRequestsNeverReachUpstream(t *testing.T) {
	client := upstream.NewScriptedClient("nope")
	srv := newTestServer(t, testConfig(), client, nil)

	for _, token := range []string{"", "wrong-token", testToken + "x"} {
		resp := post(t, srv, token, helloBody)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("token %q: expected 401, got %d", token, resp.StatusCode)
		}
		if body := decodeError(t, resp); body.Type != "authentication_error" {
			t.Fatalf("unexpected error type %q", body.Type)
		}
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/chat/completions", strings.NewReader(helloBody))
	req.Header.Set("Authorization", testToken)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without Bearer scheme, got %d", resp.StatusCode)
	}
	if client.Calls() != 0 {
		t.Fatalf("expected no upstream calls, got %d", client.Calls())
	}
}

func TestConfigurationIsCheckedFirst(t *testing.T) {
	cfg := testConfig()
	cfg.PoeAPIKey = ""
	client := upstream.NewScriptedClient("nope")
	srv := newTestServer(t, cfg, client, nil)

	resp := post(t, srv, "wrong-token", `{"messages":[]}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if body := decodeError(t, resp); body.Message != "Server not configured." {
		t.Fatalf("unexpected message %q", body.Message)
	}
	if client.Calls() != 0 {
		t.Fatalf("expected no upstream calls")
	}
}

func TestInvalidRequests(t *testing.T) {
	client := upstream.NewScriptedClient("nope")
	srv := newTestServer(t, testConfig(), client, nil)

	cases := map[string]string{
		"empty messages":  `{"model":"gpt-4o","messages":[]}`,
		"missing list":    `{"model":"gpt-4o"}`,
		"malformed":       `{"messages":`,
		"numeric content": `{"messages":[{"role":"user","content":7}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := post(t, srv, testToken, body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
			if decodeError(t, resp).Type != "invalid_request_error" {
				t.Fatalf("expected invalid_request_error")
			}
		})
	}
	if client.Calls() != 0 {
		t.Fatalf("expected no upstream calls")
	}
}

func TestUpstreamFailureBecomesContent(t *testing.T) {
	client := upstream.NewFailingClient(errors.New("bot is down"), 0)
	srv := newTestServer(t, testConfig(), client, nil)

	resp := post(t, srv, testToken, helloBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var completion wire.ChatCompletion
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := *completion.Choices[0].Message.Content; got != "Error from Poe API: bot is down" {
		t.Fatalf("unexpected content %q", got)
	}
	if completion.Choices[0].FinishReason != wire.FinishStop {
		t.Fatalf("expected stop finish")
	}
}

func TestStreamingOverHTTP(t *testing.T) {
	client := upstream.NewScriptedClient("Hi", " there", "!")
	srv := newTestServer(t, testConfig(), client, nil)

	resp := post(t, srv, testToken, `{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"#@gpt-4 Hello"}]}`)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	frames := strings.Split(strings.TrimSuffix(string(raw), "\n\n"), "\n\n")
	if len(frames) != 6 {
		t.Fatalf("expected 6 events, got %d:\n%s", len(frames), raw)
	}
	if frames[5] != "data: [DONE]" {
		t.Fatalf("expected DONE marker last, got %q", frames[5])
	}
	var ids []string
	for _, frame := range frames[:5] {
		var chunk wire.ChatCompletionChunk
		if err := json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &chunk); err != nil {
			t.Fatalf("decode chunk: %v", err)
		}
		if chunk.Model != "gpt-4" {
			t.Fatalf("expected directive model, got %q", chunk.Model)
		}
		ids = append(ids, chunk.ID)
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("expected one id across frames")
		}
	}
}

func TestStreamingDisabledFallsBackToBuffered(t *testing.T) {
	cfg := testConfig()
	cfg.StreamingEnabled = false
	srv := newTestServer(t, cfg, upstream.NewScriptedClient("Hi"), nil)

	resp := post(t, srv, testToken, `{"stream":true,"messages":[{"role":"user","content":"Hello"}]}`)
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON response, got %q", ct)
	}
}

func TestStreamingAbortsOnUpstreamFailure(t *testing.T) {
	client := upstream.NewFailingClient(errors.New("reset"), 1, "partial", "lost")
	srv := newTestServer(t, testConfig(), client, nil)

	resp := post(t, srv, testToken, `{"stream":true,"messages":[{"role":"user","content":"Hello"}]}`)
	raw, err := io.ReadAll(resp.Body)
	if err == nil {
		t.Fatalf("expected a broken stream")
	}
	if strings.Contains(string(raw), "[DONE]") || strings.Contains(string(raw), `"finish_reason":"stop"`) {
		t.Fatalf("expected no terminal frames: %s", raw)
	}
}

type blockingClient struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (c *blockingClient) Stream(ctx context.Context, req upstream.Request, onFragment func(string) error) error {
	c.calls.Add(1)
	c.started <- struct{}{}
	select {
	case <-c.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return onFragment("done")
}

func TestConcurrencyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	client := &blockingClient{started: make(chan struct{}, 2), release: make(chan struct{})}
	srv := newTestServer(t, cfg, client, nil)

	first := make(chan int, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/chat/completions", strings.NewReader(helloBody))
		req.Header.Set("Authorization", "Bearer "+testToken)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			first <- 0
			return
		}
		resp.Body.Close()
		first <- resp.StatusCode
	}()
	<-client.started

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/v1/chat/completions", strings.NewReader(helloBody))
	req.Header.Set("Authorization", "Bearer "+testToken)
	if _, err := http.DefaultClient.Do(req); err == nil {
		t.Fatalf("expected queued request to time out")
	}
	if n := client.calls.Load(); n != 1 {
		t.Fatalf("expected one upstream call while saturated, got %d", n)
	}

	close(client.release)
	if status := <-first; status != http.StatusOK {
		t.Fatalf("expected first request to finish, got %d", status)
	}
}

func TestModelsAndHealth(t *testing.T) {
	srv := newTestServer(t, testConfig(), upstream.NewMockClient(), nil)

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" || !health.Configured {
		t.Fatalf("unexpected health %+v", health)
	}

	resp, err = srv.Client().Get(srv.URL + "/v1/models")
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected models to require auth, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/models", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err = srv.Client().Do(req)
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	defer resp.Body.Close()
	var list wire.ModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode models: %v", err)
	}
	if len(list.Data) != 1 || list.Data[0].ID != "Default-Bot" {
		t.Fatalf("unexpected models %+v", list)
	}
}

func TestExchangesAreRecorded(t *testing.T) {
	store := exchange.NewStore(10)
	client := upstream.NewRecordingClient(upstream.NewScriptedClient("answer"), store)
	srv := newTestServer(t, testConfig(), client, store)

	post(t, srv, testToken, `{"messages":[{"role":"user","content":"#@Bot-X api_key=abc123"}]}`)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/debug/exchanges", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("exchanges: %v", err)
	}
	defer resp.Body.Close()
	var list exchangeList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Data) != 1 {
		t.Fatalf("expected one exchange, got %d", len(list.Data))
	}
	entry := list.Data[0]
	if entry.Bot != "Bot-X" || entry.Response != "answer" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if strings.Contains(entry.Prompt, "abc123") {
		t.Fatalf("expected recorded prompt to be redacted")
	}
}
