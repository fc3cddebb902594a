package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"poe-bridge/internal/config"
	"poe-bridge/internal/wire"

	"go.uber.org/zap"
)

func TestRunServesMockCompletions(t *testing.T) {
	cfg := config.Config{
		Addr:              "127.0.0.1:0",
		DefaultModel:      config.DefaultModel,
		AuthToken:         "test-token",
		Upstream:          config.UpstreamPoe,
		MaxConcurrent:     2,
		ToolsEnabled:      true,
		StreamingEnabled:  true,
		ExchangeLogLimit:  10,
		ReadHeaderTimeout: time.Second,
		ShutdownTimeout:   time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	addrCh := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, zap.NewNop(), true, func(addr string) { addrCh <- addr })
	}()

	var addr string
	select {
	case addr = <-addrCh:
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not start")
	}

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"#@Mock-Bot hello"}]}`
	req, _ := http.NewRequest(http.MethodPost, "http://"+addr+"/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var completion wire.ChatCompletion
	err = json.NewDecoder(resp.Body).Decode(&completion)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if completion.Model != "Mock-Bot" {
		t.Fatalf("expected Mock-Bot, got %q", completion.Model)
	}
	if content := *completion.Choices[0].Message.Content; !strings.HasPrefix(content, "Mock reply from Mock-Bot.") {
		t.Fatalf("unexpected content %q", content)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not shut down")
	}
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"addr", "default-model", "upstream", "tools", "streaming", "verbose"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Fatalf("expected flag %q", name)
		}
	}
}
