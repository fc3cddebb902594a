package upstream

import (
	"context"
	"strings"
	"sync"
)

// MockClient is a deterministic client for tests and demos.
type MockClient struct {
	mu        sync.Mutex
	calls     int
	last      Request
	fragments []string
	err       error
	failAfter int
}

// NewMockClient returns a mock that echoes a short canned reply.
func NewMockClient() *MockClient {
	return &MockClient{failAfter: -1}
}

// NewScriptedClient returns a mock that emits fragments verbatim.
func NewScriptedClient(fragments ...string) *MockClient {
	return &MockClient{fragments: fragments, failAfter: -1}
}

// NewFailingClient returns a mock that emits the first n fragments and then fails with err.
func NewFailingClient(err error, n int, fragments ...string) *MockClient {
	return &MockClient{fragments: fragments, err: err, failAfter: n}
}

func (m *MockClient) Stream(ctx context.Context, req Request, onFragment func(string) error) error {
	m.mu.Lock()
	m.calls++
	m.last = req
	fragments := m.fragments
	if fragments == nil {
		fragments = cannedReply(req.Bot)
	}
	failErr, failAfter := m.err, m.failAfter
	m.mu.Unlock()

	for i, fragment := range fragments {
		if failErr != nil && i == failAfter {
			return failErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onFragment(fragment); err != nil {
			return err
		}
	}
	if failErr != nil {
		return failErr
	}
	return nil
}

// Calls reports how many times Stream was invoked.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastRequest returns the most recent request.
func (m *MockClient) LastRequest() Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func cannedReply(bot string) []string {
	words := strings.Fields("Mock reply from " + bot + ". The upstream bot was not contacted.")
	out := make([]string, 0, len(words))
	for i, word := range words {
		if i > 0 {
			word = " " + word
		}
		out = append(out, word)
	}
	return out
}
