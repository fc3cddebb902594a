package upstream

import "context"

// Request is a single-turn query to a bot.
type Request struct {
	Bot    string
	Prompt string
}

// Client streams a bot reply. onFragment is called once per fragment in arrival
// order; fragment boundaries are arbitrary. A non-nil error from onFragment
// stops the stream and is returned.
type Client interface {
	Stream(ctx context.Context, req Request, onFragment func(string) error) error
}
