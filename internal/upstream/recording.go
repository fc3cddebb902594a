package upstream

import (
	"context"
	"strings"
	"time"

	"poe-bridge/internal/exchange"
	"poe-bridge/internal/util"
)

const maxRecordedBytes = 16 * 1024

// RecordingClient records every call of the wrapped client into an exchange store.
// Prompts and responses are redacted and truncated before they are stored.
type RecordingClient struct {
	inner Client
	store *exchange.Store
}

func NewRecordingClient(inner Client, store *exchange.Store) *RecordingClient {
	return &RecordingClient{inner: inner, store: store}
}

func (c *RecordingClient) Stream(ctx context.Context, req Request, onFragment func(string) error) error {
	start := time.Now()
	var response strings.Builder
	fragments := 0
	err := c.inner.Stream(ctx, req, func(fragment string) error {
		fragments++
		if response.Len() < maxRecordedBytes {
			response.WriteString(fragment)
		}
		return onFragment(fragment)
	})

	prompt, _ := util.TruncateBytes(util.RedactSecrets(req.Prompt), maxRecordedBytes)
	text, _ := util.TruncateBytes(util.RedactSecrets(response.String()), maxRecordedBytes)
	entry := exchange.Entry{
		Time:       start,
		Bot:        req.Bot,
		Prompt:     prompt,
		Response:   text,
		Fragments:  fragments,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		entry.Error = util.RedactSecrets(err.Error())
	}
	c.store.Add(entry)
	return err
}
