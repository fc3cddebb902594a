package stream

import (
	"time"

	"poe-bridge/internal/reply"
	"poe-bridge/internal/wire"
)

// Source produces upstream fragments by calling emit for each one, in order.
type Source func(emit func(fragment string) error) error

// Relay forwards upstream fragments one-to-one as chat.completion.chunk frames.
// All frames of a relay share one id, timestamp and model.
type Relay struct {
	out      *Writer
	id       string
	created  int64
	model    string
	relayed  int
	finished bool
}

// NewRelay builds a relay for one response.
func NewRelay(out *Writer, model string, now time.Time) *Relay {
	return &Relay{out: out, id: reply.NewCompletionID(), created: now.Unix(), model: model}
}

// ID returns the completion id shared by every frame.
func (r *Relay) ID() string { return r.id }

// Fragments returns how many content frames were written.
func (r *Relay) Fragments() int { return r.relayed }

// Start writes the role-establishing frame.
func (r *Relay) Start() error {
	return r.out.Send(r.chunk(wire.Delta{Role: wire.RoleAssistant, Content: wire.String("")}, nil))
}

// Fragment writes one content frame. Empty fragments are dropped.
func (r *Relay) Fragment(text string) error {
	if text == "" {
		return nil
	}
	if err := r.out.Send(r.chunk(wire.Delta{Content: wire.String(text)}, nil)); err != nil {
		return err
	}
	r.relayed++
	return nil
}

// Finish writes the terminal frame and the [DONE] marker. Later calls are no-ops.
func (r *Relay) Finish() error {
	if r.finished {
		return nil
	}
	r.finished = true
	if err := r.out.Send(r.chunk(wire.Delta{}, wire.String(wire.FinishStop))); err != nil {
		return err
	}
	return r.out.Done()
}

// Run drives a full stream: role frame, every fragment from src, then the
// terminal frames. If src fails the terminal frames are not written and the
// error is returned so the caller can break the connection.
func (r *Relay) Run(src Source) error {
	if err := r.Start(); err != nil {
		return err
	}
	if err := src(r.Fragment); err != nil {
		return err
	}
	return r.Finish()
}

func (r *Relay) chunk(delta wire.Delta, finish *string) wire.ChatCompletionChunk {
	return wire.ChatCompletionChunk{
		ID:      r.id,
		Object:  wire.ObjectChunk,
		Created: r.created,
		Model:   r.model,
		Choices: []wire.ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}
