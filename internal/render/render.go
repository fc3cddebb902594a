package render

import "poe-bridge/internal/events"

// Renderer emits events to an output target.
type Renderer interface {
	Emit(events.Event)
	Close() error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(events.Event) {}
func (Discard) Close() error      { return nil }
