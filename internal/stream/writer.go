package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// doneMarker terminates every successful stream.
const doneMarker = "[DONE]"

// Writer frames values as server-sent events and flushes after each one.
type Writer struct {
	w     io.Writer
	flush func()
}

// NewWriter prepares an HTTP response for SSE.
func NewWriter(w http.ResponseWriter) *Writer {
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")

	var flushFn func()
	if f, ok := w.(http.Flusher); ok {
		flushFn = f.Flush
	}
	return &Writer{w: w, flush: flushFn}
}

// NewPlainWriter writes frames to any writer, e.g. a buffer in tests.
func NewPlainWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Send writes one "data: <json>" event.
func (s *Writer) Send(v any) error {
	if s == nil {
		return errors.New("stream: writer is nil")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("stream: encode frame: %w", err)
	}
	return s.write(payload)
}

// Done writes the literal end-of-stream marker.
func (s *Writer) Done() error {
	if s == nil {
		return errors.New("stream: writer is nil")
	}
	return s.write([]byte(doneMarker))
}

func (s *Writer) write(data []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	if s.flush != nil {
		s.flush()
	}
	return nil
}
