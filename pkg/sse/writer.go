package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ErrClosed is returned for writes after a terminal event
var ErrClosed = errors.New("sse: stream already terminated")

// Writer frames payloads as event-stream blocks and flushes after each one.
// It refuses writes once a complete or error event has been sent.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool
}

// NewWriter wraps w. When w is an http.Flusher every block is flushed immediately.
func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// SetHeaders sets the response headers for an event stream
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Start sends the start event
func (w *Writer) Start() error {
	return w.Send(EventStart, Payload{Type: TypeStart})
}

// Delta sends one incremental fragment
func (w *Writer) Delta(content string) error {
	return w.Send(EventMessage, Payload{Type: TypeDelta, Content: content})
}

// Complete sends the terminal complete event
func (w *Writer) Complete(full string) error {
	return w.Send(EventComplete, Payload{Type: TypeComplete, FullContent: full})
}

// Error sends the terminal error event
func (w *Writer) Error(message string) error {
	return w.Send(EventError, Payload{Type: TypeError, Message: message})
}

// Closed reports whether a terminal event was written
func (w *Writer) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Send writes one block. Terminal payload types close the writer.
func (w *Writer) Send(event string, p Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("sse: marshal payload: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	if IsTerminal(p.Type) {
		w.closed = true
	}

	if _, err := fmt.Fprintf(w.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
