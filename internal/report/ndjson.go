// Package report delivers monitor events to their consumers: a newline
// delimited JSON stream and, optionally, a message broker.
package report

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/umarmf343/rankbeam/internal/monitor"
)

// NDJSONSink writes one JSON document per line.
type NDJSONSink struct {
	mu      sync.Mutex
	enc     *json.Encoder
	flusher http.Flusher
}

// NewNDJSON returns a sink writing to w. Writers that implement http.Flusher
// are flushed after every line so clients see records as they resolve.
func NewNDJSON(w io.Writer) *NDJSONSink {
	s := &NDJSONSink{enc: json.NewEncoder(w)}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	return s
}

// Publish implements monitor.Sink.
func (s *NDJSONSink) Publish(ctx context.Context, ev monitor.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(ev); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
