// Package filesink is the local durable append-only audit sink: it writes
// one JSON line per event to a file. It is gatekeepd's default audit sink
// (audit.sink "file" or unset). It can be set as audit.Config.Fallback,
// but gatekeepd configures no fallback sink.
package filesink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	gatekeep "github.com/jonwraymond/gatekeep"
)

// Sink appends newline-delimited JSON audit events to a file.
type Sink struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// Open opens (creating if necessary) path for append and returns a Sink.
func Open(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("filesink: open %s: %w", path, err)
	}
	return &Sink{f: f, w: bufio.NewWriter(f)}, nil
}

// WriteBatch appends each event as one JSON line, flushing once per batch.
func (s *Sink) WriteBatch(_ context.Context, events []gatekeep.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	enc := json.NewEncoder(s.w)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("filesink: encode event %s: %w", ev.ID, err)
		}
	}
	return s.w.Flush()
}

// Close flushes and closes the underlying file.
func (s *Sink) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.w.Flush(); err != nil {
		_ = s.f.Close()
		return fmt.Errorf("filesink: flush: %w", err)
	}
	return s.f.Close()
}
