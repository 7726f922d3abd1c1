package audit

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// StreamSink writes hash-chained JSONL to a stream such as stderr.
type StreamSink struct {
	mu    sync.Mutex
	w     io.Writer
	chain chain
}

// NewStreamSink starts a fresh chain on w.
func NewStreamSink(w io.Writer) *StreamSink {
	return &StreamSink{w: w, chain: newChain()}
}

func (s *StreamSink) Write(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, hash, err := s.chain.encode(e)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write stream: %w", err)
	}
	s.chain.prevHash = hash
	return nil
}

func (s *StreamSink) Kind() string { return "stream" }

func (s *StreamSink) Close() error { return nil }
