package sink

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/quantpulse/go-venuefeed/domain"
	"github.com/quantpulse/go-venuefeed/helpers"
)

// StdoutSink writes one JSON line per event. The mutex keeps lines whole
// when canonical and spread streams share the sink.
type StdoutSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewStdoutSink() *StdoutSink {
	return &StdoutSink{w: os.Stdout}
}

func (s *StdoutSink) Name() string { return "stdout" }

func (s *StdoutSink) Write(_ context.Context, ev domain.Event) error {
	line, err := helpers.MarshalLine(ev)
	if err != nil {
		return &domain.SinkError{Sink: s.Name(), Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		return &domain.SinkError{Sink: s.Name(), Err: err}
	}
	return nil
}

func (s *StdoutSink) Close() error { return nil }
