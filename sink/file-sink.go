package sink

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/quantpulse/go-venuefeed/domain"
	"github.com/quantpulse/go-venuefeed/helpers"
)

// FileSink appends NDJSON lines to one file, so restarts extend the log
// instead of truncating it.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

func NewFileSink(path string) (*FileSink, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, &domain.SinkError{Sink: "file", Err: fmt.Errorf("open %s: %w", path, err)}
	}
	return &FileSink{file: file}, nil
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Write(_ context.Context, ev domain.Event) error {
	line, err := helpers.MarshalLine(ev)
	if err != nil {
		return &domain.SinkError{Sink: s.Name(), Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(line); err != nil {
		return &domain.SinkError{Sink: s.Name(), Err: err}
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
