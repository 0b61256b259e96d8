package sinks

import (
	"context"
	"sync"

	"github.com/shopharvest/crawler/internal/engine"
)

// MemorySink captures events and reports for tests and local runs.
type MemorySink struct {
	mu       sync.Mutex
	attempts []engine.AttemptEvent
	reports  []engine.RunReport
}

// NewMemorySink returns an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Attempt records the event.
func (s *MemorySink) Attempt(_ context.Context, evt engine.AttemptEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, evt)
	return nil
}

// Report records the report.
func (s *MemorySink) Report(_ context.Context, rep engine.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, rep)
	return nil
}

// Close implements the sink interface; it performs no action.
func (s *MemorySink) Close(context.Context) error {
	return nil
}

// Attempts returns a copy of the captured events.
func (s *MemorySink) Attempts() []engine.AttemptEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.AttemptEvent, len(s.attempts))
	copy(out, s.attempts)
	return out
}

// Reports returns a copy of the captured reports.
func (s *MemorySink) Reports() []engine.RunReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.RunReport, len(s.reports))
	copy(out, s.reports)
	return out
}
