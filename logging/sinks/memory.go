package sinks

import (
	"context"
	"sync"

	"squad-clash/core/logging"
)

// Memory retains events for inspection by tests and headless reports.
type Memory struct {
	mu     sync.RWMutex
	events []logging.Event
}

func NewMemory() *Memory {
	return &Memory{events: make([]logging.Event, 0)}
}

func (s *Memory) Write(event logging.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, logging.CloneEvent(event))
	return nil
}

// Publish lets the sink stand in for a publisher when no router is needed.
func (s *Memory) Publish(_ context.Context, event logging.Event) {
	_ = s.Write(event)
}

func (s *Memory) Events() []logging.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := make([]logging.Event, len(s.events))
	copy(copied, s.events)
	return copied
}

// Count reports how many events of the given type were recorded.
func (s *Memory) Count(eventType logging.EventType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, event := range s.events {
		if event.Type == eventType {
			count++
		}
	}
	return count
}

func (s *Memory) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = s.events[:0]
}

func (s *Memory) Close(context.Context) error {
	return nil
}
