// Package trace records analysis events for later inspection. Events
// cover turns, delegated calls, compression decisions, rot detections,
// and finalization. Recording is best-effort observability and never
// feeds back into the conversation itself.
package trace

import (
	"sync"
	"time"
)

// EventType classifies a recorded event.
type EventType string

const (
	EventTurn        EventType = "turn"
	EventDelegation  EventType = "delegation"
	EventCompression EventType = "compression"
	EventRot         EventType = "rot"
	EventFinalize    EventType = "finalize"
	EventError       EventType = "error"
)

// Event is a single recorded occurrence during a session.
type Event struct {
	ID        string
	SessionID string
	Type      EventType
	Turn      int
	Detail    string
	Tokens    int
	Duration  time.Duration
	Timestamp time.Time
}

// Stats summarizes recorded events.
type Stats struct {
	TotalEvents   int
	TotalTokens   int
	TotalDuration time.Duration
	EventsByType  map[EventType]int
}

// Recorder receives events from the engine.
type Recorder interface {
	Record(event Event) error
}

// MemoryRecorder keeps a bounded in-memory event log.
type MemoryRecorder struct {
	mu     sync.RWMutex
	events []Event
	stats  Stats
	maxLen int
}

// NewMemoryRecorder creates a recorder holding at most maxEvents events.
func NewMemoryRecorder(maxEvents int) *MemoryRecorder {
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &MemoryRecorder{
		events: make([]Event, 0, maxEvents),
		maxLen: maxEvents,
		stats: Stats{
			EventsByType: make(map[EventType]int),
		},
	}
}

// Record implements Recorder.
func (r *MemoryRecorder) Record(event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
	if len(r.events) > r.maxLen {
		r.events = r.events[len(r.events)-r.maxLen:]
	}

	r.stats.TotalEvents++
	r.stats.TotalTokens += event.Tokens
	r.stats.TotalDuration += event.Duration
	r.stats.EventsByType[event.Type]++

	return nil
}

// Events returns the most recent limit events in chronological order.
// A limit of zero or less returns all retained events.
func (r *MemoryRecorder) Events(limit int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.events) {
		limit = len(r.events)
	}

	start := len(r.events) - limit
	result := make([]Event, limit)
	copy(result, r.events[start:])
	return result
}

// EventsByType returns up to limit most recent events of the given type.
func (r *MemoryRecorder) EventsByType(eventType EventType, limit int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Event
	for i := len(r.events) - 1; i >= 0 && len(result) < limit; i-- {
		if r.events[i].Type == eventType {
			result = append(result, r.events[i])
		}
	}
	return result
}

// Clear discards all retained events and resets stats.
func (r *MemoryRecorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = r.events[:0]
	r.stats = Stats{
		EventsByType: make(map[EventType]int),
	}
}

// Stats returns a copy of the accumulated statistics.
func (r *MemoryRecorder) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statsCopy := Stats{
		TotalEvents:   r.stats.TotalEvents,
		TotalTokens:   r.stats.TotalTokens,
		TotalDuration: r.stats.TotalDuration,
		EventsByType:  make(map[EventType]int),
	}
	for k, v := range r.stats.EventsByType {
		statsCopy.EventsByType[k] = v
	}
	return statsCopy
}

var _ Recorder = (*MemoryRecorder)(nil)
