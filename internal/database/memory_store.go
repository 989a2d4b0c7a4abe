package database

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps audit events in process memory. Used when no database
// is configured and in tests.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string][]SessionEvent
	limit  int
}

// NewMemoryStore keeps at most limit events per session (0 = unlimited).
func NewMemoryStore(limit int) *MemoryStore {
	return &MemoryStore{
		events: make(map[string][]SessionEvent),
		limit:  limit,
	}
}

func (ms *MemoryStore) Record(_ context.Context, ev SessionEvent) error {
	if ev.SessionID == "" {
		return SessionIdEmptyError
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	events := append(ms.events[ev.SessionID], ev)
	if ms.limit > 0 && len(events) > ms.limit {
		events = events[len(events)-ms.limit:]
	}
	ms.events[ev.SessionID] = events
	return nil
}

func (ms *MemoryStore) History(_ context.Context, sessionID string) ([]SessionEvent, error) {
	if sessionID == "" {
		return nil, SessionIdEmptyError
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	events := make([]SessionEvent, len(ms.events[sessionID]))
	copy(events, ms.events[sessionID])
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].At.Before(events[j].At)
	})
	return events, nil
}
