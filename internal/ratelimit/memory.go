package ratelimit

import (
	"context"
	"sync"
	"time"
)

// pruneThreshold is the map size above which expired windows are swept
// during an increment.
const pruneThreshold = 10000

// MemoryStore keeps windows in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*Window
	ttl     map[string]time.Duration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*Window),
		ttl:     make(map[string]time.Duration),
	}
}

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration, now time.Time) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.windows) > pruneThreshold {
		s.prune(now)
	}

	w, ok := s.windows[key]
	if !ok || now.Sub(w.Start) >= window {
		// Expired windows are replaced, never decayed.
		w = &Window{Start: now}
		s.windows[key] = w
		s.ttl[key] = window
	}
	w.Count++
	return *w, nil
}

// Len returns the number of tracked windows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func (s *MemoryStore) prune(now time.Time) {
	for key, w := range s.windows {
		if now.Sub(w.Start) >= s.ttl[key] {
			delete(s.windows, key)
			delete(s.ttl, key)
		}
	}
}
