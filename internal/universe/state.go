package universe

import (
	"sync"
	"time"
)

// State is the current selection. The universe refresh loop is its only
// writer; the order loop and status report read copies.
type State struct {
	mu        sync.RWMutex
	selected  []string
	pinned    []string
	updatedAt time.Time
}

func NewState(selected, pinned []string) *State {
	s := &State{}
	s.Set(selected, pinned, time.Now())
	return s
}

func (s *State) Set(selected, pinned []string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = append([]string(nil), selected...)
	s.pinned = intersect(pinned, selected)
	s.updatedAt = at
}

func (s *State) Selected() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.selected...)
}

// Pinned returns the selected instruments that hold a position.
func (s *State) Pinned() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.pinned...)
}

func (s *State) Contains(instrument string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inst := range s.selected {
		if inst == instrument {
			return true
		}
	}
	return false
}

func (s *State) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

func intersect(a, b []string) []string {
	in := make(map[string]struct{}, len(b))
	for _, item := range b {
		in[item] = struct{}{}
	}
	var out []string
	for _, item := range a {
		if _, ok := in[item]; ok {
			out = append(out, item)
		}
	}
	return out
}
