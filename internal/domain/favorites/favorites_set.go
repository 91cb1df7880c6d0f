package favorites

import (
	"slices"
	"sync"
)

// Set is the session's set of favourite place IDs. It is independent of the
// hierarchy: toggling a favourite never rebuilds or patches it.
type Set struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewSet(ids ...string) *Set {
	s := &Set{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

func (s *Set) Contains(placeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[placeID]
	return ok
}

func (s *Set) Add(placeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[placeID] = struct{}{}
}

func (s *Set) Remove(placeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, placeID)
}

// Toggle flips membership of placeID and reports whether it is now a
// favourite.
func (s *Set) Toggle(placeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[placeID]; ok {
		delete(s.ids, placeID)
		return false
	}
	s.ids[placeID] = struct{}{}
	return true
}

// Replace swaps the whole membership, e.g. after loading from the store.
func (s *Set) Replace(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	s.mu.Lock()
	s.ids = next
	s.mu.Unlock()
}

// IDs returns the members in sorted order.
func (s *Set) IDs() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	s.mu.RUnlock()
	slices.Sort(out)
	return out
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}
