// ABOUTME: In-memory marker collection with monotonic identity assignment
// ABOUTME: Readers get copies; ReplaceAll swaps the whole slice under one lock

package markers

import (
	"fmt"
	"sync"
)

// Store is the authoritative marker collection. It is safe for concurrent use,
// but callers that also publish feed events must serialize mutations
// themselves so event order matches commit order.
type Store struct {
	mu      sync.RWMutex
	markers []Marker
	lastID  int
}

// NewStore creates an empty store whose first marker gets id 1.
func NewStore() *Store {
	return &Store{}
}

// Add validates and appends a marker, assigning the next id.
func (s *Store) Add(name string, coords Coordinates, link *string) (Marker, error) {
	m := Marker{Name: name, Coords: coords, Link: copyLink(link)}
	if err := m.Validate(); err != nil {
		return Marker{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastID++
	m.ID = s.lastID
	s.markers = append(s.markers, m)
	return m, nil
}

// Remove deletes the marker with the given id and returns it.
// The list is untouched when the id is unknown.
func (s *Store) Remove(id int) (Marker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.markers {
		if m.ID == id {
			s.deleteLocked(i)
			return m, nil
		}
	}
	return Marker{}, fmt.Errorf("removing marker %d: %w", id, ErrNotFound)
}

// RemoveAt deletes the marker at position index, but only if it still has
// expectedID. A mismatch or an out-of-range index yields ErrStaleSelection.
func (s *Store) RemoveAt(index, expectedID int) (Marker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.markers) || s.markers[index].ID != expectedID {
		return Marker{}, fmt.Errorf("removing position %d (marker %d): %w", index, expectedID, ErrStaleSelection)
	}
	m := s.markers[index]
	s.deleteLocked(index)
	return m, nil
}

// deleteLocked removes position i. Must be called with mu held.
// A fresh slice is built so snapshots handed out earlier stay intact.
func (s *Store) deleteLocked(i int) {
	next := make([]Marker, 0, len(s.markers)-1)
	next = append(next, s.markers[:i]...)
	next = append(next, s.markers[i+1:]...)
	s.markers = next
}

// Get returns the marker with the given id.
func (s *Store) Get(id int) (Marker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.markers {
		if m.ID == id {
			m.Link = copyLink(m.Link)
			return m, nil
		}
	}
	return Marker{}, fmt.Errorf("getting marker %d: %w", id, ErrNotFound)
}

// List returns a copy of all markers in insertion order.
func (s *Store) List() []Marker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Marker, len(s.markers))
	for i, m := range s.markers {
		m.Link = copyLink(m.Link)
		out[i] = m
	}
	return out
}

// Len returns the number of stored markers.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.markers)
}

// ReplaceAll swaps the whole collection. Every marker must be valid and have a
// unique positive id; on error the current collection is kept. The id counter
// never moves backwards.
func (s *Store) ReplaceAll(markers []Marker) error {
	next := make([]Marker, 0, len(markers))
	seen := make(map[int]struct{}, len(markers))
	maxID := 0
	for _, m := range markers {
		if m.ID <= 0 {
			return fmt.Errorf("%w: id must be positive, got %d", ErrInvalidMarker, m.ID)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("%w: duplicate id %d", ErrInvalidMarker, m.ID)
		}
		if err := m.Validate(); err != nil {
			return err
		}
		seen[m.ID] = struct{}{}
		maxID = max(maxID, m.ID)
		m.Link = copyLink(m.Link)
		next = append(next, m)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.markers = next
	s.lastID = max(s.lastID, maxID)
	return nil
}
