// Package state holds the authoritative per-area intensity snapshot.
package state

import (
	"sort"
	"sync"

	"github.com/couchcryptid/quake-relay/internal/domain"
)

// Store keeps exactly one AreaStatus per monitored area. The set of areas is
// fixed at construction. Writes come from the reconciler only; reads may come
// from any goroutine.
type Store struct {
	mu    sync.RWMutex
	areas map[int]domain.AreaStatus
	codes []int
}

// NewStore creates a store with a zeroed status for every area. Duplicate
// codes keep the first name.
func NewStore(areas []domain.MonitoredArea) *Store {
	s := &Store{areas: make(map[int]domain.AreaStatus, len(areas))}
	for _, a := range areas {
		if _, ok := s.areas[a.Code]; ok {
			continue
		}
		s.areas[a.Code] = domain.NewAreaStatus(a)
		s.codes = append(s.codes, a.Code)
	}
	sort.Ints(s.codes)
	return s
}

// Has reports whether code is a monitored area.
func (s *Store) Has(code int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.areas[code]
	return ok
}

// Get returns the status for code.
func (s *Store) Get(code int) (domain.AreaStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.areas[code]
	if !ok {
		return domain.AreaStatus{}, false
	}
	return copyStatus(st), true
}

// Put replaces the status for an existing area. Unknown codes are ignored so
// the area set never grows.
func (s *Store) Put(status domain.AreaStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.areas[status.Code]; !ok {
		return false
	}
	s.areas[status.Code] = copyStatus(status)
	return true
}

// Snapshot returns a copy of every area status keyed by code.
func (s *Store) Snapshot() map[int]domain.AreaStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]domain.AreaStatus, len(s.areas))
	for code, st := range s.areas {
		out[code] = copyStatus(st)
	}
	return out
}

// Codes returns the monitored area codes in ascending order.
func (s *Store) Codes() []int {
	return append([]int(nil), s.codes...)
}

// Len returns the number of monitored areas.
func (s *Store) Len() int {
	return len(s.codes)
}

func copyStatus(st domain.AreaStatus) domain.AreaStatus {
	if st.LastUpdate != nil {
		t := *st.LastUpdate
		st.LastUpdate = &t
	}
	return st
}
