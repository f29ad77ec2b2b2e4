// Package memstore is an in-memory persistence.Store, the default backend
// for tests and trivial deployments that do not need a real database.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/raphaottoni/camps-dct/internal/persistence"
)

type record struct {
	status       persistence.Status
	responseCode string
	annotation   string
}

// Store is a goroutine-safe in-memory persistence.Store.
type Store struct {
	mu        sync.Mutex
	resources map[string]*record
	collected int64
}

// New returns an empty Store. Use Add to load resources.
func New() *Store {
	return &Store{resources: make(map[string]*record)}
}

// Add registers a new resource in the AVAILABLE state. Intended for tests
// and the seed command — not part of the Store interface.
func (s *Store) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[id] = &record{status: persistence.Available}
}

// SelectResource returns the AVAILABLE resource with the lexicographically
// smallest id.
func (s *Store) SelectResource(_ context.Context) (persistence.Candidate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Deterministic iteration order keeps tests reproducible even though the
	// spec does not require it.
	ids := make([]string, 0, len(s.resources))
	for id := range s.resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec := s.resources[id]
		if rec.status == persistence.Available {
			return persistence.Candidate{ID: id, ResponseCode: rec.responseCode, Annotation: rec.annotation}, true, nil
		}
	}
	return persistence.Candidate{}, false, nil
}

// UpdateResource is idempotent: writing the same status/response/annotation
// twice is a no-op beyond the second write succeeding.
func (s *Store) UpdateResource(_ context.Context, id string, status persistence.Status, responseCode, annotation, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.resources[id]
	if !ok {
		rec = &record{}
		s.resources[id] = rec
	}
	wasSucceeded := rec.status == persistence.Succeeded
	rec.status = status
	rec.responseCode = responseCode
	rec.annotation = annotation

	if status == persistence.Succeeded && !wasSucceeded {
		s.collected++
	}
	return nil
}

// TotalResourcesCount returns the number of resources ever added.
func (s *Store) TotalResourcesCount(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.resources)), nil
}

// ResourcesCollectedCount returns how many times a resource moved into
// SUCCEEDED. The count is not decremented when a SUCCEEDED resource is later
// set to another status.
func (s *Store) ResourcesCollectedCount(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collected, nil
}
