package registry

import "sync"

// IDAllocator hands out strictly increasing client-ids starting at 1. It
// never reuses a value, even after the client it named has been removed —
// the counter itself outlives any one Registry entry.
type IDAllocator struct {
	mu   sync.Mutex
	next int
}

// NewIDAllocator returns an allocator whose first Next() call returns 1.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{next: 1}
}

// Next performs the fetch-and-increment under the allocator's dedicated
// lock.
func (a *IDAllocator) Next() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.next
	a.next++
	return id
}
