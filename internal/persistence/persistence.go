// Package persistence defines the facade the dispatcher uses to select and
// update resources. Concrete backends — memstore for tests and small
// deployments, gormstore for SQLite/Postgres — implement Store.
package persistence

import (
	"context"
	"errors"
)

// Status is one of the symbolic resource states the coordinator knows about.
// A backend may track additional states opaque to the core.
type Status string

const (
	Available  Status = "AVAILABLE"
	InProgress Status = "INPROGRESS"
	Succeeded  Status = "SUCCEEDED"
)

// ErrBackend wraps any error a Store implementation raises so callers can
// distinguish a backend failure from a protocol-level condition.
var ErrBackend = errors.New("persistence: backend error")

// Candidate is what SelectResource hands back for the resource it chose.
type Candidate struct {
	ID           string
	ResponseCode string
	Annotation   string
}

// Store is the persistence facade consumed by the dispatcher.
//
// SelectResource must be safe to call from one goroutine at a time; the
// dispatcher serializes calls to it (and the immediate follow-up
// UpdateResource marking the result INPROGRESS) with a dedicated selection
// lock, so implementations need not add their own external locking for that
// purpose alone.
type Store interface {
	// SelectResource returns the next candidate for checkout, or ok=false if
	// no more work will ever be available.
	SelectResource(ctx context.Context) (cand Candidate, ok bool, err error)

	// UpdateResource is idempotent with respect to redundant writes of the
	// same values.
	UpdateResource(ctx context.Context, id string, status Status, responseCode, annotation, clientName string) error

	// TotalResourcesCount and ResourcesCollectedCount feed the status report.
	TotalResourcesCount(ctx context.Context) (int64, error)
	ResourcesCollectedCount(ctx context.Context) (int64, error)
}
