// Package filters defines the transform facade consumed by the filter
// pipeline, and its pipeline implementation. Concrete filters are
// pluggable and injected at construction — the core only depends on the
// Filter interface.
package filters

import "context"

// Filter is a named transform applied to a dispatched resource. Parallel
// filters receive upstream == nil; sequential filters receive the data
// produced by the previous stage (or an empty map for the first). Filters
// must be safe to instantiate per connection. A coordinator's Pipeline is
// shared by every connection, so Apply may be called concurrently on the
// same filter value from different connections.
type Filter interface {
	Name() string
	Apply(ctx context.Context, resourceID, responseCode, annotation string, upstream map[string]any) (map[string]any, error)
}

// Pipeline is the configured set of filters for one coordinator. Parallel
// entries run independently of each other and of the sequential chain;
// Sequential entries run strictly in the given order.
type Pipeline struct {
	Parallel   []Filter
	Sequential []Filter
}
