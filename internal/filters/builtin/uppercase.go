// Package builtin ships two reference filters that exercise the pipeline:
// Uppercase (sequential) and WordCount (parallel). Filters are pluggable,
// so neither is part of the dispatch core itself; campsd wires both into
// its pipeline. Neither has tests of its own.
package builtin

import (
	"context"
	"strings"
)

// Uppercase is a sequential filter that stores the upper-cased resource id,
// response code and annotation under "text", carrying forward every other
// key of the upstream data (an upstream "text" is replaced), so it can be
// chained after another sequential filter.
type Uppercase struct{}

// Name returns the filter's name as it appears in a GIVE_ID filters list.
func (Uppercase) Name() string { return "uppercase" }

// Apply upper-cases resourceID, responseCode and annotation, merging the
// result into a copy of upstream.
func (Uppercase) Apply(_ context.Context, resourceID, responseCode, annotation string, upstream map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(upstream)+1)
	for k, v := range upstream {
		out[k] = v
	}
	out["text"] = strings.ToUpper(resourceID + " " + responseCode + " " + annotation)
	return out, nil
}
