package builtin

import (
	"context"
	"strings"
)

// WordCount is a parallel filter that reports the number of whitespace
// separated words in the annotation. Parallel filters receive a nil
// upstream and produce their own independent data map.
type WordCount struct{}

// Name returns the filter's name as it appears in a GIVE_ID filters list.
func (WordCount) Name() string { return "wordcount" }

// Apply counts words in annotation, ignoring resourceID/responseCode/upstream.
func (WordCount) Apply(_ context.Context, _, _, annotation string, _ map[string]any) (map[string]any, error) {
	n := 0
	if strings.TrimSpace(annotation) != "" {
		n = len(strings.Fields(annotation))
	}
	return map[string]any{"words": n}, nil
}
