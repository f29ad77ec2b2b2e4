package filters

import (
	"context"
	"fmt"
	"sync"

	"github.com/raphaottoni/camps-dct/internal/wire"
)

// Run executes one dispatch's worth of filters: one goroutine per parallel
// filter, concurrently with a sequential chain iterated in configured
// order, both appending to a single shared result list. Run returns once
// every parallel worker and the sequential chain have finished; a single
// filter error fails the whole dispatch, the same as a backend failure.
func Run(ctx context.Context, p Pipeline, resourceID, responseCode, annotation string) ([]wire.FilterResult, error) {
	var (
		mu      sync.Mutex
		results = make([]wire.FilterResult, 0, len(p.Parallel)+len(p.Sequential))
		firstErr error
	)

	recordErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	var wg sync.WaitGroup
	wg.Add(len(p.Parallel))
	for _, f := range p.Parallel {
		f := f
		go func() {
			defer wg.Done()
			data, err := f.Apply(ctx, resourceID, responseCode, annotation, nil)
			if err != nil {
				recordErr(fmt.Errorf("filter %s: %w", f.Name(), err))
				return
			}
			mu.Lock()
			results = append(results, wire.FilterResult{Filter: f.Name(), Order: nil, Data: data})
			mu.Unlock()
		}()
	}

	// The sequential chain runs concurrently with the parallel workers on
	// the calling goroutine — no extra goroutine is needed since it is
	// itself a single ordered sequence.
	upstream := map[string]any{}
	for i, f := range p.Sequential {
		data, err := f.Apply(ctx, resourceID, responseCode, annotation, copyData(upstream))
		if err != nil {
			recordErr(fmt.Errorf("filter %s: %w", f.Name(), err))
			break
		}
		order := i
		mu.Lock()
		results = append(results, wire.FilterResult{Filter: f.Name(), Order: &order, Data: data})
		mu.Unlock()
		upstream = data
	}

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// copyData returns a shallow copy so each sequential stage gets its own map
// to mutate without aliasing the previous stage's result.
func copyData(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
