package runtime

import "sync"

// RunParallel executes every model with non-empty queued work concurrently,
// one goroutine per model, and waits for all of them. It trades the
// fairness and timing guarantees of Run/RunFor for throughput: there is no
// ticket rotation here, and a caller mixing RunParallel with RunFor should
// expect the budget-vs-wall-clock race that implies — a model that would
// have been deferred under RunFor's accounting still runs to completion
// here.
//
// Errors from individual models are collected; RunParallel returns the
// first one encountered in models-list order, discarding partial results,
// consistent with the sequential path's fail-fast choice.
func (r *Runtime) RunParallel() (Results, error) {
	var wg sync.WaitGroup
	errs := make([]error, len(r.models))
	results := make(Results)
	var mu sync.Mutex

	for i, m := range r.models {
		if m.batch.IsEmpty() {
			continue
		}
		i, m := i, m
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, _, err := r.execute(m)
			if err != nil {
				errs[i] = err
				return
			}
			mu.Lock()
			results[m.id] = resp
			mu.Unlock()
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
