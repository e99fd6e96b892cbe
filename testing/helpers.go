// Package testing provides test utilities for datacollector-based
// applications: a result recorder for handler assertions, a parallel
// emission driver, and condition polling helpers.
//
// Example usage:
//
//	rec := testing.NewRecorder[User]()
//	collector := datacollector.NewSingleUse(ctx, shape, rec.Handler())
//	collector.Emit("name", "Ada")
//	collector.Emit("age", 30)
//	if !rec.Wait(1, time.Second) {
//		t.Fatal("no result within deadline")
//	}
package testing

import (
	"sync"
	"testing"
	"time"

	datacollector "github.com/Nodrex/DataCollector"
)

// Recorder captures every handler invocation for later assertions.
type Recorder[T any] struct {
	updated chan struct{}
	results []T
	errs    []error
	mu      sync.Mutex
}

// NewRecorder creates a recorder for collection results of type T.
func NewRecorder[T any]() *Recorder[T] {
	return &Recorder[T]{
		updated: make(chan struct{}, 1),
	}
}

// Handler returns the handler to pass to the collector under test.
func (r *Recorder[T]) Handler() datacollector.Handler[T] {
	return func(result T, err error) {
		r.mu.Lock()
		if err != nil {
			r.errs = append(r.errs, err)
		} else {
			r.results = append(r.results, result)
		}
		r.mu.Unlock()

		select {
		case r.updated <- struct{}{}:
		default:
		}
	}
}

// Results returns a copy of the successful results recorded so far.
func (r *Recorder[T]) Results() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.results))
	copy(out, r.results)
	return out
}

// Errors returns a copy of the errors recorded so far.
func (r *Recorder[T]) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.errs))
	copy(out, r.errs)
	return out
}

// Calls returns the total number of handler invocations.
func (r *Recorder[T]) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results) + len(r.errs)
}

// Wait blocks until the recorder has seen at least n handler invocations
// or the timeout elapses. Returns whether the count was reached.
func (r *Recorder[T]) Wait(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if r.Calls() >= n {
			return true
		}
		select {
		case <-r.updated:
		case <-deadline.C:
			return r.Calls() >= n
		}
	}
}

// ParallelTest runs a test function in parallel with multiple goroutines.
func ParallelTest(t *testing.T, goroutines int, testFunc func(id int)) {
	t.Helper()

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			testFunc(id)
		}(i)
	}

	wg.Wait()
}

// WaitForCondition waits for a condition to be true with a timeout.
func WaitForCondition(timeout time.Duration, condition func() bool) bool {
	start := time.Now()
	for time.Since(start) < timeout {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}
