// Package testing provides concurrency test helpers.
//
// t.Fatal and t.FailNow must not be called from spawned goroutines: they
// run runtime.Goexit, which terminates the calling goroutine rather than
// the test. Helpers here collect goroutine failures and report them from
// the test goroutine instead.
package testing

import (
	"fmt"
	"sync"
	"testing"
)

// TestHelper collects errors from test goroutines and reports them once
// every goroutine has finished.
//
//	h := NewTestHelper(t)
//	for i := 0; i < n; i++ {
//		h.Add(1)
//		go func() {
//			defer h.Done()
//			if err := doWork(); err != nil {
//				h.Errorf("worker: %v", err)
//			}
//		}()
//	}
//	h.Wait()
type TestHelper struct {
	t      *testing.T
	wg     sync.WaitGroup
	errors chan error
}

// NewTestHelper creates a helper bound to t.
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{
		t:      t,
		errors: make(chan error, 100),
	}
}

// Add increments the goroutine counter.
func (h *TestHelper) Add(delta int) {
	h.wg.Add(delta)
}

// Done marks one goroutine finished.
func (h *TestHelper) Done() {
	h.wg.Done()
}

// Errorf records a failure. Safe from any goroutine; when the buffer is
// full the message is dropped but the test still fails.
func (h *TestHelper) Errorf(format string, args ...interface{}) {
	select {
	case h.errors <- fmt.Errorf(format, args...):
	default:
	}
}

// Error records a non-nil error.
func (h *TestHelper) Error(err error) {
	if err == nil {
		return
	}
	select {
	case h.errors <- err:
	default:
	}
}

// Wait blocks until every added goroutine is done and fails the test if
// any error was recorded.
func (h *TestHelper) Wait() {
	h.wg.Wait()
	close(h.errors)

	failed := false
	for err := range h.errors {
		h.t.Errorf("goroutine error: %v", err)
		failed = true
	}
	if failed {
		h.t.FailNow()
	}
}
