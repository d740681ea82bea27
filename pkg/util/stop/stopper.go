// Package stop provides a minimal cooperative-shutdown primitive, grounded
// on the *stop.Stopper references threaded through the teacher's storage
// and concurrency packages (e.g. concurrency.Store.Stopper() in
// pkg/storage/concurrency/concurrency_manager.go) — every long-running
// background loop in this core (the lock-timeout sweeper, the scheduler's
// handlers) takes a *Stopper instead of a bare context so shutdown order
// is explicit and goroutines can be waited on.
package stop

import "sync"

// Stopper coordinates shutdown of a set of background goroutines.
type Stopper struct {
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewStopper constructs a ready-to-use Stopper.
func NewStopper() *Stopper {
	return &Stopper{quit: make(chan struct{})}
}

// ShouldQuiesce returns a channel that is closed once Stop has been called.
func (s *Stopper) ShouldQuiesce() <-chan struct{} {
	return s.quit
}

// RunWorker runs fn in a new goroutine tracked by the Stopper; Stop waits
// for it to return.
func (s *Stopper) RunWorker(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Stop signals ShouldQuiesce and blocks until every RunWorker goroutine
// has returned.
func (s *Stopper) Stop() {
	s.once.Do(func() { close(s.quit) })
	s.wg.Wait()
}
