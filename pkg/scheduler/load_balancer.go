package scheduler

import "github.com/lealone-go/sessioncore/pkg/util/syncutil"

// LoadBalancer assigns newly-submitted sessions to the least-loaded
// handler, grounded on the scheduling-model shape of spec §4.5's
// "pool of worker threads each owns a queue of sessions".
//
// This fixes the §9 Open Question bug in the original LoadBalanceFactory:
// there, the running minimum (minLoad) was captured once before the scan
// and never updated as smaller loads were found, so ties after the first
// handler were broken incorrectly. Pick updates minLoad on every strictly
// smaller load seen, so the handler with the true minimum is always
// chosen (see DESIGN.md's Open Question resolution).
type LoadBalancer struct {
	mu    syncutil.Mutex
	loads []int
}

// NewLoadBalancer constructs a balancer tracking handlerCount handlers,
// all starting at load zero.
func NewLoadBalancer(handlerCount int) *LoadBalancer {
	return &LoadBalancer{loads: make([]int, handlerCount)}
}

// Pick returns the index of the least-loaded handler and increments its
// tracked load.
func (b *LoadBalancer) Pick() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	minIdx := 0
	minLoad := b.loads[0]
	for i := 1; i < len(b.loads); i++ {
		if b.loads[i] < minLoad {
			minLoad = b.loads[i]
			minIdx = i
		}
	}
	b.loads[minIdx]++
	return minIdx
}

// Release decrements the tracked load for handler idx, called when a
// session is removed from its handler's queue (session close or
// re-balance).
func (b *LoadBalancer) Release(idx int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loads[idx] > 0 {
		b.loads[idx]--
	}
}

// Load returns the current tracked load of handler idx, for tests and
// metrics.
func (b *LoadBalancer) Load(idx int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads[idx]
}
