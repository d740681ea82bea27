package concurrency

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lealone-go/sessioncore/pkg/util/stop"
	"github.com/lealone-go/sessioncore/pkg/util/syncutil"
	"github.com/lealone-go/sessioncore/pkg/util/timeutil"
)

// Manager is the LockManager component (spec §4.3): a registry of
// DbObjectLock handles keyed by object identity, plus a background
// sweeper that evicts waiters who have exceeded their lock timeout.
type Manager struct {
	mu    syncutil.Mutex
	locks map[string]*DbObjectLock

	waitGaugeVec *prometheus.GaugeVec
}

// NewManager constructs an empty Manager. registerer may be nil in tests.
func NewManager(registerer prometheus.Registerer) *Manager {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sessioncore",
		Subsystem: "concurrency",
		Name:      "lock_wait_queue_depth",
		Help:      "Number of sessions waiting to acquire a given object lock.",
	}, []string{"object_id"})
	if registerer != nil {
		registerer.MustRegister(vec)
	}
	return &Manager{locks: make(map[string]*DbObjectLock), waitGaugeVec: vec}
}

// GetOrCreate returns the lock for objectID, creating it if this is the
// first reference.
func (m *Manager) GetOrCreate(objectID string) *DbObjectLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[objectID]; ok {
		return l
	}
	l := NewDbObjectLock(objectID, m.waitGaugeVec.WithLabelValues(objectID))
	m.locks[objectID] = l
	return l
}

// SweepTimeouts runs CheckTimeouts across every known lock. Callers drive
// this from a ticker; it is not self-scheduling so that tests can call it
// synchronously with a fake clock.
func (m *Manager) SweepTimeouts(now time.Time) {
	m.mu.Lock()
	locks := make([]*DbObjectLock, 0, len(m.locks))
	for _, l := range m.locks {
		locks = append(locks, l)
	}
	m.mu.Unlock()

	for _, l := range locks {
		l.CheckTimeouts(now)
	}
}

// RunSweeper starts a background goroutine, tracked by stopper, that
// calls SweepTimeouts on interval until the stopper quiesces.
func (m *Manager) RunSweeper(stopper *stop.Stopper, interval time.Duration) {
	stopper.RunWorker(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.SweepTimeouts(timeutil.Now())
			case <-stopper.ShouldQuiesce():
				return
			}
		}
	})
}
