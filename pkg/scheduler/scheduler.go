package scheduler

import (
	"context"
	"time"

	"github.com/petermattis/goid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lealone-go/sessioncore/pkg/util/log"
	"github.com/lealone-go/sessioncore/pkg/util/stop"
	"github.com/lealone-go/sessioncore/pkg/util/syncutil"
)

// Handler is one worker in the scheduler's pool (spec §4.5: "a pool of
// worker threads ... each owns a queue of sessions"). It repeatedly
// scans its assigned sessions, dispatching whichever have a runnable
// yieldable command.
type Handler struct {
	id int

	mu       syncutil.Mutex
	sessions map[int]Dispatchable

	ownerGoroutineID int64 // set once the handler's loop goroutine starts

	dispatched prometheus.Counter
	timeouts   prometheus.Counter
}

func newHandler(id int, dispatched, timeouts prometheus.Counter) *Handler {
	return &Handler{id: id, sessions: make(map[int]Dispatchable), dispatched: dispatched, timeouts: timeouts}
}

// Add registers a session with this handler.
func (h *Handler) Add(s Dispatchable) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.SessionID()] = s
}

// Remove unregisters a session, called on session close.
func (h *Handler) Remove(sessionID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
}

// AssertOwnsCurrentGoroutine terminates the process (log.Fatalf) if
// called from a goroutine other than the one running this handler's
// dispatch loop. A yieldable command's Run can call it to check the
// invariant that "its yieldable command is dispatched by at most one
// handler" (spec §5), the way the teacher's syncutil.Mutex.AssertHeld
// guards a similar single-owner invariant for locks. Nothing in this
// module calls it.
func (h *Handler) AssertOwnsCurrentGoroutine() {
	if owner := h.ownerGoroutineID; owner != 0 && owner != goid.Get() {
		log.Fatalf(context.Background(), "handler %d: yieldable command running on goroutine %d, expected owner %d", h.id, goid.Get(), owner)
	}
}

func (h *Handler) sessionsSnapshot() []Dispatchable {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Dispatchable, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// runOnce scans every registered session once, dispatching any that are
// ready, and returns whether at least one command ran (used to decide
// whether to sleep before the next scan).
func (h *Handler) runOnce(ctx context.Context, timeoutListener TimeoutListener) bool {
	ran := false
	for _, s := range h.sessionsSnapshot() {
		cmd := GetYieldableCommand(s, true, timeoutListener)
		if cmd == nil {
			continue
		}
		cmd.Run(ctx)
		if h.dispatched != nil {
			h.dispatched.Inc()
		}
		ran = true
	}
	return ran
}

// Scheduler is the YieldableScheduler component: a fixed pool of
// Handlers plus a LoadBalancer assigning newly-submitted sessions to the
// least-loaded one.
type Scheduler struct {
	handlers []*Handler
	balancer *LoadBalancer

	pollInterval time.Duration
}

// Config configures a Scheduler.
type Config struct {
	HandlerCount int
	PollInterval time.Duration
	Registerer   prometheus.Registerer
}

// New constructs a Scheduler with cfg.HandlerCount handlers, each
// polling its sessions every cfg.PollInterval.
func New(cfg Config) *Scheduler {
	if cfg.HandlerCount <= 0 {
		cfg.HandlerCount = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Millisecond
	}

	dispatched := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sessioncore", Subsystem: "scheduler", Name: "commands_dispatched_total",
		Help: "Total yieldable commands dispatched across all handlers.",
	})
	timeouts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sessioncore", Subsystem: "scheduler", Name: "transaction_timeouts_total",
		Help: "Total WAITING sessions whose transaction timed out while waiting for a lock.",
	})
	if cfg.Registerer != nil {
		cfg.Registerer.MustRegister(dispatched, timeouts)
	}

	s := &Scheduler{balancer: NewLoadBalancer(cfg.HandlerCount), pollInterval: cfg.PollInterval}
	for i := 0; i < cfg.HandlerCount; i++ {
		s.handlers = append(s.handlers, newHandler(i, dispatched, timeouts))
	}
	return s
}

// Submit assigns s to the least-loaded handler.
func (s *Scheduler) Submit(sess Dispatchable) {
	idx := s.balancer.Pick()
	s.handlers[idx].Add(sess)
}

// Remove unregisters sessionID from whichever handler it is
// currently assigned to.
func (s *Scheduler) Remove(sessionID int) {
	for i, h := range s.handlers {
		h.mu.Lock()
		_, assigned := h.sessions[sessionID]
		delete(h.sessions, sessionID)
		h.mu.Unlock()
		if assigned {
			s.balancer.Release(i)
		}
	}
}

// Run starts every handler's dispatch loop, tracked by stopper, until
// the stopper quiesces.
func (s *Scheduler) Run(stopper *stop.Stopper, timeoutListener TimeoutListener) {
	for _, h := range s.handlers {
		h := h
		stopper.RunWorker(func() {
			h.ownerGoroutineID = goid.Get()
			ticker := time.NewTicker(s.pollInterval)
			defer ticker.Stop()
			ctx := context.Background()
			for {
				select {
				case <-ticker.C:
					h.runOnce(ctx, timeoutListener)
				case <-stopper.ShouldQuiesce():
					return
				}
			}
		})
	}
}
