package sql

import (
	"context"

	"github.com/lealone-go/sessioncore/pkg/scheduler"
	"github.com/lealone-go/sessioncore/pkg/util/fsm"
	"github.com/lealone-go/sessioncore/pkg/util/log"
)

// Session status events, named per the transition table in spec §4.1.
// The table's "any -> commit begins -> TRANSACTION_COMMITTING" row and
// the WAITING-timeout row are not represented here: our fsm.Machine (see
// pkg/util/fsm's doc comment) only matches an exact (state, event) pair,
// not the teacher's reflection-based wildcard "any" pattern, so those
// two transitions are applied directly via setStatus instead of through
// the machine.
var (
	eventBegin               fsm.Event = "begin"
	eventStatementStart      fsm.Event = "statement_start"
	eventLockWait            fsm.Event = "lock_wait"
	eventStatementComplete   fsm.Event = "statement_complete"
	eventLockGranted         fsm.Event = "lock_granted"
	eventReplicationConflict fsm.Event = "replication_conflict"
	eventRetryResolved       fsm.Event = "retry_resolved"
)

func newStatusPattern() fsm.Pattern {
	return fsm.Pattern{
		scheduler.StatusTransactionNotStart: {
			eventBegin: {Next: scheduler.StatusTransactionNotCommit},
		},
		scheduler.StatusTransactionNotCommit: {
			eventStatementStart: {Next: scheduler.StatusStatementRunning},
		},
		scheduler.StatusStatementRunning: {
			eventLockWait:            {Next: scheduler.StatusWaiting},
			eventStatementComplete:   {Next: scheduler.StatusStatementCompleted},
			eventReplicationConflict: {Next: scheduler.StatusRetrying},
		},
		scheduler.StatusWaiting: {
			eventLockGranted: {Next: scheduler.StatusStatementRunning},
		},
		scheduler.StatusRetrying: {
			eventRetryResolved: {Next: scheduler.StatusStatementCompleted},
		},
	}
}

// applyEvent drives the session's status through the fsm.Machine for
// the table-defined transitions, falling back to a direct setStatus
// to onNoMatch (logged at a lower verbosity) when the pattern has no
// transition for the current status and event. The machine is created
// on first use and resynchronised with the session's status before
// every event, since setStatus can change the status directly.
func (s *Session) applyEvent(ctx context.Context, event fsm.Event, onNoMatch scheduler.SessionStatus) {
	s.mu.Lock()
	if s.machine == nil {
		s.machine = fsm.NewMachine(newStatusPattern(), s.status)
	} else {
		s.machine.ForceState(s.status)
	}
	machine := s.machine
	s.mu.Unlock()

	next, ok := machine.Apply(event)
	if !ok {
		log.VEventf(ctx, 3, "session %d: no status transition for event %q from %s, forcing %s", s.id, event, s.status, onNoMatch)
		s.setStatus(ctx, onNoMatch)
		return
	}
	s.setStatus(ctx, next.(scheduler.SessionStatus))
}
