package scheduler

import "context"

// Command is one unit of cooperative work: a single yieldable command
// as named in spec §4.5. Run executes one step and must return at the
// next suspension point (lock wait, nested-session RPC, or exhausted
// work quantum) rather than blocking.
type Command interface {
	PacketID() int
	SessionID() int
	Priority() int
	Run(ctx context.Context)
	Stop()
}

// Dispatchable is the narrow view the scheduler needs of a Session; it
// lets pkg/sql.Session be scheduled without pkg/scheduler importing
// pkg/sql.
type Dispatchable interface {
	SessionID() int
	Status() SessionStatus
	YieldableCommand() Command
	// IsInReplicationMode reports whether the session is presently
	// running a replication retry flow, in which case the transaction
	// timeout check is skipped (spec §4.5 step 2) and more than one
	// piece of work may be in flight concurrently (spec §4.5 scheduling
	// model).
	IsInReplicationMode() bool
	// CheckTransactionTimeout is invoked only for a WAITING session
	// with checkTimeout set and not in replication mode. If the
	// transaction has timed out it rolls the transaction back and
	// returns the resulting error with timedOut=true.
	CheckTransactionTimeout() (timedOut bool, err error)
}

// TimeoutListener observes a WAITING session timing out (spec §4.5).
type TimeoutListener interface {
	OnTimeout(sessionID int, err error)
}

// GetYieldableCommand is the dispatch gate described in spec §4.5:
//  1. no pending command -> nil
//  2. WAITING / TRANSACTION_COMMITTING / EXCLUSIVE_MODE / STATEMENT_RUNNING -> nil,
//     with a timeout check performed for WAITING when applicable
//  3. otherwise -> the pending command
func GetYieldableCommand(s Dispatchable, checkTimeout bool, timeoutListener TimeoutListener) Command {
	cmd := s.YieldableCommand()
	if cmd == nil {
		return nil
	}

	status := s.Status()
	if status == StatusWaiting && checkTimeout && !s.IsInReplicationMode() {
		if timedOut, err := s.CheckTransactionTimeout(); timedOut {
			if timeoutListener != nil {
				timeoutListener.OnTimeout(s.SessionID(), err)
			}
		}
	}

	if status.notDispatchable() {
		return nil
	}
	return cmd
}
