package sql

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lealone-go/sessioncore/pkg/concurrency"
	"github.com/lealone-go/sessioncore/pkg/kv"
	"github.com/lealone-go/sessioncore/pkg/scheduler"
	"github.com/lealone-go/sessioncore/pkg/util/errcode"
	"github.com/lealone-go/sessioncore/pkg/util/log"
	"github.com/lealone-go/sessioncore/pkg/util/timeutil"
)

// transaction returns the session's current transaction, lazily
// creating it and transitioning status to TRANSACTION_NOT_COMMIT (spec
// §4.2 Begin).
func (s *Session) transaction(ctx context.Context) *kv.Transaction {
	if txn := s.coordinator.Current(); txn != nil {
		return txn
	}
	txn := s.coordinator.Begin(s.autoCommit, s.isolation)
	s.applyEvent(ctx, eventBegin, scheduler.StatusTransactionNotCommit)
	return txn
}

// LockObject attempts to acquire the named object lock for this
// session without blocking. granted is true if the lock (or re-entrant
// ownership of it already held) was acquired at once; it is then
// recorded in the session's lock list. Otherwise the session is queued
// on the lock, its status moves to WAITING, and the listener later
// either records the granted lock or, once the session's lockTimeout
// elapses, rolls back the current statement and logs the
// errcode.LockTimeout error (spec §4.3).
func (s *Session) LockObject(ctx context.Context, objectID string) (granted bool) {
	lock := s.lockManager.GetOrCreate(objectID)
	listener := &sessionLockListener{session: s, ctx: ctx, lock: lock}
	if lock.TryLock(s, s.lockTimeoutMS, listener) {
		s.addLock(lock)
		return true
	}
	s.applyEvent(ctx, eventLockWait, scheduler.StatusWaiting)
	return false
}

func (s *Session) addLock(lock *concurrency.DbObjectLock) {
	s.mu.Lock()
	s.locks = append(s.locks, lockEntry{lock: lock})
	s.mu.Unlock()
}

// sessionLockListener adapts concurrency.Listener to a Session: a grant
// re-dispatches the session by restoring STATEMENT_RUNNING; a timeout
// rolls back the current statement.
type sessionLockListener struct {
	session *Session
	ctx     context.Context
	lock    *concurrency.DbObjectLock
}

func (l *sessionLockListener) OnGranted() {
	l.session.addLockFromWait(l.lock)
	l.session.applyEvent(l.ctx, eventLockGranted, scheduler.StatusStatementRunning)
}

func (l *sessionLockListener) OnTimeout(err error) {
	_ = l.session.RollbackCurrentCommand(l.ctx, nil)
	log.Warningf(l.ctx, "session %d: %v", l.session.id, err)
}

// addLockFromWait records a lock granted after the session queued for
// it in LockObject, so commit and rollback release it like any other
// held lock.
func (s *Session) addLockFromWait(lock *concurrency.DbObjectLock) { s.addLock(lock) }

// UnlockObjects releases every lock acquired at or after index idx
// (spec §4.1 rollbackCurrentCommand: "releases only the locks acquired
// at indices ≥ the per-statement starting index"), with succeeded
// controlling whether the release is a commit or a rollback.
func (s *Session) UnlockObjects(idx int, succeeded bool) {
	s.mu.Lock()
	if idx > len(s.locks) {
		idx = len(s.locks)
	}
	toRelease := s.locks[idx:]
	s.locks = s.locks[:idx]
	s.mu.Unlock()

	for _, e := range toRelease {
		e.lock.Unlock(s, succeeded, nil)
	}
}

// StartCurrentCommand records the current savepoint id and lock-index
// watermark for a new statement, and arms the query-timeout cancel
// deadline if queryTimeout > 0 (spec §4.1).
func (s *Session) StartCurrentCommand(ctx context.Context) {
	txn := s.transaction(ctx)
	s.mu.Lock()
	s.currentStatementSavepoint = txn.AddSavepoint("__stmt_start")
	s.currentStatementLockIndex = len(s.locks)
	if s.queryTimeoutMS > 0 {
		s.cancelAt = timeutil.Now().Add(time.Duration(s.queryTimeoutMS) * time.Millisecond)
	}
	s.mu.Unlock()

	s.applyEvent(ctx, eventStatementStart, scheduler.StatusStatementRunning)
}

// StopCurrentCommand closes the current statement, flushes temporary
// results, and dispatches the result according to the session's commit
// mode (spec §4.1).
func (s *Session) StopCurrentCommand(ctx context.Context, onResult func(error), result error) {
	if err := s.resources.FlushTemporaryResults(); err != nil {
		log.Warningf(ctx, "session %d: error flushing temporary results: %v", s.id, err)
	}

	s.mu.Lock()
	retrying := s.status == scheduler.StatusRetrying
	auto := s.autoCommit
	replicated := s.inReplication
	s.mu.Unlock()

	if retrying {
		// Suppress the callback; commit silently if auto-commit.
		s.applyEvent(ctx, eventRetryResolved, scheduler.StatusStatementCompleted)
		if auto {
			_ = s.Commit(ctx, "")
		}
		return
	}

	s.applyEvent(ctx, eventStatementComplete, scheduler.StatusStatementCompleted)

	switch {
	case auto && !replicated:
		s.AsyncCommit(ctx, func(err error) {
			if onResult != nil {
				if err == nil {
					err = result
				}
				onResult(err)
			}
		})
	default:
		if onResult != nil {
			onResult(result)
		}
	}
}

// RollbackCurrentCommand rolls the transaction back to the savepoint
// taken at StartCurrentCommand and releases only the locks acquired
// since then; locks from earlier statements in the same transaction are
// preserved (spec §4.1). newOwner, if non-nil, transfers the released
// locks' ownership atomically instead of handing them to the head of
// each lock's wait queue, used by ReplicationResolver's DB_OBJECT_LOCK
// resolution (spec §4.3, §4.4).
func (s *Session) RollbackCurrentCommand(ctx context.Context, newOwner concurrency.Holder) error {
	s.mu.Lock()
	savepoint := s.currentStatementSavepoint
	idx := s.currentStatementLockIndex
	s.mu.Unlock()

	txn := s.coordinator.Current()
	if txn != nil {
		if err := txn.RollbackTo(ctx, savepoint); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if idx > len(s.locks) {
		idx = len(s.locks)
	}
	toRelease := s.locks[idx:]
	s.locks = s.locks[:idx]
	s.mu.Unlock()

	for _, e := range toRelease {
		e.lock.Unlock(s, false, newOwner)
	}
	return nil
}

// checkCommitAllowed enforces spec §4.2's failure semantics:
// COMMIT_ROLLBACK_NOT_ALLOWED when the commit-disabled flag is set and
// locks are held.
func (s *Session) checkCommitAllowed() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitDisabled && len(s.locks) > 0 {
		return errcode.Newf(errcode.CommitRollbackNotAllowed, "session %d: commit/rollback disabled while locks are held", s.id)
	}
	return nil
}

// SetCommitDisabled toggles the "commit disabled" flag used to protect
// nested statements (spec §4.2).
func (s *Session) SetCommitDisabled(disabled bool) {
	s.mu.Lock()
	s.commitDisabled = disabled
	s.mu.Unlock()
}

// AddSavepoint delegates to the current transaction (spec §4.1).
func (s *Session) AddSavepoint(ctx context.Context, name string) error {
	if err := s.checkCommitAllowed(); err != nil {
		return err
	}
	txn := s.transaction(ctx)
	txn.AddSavepoint(name)
	return nil
}

// RollbackToSavepoint delegates to the current transaction (spec §4.1).
func (s *Session) RollbackToSavepoint(ctx context.Context, name string) error {
	if err := s.checkCommitAllowed(); err != nil {
		return err
	}
	return s.coordinator.RollbackToSavepoint(ctx, name)
}

// RollbackTo delegates to the current transaction's RollbackTo.
func (s *Session) RollbackTo(ctx context.Context, savepointIndex int) error {
	if err := s.checkCommitAllowed(); err != nil {
		return err
	}
	txn := s.coordinator.Current()
	if txn == nil {
		return nil
	}
	return txn.RollbackTo(ctx, savepointIndex)
}

// Commit commits the current transaction. The kv coordinator builds the
// distributed global transaction name from the participant list for
// every session, root or not; globalTxName is accepted to match
// commit(globalTxName?) and is not used.
func (s *Session) Commit(ctx context.Context, globalTxName string) error {
	if err := s.checkCommitAllowed(); err != nil {
		return err
	}
	s.setStatus(ctx, scheduler.StatusTransactionCommitting)
	if err := s.coordinator.Commit(ctx); err != nil {
		s.setStatus(ctx, scheduler.StatusTransactionNotCommit)
		return err
	}
	return s.commitFinal(ctx)
}

// commitFinal runs the post-commit phase (spec §4.2 Commit (local)):
// end-transaction, clean temp tables unless the last statement was DDL,
// unlink LOBs after the log flush, release all locks, clear the
// yieldable-command slot, set status to TRANSACTION_NOT_START.
func (s *Session) commitFinal(ctx context.Context) error {
	var errs error

	s.resources.OnCommit(
		func(name string) { /* storage-layer drop is an external collaborator, spec §1 */ },
		func(name string) { /* storage-layer truncate is an external collaborator, spec §1 */ },
	)

	if err := s.resources.FlushLOBUnlinkSet(); err != nil {
		errs = errors.CombineErrors(errs, err)
	}

	s.UnlockObjects(0, true)
	s.ClearYieldableCommand()
	s.setStatus(ctx, scheduler.StatusTransactionNotStart)
	return errs
}

// AsyncCommit commits without blocking the caller, invoking onDone with
// the result (spec §4.1 "auto-commit, non-replicated, async").
func (s *Session) AsyncCommit(ctx context.Context, onDone func(error)) {
	if err := s.checkCommitAllowed(); err != nil {
		if onDone != nil {
			onDone(err)
		}
		return
	}
	s.setStatus(ctx, scheduler.StatusTransactionCommitting)
	s.coordinator.AsyncCommit(ctx, func(err error) {
		if err == nil {
			err = s.commitFinal(ctx)
		} else {
			s.setStatus(ctx, scheduler.StatusTransactionNotCommit)
		}
		if onDone != nil {
			onDone(err)
		}
	})
}

// Rollback aborts the current transaction. If the last statement was a
// database-level statement or DDL, the caller is responsible for
// restoring the relevant catalog via a copy() snapshot (spec §4.2 —
// that restore is performed by the storage/catalog collaborator, out of
// scope for this core); this method always releases locks with
// succeeded=false.
func (s *Session) Rollback(ctx context.Context) error {
	if err := s.checkCommitAllowed(); err != nil {
		return err
	}
	if err := s.coordinator.Rollback(ctx); err != nil {
		return err
	}
	s.UnlockObjects(0, false)
	s.ClearYieldableCommand()
	s.setStatus(ctx, scheduler.StatusTransactionNotStart)
	return nil
}

// CheckTransactionTimeout implements scheduler.Dispatchable. No
// transaction-level timer is modeled, so it always reports no timeout
// and never rolls back; waits on object locks time out through the lock
// sweeper instead.
func (s *Session) CheckTransactionTimeout() (bool, error) {
	// Lock-level timeouts are detected by concurrency.DbObjectLock's own
	// sweeper (pkg/concurrency), which calls sessionLockListener.OnTimeout
	// directly; this hook exists to satisfy scheduler.Dispatchable for a
	// transaction-level timeout check distinct from lock wait (spec
	// §4.2 "Transaction timeout is checked cooperatively..."). No
	// additional timer is modeled here beyond the lock wait itself.
	return false, nil
}

// AddParticipant registers a remote nested session in the current
// transaction's participant list (spec §4.2 distributed commit).
func (s *Session) AddParticipant(ctx context.Context, hostPort string, nested *Session) {
	txn := s.transaction(ctx)
	txn.AddParticipant(&remoteParticipant{hostPort: hostPort, session: nested})
	s.mu.Lock()
	s.nestedSessions[hostPort] = nested
	s.mu.Unlock()
}

// remoteParticipant adapts a nested *Session to kv.Participant. Actual
// network transport to the peer is out of scope for this core (spec §1);
// in this single-process core the nested Session's own commit-phase
// methods stand in for the RPC that would otherwise carry Prepare/
// Finalize/Rollback to a remote node.
type remoteParticipant struct {
	hostPort string
	session  *Session
}

func (p *remoteParticipant) HostPort() string { return p.hostPort }

func (p *remoteParticipant) Prepare(ctx context.Context) error {
	txn := p.session.coordinator.Current()
	if txn == nil {
		return nil
	}
	p.session.setStatus(ctx, scheduler.StatusTransactionCommitting)
	return nil
}

func (p *remoteParticipant) Finalize(ctx context.Context, globalTransactionName string) error {
	return p.session.commitFinal(ctx)
}

func (p *remoteParticipant) Rollback(ctx context.Context) error {
	return p.session.Rollback(ctx)
}
