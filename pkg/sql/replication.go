package sql

import (
	"context"

	"github.com/lealone-go/sessioncore/pkg/replication"
	"github.com/lealone-go/sessioncore/pkg/scheduler"
)

// AppendIndex is the external collaborator that owns synthetic row-key
// assignment for primary-key-less inserts (spec §3 "append index",
// §4.4 APPEND conflict resolution).
type AppendIndex interface {
	SetMaxKey(maxKey int64)
	PublishKeyAssignment(startKeys map[string]int64)
}

// ReplicationName returns the session's current replication name, if
// under a replicated write.
func (s *Session) ReplicationName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replicationName
}

// SetReplicationName assigns the replication name for the statement
// currently being executed under this session.
func (s *Session) SetReplicationName(name string) {
	s.mu.Lock()
	s.replicationName = name
	s.inReplication = name != ""
	s.mu.Unlock()
}

// propagateRetryNamesToAllLocks applies names to every lock this
// session currently holds, not only the one in conflict. This mirrors
// ServerSession.java's setRetryReplicationNames, preserved as a
// documented quirk per spec §9's Open Question rather than silently
// fixed (see DESIGN.md).
func (s *Session) propagateRetryNamesToAllLocks(names []string) {
	s.mu.Lock()
	locks := make([]lockEntry, len(s.locks))
	copy(locks, s.locks)
	s.mu.Unlock()

	for _, e := range locks {
		e.lock.SetRetryReplicationNames(names)
	}
}

// HandleReplicaConflict runs the ReplicationResolver's retry
// negotiation (spec §4.4 "handleReplicaConflict(retryNames)") from the
// perspective of the winning candidate session s. holder is the session
// currently holding the conflicting row or object lock; appendIndex is
// only consulted for an APPEND conflict.
func (s *Session) HandleReplicaConflict(ctx context.Context, conflict replication.ConflictType, holder *Session, retryNames []string, rowKey interface{}, appendIndex AppendIndex) error {
	switch conflict {
	case replication.ConflictRowLock:
		plan := replication.ResolveRowLockConflict(s.ReplicationName(), retryNames, rowKey)
		if holderTxn := holder.coordinator.Current(); holderTxn != nil {
			holderTxn.SetRetryReplicationNames(plan.RetryNames)
		}
		if err := holder.RollbackCurrentCommand(ctx, s); err != nil {
			return err
		}
		if txn := s.coordinator.Current(); txn != nil {
			txn.SetRetryReplicationNames(plan.RetryNames)
		}
		s.applyEvent(ctx, eventReplicationConflict, scheduler.StatusRetrying)

	case replication.ConflictDbObjectLock:
		plan := replication.ResolveDbObjectLockConflict(retryNames)
		holder.propagateRetryNamesToAllLocks(plan.RetryNames)
		if err := holder.RollbackCurrentCommand(ctx, s); err != nil {
			return err
		}
		holder.applyEvent(ctx, eventReplicationConflict, scheduler.StatusRetrying)

	case replication.ConflictAppend:
		entries, err := replication.ParseRetryNames(retryNames)
		if err != nil {
			return err
		}
		assignment := replication.ResolveAppendConflict(entries)
		if appendIndex != nil {
			appendIndex.SetMaxKey(assignment.MaxKey)
			appendIndex.PublishKeyAssignment(assignment.StartKeys)
		}
		s.setStatus(ctx, scheduler.StatusRetryingReturnResult)
		holder.setStatus(ctx, scheduler.StatusRetryingReturnResult)

	case replication.ConflictNone:
		s.SetReplicationName("")
	}
	return nil
}
