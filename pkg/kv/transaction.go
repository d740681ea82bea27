// Package kv implements the TransactionCoordinator component (spec §4.2):
// transaction lifecycle (begin/commit/rollback/savepoints), local and
// distributed two-phase commit across participant sessions, grounded on
// ServerSession.java's commit/rollback/begin/addSavepoint/
// rollbackToSavepoint methods and on the status-tracking and
// fan-out-commit shape of the teacher's pkg/kv/txn.go and
// pkg/kv/txn_interceptor_committer.go.
package kv

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lealone-go/sessioncore/pkg/util/errcode"
	"github.com/lealone-go/sessioncore/pkg/util/log"
	"github.com/lealone-go/sessioncore/pkg/util/syncutil"
)

// Status is a transaction's lifecycle state (spec §3).
type Status int

const (
	StatusOpen Status = iota
	StatusCommitting
	StatusCommitted
	StatusRolledBack
	StatusWaiting
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "OPEN"
	case StatusCommitting:
		return "COMMITTING"
	case StatusCommitted:
		return "COMMITTED"
	case StatusRolledBack:
		return "ROLLED_BACK"
	case StatusWaiting:
		return "WAITING"
	default:
		return "UNKNOWN"
	}
}

// Participant is a remote nested session taking part in a distributed
// transaction (spec §3, §4.2): one per peer host the statement touched.
type Participant interface {
	HostPort() string
	Prepare(ctx context.Context) error
	Finalize(ctx context.Context, globalTransactionName string) error
	Rollback(ctx context.Context) error
}

// Log is the external transaction-log collaborator. Durable storage of
// commit/rollback records is out of scope for this core (spec §1); Log
// is the seam a real engine plugs into, kept narrow so every branch of
// the coordination logic below is still exercised without one.
type Log interface {
	NextTransactionID() int64
	WriteSavepoint(txnID int64, name string, savepointIndex int)
	WriteCommit(txnID int64)
	WriteRollback(txnID int64, toSavepointIndex int)
}

var globalTxnSeq int64

func nextGlobalSeq() int64 { return atomic.AddInt64(&globalTxnSeq, 1) }

// Transaction is the data model described by spec §3: an engine-assigned
// id, an optional global name for distributed commit, an isolation
// level, a lifecycle status, a monotonic savepoint counter, the list of
// remote participants, and the replication bookkeeping a row's owning
// transaction carries while retries are pending.
type Transaction struct {
	mu syncutil.Mutex

	id         int64
	nodeName   string
	globalName string
	isolation  IsolationLevel
	status     Status
	autoCommit bool

	savepointSeq   int
	savepointNames map[string]int // name -> savepoint index, in acquisition order

	participants []Participant

	replicationName       string
	retryReplicationNames []string

	log Log
}

// New constructs an open Transaction. autoCommit mirrors the
// single-statement implicit transaction mode (spec §3).
func New(log Log, autoCommit bool, isolation IsolationLevel) *Transaction {
	return &Transaction{
		id:             log.NextTransactionID(),
		nodeName:       uuid.NewString(),
		isolation:      isolation,
		status:         StatusOpen,
		autoCommit:     autoCommit,
		savepointNames: make(map[string]int),
		log:            log,
	}
}

func (t *Transaction) ID() int64                 { return t.id }
func (t *Transaction) IsolationLevel() IsolationLevel { return t.isolation }
func (t *Transaction) IsAutoCommit() bool        { return t.autoCommit }

func (t *Transaction) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *Transaction) setStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// IsOpen reports whether the transaction can still accept statements.
func (t *Transaction) IsOpen() bool { return t.Status() == StatusOpen }

// IsCommitted reports whether the transaction has completed commit.
func (t *Transaction) IsCommitted() bool { return t.Status() == StatusCommitted }

// IsAborted reports whether the transaction has rolled back.
func (t *Transaction) IsAborted() bool { return t.Status() == StatusRolledBack }

// GlobalReplicationName returns the replication name assigned to this
// transaction, if any (spec §4.4).
func (t *Transaction) GlobalReplicationName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.replicationName
}

// SetGlobalReplicationName assigns the replication name; called once by
// ReplicationResolver when the first statement of a replicated
// transaction is sequenced.
func (t *Transaction) SetGlobalReplicationName(name string) {
	t.mu.Lock()
	t.replicationName = name
	t.mu.Unlock()
}

// RetryReplicationNames returns the retry names most recently attached
// by SetRetryReplicationNames.
func (t *Transaction) RetryReplicationNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retryReplicationNames
}

// SetRetryReplicationNames records the names under which the owning
// session should retry once this transaction's locks become available.
func (t *Transaction) SetRetryReplicationNames(names []string) {
	t.mu.Lock()
	t.retryReplicationNames = names
	t.mu.Unlock()
}

// AddParticipant registers a remote nested session as taking part in
// this transaction's eventual distributed commit. Participants are
// deduplicated by host:port.
func (t *Transaction) AddParticipant(p Participant) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.participants {
		if existing.HostPort() == p.HostPort() {
			return
		}
	}
	t.participants = append(t.participants, p)
}

// Participants returns the current participant list.
func (t *Transaction) Participants() []Participant {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Participant, len(t.participants))
	copy(out, t.participants)
	return out
}

// AddSavepoint records a named savepoint at the current point in the
// transaction, returning its monotonically increasing index (spec §3).
func (t *Transaction) AddSavepoint(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.savepointSeq++
	idx := t.savepointSeq
	t.savepointNames[name] = idx
	t.log.WriteSavepoint(t.id, name, idx)
	return idx
}

// SavepointIndex looks up the index assigned to name by a prior
// AddSavepoint call.
func (t *Transaction) SavepointIndex(name string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.savepointNames[name]
	if !ok {
		return 0, errcode.Newf(errcode.InvalidValue, "savepoint %q does not exist", name)
	}
	return idx, nil
}

// RollbackToSavepoint undoes every change made since the named
// savepoint, without ending the transaction, and discards any
// savepoints recorded after it.
func (t *Transaction) RollbackToSavepoint(ctx context.Context, name string) error {
	idx, err := t.SavepointIndex(name)
	if err != nil {
		return err
	}
	return t.RollbackTo(ctx, idx)
}

// RollbackTo undoes changes back to savepointIndex (0 rolls back the
// whole transaction's statements without ending it).
func (t *Transaction) RollbackTo(ctx context.Context, savepointIndex int) error {
	t.mu.Lock()
	if t.status != StatusOpen {
		t.mu.Unlock()
		return errors.Newf("cannot roll back to savepoint: transaction is %s", t.status)
	}
	for name, idx := range t.savepointNames {
		if idx > savepointIndex {
			delete(t.savepointNames, name)
		}
	}
	t.mu.Unlock()

	t.log.WriteRollback(t.id, savepointIndex)
	log.VEventf(ctx, 2, "txn %d: rolled back to savepoint index %d", t.id, savepointIndex)
	return nil
}

// globalTransactionName builds the distributed commit identifier: the
// local transaction name followed by every participant's host:port,
// joined with commas (spec §4.2 wire format).
func (t *Transaction) globalTransactionName() string {
	if len(t.participants) == 0 {
		return t.localName()
	}
	parts := make([]string, 0, len(t.participants)+1)
	parts = append(parts, t.localName())
	for _, p := range t.participants {
		parts = append(parts, p.HostPort())
	}
	return strings.Join(parts, ",")
}

// localName combines the per-log sequence number with a process-unique
// uuid so two nodes that each started counting transaction ids from the
// same origin cannot collide in a distributed commit's global name.
func (t *Transaction) localName() string {
	return fmt.Sprintf("%d-%s", t.id, t.nodeName)
}

// Commit runs two-phase commit across every participant, then commits
// locally. A transaction with no participants (local-only) skips
// straight to CommitFinal. A distributed commit builds the global
// transaction name and fans PREPARE, then FINALIZE, out to every
// participant with errgroup so a single slow peer does not serialize
// the others (grounded on
// txn_interceptor_committer.go's parallel-commit fan-out).
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	if t.status != StatusOpen {
		t.mu.Unlock()
		return errcode.Newf(errcode.CommitRollbackNotAllowed, "transaction %d is %s, cannot commit", t.id, t.status)
	}
	t.status = StatusCommitting
	participants := append([]Participant(nil), t.participants...)
	t.globalName = t.globalTransactionName()
	globalName := t.globalName
	t.mu.Unlock()

	if len(participants) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		for _, p := range participants {
			p := p
			g.Go(func() error {
				if err := p.Prepare(gctx); err != nil {
					return errors.Wrapf(err, "prepare failed on participant %s", p.HostPort())
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			t.setStatus(StatusOpen)
			_ = t.rollbackParticipants(ctx, participants)
			return err
		}

		g, gctx = errgroup.WithContext(ctx)
		for _, p := range participants {
			p := p
			g.Go(func() error {
				if err := p.Finalize(gctx, globalName); err != nil {
					return errors.Wrapf(err, "finalize failed on participant %s", p.HostPort())
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			// Prepared participants are left for the engine's recovery
			// path (spec §1, §4.2 Non-goals); this core only reports
			// the failure upward.
			return err
		}
	}

	return t.CommitFinal(ctx)
}

// CommitFinal performs the local half of commit: flushing the
// transaction log and marking the transaction StatusCommitted. It is
// called directly by Commit for a local-only transaction, and as the
// last step of a distributed commit once every participant has
// finalized.
func (t *Transaction) CommitFinal(ctx context.Context) error {
	t.log.WriteCommit(t.id)
	t.setStatus(StatusCommitted)
	log.VEventf(ctx, 2, "txn %d: committed (global name %q)", t.id, t.globalName)
	return nil
}

// AsyncCommit runs Commit in a new goroutine, invoking onDone with the
// result once it completes. It mirrors ServerSession.java's asyncCommit,
// used by the scheduler to avoid blocking the dispatch loop on a
// distributed commit's network round trips (spec §4.5).
func (t *Transaction) AsyncCommit(ctx context.Context, onDone func(error)) {
	go func() {
		err := t.Commit(ctx)
		if onDone != nil {
			onDone(err)
		}
	}()
}

func (t *Transaction) rollbackParticipants(ctx context.Context, participants []Participant) error {
	var g errgroup.Group
	for _, p := range participants {
		p := p
		g.Go(func() error { return p.Rollback(ctx) })
	}
	return g.Wait()
}

// Rollback aborts the transaction locally and on every participant.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	if t.status == StatusCommitted {
		t.mu.Unlock()
		return errcode.Newf(errcode.CommitRollbackNotAllowed, "transaction %d already committed, cannot roll back", t.id)
	}
	participants := append([]Participant(nil), t.participants...)
	t.mu.Unlock()

	if len(participants) > 0 {
		if err := t.rollbackParticipants(ctx, participants); err != nil {
			log.Warningf(ctx, "txn %d: rollback reported errors from participants: %v", t.id, err)
		}
	}

	t.log.WriteRollback(t.id, 0)
	t.setStatus(StatusRolledBack)
	log.VEventf(ctx, 2, "txn %d: rolled back", t.id)
	return nil
}
