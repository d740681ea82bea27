// Package replication implements the ReplicationResolver component
// (spec §4.4): conflict detection between racing replicas writing under
// distinct replication names, and the deterministic retry negotiation
// that picks a winner. Ported field-for-field from
// ServerSession.java's handleReplicaConflict / setRetryReplicationNames
// / createReplicationUpdateAckPacket, kept independent of pkg/sql so the
// owning Session can import this package without a cycle: every session
// mutation the resolver calls for is expressed as a narrow collaborator
// interface, applied by the caller.
package replication

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/lealone-go/sessioncore/pkg/util/errcode"
	"github.com/lealone-go/sessioncore/pkg/util/syncutil"
)

// ConflictType is one of the four outcomes a replicated write's ack can
// report (spec §4.4, §6.4 wire schema).
type ConflictType int

const (
	ConflictNone ConflictType = iota
	ConflictRowLock
	ConflictDbObjectLock
	ConflictAppend
)

func (c ConflictType) String() string {
	switch c {
	case ConflictNone:
		return "NONE"
	case ConflictRowLock:
		return "ROW_LOCK"
	case ConflictDbObjectLock:
		return "DB_OBJECT_LOCK"
	case ConflictAppend:
		return "APPEND"
	default:
		return "UNKNOWN"
	}
}

// AckPacket is the logical schema of spec §6.4's ReplicationUpdateAck
// (wire encoding itself is out of scope).
type AckPacket struct {
	UpdateCount                int
	First                      int64
	UncommittedReplicationName string
	ConflictType               ConflictType
	AckVersion                 int32
	IsIfDDL                    bool
	IsFinalResult              bool
}

// Resolver is the ReplicationResolver component. Its only state is the
// per-statement ack-version counter used to let replicas deduplicate
// retry notifications (spec §4.4); lock and transaction mutation is
// delegated to the caller via the collaborator interfaces below.
type Resolver struct {
	mu          syncutil.Mutex
	ackVersions map[string]int32
}

// NewResolver constructs an empty Resolver.
func NewResolver() *Resolver {
	return &Resolver{ackVersions: make(map[string]int32)}
}

// BuildAck constructs the ack packet for the statement identified by
// statementKey (conventionally the session id + statement sequence
// number) and reports whether the caller should transition its session
// status to RETRYING_RETURN_RESULT.
//
// The transition is suppressed the second and subsequent time it would
// fire for an APPEND conflict or an IF-DDL statement, once ackVersion is
// already greater than zero — the idempotent-ack edge case ported from
// setStatus/createReplicationUpdateAckPacket (spec §4.4, SPEC_FULL §D.6).
func (r *Resolver) BuildAck(statementKey string, conflict ConflictType, uncommittedName string, first int64, updateCount int, isIfDDL bool) (AckPacket, bool) {
	r.mu.Lock()
	prevVersion := r.ackVersions[statementKey]
	newVersion := prevVersion + 1
	r.ackVersions[statementKey] = newVersion
	r.mu.Unlock()

	suppress := prevVersion > 0 && (conflict == ConflictAppend || isIfDDL)
	pkt := AckPacket{
		UpdateCount:                updateCount,
		First:                      first,
		UncommittedReplicationName: uncommittedName,
		ConflictType:               conflict,
		AckVersion:                 newVersion,
		IsIfDDL:                    isIfDDL,
		IsFinalResult:              conflict == ConflictNone,
	}
	return pkt, !suppress
}

// ForgetStatement drops the ack-version counter for statementKey once
// its result has been returned, so the map does not grow unboundedly
// across a session's lifetime.
func (r *Resolver) ForgetStatement(statementKey string) {
	r.mu.Lock()
	delete(r.ackVersions, statementKey)
	r.mu.Unlock()
}

// RetryEntry is one decoded element of the APPEND retry-name wire
// format (spec §6.5): "<first>,<count>:<replicationName>".
type RetryEntry struct {
	First           int64
	Count           int64
	ReplicationName string
}

// ParseRetryNames decodes the §6.5 wire format.
func ParseRetryNames(entries []string) ([]RetryEntry, error) {
	out := make([]RetryEntry, 0, len(entries))
	for _, e := range entries {
		countSep := strings.IndexByte(e, ':')
		if countSep < 0 {
			return nil, errcode.Newf(errcode.DeserializationFailed, "malformed retry-name entry %q", e)
		}
		firstCount := e[:countSep]
		name := e[countSep+1:]
		comma := strings.IndexByte(firstCount, ',')
		if comma < 0 {
			return nil, errcode.Newf(errcode.DeserializationFailed, "malformed retry-name entry %q", e)
		}
		first, err := strconv.ParseInt(firstCount[:comma], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed retry-name entry %q", e)
		}
		count, err := strconv.ParseInt(firstCount[comma+1:], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed retry-name entry %q", e)
		}
		out = append(out, RetryEntry{First: first, Count: count, ReplicationName: name})
	}
	return out, nil
}

// FormatRetryNames encodes entries into the §6.5 wire format.
func FormatRetryNames(entries []RetryEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = strconv.FormatInt(e.First, 10) + "," + strconv.FormatInt(e.Count, 10) + ":" + e.ReplicationName
	}
	return out
}

// AppendAssignment is the deterministic outcome of resolving an APPEND
// conflict: every participating replica, given the same retry entries
// (in any order), computes the same MinKey/MaxKey and the same
// per-replica StartKeys map (spec §4.4, invariant in §8 item 5).
type AppendAssignment struct {
	MinKey    int64
	MaxKey    int64
	StartKeys map[string]int64 // replicationName -> assigned startKey
}

// ResolveAppendConflict computes the deterministic key-range assignment
// for an APPEND conflict: replicas are ordered by (First, then
// ReplicationName) so the assignment does not depend on the order
// entries arrived in, then each is given a contiguous startKey range
// sized by its reported Count.
func ResolveAppendConflict(entries []RetryEntry) AppendAssignment {
	sorted := append([]RetryEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].First != sorted[j].First {
			return sorted[i].First < sorted[j].First
		}
		return sorted[i].ReplicationName < sorted[j].ReplicationName
	})

	assignment := AppendAssignment{StartKeys: make(map[string]int64, len(sorted))}
	if len(sorted) == 0 {
		return assignment
	}
	assignment.MinKey = sorted[0].First
	cursor := assignment.MinKey
	for _, e := range sorted {
		assignment.StartKeys[e.ReplicationName] = cursor
		cursor += e.Count
	}
	assignment.MaxKey = cursor
	return assignment
}

// RowLockTransferPlan describes how to resolve a ROW_LOCK conflict
// (spec §4.4): the winner's replicationName is prepended to the retry
// list, the current holder is rolled back to the savepoint it took when
// it acquired the row, and the holder is re-queued as a waiter keyed by
// the row key.
type RowLockTransferPlan struct {
	RetryNames []string
	RowKey     interface{}
}

// ResolveRowLockConflict builds the plan for a ROW_LOCK conflict. The
// caller (the session that owns the Transaction's waiting-transaction
// index) applies RowKey/RetryNames to the holder and re-queues it.
func ResolveRowLockConflict(winnerReplicationName string, existingRetryNames []string, rowKey interface{}) RowLockTransferPlan {
	names := make([]string, 0, len(existingRetryNames)+1)
	names = append(names, winnerReplicationName)
	names = append(names, existingRetryNames...)
	return RowLockTransferPlan{RetryNames: names, RowKey: rowKey}
}

// DbObjectLockTransferPlan describes how to resolve a DB_OBJECT_LOCK
// conflict (spec §4.4): the holder's current statement is rolled back,
// ownership transfers to the winner, and the holder's status moves to
// RETRYING.
//
// RetryNames is propagated onto *every* lock the holder currently
// holds, not only the one in conflict — this mirrors
// ServerSession.java's setRetryReplicationNames, which the spec's Open
// Question instructs us to preserve rather than silently fix (see
// DESIGN.md). The caller applies RetryNames to its full locks list.
type DbObjectLockTransferPlan struct {
	RetryNames []string
}

// ResolveDbObjectLockConflict builds the plan for a DB_OBJECT_LOCK
// conflict given the incoming retry-names list carried by the
// conflicting request.
func ResolveDbObjectLockConflict(incomingRetryNames []string) DbObjectLockTransferPlan {
	return DbObjectLockTransferPlan{RetryNames: append([]string(nil), incomingRetryNames...)}
}
