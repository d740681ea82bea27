package replication

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildAckFirstTimeTransitions(t *testing.T) {
	r := NewResolver()
	pkt, shouldTransition := r.BuildAck("stmt-1", ConflictAppend, "", 100, 5, false)
	require.True(t, shouldTransition)
	require.Equal(t, int32(1), pkt.AckVersion)
}

func TestBuildAckAppendSuppressesSecondTransition(t *testing.T) {
	r := NewResolver()
	_, first := r.BuildAck("stmt-1", ConflictAppend, "r1", 100, 5, false)
	require.True(t, first)
	_, second := r.BuildAck("stmt-1", ConflictAppend, "r1", 100, 5, false)
	require.False(t, second, "a second APPEND ack for the same statement is idempotent")
}

func TestBuildAckIfDDLSuppressesSecondTransition(t *testing.T) {
	r := NewResolver()
	_, first := r.BuildAck("stmt-ddl", ConflictDbObjectLock, "r1", 0, 0, true)
	require.True(t, first)
	_, second := r.BuildAck("stmt-ddl", ConflictDbObjectLock, "r1", 0, 0, true)
	require.False(t, second, "IF-DDL acks are idempotent once ackVersion > 0")
}

func TestBuildAckRowLockAlwaysTransitions(t *testing.T) {
	r := NewResolver()
	_, first := r.BuildAck("stmt-row", ConflictRowLock, "r1", 0, 0, false)
	require.True(t, first)
	_, second := r.BuildAck("stmt-row", ConflictRowLock, "r1", 0, 0, false)
	require.True(t, second, "idempotent suppression only applies to APPEND and IF-DDL")
}

func TestRetryNameWireFormatRoundTrip(t *testing.T) {
	entries := []RetryEntry{
		{First: 10, Count: 3, ReplicationName: "r-a"},
		{First: 20, Count: 5, ReplicationName: "r-b"},
	}
	wire := FormatRetryNames(entries)
	require.Equal(t, []string{"10,3:r-a", "20,5:r-b"}, wire)

	decoded, err := ParseRetryNames(wire)
	require.NoError(t, err)
	require.Equal(t, entries, decoded)
}

func TestParseRetryNamesMalformed(t *testing.T) {
	_, err := ParseRetryNames([]string{"not-a-valid-entry"})
	require.Error(t, err)
}

func TestResolveAppendConflictDeterministicOrdering(t *testing.T) {
	forward := []RetryEntry{
		{First: 20, Count: 5, ReplicationName: "r-b"},
		{First: 10, Count: 3, ReplicationName: "r-a"},
	}
	backward := []RetryEntry{
		{First: 10, Count: 3, ReplicationName: "r-a"},
		{First: 20, Count: 5, ReplicationName: "r-b"},
	}

	a := ResolveAppendConflict(forward)
	b := ResolveAppendConflict(backward)
	require.Equal(t, a, b, "the assignment must not depend on input order")

	require.Equal(t, int64(10), a.MinKey)
	require.Equal(t, int64(18), a.MaxKey) // 10 + 3 + 5
	require.Equal(t, int64(10), a.StartKeys["r-a"])
	require.Equal(t, int64(13), a.StartKeys["r-b"])
}

func TestResolveRowLockConflictPrependsWinner(t *testing.T) {
	plan := ResolveRowLockConflict("winner", []string{"older-1", "older-2"}, "row-key-7")
	require.Equal(t, []string{"winner", "older-1", "older-2"}, plan.RetryNames)
	require.Equal(t, "row-key-7", plan.RowKey)
}

func TestResolveDbObjectLockConflictCopiesIncoming(t *testing.T) {
	incoming := []string{"n1", "n2"}
	plan := ResolveDbObjectLockConflict(incoming)
	require.Equal(t, incoming, plan.RetryNames)

	incoming[0] = "mutated"
	require.Equal(t, "n1", plan.RetryNames[0], "plan must not alias the caller's slice")
}
