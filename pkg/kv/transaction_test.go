package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeParticipant struct {
	hostPort      string
	prepareErr    error
	finalizeErr   error
	prepared      bool
	finalized     bool
	rolledBack    bool
}

func (p *fakeParticipant) HostPort() string { return p.hostPort }
func (p *fakeParticipant) Prepare(ctx context.Context) error {
	p.prepared = true
	return p.prepareErr
}
func (p *fakeParticipant) Finalize(ctx context.Context, globalName string) error {
	p.finalized = true
	return p.finalizeErr
}
func (p *fakeParticipant) Rollback(ctx context.Context) error {
	p.rolledBack = true
	return nil
}

func TestTransactionLocalCommit(t *testing.T) {
	txn := New(NewMemLog(), true, ReadCommitted)
	require.True(t, txn.IsOpen())
	require.NoError(t, txn.Commit(context.Background()))
	require.True(t, txn.IsCommitted())
}

func TestTransactionSavepointRollback(t *testing.T) {
	txn := New(NewMemLog(), false, RepeatableRead)
	idx := txn.AddSavepoint("sp1")
	require.Equal(t, 1, idx)
	txn.AddSavepoint("sp2")

	require.NoError(t, txn.RollbackToSavepoint(context.Background(), "sp1"))
	require.True(t, txn.IsOpen())
	_, err := txn.SavepointIndex("sp2")
	require.Error(t, err, "savepoints recorded after the rollback target are discarded")
}

func TestTransactionDistributedCommit(t *testing.T) {
	txn := New(NewMemLog(), false, Serializable)
	p1 := &fakeParticipant{hostPort: "10.0.0.1:7000"}
	p2 := &fakeParticipant{hostPort: "10.0.0.2:7000"}
	txn.AddParticipant(p1)
	txn.AddParticipant(p2)

	require.NoError(t, txn.Commit(context.Background()))
	require.True(t, p1.prepared && p1.finalized)
	require.True(t, p2.prepared && p2.finalized)
	require.True(t, txn.IsCommitted())
}

func TestTransactionDistributedCommitPrepareFailureRollsBack(t *testing.T) {
	txn := New(NewMemLog(), false, Serializable)
	p1 := &fakeParticipant{hostPort: "10.0.0.1:7000"}
	p2 := &fakeParticipant{hostPort: "10.0.0.2:7000", prepareErr: assert.AnError}
	txn.AddParticipant(p1)
	txn.AddParticipant(p2)

	err := txn.Commit(context.Background())
	require.Error(t, err)
	require.True(t, txn.IsOpen(), "a failed prepare leaves the transaction open for the caller to retry or roll back")
}

func TestCoordinatorLazyBegin(t *testing.T) {
	c := NewCoordinator(NewMemLog())
	require.Nil(t, c.Current())

	txn := c.Begin(true, ReadCommitted)
	require.NotNil(t, txn)
	require.Same(t, txn, c.Begin(true, ReadCommitted), "a second Begin within the same client transaction reuses it")

	require.NoError(t, c.Commit(context.Background()))
	require.Nil(t, c.Current())
}

func TestCoordinatorAsyncCommit(t *testing.T) {
	c := NewCoordinator(NewMemLog())
	c.Begin(true, ReadCommitted)

	done := make(chan error, 1)
	c.AsyncCommit(context.Background(), func(err error) { done <- err })
	require.NoError(t, <-done)
	require.Nil(t, c.Current())
}
