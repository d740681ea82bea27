package kv

import (
	"context"

	"github.com/lealone-go/sessioncore/pkg/util/syncutil"
)

// Coordinator owns the single current Transaction for one session and
// lazily creates it on first use, mirroring ServerSession.java's
// getTransaction()/begin() pair: a session has no Transaction until a
// statement actually needs one, and every subsequent statement within
// the same client transaction reuses it until commit or rollback.
type Coordinator struct {
	mu  syncutil.Mutex
	log Log
	txn *Transaction
}

// NewCoordinator constructs a Coordinator backed by log.
func NewCoordinator(log Log) *Coordinator {
	return &Coordinator{log: log}
}

// Current returns the in-flight transaction, or nil if none has been
// started since the last commit/rollback.
func (c *Coordinator) Current() *Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txn
}

// Begin returns the current transaction, creating one if this is the
// first statement of a new client transaction.
func (c *Coordinator) Begin(autoCommit bool, isolation IsolationLevel) *Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txn == nil {
		c.txn = New(c.log, autoCommit, isolation)
	}
	return c.txn
}

// Commit commits the current transaction, if any, and clears it so the
// next statement starts a fresh one.
func (c *Coordinator) Commit(ctx context.Context) error {
	c.mu.Lock()
	txn := c.txn
	c.txn = nil
	c.mu.Unlock()
	if txn == nil {
		return nil
	}
	return txn.Commit(ctx)
}

// AsyncCommit mirrors Commit but returns immediately; onDone observes
// the eventual result.
func (c *Coordinator) AsyncCommit(ctx context.Context, onDone func(error)) {
	c.mu.Lock()
	txn := c.txn
	c.txn = nil
	c.mu.Unlock()
	if txn == nil {
		if onDone != nil {
			onDone(nil)
		}
		return
	}
	txn.AsyncCommit(ctx, onDone)
}

// Rollback rolls back the current transaction, if any, and clears it.
func (c *Coordinator) Rollback(ctx context.Context) error {
	c.mu.Lock()
	txn := c.txn
	c.txn = nil
	c.mu.Unlock()
	if txn == nil {
		return nil
	}
	return txn.Rollback(ctx)
}

// RollbackToSavepoint rolls the current transaction back to name without
// ending it; the Coordinator keeps holding the same Transaction.
func (c *Coordinator) RollbackToSavepoint(ctx context.Context, name string) error {
	txn := c.Current()
	if txn == nil {
		return nil
	}
	return txn.RollbackToSavepoint(ctx, name)
}
