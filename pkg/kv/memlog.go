package kv

import "sync/atomic"

// MemLog is an in-memory Log used by tests and by cmd/sessiond's example
// wiring; a real deployment supplies a durable implementation.
type MemLog struct {
	seq int64
}

// NewMemLog constructs an empty MemLog.
func NewMemLog() *MemLog { return &MemLog{} }

func (l *MemLog) NextTransactionID() int64 { return atomic.AddInt64(&l.seq, 1) }

func (l *MemLog) WriteSavepoint(txnID int64, name string, savepointIndex int) {}

func (l *MemLog) WriteCommit(txnID int64) {}

func (l *MemLog) WriteRollback(txnID int64, toSavepointIndex int) {}
