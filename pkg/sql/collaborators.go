// Package sql implements the Session component (spec §4.1): the
// per-connection owner of a transaction context, statement preparation,
// and command lifecycle. It is the top of the control-flow chain named
// in spec §2 ("leaves first: ResourceRegistry → LockManager →
// TransactionCoordinator → ReplicationResolver → YieldableScheduler →
// Session") — every other package in this module is a dependency of
// this one, never the reverse, grounded on the layering of the
// teacher's pkg/sql/conn_executor.go atop pkg/kv, pkg/storage/concurrency,
// and pkg/util/*.
package sql

import (
	"context"

	"github.com/lealone-go/sessioncore/pkg/concurrency"
	"github.com/lealone-go/sessioncore/pkg/kv"
)

// PreparedStatement is the collaborator interface named in spec §6.3,
// implemented by the SQL parser/planner layer that is explicitly out of
// scope for this core (spec §1).
type PreparedStatement interface {
	SetLocal(local bool)
	SetFetchSize(n int)
	CanReuse() bool
	Reuse()
	IsDDL() bool
	IsDatabaseStatement() bool
	IsIfDDL() bool
	IsCacheable() bool
	ID() int
	SQL() string
	Cancel()
	Close() error
}

// ParsedStatement is the intermediate result of Parser.Parse, per spec
// §6.3.
type ParsedStatement interface {
	Prepare() (PreparedStatement, error)
}

// Parser is the `database.createParser(session)` collaborator (spec
// §6.3).
type Parser interface {
	Parse(sql string) (ParsedStatement, error)
}

// Database is the owning-database collaborator a Session is created
// against: it hands out parsers, tracks the catalog modification
// counter the query cache invalidates against, and is told when a
// session closes.
type Database interface {
	CreateParser(session *Session) Parser
	ModificationMetaID() int64
	MaxQueryTimeoutMS() int
	Deregister(sessionID int)
}

// TransactionLog adapts kv.Log so *Session can construct a
// kv.Coordinator without every caller needing to import pkg/kv directly.
type TransactionLog = kv.Log

// LockRegistry is the narrow concurrency.Manager surface Session needs:
// resolving an object name to its DbObjectLock handle.
type LockRegistry interface {
	GetOrCreate(objectID string) *concurrency.DbObjectLock
}

// RemoteSessionFactory opens (or reuses, from the async session pool
// named in spec §5's "Shared-resource policy") a nested Session
// representing one distributed-transaction participant at hostPort.
type RemoteSessionFactory interface {
	Acquire(ctx context.Context, hostPort string) (*Session, error)
	Release(s *Session)
}
