package sql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lealone-go/sessioncore/pkg/concurrency"
	"github.com/lealone-go/sessioncore/pkg/kv"
	"github.com/lealone-go/sessioncore/pkg/replication"
	"github.com/lealone-go/sessioncore/pkg/scheduler"
)

type fakeDatabase struct {
	modMetaID     int64
	maxQueryMS    int
	deregistered  []int
}

func (d *fakeDatabase) CreateParser(s *Session) Parser        { return &fakeParser{} }
func (d *fakeDatabase) ModificationMetaID() int64              { return d.modMetaID }
func (d *fakeDatabase) MaxQueryTimeoutMS() int                 { return d.maxQueryMS }
func (d *fakeDatabase) Deregister(id int)                      { d.deregistered = append(d.deregistered, id) }

type fakeParser struct{}

func (p *fakeParser) Parse(sqlText string) (ParsedStatement, error) {
	return &fakeParsedStatement{sql: sqlText}, nil
}

type fakeParsedStatement struct{ sql string }

func (p *fakeParsedStatement) Prepare() (PreparedStatement, error) {
	return &fakePreparedStatement{sql: p.sql, cacheable: true, reusable: true}, nil
}

type fakePreparedStatement struct {
	sql            string
	fetchSize      int
	local          bool
	cacheable      bool
	reusable       bool
	reuseCount     int
	closed         bool
}

func (p *fakePreparedStatement) SetLocal(local bool)       { p.local = local }
func (p *fakePreparedStatement) SetFetchSize(n int)        { p.fetchSize = n }
func (p *fakePreparedStatement) CanReuse() bool            { return p.reusable }
func (p *fakePreparedStatement) Reuse()                    { p.reuseCount++ }
func (p *fakePreparedStatement) IsDDL() bool                { return false }
func (p *fakePreparedStatement) IsDatabaseStatement() bool  { return false }
func (p *fakePreparedStatement) IsIfDDL() bool              { return false }
func (p *fakePreparedStatement) IsCacheable() bool          { return p.cacheable }
func (p *fakePreparedStatement) ID() int                    { return 1 }
func (p *fakePreparedStatement) SQL() string                { return p.sql }
func (p *fakePreparedStatement) Cancel()                    {}
func (p *fakePreparedStatement) Close() error                { p.closed = true; return nil }

func newTestSession(t *testing.T) (*Session, *fakeDatabase) {
	t.Helper()
	db := &fakeDatabase{}
	s := New(Config{
		ID:             1,
		DB:             db,
		User:           "root",
		TxnLog:         kv.NewMemLog(),
		LockManager:    concurrency.NewManager(nil),
		Resolver:       replication.NewResolver(),
		QueryCacheSize: 10,
	})
	return s, db
}

func TestPrepareCachesAndReuses(t *testing.T) {
	s, _ := newTestSession(t)
	stmt1, err := s.Prepare("select 1", 10)
	require.NoError(t, err)

	stmt2, err := s.Prepare("select 1", 20)
	require.NoError(t, err)
	require.Same(t, stmt1, stmt2, "a cache hit returns the same prepared statement")
	require.Equal(t, 1, stmt2.(*fakePreparedStatement).reuseCount)
}

func TestPrepareInvalidatesOnModificationMetaIDChange(t *testing.T) {
	s, db := newTestSession(t)
	stmt1, err := s.Prepare("select 1", 10)
	require.NoError(t, err)

	db.modMetaID = 1
	stmt2, err := s.Prepare("select 1", 10)
	require.NoError(t, err)
	require.NotSame(t, stmt1, stmt2, "a changed modificationMetaId must force a fresh parse")
}

func TestPrepareFailsWhenClosed(t *testing.T) {
	s, _ := newTestSession(t)
	s.Close(context.Background())
	_, err := s.Prepare("select 1", 10)
	require.Error(t, err)
}

func TestSetVariableUnlinksEvictedLOB(t *testing.T) {
	s, _ := newTestSession(t)
	lob := &closingValue{}
	s.SetVariable("x", lob)
	require.False(t, lob.closed)

	s.SetVariable("x", "new-value")
	require.True(t, lob.closed, "an evicted LOB value must be unlinked and closed")
	require.Equal(t, "new-value", s.GetVariable("x"))

	s.SetVariable("x", nil)
	require.Nil(t, s.GetVariable("x"))
}

type closingValue struct{ closed bool }

func (c *closingValue) Close() error { c.closed = true; return nil }

func TestStatementLifecycleLockWindowing(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()
	// Manual-commit mode: in auto-commit, StopCurrentCommand starts an
	// async commit that releases every lock.
	s.autoCommit = false

	s.StartCurrentCommand(ctx)
	require.Equal(t, scheduler.StatusStatementRunning, s.Status())

	baseline := len(s.locks)
	require.True(t, s.LockObject(ctx, "table:t1"))
	require.True(t, s.LockObject(ctx, "table:t2"))
	require.Len(t, s.locks, baseline+2)

	s.StopCurrentCommand(ctx, nil, nil)
	// invariant 1 (spec §8): after stopCurrentCommand locks are retained.
	require.Len(t, s.locks, baseline+2)

	s.StartCurrentCommand(ctx)
	require.True(t, s.LockObject(ctx, "table:t3"))
	require.Len(t, s.locks, baseline+3)

	require.NoError(t, s.RollbackCurrentCommand(ctx, nil))
	// invariant 1 continued: after rollbackCurrentCommand, equality holds
	// with the pre-statement watermark.
	require.Len(t, s.locks, baseline+2)
}

func TestExclusiveModeReentrancy(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	already := s.EnterExclusiveMode(ctx)
	require.False(t, already)
	require.Equal(t, scheduler.StatusExclusiveMode, s.Status())

	already = s.EnterExclusiveMode(ctx)
	require.True(t, already, "the same goroutine re-entering exclusive mode is a no-op")

	s.ExitExclusiveMode(ctx, scheduler.StatusTransactionNotStart)
	require.Equal(t, scheduler.StatusTransactionNotStart, s.Status())
}

func TestNextObjectIDMonotonic(t *testing.T) {
	s, _ := newTestSession(t)
	require.Equal(t, int64(1), s.NextObjectID())
	require.Equal(t, int64(2), s.NextObjectID())
}

func TestCancelAndCheckCanceled(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.CheckCanceled())
	s.Cancel()
	require.Error(t, s.CheckCanceled())
}

func TestCloseIsIdempotent(t *testing.T) {
	s, db := newTestSession(t)
	ctx := context.Background()
	s.Close(ctx)
	s.Close(ctx)
	require.Equal(t, []int{1}, db.deregistered, "Close must deregister exactly once")
}

func TestCommitLocalReleasesLocksAndResetsStatus(t *testing.T) {
	s, _ := newTestSession(t)
	ctx := context.Background()

	s.StartCurrentCommand(ctx)
	s.LockObject(ctx, "table:t1")
	require.NoError(t, s.Commit(ctx, ""))
	require.Empty(t, s.locks)
	require.Equal(t, scheduler.StatusTransactionNotStart, s.Status())
}

func TestSettingsSnapshot(t *testing.T) {
	s, _ := newTestSession(t)
	s.SetSchema("public")
	s.SetLockTimeoutMS(500)
	s.SetIsolationLevel(kv.Serializable)

	settings := s.Settings()
	require.Equal(t, "public", settings["SCHEMA"])
	require.Equal(t, 500, settings["LOCK_TIMEOUT"])
	require.Equal(t, "SERIALIZABLE", settings["TRANSACTION_ISOLATION_LEVEL"])
}

func TestParseConnectionInfoVariants(t *testing.T) {
	info, err := ParseConnectionInfo("lealone:tcp://10.0.0.1:9210/mydb?user=a&pass=b")
	require.NoError(t, err)
	require.Equal(t, "tcp", info.Scheme)
	require.Equal(t, "10.0.0.1:9210", info.HostPort)
	require.Equal(t, "mydb", info.DBName)
	require.Equal(t, "a", info.Params["user"])

	info, err = ParseConnectionInfo("lealone:mem:/mydb")
	require.NoError(t, err)
	require.Equal(t, "mem", info.Scheme)
	require.Equal(t, "mydb", info.DBName)

	_, err = ParseConnectionInfo("postgres://localhost/mydb")
	require.Error(t, err)
}

func TestDistributedCommitAcrossParticipant(t *testing.T) {
	root, rootDB := newTestSession(t)
	nested := New(Config{
		ID: 2, DB: rootDB, TxnLog: kv.NewMemLog(),
		LockManager: concurrency.NewManager(nil), Resolver: replication.NewResolver(), QueryCacheSize: 10,
	})
	ctx := context.Background()

	root.StartCurrentCommand(ctx)
	root.AddParticipant(ctx, "10.0.0.9:7000", nested)
	nested.StartCurrentCommand(ctx)

	require.NoError(t, root.Commit(ctx, ""))
	require.Equal(t, scheduler.StatusTransactionNotStart, root.Status())
}
