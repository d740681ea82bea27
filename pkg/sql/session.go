package sql

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/petermattis/goid"
	"golang.org/x/sync/singleflight"

	"github.com/lealone-go/sessioncore/pkg/concurrency"
	"github.com/lealone-go/sessioncore/pkg/kv"
	"github.com/lealone-go/sessioncore/pkg/replication"
	"github.com/lealone-go/sessioncore/pkg/resources"
	"github.com/lealone-go/sessioncore/pkg/scheduler"
	"github.com/lealone-go/sessioncore/pkg/util/errcode"
	"github.com/lealone-go/sessioncore/pkg/util/fsm"
	"github.com/lealone-go/sessioncore/pkg/util/log"
	"github.com/lealone-go/sessioncore/pkg/util/syncutil"
	"github.com/lealone-go/sessioncore/pkg/util/timeutil"
)

// lockEntry wraps an acquired lock; its position in Session.locks is
// the order in which it was taken (spec §3: "active locks (ordered
// sequence, insertion order significant for rollback windowing)").
type lockEntry struct {
	lock *concurrency.DbObjectLock
}

// Session is the Session component (spec §4.1): identity, transaction
// ownership, statement preparation, and command lifecycle for one
// client connection. Grounded on ServerSession.java's field layout and
// method set, adapted to Go idiom (explicit error returns, no
// inheritance from an abstract base session).
type Session struct {
	id int

	db       Database
	user     string
	conn     *ConnectionInfo

	mu syncutil.Mutex

	schema     string
	searchPath []string

	lockTimeoutMS  int
	queryTimeoutMS int
	throttleMS     int
	lastThrottle   time.Time

	isolation  kv.IsolationLevel
	autoCommit bool
	root       bool

	status          scheduler.SessionStatus
	replicationName string
	inReplication   bool

	commitDisabled bool // "commit disabled" flag protecting nested statements

	locks []lockEntry

	currentStatementLockIndex int
	currentStatementSavepoint int

	sessionVariables map[string]interface{}
	procedures       map[string]interface{}

	nextObjectID int64

	lastIdentity      interface{}
	lastScopeIdentity interface{}

	modificationCounter int64

	cancelAt time.Time

	closed bool

	yieldable scheduler.Command

	coordinator *kv.Coordinator
	lockManager LockRegistry
	resolver    *replication.Resolver
	resources   *resources.Registry
	remoteFactory RemoteSessionFactory

	nestedSessions map[string]*Session // peer host:port -> Session

	prepareGroup singleflight.Group // de-dupes concurrent cache-miss parses of the same sql

	exclusiveOwnerGoroutineID int64

	machine *fsm.Machine
}

// Config carries the constructor-time dependencies a Session needs from
// the rest of the core (spec §3's "owning Database handle" plus the
// collaborators each lower-level component provides).
type Config struct {
	ID            int
	DB            Database
	User          string
	Conn          *ConnectionInfo
	TxnLog        TransactionLog
	LockManager   LockRegistry
	Resolver      *replication.Resolver
	QueryCacheSize int
	RemoteFactory RemoteSessionFactory
	Root          bool
}

// New constructs a Session in its initial TRANSACTION_NOT_START status,
// auto-commit on, isolation level READ_COMMITTED (spec §3 default).
func New(cfg Config) *Session {
	return &Session{
		id:               cfg.ID,
		db:               cfg.DB,
		user:             cfg.User,
		conn:             cfg.Conn,
		isolation:        kv.ReadCommitted,
		autoCommit:       true,
		root:             cfg.Root,
		status:           scheduler.StatusTransactionNotStart,
		sessionVariables: make(map[string]interface{}),
		procedures:       make(map[string]interface{}),
		coordinator:      kv.NewCoordinator(cfg.TxnLog),
		lockManager:      cfg.LockManager,
		resolver:         cfg.Resolver,
		resources:        resources.New(cfg.QueryCacheSize),
		remoteFactory:    cfg.RemoteFactory,
		nestedSessions:   make(map[string]*Session),
	}
}

func (s *Session) SessionID() int { return s.id }

// Resources exposes the session's ResourceRegistry, used by statement
// execution to stash temp tables, LOBs, and cursor handles.
func (s *Session) Resources() *resources.Registry { return s.resources }

// Status returns the current session status.
func (s *Session) Status() scheduler.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(ctx context.Context, next scheduler.SessionStatus) {
	s.mu.Lock()
	prev := s.status
	s.status = next
	s.mu.Unlock()
	if prev != next {
		log.VEventf(ctx, 2, "session %d: status %s -> %s", s.id, prev, next)
	}
}

// IsInReplicationMode reports whether the session is presently running
// a replication retry flow (spec §4.5 dispatch gate step 2).
func (s *Session) IsInReplicationMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inReplication
}

// YieldableCommand returns the session's single in-flight command, or
// nil (spec §4.5: "a session can have at most one in-flight yieldable
// command").
func (s *Session) YieldableCommand() scheduler.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.yieldable
}

// SetYieldableCommand installs the session's in-flight command,
// rejecting a second one unless the session is in a replication flow
// (spec §4.5).
func (s *Session) SetYieldableCommand(cmd scheduler.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.yieldable != nil && !s.inReplication {
		return errcode.Newf(errcode.ConnectionBroken, "session %d already has an in-flight command", s.id)
	}
	s.yieldable = cmd
	return nil
}

// ClearYieldableCommand removes the in-flight command, called once it
// reaches a suspension point or completes.
func (s *Session) ClearYieldableCommand() {
	s.mu.Lock()
	s.yieldable = nil
	s.mu.Unlock()
}

// NextObjectID returns the next value of the per-session monotonic
// counter used to name anonymous temp objects (SPEC_FULL §D.1).
func (s *Session) NextObjectID() int64 {
	return atomic.AddInt64(&s.nextObjectID, 1)
}

// LastIdentity returns the last auto-generated row key from an INSERT
// (SPEC_FULL §D.2), for `SELECT last_insert_id()`-style follow-up.
func (s *Session) LastIdentity() interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIdentity
}

// SetLastIdentity records the most recent auto-generated row key.
func (s *Session) SetLastIdentity(v interface{}) {
	s.mu.Lock()
	s.lastIdentity = v
	s.mu.Unlock()
}

// LastScopeIdentity returns the last identity generated within the
// current statement's scope.
func (s *Session) LastScopeIdentity() interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastScopeIdentity
}

// SetLastScopeIdentity records the current statement's generated identity.
func (s *Session) SetLastScopeIdentity(v interface{}) {
	s.mu.Lock()
	s.lastScopeIdentity = v
	s.mu.Unlock()
}

// Throttle sleeps for the THROTTLE delay at most once per delay window
// when a throttle delay is configured (SPEC_FULL §D.3). The scheduler's
// dispatch loop does not call it; callers invoke it between yieldable
// steps.
func (s *Session) Throttle(ctx context.Context) {
	s.mu.Lock()
	ms := s.throttleMS
	last := s.lastThrottle
	s.mu.Unlock()
	if ms <= 0 {
		return
	}
	now := timeutil.Now()
	if now.Sub(last) < time.Duration(ms)*time.Millisecond {
		return
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
	case <-ctx.Done():
	}
	s.mu.Lock()
	s.lastThrottle = timeutil.Now()
	s.mu.Unlock()
}

// Settings returns a snapshot of the current §6.2 settings values
// (SPEC_FULL §D.5), used for diagnostics / SHOW ALL style introspection.
func (s *Session) Settings() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]interface{}{
		"LOCK_TIMEOUT":                 s.lockTimeoutMS,
		"QUERY_TIMEOUT":                s.queryTimeoutMS,
		"SCHEMA":                       s.schema,
		"SCHEMA_SEARCH_PATH":           append([]string(nil), s.searchPath...),
		"THROTTLE":                     s.throttleMS,
		"TRANSACTION_ISOLATION_LEVEL":  s.isolation.String(),
	}
}

// SetSchema sets the current schema name (spec §6.2 SCHEMA).
func (s *Session) SetSchema(name string) {
	s.mu.Lock()
	s.schema = name
	s.mu.Unlock()
}

// Schema returns the current schema name.
func (s *Session) Schema() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schema
}

// SetSearchPath sets the ordered list of schemas searched on name
// resolution (spec §6.2 SCHEMA_SEARCH_PATH).
func (s *Session) SetSearchPath(path []string) {
	s.mu.Lock()
	s.searchPath = append([]string(nil), path...)
	s.mu.Unlock()
}

// SetLockTimeoutMS sets the LOCK_TIMEOUT setting (spec §6.2).
func (s *Session) SetLockTimeoutMS(ms int) {
	s.mu.Lock()
	s.lockTimeoutMS = ms
	s.mu.Unlock()
}

// SetQueryTimeoutMS sets the QUERY_TIMEOUT setting, capped by the
// owning database's maximum (spec §6.2).
func (s *Session) SetQueryTimeoutMS(ms int) {
	if max := s.db.MaxQueryTimeoutMS(); max > 0 && ms > max {
		ms = max
	}
	s.mu.Lock()
	s.queryTimeoutMS = ms
	s.mu.Unlock()
}

// SetThrottleMS sets the THROTTLE setting (spec §6.2).
func (s *Session) SetThrottleMS(ms int) {
	s.mu.Lock()
	s.throttleMS = ms
	s.mu.Unlock()
}

// SetIsolationLevel sets the TRANSACTION_ISOLATION_LEVEL setting (spec §6.2).
func (s *Session) SetIsolationLevel(level kv.IsolationLevel) {
	s.mu.Lock()
	s.isolation = level
	s.mu.Unlock()
}

// IsolationLevel returns the current isolation level.
func (s *Session) IsolationLevel() kv.IsolationLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isolation
}

// Cancel records the wall-clock timestamp at which CheckCanceled will
// raise (spec §4.1 cancel()).
func (s *Session) Cancel() {
	s.mu.Lock()
	s.cancelAt = timeutil.Now()
	s.mu.Unlock()
}

// CheckCanceled raises errcode.StatementCanceled if Cancel was called
// at or before now.
func (s *Session) CheckCanceled() error {
	s.mu.Lock()
	cancelAt := s.cancelAt
	s.mu.Unlock()
	if cancelAt.IsZero() {
		return nil
	}
	if !timeutil.Now().Before(cancelAt) {
		return errcode.Newf(errcode.StatementCanceled, "session %d: statement was canceled", s.id)
	}
	return nil
}

// EnterExclusiveMode transitions the session to EXCLUSIVE_MODE, unless
// the calling goroutine already holds exclusive access to this session
// — the reentrancy short-circuit named in spec §5 ("the exclusive-mode
// check short-circuits if the current thread already holds the
// exclusive session's monitor"), ported using goroutine identity since
// Go has no synchronized/monitor construct (SPEC_FULL §D.4).
func (s *Session) EnterExclusiveMode(ctx context.Context) (alreadyOwned bool) {
	gid := goid.Get()
	s.mu.Lock()
	if s.exclusiveOwnerGoroutineID == gid {
		s.mu.Unlock()
		return true
	}
	s.exclusiveOwnerGoroutineID = gid
	prev := s.status
	s.status = scheduler.StatusExclusiveMode
	s.mu.Unlock()
	if prev != scheduler.StatusExclusiveMode {
		log.VEventf(ctx, 2, "session %d: entered exclusive mode", s.id)
	}
	return false
}

// ExitExclusiveMode releases exclusive-mode ownership acquired by
// EnterExclusiveMode, restoring restoreStatus.
func (s *Session) ExitExclusiveMode(ctx context.Context, restoreStatus scheduler.SessionStatus) {
	s.mu.Lock()
	s.exclusiveOwnerGoroutineID = 0
	s.status = restoreStatus
	s.mu.Unlock()
	log.VEventf(ctx, 2, "session %d: exited exclusive mode", s.id)
}

// Close releases nested sessions, closes the resource registry (cursor
// cache, LOB unlink set, temporary results), and deregisters from the
// database. Session-scoped temp tables are not dropped. Idempotent
// (spec §4.1 close()); a
// second call is a no-op, and close-time errors are swallowed (spec §7
// Propagation: "Errors during close are swallowed").
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	nested := s.nestedSessions
	s.nestedSessions = nil
	s.mu.Unlock()

	for _, n := range nested {
		if s.remoteFactory != nil {
			s.remoteFactory.Release(n)
		}
	}
	if err := s.resources.Close(); err != nil {
		log.Warningf(ctx, "session %d: error closing resources: %v", s.id, err)
	}
	s.db.Deregister(s.id)
}

// IsClosed reports whether Close has been called.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
