package server

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/lealone-go/sessioncore/pkg/concurrency"
	"github.com/lealone-go/sessioncore/pkg/kv"
	"github.com/lealone-go/sessioncore/pkg/replication"
	"github.com/lealone-go/sessioncore/pkg/scheduler"
	"github.com/lealone-go/sessioncore/pkg/sql"
	"github.com/lealone-go/sessioncore/pkg/util/errcode"
	"github.com/lealone-go/sessioncore/pkg/util/log"
	"github.com/lealone-go/sessioncore/pkg/util/stop"
	"github.com/lealone-go/sessioncore/pkg/util/syncutil"
)

// Database is the owning-database collaborator named in pkg/sql's
// Database interface: it hands out parsers, tracks the catalog
// modification counter the query cache invalidates against, and owns
// the session registry plus the shared LockManager/ReplicationResolver/
// YieldableScheduler every Session it creates is wired to. Grounded on
// the way pkg/server/server.go owns a *sql.Server and the node's shared
// KV/lease/lock subsystems.
type Database struct {
	cfg Config

	stopper  *stop.Stopper
	locks    *concurrency.Manager
	resolver *replication.Resolver
	sched    *scheduler.Scheduler
	txnLog   kv.Log

	mu            syncutil.Mutex
	sessions      map[int]*sql.Session
	modMetaID     int64
	nextSessionID int64
}

// New constructs a Database, applying opts over the defaults, and starts
// its background workers (lock sweeper, scheduler handlers) bound to the
// given stopper.
func New(stopper *stop.Stopper, txnLog kv.Log, opts ...Option) *Database {
	cfg := defaultConfig()
	for _, o := range opts {
		o.apply(&cfg)
	}

	d := &Database{
		cfg:      cfg,
		stopper:  stopper,
		locks:    concurrency.NewManager(cfg.Registerer),
		resolver: replication.NewResolver(),
		txnLog:   txnLog,
		sessions: make(map[int]*sql.Session),
	}
	d.locks.RunSweeper(stopper, cfg.LockSweepInterval)

	d.sched = scheduler.New(scheduler.Config{
		HandlerCount: cfg.HandlerCount,
		PollInterval: cfg.SchedulerPoll,
		Registerer:   cfg.Registerer,
	})
	d.sched.Run(stopper, d)
	return d
}

// Connect creates a new Session for one client connection and registers
// it with the scheduler (spec §4.1 "a session is born attached to the
// database that owns it").
func (d *Database) Connect(conn *sql.ConnectionInfo, user string) *sql.Session {
	id := int(atomic.AddInt64(&d.nextSessionID, 1))
	s := sql.New(sql.Config{
		ID:             id,
		DB:             d,
		User:           user,
		Conn:           conn,
		TxnLog:         d.txnLog,
		LockManager:    d.locks,
		Resolver:       d.resolver,
		QueryCacheSize: d.cfg.QueryCacheSize,
	})

	d.mu.Lock()
	d.sessions[id] = s
	d.mu.Unlock()

	d.sched.Submit(s)
	return s
}

// CreateParser implements sql.Database, delegating to the configured
// ParserFactory. The SQL parser/planner is an external collaborator per
// spec §1 Non-goals, so a Database built without WithParserFactory
// fails every Prepare call rather than silently no-op'ing.
func (d *Database) CreateParser(s *sql.Session) sql.Parser {
	if d.cfg.ParserFactory == nil {
		return noParser{}
	}
	return d.cfg.ParserFactory(s)
}

// ModificationMetaID implements sql.Database: a monotonic counter bumped
// by NotifyCatalogChange whenever DDL commits, driving query-cache
// invalidation (spec §4.1).
func (d *Database) ModificationMetaID() int64 {
	return atomic.LoadInt64(&d.modMetaID)
}

// NotifyCatalogChange bumps the modification counter. The storage/catalog
// layer that actually executes DDL is out of scope for this core (spec
// §1); callers invoke this once a DDL statement commits.
func (d *Database) NotifyCatalogChange() {
	atomic.AddInt64(&d.modMetaID, 1)
}

// MaxQueryTimeoutMS implements sql.Database.
func (d *Database) MaxQueryTimeoutMS() int { return d.cfg.MaxQueryTimeoutMS }

// Deregister implements sql.Database, called from Session.Close.
func (d *Database) Deregister(sessionID int) {
	d.mu.Lock()
	delete(d.sessions, sessionID)
	d.mu.Unlock()
	d.sched.Remove(sessionID)
}

// Session looks up a registered session by id, for a transport layer
// routing an incoming packet to the session it targets.
func (d *Database) Session(id int) (*sql.Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[id]
	return s, ok
}

// OnTimeout implements scheduler.TimeoutListener: a transaction-level
// timeout (distinct from the lock-wait timeout, which
// concurrency.DbObjectLock's own sweeper handles) rolls the offending
// session's transaction back.
func (d *Database) OnTimeout(sessionID int, err error) {
	d.mu.Lock()
	s, ok := d.sessions[sessionID]
	d.mu.Unlock()
	if !ok {
		return
	}
	log.Warningf(context.Background(), "session %d: transaction timed out: %v", sessionID, err)
	if rbErr := s.Rollback(context.Background()); rbErr != nil {
		log.Warningf(context.Background(), "session %d: rollback after timeout failed: %v", sessionID, rbErr)
	}
}

// Close drains every registered session and stops background workers.
func (d *Database) Close(ctx context.Context) {
	d.mu.Lock()
	sessions := make([]*sql.Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *sql.Session) {
			defer wg.Done()
			s.Close(ctx)
		}(s)
	}
	wg.Wait()
	d.stopper.Stop()
}

// noParser is the zero-value Parser returned when a Database is wired
// without WithParserFactory: every Parse call fails rather than being a
// silent no-op, since an un-parseable statement is a configuration bug,
// not a runtime condition to recover from quietly.
type noParser struct{}

func (noParser) Parse(sqlText string) (sql.ParsedStatement, error) {
	return nil, errcode.Newf(errcode.InvalidValue, "no SQL parser configured for this database")
}
