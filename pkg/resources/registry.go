// Package resources implements the ResourceRegistry component (spec
// §4.6): per-session lifetime management for temp tables/indexes/
// constraints, bounded temporary-result handles, the LOB unlink set,
// the query cache, and the cursor/prepared-statement cache. Grounded on
// ServerSession.java's localTempTables/temporaryResults/unlinkLobMap/
// queryCache/cache fields, and on the Config/ShouldEvict contract
// exercised by the teacher's pkg/util/cache tests for the LRU query
// cache.
package resources

import (
	"github.com/cockroachdb/errors"

	"github.com/lealone-go/sessioncore/pkg/util/cache"
	"github.com/lealone-go/sessioncore/pkg/util/errcode"
	"github.com/lealone-go/sessioncore/pkg/util/syncutil"
)

// maxTemporaryResults bounds the temporary-result handle set (spec
// §4.6: "cap 100, silently ignore further adds").
const maxTemporaryResults = 100

// Closer matches cache.Closer; re-exported so callers outside this
// package don't need to import pkg/util/cache directly.
type Closer = cache.Closer

// namedObject is any of the temp table/index/constraint kinds tracked by
// name, with commit-time disposition flags (spec §4.6).
type namedObject struct {
	onCommitDrop     bool
	onCommitTruncate bool
	value            interface{}
}

// Registry is the ResourceRegistry component, scoped to a single
// session.
type Registry struct {
	mu syncutil.Mutex

	tempTables      map[string]*namedObject
	tempIndexes     map[string]*namedObject
	tempConstraints map[string]*namedObject

	temporaryResults []Closer

	lobUnlinkSet map[string]Closer

	queryCache           *cache.Cache[string, interface{}]
	queryCacheSnapshotID int64

	cursorCache *cache.ExpiringMap[Closer]
}

// New constructs an empty Registry. queryCacheSize bounds the number of
// cached prepared query plans; the cursor cache is created later, on the
// first CursorCache call.
func New(queryCacheSize int) *Registry {
	r := &Registry{
		tempTables:      make(map[string]*namedObject),
		tempIndexes:     make(map[string]*namedObject),
		tempConstraints: make(map[string]*namedObject),
		lobUnlinkSet:    make(map[string]Closer),
	}
	r.queryCache = cache.New(cache.Config[string, interface{}]{
		Policy: cache.CacheLRU,
		ShouldEvict: func(size int, key string, value interface{}) bool {
			return size > queryCacheSize
		},
	})
	return r
}

// AddTempTable registers a temp table by name, failing with
// errcode.TableAlreadyExists on a duplicate.
func (r *Registry) AddTempTable(name string, value interface{}, onCommitDrop, onCommitTruncate bool) error {
	return addNamed(&r.mu, r.tempTables, name, value, onCommitDrop, onCommitTruncate, errcode.TableAlreadyExists)
}

// AddTempIndex registers a temp index by name, failing with
// errcode.IndexAlreadyExists on a duplicate.
func (r *Registry) AddTempIndex(name string, value interface{}, onCommitDrop, onCommitTruncate bool) error {
	return addNamed(&r.mu, r.tempIndexes, name, value, onCommitDrop, onCommitTruncate, errcode.IndexAlreadyExists)
}

// AddTempConstraint registers a temp constraint by name, failing with
// errcode.ConstraintAlreadyExists on a duplicate.
func (r *Registry) AddTempConstraint(name string, value interface{}, onCommitDrop, onCommitTruncate bool) error {
	return addNamed(&r.mu, r.tempConstraints, name, value, onCommitDrop, onCommitTruncate, errcode.ConstraintAlreadyExists)
}

func addNamed(mu *syncutil.Mutex, m map[string]*namedObject, name string, value interface{}, onCommitDrop, onCommitTruncate bool, dupCode *errcode.Code) error {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := m[name]; exists {
		return errcode.Newf(dupCode, "%q already exists", name)
	}
	m[name] = &namedObject{onCommitDrop: onCommitDrop, onCommitTruncate: onCommitTruncate, value: value}
	return nil
}

// TempTable returns the value registered for name, if any.
func (r *Registry) TempTable(name string) (interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.tempTables[name]
	if !ok {
		return nil, false
	}
	return o.value, true
}

// AddTemporaryResult adds a cursor handle to the bounded temporary-result
// set. Once the set is at capacity, further adds are silently ignored
// (spec §4.6), matching the original's bounded set.
func (r *Registry) AddTemporaryResult(c Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.temporaryResults) >= maxTemporaryResults {
		return
	}
	r.temporaryResults = append(r.temporaryResults, c)
}

// FlushTemporaryResults closes and clears every tracked temporary
// result, called from Session.stopCurrentCommand (spec §4.1).
func (r *Registry) FlushTemporaryResults() error {
	r.mu.Lock()
	results := r.temporaryResults
	r.temporaryResults = nil
	r.mu.Unlock()

	var errs error
	for _, c := range results {
		if err := c.Close(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

// UnlinkLOB records a LOB for unlinking at the next commit, keyed by its
// stringified value identity (spec §4.6; §3 "LOBs-to-unlink-at-commit").
// A LOB that is overwritten before commit is closed immediately, the way
// setVariable unlinks an evicted LOB value (spec §4.1).
func (r *Registry) UnlinkLOB(identity string, lob Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.lobUnlinkSet[identity]; ok {
		_ = old.Close()
	}
	r.lobUnlinkSet[identity] = lob
}

// FlushLOBUnlinkSet closes every LOB registered since the last flush.
// Spec §4.2 requires this to run only after the commit-log flush.
func (r *Registry) FlushLOBUnlinkSet() error {
	r.mu.Lock()
	lobs := r.lobUnlinkSet
	r.lobUnlinkSet = make(map[string]Closer)
	r.mu.Unlock()

	var errs error
	for _, lob := range lobs {
		if err := lob.Close(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

// QueryCacheGet looks up sql in the query cache, invalidating the whole
// cache first if currentModificationMetaID has advanced past the
// snapshot taken when the cache was last (re)populated (spec §4.1:
// "cache is cleared and repopulated whenever database.modificationMetaId
// changes relative to the snapshot taken when the cache was first
// created").
func (r *Registry) QueryCacheGet(sql string, currentModificationMetaID int64) (interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if currentModificationMetaID != r.queryCacheSnapshotID {
		r.queryCache.Clear()
		r.queryCacheSnapshotID = currentModificationMetaID
		return nil, false
	}
	return r.queryCache.Get(sql)
}

// QueryCachePut stores a prepared plan under sql, stamping the snapshot
// id if the cache was empty.
func (r *Registry) QueryCachePut(sql string, plan interface{}, currentModificationMetaID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queryCache.Len() == 0 {
		r.queryCacheSnapshotID = currentModificationMetaID
	}
	r.queryCache.Add(sql, plan)
}

// CursorCache returns the session's expiring cursor/prepared-statement
// cache, creating it on first use by calling ttl.
func (r *Registry) CursorCache(ttl func() *cache.ExpiringMap[Closer]) *cache.ExpiringMap[Closer] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cursorCache == nil {
		r.cursorCache = ttl()
	}
	return r.cursorCache
}

// OnCommit drops tables marked onCommitDrop, truncates those marked
// onCommitTruncate, and leaves the rest until session close (spec
// §4.6). truncate is invoked by the caller to perform the actual
// storage-layer truncation; this registry only tracks which names need
// it.
func (r *Registry) OnCommit(drop func(name string), truncate func(name string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range []map[string]*namedObject{r.tempTables, r.tempIndexes, r.tempConstraints} {
		for name, o := range m {
			switch {
			case o.onCommitDrop:
				drop(name)
				delete(m, name)
			case o.onCommitTruncate:
				truncate(name)
			}
		}
	}
}

// Close closes the cursor cache, every LOB in the unlink set, and every
// tracked temporary result. Registered temp tables/indexes/constraints
// are not dropped or removed by Close, and Session.Close does not drop
// them either.
func (r *Registry) Close() error {
	r.mu.Lock()
	cursorCache := r.cursorCache
	r.cursorCache = nil
	r.mu.Unlock()

	var errs error
	if cursorCache != nil {
		cursorCache.Close()
	}
	if err := r.FlushLOBUnlinkSet(); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	if err := r.FlushTemporaryResults(); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	return errs
}
