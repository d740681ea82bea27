package sql

import (
	"context"

	"github.com/lealone-go/sessioncore/pkg/resources"
	"github.com/lealone-go/sessioncore/pkg/util/errcode"
	"github.com/lealone-go/sessioncore/pkg/util/log"
)

// Prepare parses and prepares sql, consulting the query cache if
// enabled (spec §4.1). It fails with errcode.ConnectionBroken if the
// session is closed. A cache hit requires PreparedStatement.CanReuse();
// on hit, Reuse() resets the statement's reusable state before it is
// returned.
func (s *Session) Prepare(sql string, fetchSize int) (PreparedStatement, error) {
	if s.IsClosed() {
		return nil, errcode.Newf(errcode.ConnectionBroken, "session %d is closed", s.id)
	}

	metaID := s.db.ModificationMetaID()
	if cached, ok := s.resources.QueryCacheGet(sql, metaID); ok {
		stmt := cached.(PreparedStatement)
		if stmt.CanReuse() {
			stmt.Reuse()
			stmt.SetFetchSize(fetchSize)
			return stmt, nil
		}
	}

	log.VEventf(context.Background(), 3, "session %d: parsing %s", s.id, log.SQLText(sql))

	// Concurrent cache misses for the same sql text (e.g. two statements
	// racing on a just-invalidated cache) share one parse/prepare call
	// instead of each paying the parser cost.
	v, err, _ := s.prepareGroup.Do(sql, func() (interface{}, error) {
		parser := s.db.CreateParser(s)
		parsed, err := parser.Parse(sql)
		if err != nil {
			return nil, err
		}
		stmt, err := parsed.Prepare()
		if err != nil {
			return nil, err
		}
		if stmt.IsCacheable() {
			s.resources.QueryCachePut(sql, stmt, metaID)
		}
		return stmt, nil
	})
	if err != nil {
		return nil, err
	}
	stmt := v.(PreparedStatement)
	stmt.SetFetchSize(fetchSize)
	return stmt, nil
}

// SetVariable replaces (or, for a NULL value, removes) a session
// variable. An evicted LOB value is unlinked and closed, and the
// session modification counter is incremented (spec §4.1).
func (s *Session) SetVariable(name string, value interface{}) {
	s.mu.Lock()
	old, hadOld := s.sessionVariables[name]
	if value == nil {
		delete(s.sessionVariables, name)
	} else {
		s.sessionVariables[name] = value
	}
	s.modificationCounter++
	s.mu.Unlock()

	if hadOld {
		if lob, ok := old.(resources.Closer); ok {
			if err := lob.Close(); err != nil {
				log.Warningf(context.Background(), "session %d: error closing evicted LOB for %q: %v", s.id, name, err)
			}
		}
	}
}

// GetVariable returns the value of name, or nil if unset.
func (s *Session) GetVariable(name string) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionVariables[name]
}
