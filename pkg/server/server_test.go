package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lealone-go/sessioncore/pkg/kv"
	"github.com/lealone-go/sessioncore/pkg/sql"
	"github.com/lealone-go/sessioncore/pkg/util/stop"
)

func TestConnectRegistersAndDeregistersSession(t *testing.T) {
	stopper := stop.NewStopper()
	db := New(stopper, kv.NewMemLog(), WithSchedulerPollInterval(time.Millisecond))
	defer db.Close(context.Background())

	s := db.Connect(nil, "root")
	_, ok := db.Session(s.SessionID())
	require.True(t, ok)

	s.Close(context.Background())
	_, ok = db.Session(s.SessionID())
	require.False(t, ok)
}

func TestCreateParserWithoutFactoryFails(t *testing.T) {
	stopper := stop.NewStopper()
	db := New(stopper, kv.NewMemLog())
	defer db.Close(context.Background())

	s := db.Connect(nil, "root")
	_, err := s.Prepare("select 1", 0)
	require.Error(t, err)
}

func TestCreateParserDelegatesToFactory(t *testing.T) {
	stopper := stop.NewStopper()
	called := false
	db := New(stopper, kv.NewMemLog(), WithParserFactory(func(s *sql.Session) sql.Parser {
		called = true
		return fakeParser{}
	}))
	defer db.Close(context.Background())

	s := db.Connect(nil, "root")
	_, err := s.Prepare("select 1", 0)
	require.NoError(t, err)
	require.True(t, called)
}

func TestNotifyCatalogChangeAdvancesModificationMetaID(t *testing.T) {
	stopper := stop.NewStopper()
	db := New(stopper, kv.NewMemLog())
	defer db.Close(context.Background())

	before := db.ModificationMetaID()
	db.NotifyCatalogChange()
	require.Equal(t, before+1, db.ModificationMetaID())
}

type fakeParser struct{}

func (fakeParser) Parse(sqlText string) (sql.ParsedStatement, error) {
	return fakeParsedStatement{}, nil
}

type fakeParsedStatement struct{}

func (fakeParsedStatement) Prepare() (sql.PreparedStatement, error) {
	return fakePreparedStatement{}, nil
}

type fakePreparedStatement struct{}

func (fakePreparedStatement) SetLocal(bool)       {}
func (fakePreparedStatement) SetFetchSize(int)    {}
func (fakePreparedStatement) CanReuse() bool      { return false }
func (fakePreparedStatement) Reuse()              {}
func (fakePreparedStatement) IsDDL() bool         { return false }
func (fakePreparedStatement) IsDatabaseStatement() bool { return false }
func (fakePreparedStatement) IsIfDDL() bool       { return false }
func (fakePreparedStatement) IsCacheable() bool   { return false }
func (fakePreparedStatement) ID() int             { return 1 }
func (fakePreparedStatement) SQL() string         { return "select 1" }
func (fakePreparedStatement) Cancel()             {}
func (fakePreparedStatement) Close() error        { return nil }
