package resources

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lealone-go/sessioncore/pkg/util/cache"
	"github.com/lealone-go/sessioncore/pkg/util/errcode"
)

type closeRecorder struct{ closed bool }

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestAddTempTableDuplicate(t *testing.T) {
	r := New(10)
	require.NoError(t, r.AddTempTable("t1", 1, false, false))
	err := r.AddTempTable("t1", 2, false, false)
	require.Error(t, err)
	require.True(t, errcode.Is(err, errcode.TableAlreadyExists))
}

func TestTemporaryResultsBounded(t *testing.T) {
	r := New(10)
	for i := 0; i < maxTemporaryResults+10; i++ {
		r.AddTemporaryResult(&closeRecorder{})
	}
	require.Len(t, r.temporaryResults, maxTemporaryResults)
}

func TestFlushTemporaryResultsCloses(t *testing.T) {
	r := New(10)
	c1, c2 := &closeRecorder{}, &closeRecorder{}
	r.AddTemporaryResult(c1)
	r.AddTemporaryResult(c2)
	require.NoError(t, r.FlushTemporaryResults())
	require.True(t, c1.closed)
	require.True(t, c2.closed)
	require.Empty(t, r.temporaryResults)
}

func TestUnlinkLOBClosesDisplaced(t *testing.T) {
	r := New(10)
	old := &closeRecorder{}
	r.UnlinkLOB("id-1", old)
	require.False(t, old.closed)

	replacement := &closeRecorder{}
	r.UnlinkLOB("id-1", replacement)
	require.True(t, old.closed, "overwriting a pending LOB closes the displaced value immediately")

	require.NoError(t, r.FlushLOBUnlinkSet())
	require.True(t, replacement.closed)
}

func TestQueryCacheInvalidatesOnModificationMetaIDChange(t *testing.T) {
	r := New(10)
	r.QueryCachePut("select 1", "plan-v1", 5)

	plan, ok := r.QueryCacheGet("select 1", 5)
	require.True(t, ok)
	require.Equal(t, "plan-v1", plan)

	_, ok = r.QueryCacheGet("select 1", 6)
	require.False(t, ok, "a changed modificationMetaId must invalidate the whole cache")

	r.QueryCachePut("select 1", "plan-v2", 6)
	plan, ok = r.QueryCacheGet("select 1", 6)
	require.True(t, ok)
	require.Equal(t, "plan-v2", plan)
}

func TestCursorCacheLazyInit(t *testing.T) {
	r := New(10)
	c := r.CursorCache(func() *cache.ExpiringMap[Closer] {
		return cache.NewExpiringMap[Closer](0)
	})
	require.NotNil(t, c)
	require.Same(t, c, r.CursorCache(func() *cache.ExpiringMap[Closer] {
		t.Fatal("should not be called twice")
		return nil
	}))
}

func TestOnCommitDropAndTruncate(t *testing.T) {
	r := New(10)
	require.NoError(t, r.AddTempTable("drop-me", nil, true, false))
	require.NoError(t, r.AddTempTable("truncate-me", nil, false, true))
	require.NoError(t, r.AddTempTable("keep-me", nil, false, false))

	var dropped, truncated []string
	r.OnCommit(
		func(name string) { dropped = append(dropped, name) },
		func(name string) { truncated = append(truncated, name) },
	)

	require.Equal(t, []string{"drop-me"}, dropped)
	require.Equal(t, []string{"truncate-me"}, truncated)
	_, stillThere := r.TempTable("keep-me")
	require.True(t, stillThere)
	_, stillThere = r.TempTable("drop-me")
	require.False(t, stillThere)
}
