package concurrency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testHolder int

func (h testHolder) SessionID() int { return int(h) }

type recordingListener struct {
	granted bool
	timeout error
}

func (l *recordingListener) OnGranted()       { l.granted = true }
func (l *recordingListener) OnTimeout(e error) { l.timeout = e }

func TestDbObjectLockFIFOGrant(t *testing.T) {
	lock := NewDbObjectLock("t1", nil)

	require.True(t, lock.TryLock(testHolder(1), 0, nil))
	require.Equal(t, testHolder(1), lock.Holder())

	waiter2 := &recordingListener{}
	require.False(t, lock.TryLock(testHolder(2), 0, waiter2))

	waiter3 := &recordingListener{}
	require.False(t, lock.TryLock(testHolder(3), 0, waiter3))

	lock.Unlock(testHolder(1), true, nil)
	require.Equal(t, testHolder(2), lock.Holder())
	require.True(t, waiter2.granted)
	require.False(t, waiter3.granted)

	lock.Unlock(testHolder(2), true, nil)
	require.Equal(t, testHolder(3), lock.Holder())
	require.True(t, waiter3.granted)
}

func TestDbObjectLockReentrant(t *testing.T) {
	lock := NewDbObjectLock("t1", nil)
	require.True(t, lock.TryLock(testHolder(1), 0, nil))
	require.True(t, lock.TryLock(testHolder(1), 0, nil))
}

func TestDbObjectLockTransferToNewOwner(t *testing.T) {
	lock := NewDbObjectLock("t1", nil)
	require.True(t, lock.TryLock(testHolder(1), 0, nil))
	w2 := &recordingListener{}
	lock.TryLock(testHolder(2), 0, w2)

	lock.Unlock(testHolder(1), true, testHolder(2))
	require.Equal(t, testHolder(2), lock.Holder())
	require.False(t, w2.granted, "transfer bypasses the normal grant notification")
}

func TestDbObjectLockTimeout(t *testing.T) {
	lock := NewDbObjectLock("t1", nil)
	require.True(t, lock.TryLock(testHolder(1), 0, nil))

	start := time.Now()
	waiterListener := &recordingListener{}
	lock.mu.Lock()
	lock.queue = append(lock.queue, &waiter{
		holder:        testHolder(99),
		listener:      waiterListener,
		enqueuedAt:    start,
		lockTimeoutMS: 10,
	})
	lock.mu.Unlock()

	lock.CheckTimeouts(start.Add(20 * time.Millisecond))
	require.Empty(t, lock.queue)
	require.Error(t, waiterListener.timeout)
}

func TestRetryReplicationNames(t *testing.T) {
	lock := NewDbObjectLock("t1", nil)
	lock.SetRetryReplicationNames([]string{"r1", "r2"})
	require.Equal(t, []string{"r1", "r2"}, lock.RetryReplicationNames())
}
