package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCommand struct {
	sessionID int
	ran       bool
}

func (c *fakeCommand) PacketID() int   { return 1 }
func (c *fakeCommand) SessionID() int  { return c.sessionID }
func (c *fakeCommand) Priority() int   { return 0 }
func (c *fakeCommand) Run(ctx context.Context) { c.ran = true }
func (c *fakeCommand) Stop()           {}

type fakeSession struct {
	id           int
	status       SessionStatus
	cmd          Command
	inReplication bool
	timedOut     bool
	timeoutErr   error
}

func (s *fakeSession) SessionID() int              { return s.id }
func (s *fakeSession) Status() SessionStatus        { return s.status }
func (s *fakeSession) YieldableCommand() Command    { return s.cmd }
func (s *fakeSession) IsInReplicationMode() bool    { return s.inReplication }
func (s *fakeSession) CheckTransactionTimeout() (bool, error) {
	return s.timedOut, s.timeoutErr
}

func TestGetYieldableCommandNoCommand(t *testing.T) {
	s := &fakeSession{id: 1, status: StatusTransactionNotCommit}
	require.Nil(t, GetYieldableCommand(s, false, nil))
}

func TestGetYieldableCommandDispatchable(t *testing.T) {
	cmd := &fakeCommand{sessionID: 1}
	s := &fakeSession{id: 1, status: StatusTransactionNotCommit, cmd: cmd}
	require.Same(t, Command(cmd), GetYieldableCommand(s, false, nil))
}

func TestGetYieldableCommandBlockedStatuses(t *testing.T) {
	for _, st := range []SessionStatus{StatusWaiting, StatusTransactionCommitting, StatusExclusiveMode, StatusStatementRunning} {
		s := &fakeSession{id: 1, status: st, cmd: &fakeCommand{sessionID: 1}}
		require.Nil(t, GetYieldableCommand(s, false, nil), "status %s must not be dispatchable", st)
	}
}

type recordingTimeoutListener struct {
	sessionID int
	err       error
}

func (l *recordingTimeoutListener) OnTimeout(sessionID int, err error) {
	l.sessionID = sessionID
	l.err = err
}

func TestGetYieldableCommandWaitingChecksTimeout(t *testing.T) {
	s := &fakeSession{id: 7, status: StatusWaiting, cmd: &fakeCommand{sessionID: 7}, timedOut: true, timeoutErr: assert.AnError}
	listener := &recordingTimeoutListener{}
	require.Nil(t, GetYieldableCommand(s, true, listener))
	require.Equal(t, 7, listener.sessionID)
	require.ErrorIs(t, listener.err, assert.AnError)
}

func TestGetYieldableCommandWaitingSkipsTimeoutUnderReplication(t *testing.T) {
	s := &fakeSession{id: 7, status: StatusWaiting, cmd: &fakeCommand{sessionID: 7}, inReplication: true, timedOut: true}
	listener := &recordingTimeoutListener{}
	require.Nil(t, GetYieldableCommand(s, true, listener))
	require.Zero(t, listener.sessionID)
}
