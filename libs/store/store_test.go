package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateCall(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	callID, sessionID, err := s.CreateCall(ctx, NewCall{CallerID: "+15551234567", BusinessID: "biz_1", BusinessName: "Bella Salon"})
	require.NoError(t, err)

	call, err := s.GetCall(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, "biz_1", call.BusinessID)
	assert.Equal(t, "Bella Salon", call.BusinessName)
	assert.Equal(t, callID, call.Room)
	assert.Equal(t, CallNew, call.Status)

	sess, err := s.GetSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, callID, sess.CallID)
	assert.Equal(t, "caller", sess.Type)
	assert.False(t, sess.Token.Valid)

	_, _, err = s.CreateCall(ctx, NewCall{})
	assert.Error(t, err)

	named, _, err := s.CreateCall(ctx, NewCall{ID: "room-7", CallerID: "sip"})
	require.NoError(t, err)
	assert.Equal(t, "room-7", named)
	_, _, err = s.CreateCall(ctx, NewCall{ID: "room-7", CallerID: "sip"})
	assert.Error(t, err)
}

func TestSessionToken(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	callID, sessionID, err := s.CreateCall(ctx, NewCall{CallerID: "c", BusinessID: "biz_1"})
	require.NoError(t, err)

	require.NoError(t, s.UpdateSessionToken(ctx, sessionID, "tok"))
	tok, err := s.GetSessionToken(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)

	agentID, err := s.CreateSession(ctx, callID, "agent", "agent", "active")
	require.NoError(t, err)
	require.NoError(t, s.UpdateSessionStatus(ctx, agentID, "ended"))
	sess, err := s.GetSession(ctx, agentID)
	require.NoError(t, err)
	assert.Equal(t, "ended", sess.Status)
}

func TestNotFound(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	_, err := s.GetCall(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetSessionToken(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateCallStatus(ctx, "missing", CallEnded), ErrNotFound)
	assert.ErrorIs(t, s.UpdateSessionStatus(ctx, "missing", "x"), ErrNotFound)
}

func TestToolInvocations(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.RecordToolInvocation(ctx, ToolInvocation{CallID: "call-1", Tool: "check_availability", Arguments: `{"date":"2024-06-01"}`, Output: "I have openings", Outcome: "ok", CreatedAt: 10}))
	require.NoError(t, s.RecordToolInvocation(ctx, ToolInvocation{CallID: "call-1", Tool: "book_appointment", Outcome: "ok", CreatedAt: 20}))
	require.NoError(t, s.RecordToolInvocation(ctx, ToolInvocation{CallID: "call-2", Tool: "check_availability", Outcome: "ok"}))

	got, err := s.ListToolInvocations(ctx, "call-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "check_availability", got[0].Tool)
	assert.Equal(t, "I have openings", got[0].Output)
	assert.Equal(t, "book_appointment", got[1].Tool)
	assert.NotEmpty(t, got[0].ID)

	none, err := s.ListToolInvocations(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, none)
}
