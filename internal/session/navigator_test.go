package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHalterSpy struct {
	calls []string
}

func (s *recordingHalterSpy) StopActive() { s.calls = append(s.calls, "stop") }
func (s *recordingHalterSpy) ResetQuota() { s.calls = append(s.calls, "reset") }

func TestNavigatorBoundariesAreNoOps(t *testing.T) {
	spy := &recordingHalterSpy{}
	n := NewNavigator(3, spy, nil)

	require.NoError(t, n.Previous())
	assert.Equal(t, 0, n.Current())

	require.NoError(t, n.Next())
	require.NoError(t, n.Next())
	require.NoError(t, n.Next())
	assert.Equal(t, 2, n.Current())

	assert.Equal(t, []string{"stop", "reset", "stop", "reset"}, spy.calls)
}

func TestNavigatorGoTo(t *testing.T) {
	spy := &recordingHalterSpy{}
	n := NewNavigator(4, spy, nil)

	assert.ErrorIs(t, n.GoTo(4), ErrOutOfRange)
	assert.ErrorIs(t, n.GoTo(-1), ErrOutOfRange)
	assert.Empty(t, spy.calls)

	require.NoError(t, n.GoTo(3))
	assert.Equal(t, 3, n.Current())
	assert.Equal(t, []string{"stop", "reset"}, spy.calls, "recording stops before the quota resets")
}

func TestNavigatorFrozen(t *testing.T) {
	frozen := false
	n := NewNavigator(2, nil, func() bool { return frozen })
	frozen = true
	assert.ErrorIs(t, n.GoTo(1), ErrSessionFrozen)
	assert.Equal(t, 0, n.Current())
}

func TestNavigatingAwayStopsRecordingAndResetsQuota(t *testing.T) {
	q1, q2 := viva(1), viva(2)
	store := storeFor(q1, q2)
	rec := NewRecorder(newFakeDevice(), store, RecorderConfig{ReRecordLimit: 1})
	require.NoError(t, rec.Open(context.Background()))
	n := NewNavigator(store.Len(), rec, store.Frozen)

	require.NoError(t, rec.Record(q1.ID.String()))
	_, err := rec.Stop()
	require.NoError(t, err)
	require.NoError(t, rec.Discard(q1.ID.String(), 0))
	assert.Equal(t, 0, rec.QuotaLeft())

	require.NoError(t, rec.Record(q1.ID.String()))
	require.NoError(t, n.Next())

	_, recording := rec.Recording()
	assert.False(t, recording)
	assert.True(t, store.IsAnswered(q1.ID.String()), "the interrupted take is kept")
	assert.Equal(t, 1, rec.QuotaLeft())
}
