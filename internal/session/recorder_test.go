package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecorder(t *testing.T, limit int) (*Recorder, *Store, string, *fakeDevice) {
	t.Helper()
	q := viva(1)
	store := storeFor(q)
	dev := newFakeDevice()
	rec := NewRecorder(dev, store, RecorderConfig{ReRecordLimit: limit})
	require.NoError(t, rec.Open(context.Background()))
	return rec, store, q.ID.String(), dev
}

func TestRecorderRequiresOpenStream(t *testing.T) {
	q := viva(1)
	rec := NewRecorder(newFakeDevice(), storeFor(q), RecorderConfig{ReRecordLimit: 1})

	assert.ErrorIs(t, rec.Record(q.ID.String()), ErrInvalidState)
	_, err := rec.Stop()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRecorderOpenMapsDeviceErrors(t *testing.T) {
	q := viva(1)

	denied := &fakeDevice{err: fmt.Errorf("prompt: %w", ErrPermissionDenied)}
	rec := NewRecorder(denied, storeFor(q), RecorderConfig{})
	assert.ErrorIs(t, rec.Open(context.Background()), ErrPermissionDenied)
	assert.False(t, rec.IsOpen())

	broken := &fakeDevice{err: errors.New("no such device")}
	rec = NewRecorder(broken, storeFor(q), RecorderConfig{})
	assert.ErrorIs(t, rec.Open(context.Background()), ErrDeviceUnavailable)

	rec = NewRecorder(nil, storeFor(q), RecorderConfig{})
	assert.ErrorIs(t, rec.Open(context.Background()), ErrDeviceUnavailable)
}

func TestRecorderStopAppendsActiveTake(t *testing.T) {
	rec, store, id, _ := newTestRecorder(t, 1)

	require.NoError(t, rec.Record(id))
	assert.ErrorIs(t, rec.Record(id), ErrInvalidState, "already recording")
	current, recording := rec.Recording()
	assert.True(t, recording)
	assert.Equal(t, id, current)

	take, err := rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", take.MimeType)

	slot, _ := store.Get(id)
	active, ok := slot.ActiveTake()
	require.True(t, ok)
	assert.Equal(t, take.ID, active.ID)

	data, ok := rec.Blob(take.ID)
	require.True(t, ok)
	assert.Equal(t, []byte("RIFF....WAVE"), data)
}

func TestRecorderRejectsNonRecordingQuestion(t *testing.T) {
	q := mcq(1)
	rec := NewRecorder(newFakeDevice(), storeFor(q), RecorderConfig{})
	require.NoError(t, rec.Open(context.Background()))
	assert.ErrorIs(t, rec.Record(q.ID.String()), ErrKindMismatch)
}

func TestRecorderDiscardConsumesQuota(t *testing.T) {
	rec, store, id, _ := newTestRecorder(t, 1)

	require.NoError(t, rec.Record(id))
	first, err := rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, 1, rec.QuotaLeft(), "recording never consumes quota")

	require.NoError(t, rec.Discard(id, 0))
	assert.Equal(t, 0, rec.QuotaLeft())
	_, ok := rec.Blob(first.ID)
	assert.False(t, ok, "discarded audio is released")

	require.NoError(t, rec.Record(id))
	_, err = rec.Stop()
	require.NoError(t, err)

	assert.ErrorIs(t, rec.Discard(id, 0), ErrQuotaExceeded)
	slot, _ := store.Get(id)
	assert.Len(t, slot.Takes, 1)

	rec.ResetQuota()
	assert.NoError(t, rec.Discard(id, 0))
}

func TestRecorderDiscardWhileRecordingIsInvalid(t *testing.T) {
	rec, _, id, _ := newTestRecorder(t, 3)
	require.NoError(t, rec.Record(id))
	_, err := rec.Stop()
	require.NoError(t, err)
	require.NoError(t, rec.Record(id))

	assert.ErrorIs(t, rec.Discard(id, 0), ErrInvalidState)
}

func TestRecorderStopActiveIsIdempotent(t *testing.T) {
	rec, store, id, dev := newTestRecorder(t, 1)

	rec.StopActive()
	require.NoError(t, rec.Record(id))
	rec.StopActive()
	rec.StopActive()

	assert.Equal(t, 1, dev.stream.ended)
	slot, _ := store.Get(id)
	assert.Len(t, slot.Takes, 1)
}

func TestRecorderAutoStopsAtTimeLimit(t *testing.T) {
	q := viva(1)
	store := storeFor(q)

	var (
		mu      sync.Mutex
		stopped []string
	)
	rec := NewRecorder(newFakeDevice(), store, RecorderConfig{
		ReRecordLimit:   1,
		MaxTakeDuration: 20 * time.Millisecond,
		OnAutoStop: func(questionID string, _ TakeRef, err error) {
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				stopped = append(stopped, questionID)
			}
		},
	})
	require.NoError(t, rec.Open(context.Background()))
	require.NoError(t, rec.Record(q.ID.String()))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(stopped) == 1
	}, time.Second, 5*time.Millisecond)

	_, recording := rec.Recording()
	assert.False(t, recording)
	assert.True(t, store.IsAnswered(q.ID.String()))
}

func TestRecorderCloseReleasesStream(t *testing.T) {
	rec, _, id, dev := newTestRecorder(t, 1)
	require.NoError(t, rec.Record(id))

	require.NoError(t, rec.Close())
	assert.True(t, dev.stream.closed)
	assert.False(t, rec.IsOpen())
	assert.Equal(t, 1, dev.stream.ended)
}
