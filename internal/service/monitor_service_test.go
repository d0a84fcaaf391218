package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/examportal/internal/model"
	"github.com/stemsi/examportal/internal/repository"
)

type fakeMonitorSource struct {
	attempts    []repository.AttemptOverview
	counts      map[uuid.UUID]int64
	attemptsErr error
	countsErr   error
}

func (f *fakeMonitorSource) ListAttempts(context.Context, uuid.UUID) ([]repository.AttemptOverview, error) {
	return f.attempts, f.attemptsErr
}

func (f *fakeMonitorSource) GetViolationCounts(context.Context, uuid.UUID) (map[uuid.UUID]int64, error) {
	return f.counts, f.countsErr
}

func TestMonitorSnapshotAggregates(t *testing.T) {
	a1, a2, a3 := uuid.New(), uuid.New(), uuid.New()
	src := &fakeMonitorSource{
		attempts: []repository.AttemptOverview{
			{AttemptID: a1, StudentID: 1, Status: model.AttemptStatusInProgress},
			{AttemptID: a2, StudentID: 2, Status: model.AttemptStatusSubmitted},
			{AttemptID: a3, StudentID: 3, Status: model.AttemptStatusExpired},
		},
		counts: map[uuid.UUID]int64{a1: 1, a2: 2},
	}

	snap, err := NewMonitorService(src).Snapshot(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.Equal(t, MonitorStats{
		TotalJoined: 3, TotalInProgress: 1, TotalSubmitted: 1, TotalExpired: 1, TotalViolations: 3,
	}, snap.Stats)
	assert.Equal(t, int64(2), snap.Attempts[1].Violations)
	assert.Zero(t, snap.Attempts[2].Violations)
}

func TestMonitorSnapshotViolationsBestEffort(t *testing.T) {
	src := &fakeMonitorSource{
		attempts:  []repository.AttemptOverview{{AttemptID: uuid.New(), Status: model.AttemptStatusInProgress}},
		countsErr: errors.New("timeout"),
	}

	snap, err := NewMonitorService(src).Snapshot(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Stats.TotalJoined)
	assert.Zero(t, snap.Stats.TotalViolations)
}

func TestMonitorSnapshotFailsWithoutAttempts(t *testing.T) {
	src := &fakeMonitorSource{attemptsErr: errors.New("db down")}

	_, err := NewMonitorService(src).Snapshot(context.Background(), uuid.New())
	assert.Error(t, err)
}
