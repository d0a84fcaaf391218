package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/examportal/internal/model"
	"github.com/stemsi/examportal/internal/repository"
	"golang.org/x/sync/errgroup"
)

// MonitorSource is the data behind the faculty live monitor.
type MonitorSource interface {
	ListAttempts(ctx context.Context, examID uuid.UUID) ([]repository.AttemptOverview, error)
	GetViolationCounts(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int64, error)
}

// MonitorService orchestrates live exam monitoring business logic.
type MonitorService struct {
	monitorRepo MonitorSource
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo MonitorSource) *MonitorService {
	return &MonitorService{monitorRepo: monitorRepo}
}

// AttemptProgress is one attempt row with its departure count.
type AttemptProgress struct {
	repository.AttemptOverview
	Violations int64 `json:"violations"`
}

// MonitorStats aggregates an exam's attempts.
type MonitorStats struct {
	TotalJoined     int   `json:"total_joined"`
	TotalInProgress int   `json:"total_in_progress"`
	TotalSubmitted  int   `json:"total_submitted"`
	TotalExpired    int   `json:"total_expired"`
	TotalViolations int64 `json:"total_violations"`
}

// MonitorSnapshot is the full state sent when a monitor attaches.
type MonitorSnapshot struct {
	Stats    MonitorStats      `json:"stats"`
	Attempts []AttemptProgress `json:"attempts"`
}

// Snapshot loads attempts and violation counts concurrently.
// Violation counts are best-effort.
func (s *MonitorService) Snapshot(ctx context.Context, examID uuid.UUID) (*MonitorSnapshot, error) {
	var (
		attempts   []repository.AttemptOverview
		violations map[uuid.UUID]int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		attempts, err = s.monitorRepo.ListAttempts(gctx, examID)
		return err
	})
	g.Go(func() error {
		counts, err := s.monitorRepo.GetViolationCounts(gctx, examID)
		if err == nil {
			violations = counts
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &MonitorSnapshot{Attempts: make([]AttemptProgress, 0, len(attempts))}
	for _, a := range attempts {
		row := AttemptProgress{AttemptOverview: a, Violations: violations[a.AttemptID]}
		snap.Attempts = append(snap.Attempts, row)

		snap.Stats.TotalJoined++
		snap.Stats.TotalViolations += row.Violations
		switch a.Status {
		case model.AttemptStatusInProgress:
			snap.Stats.TotalInProgress++
		case model.AttemptStatusSubmitted:
			snap.Stats.TotalSubmitted++
		case model.AttemptStatusExpired:
			snap.Stats.TotalExpired++
		}
	}
	return snap, nil
}
