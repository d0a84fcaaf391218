package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examportal/internal/model"
)

// AttemptOverview is one row of the faculty live monitor.
type AttemptOverview struct {
	AttemptID  uuid.UUID           `json:"attempt_id"`
	StudentID  int                 `json:"student_id"`
	Status     model.AttemptStatus `json:"status"`
	StartedAt  time.Time           `json:"started_at"`
	DeadlineAt time.Time           `json:"deadline_at"`
	FinishedAt *time.Time          `json:"finished_at,omitempty"`
}

// MonitorRepository provides data access for the live exam monitoring feature.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// ListAttempts returns every attempt of the given exam, newest first.
func (r *MonitorRepository) ListAttempts(ctx context.Context, examID uuid.UUID) ([]AttemptOverview, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, student_id, status, started_at, deadline_at, finished_at
		 FROM exam_attempts
		 WHERE exam_id = $1
		 ORDER BY started_at DESC`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttemptOverview
	for rows.Next() {
		var a AttemptOverview
		if err := rows.Scan(&a.AttemptID, &a.StudentID, &a.Status, &a.StartedAt, &a.DeadlineAt, &a.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetViolationCounts returns the number of counted departures per attempt in the given exam.
func (r *MonitorRepository) GetViolationCounts(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT attempt_id, COUNT(*)
		 FROM proctoring_events
		 WHERE exam_id = $1 AND kind = $2
		 GROUP BY attempt_id`,
		examID, model.ProctoringDeparture,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int64)
	for rows.Next() {
		var id uuid.UUID
		var count int64
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}

	return counts, rows.Err()
}
