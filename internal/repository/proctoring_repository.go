package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examportal/internal/model"
)

var proctoringColumns = []string{
	"attempt_id", "exam_id", "student_id", "kind", "signal", "violations", "detail", "occurred_at",
}

// ProctoringRepository stores proctoring evidence.
type ProctoringRepository struct {
	pool *pgxpool.Pool
}

func NewProctoringRepository(pool *pgxpool.Pool) *ProctoringRepository {
	return &ProctoringRepository{pool: pool}
}

// CopyEvents bulk inserts events with COPY.
func (r *ProctoringRepository) CopyEvents(ctx context.Context, events []*model.ProctoringEvent) error {
	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"proctoring_events"},
		proctoringColumns,
		pgx.CopyFromSlice(len(events), func(i int) ([]interface{}, error) {
			ev := events[i]
			return []interface{}{
				ev.AttemptID, ev.ExamID, ev.StudentID, string(ev.Kind),
				ev.Signal, ev.Violations, ev.Detail, ev.OccurredAt,
			}, nil
		}),
	)
	return err
}

// InsertEvent stores a single event.
func (r *ProctoringRepository) InsertEvent(ctx context.Context, ev *model.ProctoringEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO proctoring_events (attempt_id, exam_id, student_id, kind, signal, violations, detail, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.AttemptID, ev.ExamID, ev.StudentID, string(ev.Kind),
		ev.Signal, ev.Violations, ev.Detail, ev.OccurredAt,
	)
	return err
}
