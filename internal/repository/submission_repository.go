package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/examportal/internal/model"
)

// ErrAttemptNotOpen is returned when finalizing an attempt that is no longer in progress.
var ErrAttemptNotOpen = errors.New("attempt is not in progress")

// SubmissionRepository handles submissions and stored answers.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// Finalize closes the attempt, stores the submission and its inline answers
// in one transaction.
func (r *SubmissionRepository) Finalize(ctx context.Context, sub *model.Submission, answers []model.StudentAnswer) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE exam_attempts
		 SET status = $1, finished_at = $2, time_spent_minutes = $3
		 WHERE id = $4 AND status = $5`,
		model.AttemptStatusSubmitted, sub.SubmittedAt, sub.TimeSpentMinutes,
		sub.AttemptID, model.AttemptStatusInProgress)
	if err != nil {
		return fmt.Errorf("close attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAttemptNotOpen
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO submissions (attempt_id, submitted_at, time_spent_minutes, answer_count)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		sub.AttemptID, sub.SubmittedAt, sub.TimeSpentMinutes, sub.AnswerCount,
	).Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}

	if len(answers) > 0 {
		rows := make([][]interface{}, 0, len(answers))
		for _, a := range answers {
			urls := a.RecordingURLs
			if urls == nil {
				urls = []string{}
			}
			rows = append(rows, []interface{}{a.AttemptID, a.QuestionID, a.SelectedOptionIndex, a.AnswerText, urls})
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"student_answers"},
			[]string{"attempt_id", "question_id", "selected_option_index", "answer_text", "recording_urls"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("copy answers: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID retrieves a submission by its UUID.
func (r *SubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	s := &model.Submission{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, attempt_id, submitted_at, time_spent_minutes, answer_count
		 FROM submissions WHERE id = $1`, id,
	).Scan(&s.ID, &s.AttemptID, &s.SubmittedAt, &s.TimeSpentMinutes, &s.AnswerCount)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// AppendRecording attaches a stored recording URL to the answer of a question,
// creating the answer row when the question had no inline answer.
func (r *SubmissionRepository) AppendRecording(ctx context.Context, attemptID, questionID uuid.UUID, url string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO student_answers (attempt_id, question_id, recording_urls)
		 VALUES ($1, $2, ARRAY[$3]::text[])
		 ON CONFLICT (attempt_id, question_id)
		 DO UPDATE SET recording_urls = array_append(student_answers.recording_urls, $3)`,
		attemptID, questionID, url)
	return err
}
