package session

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stemsi/examportal/internal/model"
)

type BootstrapOptions struct {
	// AttemptID skips attempt creation when the attempt is already known.
	AttemptID  uuid.UUID
	AccessCode string
	Now        func() time.Time
}

// Bootstrapped is everything a Session needs to start.
type Bootstrapped struct {
	ExamID    uuid.UUID
	AttemptID uuid.UUID
	StartedAt time.Time
	Deadline  time.Time
	Summary   model.ExamSummary
	Questions []model.QuestionForStudent
	Store     *Store
}

// HasRecordings reports whether any question is answered by voice.
func (b *Bootstrapped) HasRecordings() bool {
	for _, q := range b.Questions {
		if q.Type.IsRecording() {
			return true
		}
	}
	return false
}

// Bootstrap resolves the attempt, loads the exam and builds the empty
// answer store. Any failure is fatal: no partial session is returned.
func Bootstrap(ctx context.Context, api ExamAPI, examID uuid.UUID, opts BootstrapOptions) (*Bootstrapped, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	out := &Bootstrapped{ExamID: examID, AttemptID: opts.AttemptID}
	if out.AttemptID == uuid.Nil {
		started, err := api.StartAttempt(ctx, examID, opts.AccessCode)
		if err != nil {
			return nil, fmt.Errorf("%w: start attempt: %w", ErrBootstrap, err)
		}
		if started != nil {
			out.AttemptID = started.AttemptID
			out.StartedAt = started.StartedAt
			out.Deadline = started.ExpiresAt
		}
	}
	if out.AttemptID == uuid.Nil {
		return nil, fmt.Errorf("%w: %w", ErrBootstrap, ErrNoActiveAttempt)
	}
	if out.StartedAt.IsZero() {
		out.StartedAt = now()
	}

	var (
		summary   *model.ExamSummary
		questions []model.QuestionForStudent
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		summary, err = api.Summary(gctx, examID)
		if err != nil {
			return fmt.Errorf("fetch summary: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		questions, err = api.Questions(gctx, examID)
		if err != nil {
			return fmt.Errorf("fetch questions: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBootstrap, err)
	}

	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].OrderNum < questions[j].OrderNum
	})
	specs := make([]SlotSpec, 0, len(questions))
	for _, q := range questions {
		if err := validateQuestion(q); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBootstrap, err)
		}
		specs = append(specs, SlotSpec{QuestionID: q.ID.String(), Type: q.Type})
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: exam has no questions", ErrBootstrap)
	}

	out.Summary = *summary
	out.Questions = questions
	out.Store = NewStore(specs)
	if out.Deadline.IsZero() {
		out.Deadline = deadlineFor(summary, out.StartedAt)
	}
	return out, nil
}

func deadlineFor(summary *model.ExamSummary, startedAt time.Time) time.Time {
	deadline := startedAt.Add(time.Duration(summary.DurationMinutes) * time.Minute)
	if summary.EndsAt != nil && summary.EndsAt.Before(deadline) {
		return *summary.EndsAt
	}
	return deadline
}

func validateQuestion(q model.QuestionForStudent) error {
	if !q.Type.Valid() {
		return fmt.Errorf("question %s: unknown type %q", q.ID, q.Type)
	}
	if q.Type == model.QuestionTypeMCQ && (len(q.Options) < model.MinOptions || len(q.Options) > model.MaxOptions) {
		return fmt.Errorf("question %s: mcq needs %d-%d options, got %d", q.ID, model.MinOptions, model.MaxOptions, len(q.Options))
	}
	return nil
}
