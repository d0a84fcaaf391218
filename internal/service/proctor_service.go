package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/examportal/internal/model"
	"github.com/stemsi/examportal/internal/session"
)

// ProctoringQueue queues proctoring evidence for persistence and the live monitor.
type ProctoringQueue interface {
	PushProctoringEvent(ctx context.Context, ev *model.ProctoringEvent) error
}

// ProctorService records proctoring evidence reported by the proctor relay.
type ProctorService struct {
	queue  ProctoringQueue
	policy session.Policy
	log    zerolog.Logger
}

// NewProctorService creates a new ProctorService.
func NewProctorService(queue ProctoringQueue, policy session.Policy, log zerolog.Logger) *ProctorService {
	return &ProctorService{
		queue:  queue,
		policy: policy,
		log:    log.With().Str("component", "proctor_service").Logger(),
	}
}

// Policy returns the monitor policy applied to every relay connection.
func (s *ProctorService) Policy() session.Policy {
	return s.policy
}

// Record queues one proctoring event. The Redis list is drained by the
// ProctoringWorker.
func (s *ProctorService) Record(ctx context.Context, ev *model.ProctoringEvent) error {
	if err := s.queue.PushProctoringEvent(ctx, ev); err != nil {
		return fmt.Errorf("queue proctoring event: %w", err)
	}
	s.log.Debug().
		Str("attempt_id", ev.AttemptID.String()).
		Str("kind", string(ev.Kind)).
		Int("violations", ev.Violations).
		Msg("Proctoring event queued")
	return nil
}
