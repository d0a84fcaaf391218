package session

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/examportal/internal/model"
)

// Trigger names what started a submission.
type Trigger string

const (
	TriggerManual      Trigger = "manual"
	TriggerViolation   Trigger = "violation"
	TriggerAwayTimeout Trigger = "away_timeout"
	TriggerDeadline    Trigger = "deadline"
	TriggerUnload      Trigger = "unload"
)

type Reason string

const (
	ReasonManual Reason = "manual"
	ReasonAuto   Reason = "auto"
)

func (t Trigger) Reason() Reason {
	if t == TriggerManual {
		return ReasonManual
	}
	return ReasonAuto
}

// ExamAPI is the backend surface a session consumes.
type ExamAPI interface {
	StartAttempt(ctx context.Context, examID uuid.UUID, accessCode string) (*model.StartAttemptResponse, error)
	Summary(ctx context.Context, examID uuid.UUID) (*model.ExamSummary, error)
	Questions(ctx context.Context, examID uuid.UUID) ([]model.QuestionForStudent, error)
	Submit(ctx context.Context, examID uuid.UUID, req model.SubmitRequest) (*model.SubmitResponse, error)
	UploadAudio(ctx context.Context, examID uuid.UUID, up AudioUpload) (*model.AudioUploadResponse, error)
}

// AudioUpload is one recording sent after the inline answers.
type AudioUpload struct {
	AttemptID    uuid.UUID
	SubmissionID uuid.UUID
	QuestionID   uuid.UUID
	FileName     string
	MimeType     string
	Data         []byte
}

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubmitting
	PhaseSucceeded
	PhaseFailed
)

// Result reports the outcome of a submission.
type Result struct {
	SubmissionID   uuid.UUID
	Trigger        Trigger
	InlineAnswers  int
	AudioAttempted int
	AudioSucceeded int
	FailedUploads  []uuid.UUID
}

// Partial reports whether some recordings could not be uploaded.
func (r *Result) Partial() bool {
	return r.AudioSucceeded < r.AudioAttempted
}

type takeSource interface {
	StopActive()
	Blob(takeID string) ([]byte, bool)
}

// Coordinator performs the two-phase submission: inline answers first,
// then recordings one at a time.
type Coordinator struct {
	api       ExamAPI
	examID    uuid.UUID
	attemptID uuid.UUID
	store     *Store
	takes     takeSource
	guard     *Guard
	startedAt time.Time
	now       func() time.Time
	log       zerolog.Logger

	mu       sync.Mutex
	phase    Phase
	trigger  Trigger
	payload  *model.SubmitRequest
	deferred []pendingUpload
}

type pendingUpload struct {
	questionID uuid.UUID
	take       TakeRef
}

type CoordinatorConfig struct {
	API       ExamAPI
	ExamID    uuid.UUID
	AttemptID uuid.UUID
	StartedAt time.Time
	Store     *Store
	Takes     takeSource
	Guard     *Guard
	Now       func() time.Time
	Logger    zerolog.Logger
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Guard == nil {
		cfg.Guard = &Guard{}
	}
	return &Coordinator{
		api:       cfg.API,
		examID:    cfg.ExamID,
		attemptID: cfg.AttemptID,
		store:     cfg.Store,
		takes:     cfg.Takes,
		guard:     cfg.Guard,
		startedAt: cfg.StartedAt,
		now:       cfg.Now,
		log:       cfg.Logger.With().Str("component", "submission").Logger(),
	}
}

func (c *Coordinator) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Submit finalizes the attempt. Only the first call that wins the shared
// guard proceeds; later calls return ErrAlreadySubmitted.
func (c *Coordinator) Submit(ctx context.Context, trigger Trigger) (*Result, error) {
	if c.attemptID == uuid.Nil {
		return nil, ErrNoActiveAttempt
	}
	if !c.guard.TryFire() {
		return nil, ErrAlreadySubmitted
	}
	return c.begin(ctx, trigger)
}

// SubmitFired runs a submission whose guard was already set by the
// caller, as the proctoring monitor does when it emits EffectAutoSubmit.
func (c *Coordinator) SubmitFired(ctx context.Context, trigger Trigger) (*Result, error) {
	if c.attemptID == uuid.Nil {
		return nil, ErrNoActiveAttempt
	}
	if !c.guard.Fired() {
		return nil, ErrInvalidState
	}
	return c.begin(ctx, trigger)
}

// Retry re-posts the snapshot of a failed submission.
func (c *Coordinator) Retry(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	if c.phase != PhaseFailed {
		c.mu.Unlock()
		return nil, ErrNothingToRetry
	}
	c.phase = PhaseSubmitting
	c.mu.Unlock()
	return c.send(ctx)
}

func (c *Coordinator) begin(ctx context.Context, trigger Trigger) (*Result, error) {
	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return nil, ErrAlreadySubmitted
	}
	c.phase = PhaseSubmitting
	c.trigger = trigger
	c.mu.Unlock()

	if c.takes != nil {
		c.takes.StopActive()
	}
	c.store.Freeze()
	payload, deferred := c.partition(c.store.Snapshot())

	c.mu.Lock()
	c.payload = payload
	c.deferred = deferred
	c.mu.Unlock()

	c.log.Info().
		Str("attempt_id", c.attemptID.String()).
		Str("trigger", string(trigger)).
		Int("inline", len(payload.Answers)).
		Int("recordings", len(deferred)).
		Msg("Submitting attempt")
	return c.send(ctx)
}

func (c *Coordinator) send(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	payload, deferred, trigger := *c.payload, c.deferred, c.trigger
	c.mu.Unlock()

	resp, err := c.api.Submit(ctx, c.examID, payload)
	if err != nil {
		c.setPhase(PhaseFailed)
		c.log.Error().Err(err).Str("attempt_id", c.attemptID.String()).Msg("Submission failed")
		return nil, fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}

	result := &Result{
		SubmissionID:   resp.SubmissionID,
		Trigger:        trigger,
		InlineAnswers:  len(payload.Answers),
		AudioAttempted: len(deferred),
	}
	for _, p := range deferred {
		if err := c.upload(ctx, resp.SubmissionID, p); err != nil {
			c.log.Warn().Err(err).
				Str("question_id", p.questionID.String()).
				Str("take_id", p.take.ID).
				Msg("Recording upload failed, skipping")
			result.FailedUploads = append(result.FailedUploads, p.questionID)
			continue
		}
		result.AudioSucceeded++
	}

	c.setPhase(PhaseSucceeded)
	c.log.Info().
		Str("submission_id", resp.SubmissionID.String()).
		Int("audio_attempted", result.AudioAttempted).
		Int("audio_succeeded", result.AudioSucceeded).
		Msg("Attempt submitted")
	return result, nil
}

func (c *Coordinator) upload(ctx context.Context, submissionID uuid.UUID, p pendingUpload) error {
	if c.takes == nil {
		return fmt.Errorf("no audio for take %s", p.take.ID)
	}
	data, ok := c.takes.Blob(p.take.ID)
	if !ok {
		return fmt.Errorf("no audio for take %s", p.take.ID)
	}
	_, err := c.api.UploadAudio(ctx, c.examID, AudioUpload{
		AttemptID:    c.attemptID,
		SubmissionID: submissionID,
		QuestionID:   p.questionID,
		FileName:     fmt.Sprintf("recording_%s%s", p.questionID, extensionFor(p.take.MimeType)),
		MimeType:     p.take.MimeType,
		Data:         data,
	})
	return err
}

// partition splits the snapshot into the inline payload and the
// recordings to upload. Unanswered questions are omitted.
func (c *Coordinator) partition(slots []AnswerSlot) (*model.SubmitRequest, []pendingUpload) {
	req := &model.SubmitRequest{
		AttemptID:        c.attemptID,
		Answers:          []model.AnswerInput{},
		TimeSpentMinutes: c.timeSpentMinutes(),
	}
	var deferred []pendingUpload

	for _, slot := range slots {
		qid, err := uuid.Parse(slot.QuestionID)
		if err != nil || !slot.answered() {
			continue
		}
		switch slot.Kind {
		case KindChoice:
			idx := *slot.Selected
			req.Answers = append(req.Answers, model.AnswerInput{
				QuestionID:          qid,
				Type:                model.QuestionTypeMCQ,
				SelectedOptionIndex: &idx,
			})
		case KindText:
			text := slot.Text
			req.Answers = append(req.Answers, model.AnswerInput{
				QuestionID: qid,
				Type:       slot.Type,
				AnswerText: &text,
			})
		case KindRecording:
			if take, ok := slot.ActiveTake(); ok {
				deferred = append(deferred, pendingUpload{questionID: qid, take: take})
			}
		}
	}
	return req, deferred
}

func (c *Coordinator) timeSpentMinutes() int {
	if c.startedAt.IsZero() {
		return 0
	}
	spent := c.now().Sub(c.startedAt).Minutes()
	if spent < 0 {
		return 0
	}
	return int(math.Ceil(spent))
}

func (c *Coordinator) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

func extensionFor(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/webm"):
		return ".webm"
	case strings.HasPrefix(mimeType, "audio/ogg"):
		return ".ogg"
	case strings.HasPrefix(mimeType, "audio/wav"), strings.HasPrefix(mimeType, "audio/x-wav"), strings.HasPrefix(mimeType, "audio/wave"):
		return ".wav"
	case strings.HasPrefix(mimeType, "audio/mpeg"):
		return ".mp3"
	case strings.HasPrefix(mimeType, "audio/mp4"):
		return ".m4a"
	}
	return ".webm"
}
