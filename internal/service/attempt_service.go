package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/examportal/internal/events"
	"github.com/stemsi/examportal/internal/model"
	"github.com/stemsi/examportal/internal/repository"
)

// Attempt errors.
var (
	ErrExamNotAvailable     = errors.New("exam is not available")
	ErrExamNotStarted       = errors.New("exam has not started yet")
	ErrExamEnded            = errors.New("exam has ended")
	ErrInvalidAccessCode    = errors.New("invalid access code")
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrAttemptClosed        = errors.New("attempt is closed")
	ErrAttemptExpired       = errors.New("attempt deadline has passed")
	ErrAlreadySubmitted     = errors.New("attempt already submitted")
	ErrSubmissionUnknown    = errors.New("submission does not belong to attempt")
	ErrNotRecordingQuestion = errors.New("question does not take recordings")
	ErrInvalidAnswer        = errors.New("invalid answer")
)

// AttemptStore is the attempt persistence used by AttemptService.
type AttemptStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error)
	GetInProgress(ctx context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error)
	Create(ctx context.Context, a *model.Attempt) error
	Expire(ctx context.Context, id uuid.UUID, at time.Time) error
}

// SubmissionStore persists submissions and their answers.
type SubmissionStore interface {
	Finalize(ctx context.Context, sub *model.Submission, answers []model.StudentAnswer) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error)
	AppendRecording(ctx context.Context, attemptID, questionID uuid.UUID, url string) error
}

// AttemptCache holds attempt start times and feeds the live monitor.
type AttemptCache interface {
	SetAttemptStart(ctx context.Context, examID string, studentID int, startedAt, deadline time.Time) error
	PublishMonitor(ctx context.Context, examID string, msg *model.MonitorMessage) error
}

// AudioStore saves uploaded recordings.
type AudioStore interface {
	SaveAudio(r io.Reader) (*StoredMedia, error)
}

// AudioInput is one recording upload for a submitted attempt.
type AudioInput struct {
	AttemptID    uuid.UUID
	SubmissionID uuid.UUID
	QuestionID   uuid.UUID
	Body         io.Reader
}

// AttemptServiceConfig wires AttemptService.
type AttemptServiceConfig struct {
	Exams       *ExamService
	Attempts    AttemptStore
	Submissions SubmissionStore
	Cache       AttemptCache
	Auth        *AuthService
	Media       AudioStore
	Events      events.Publisher
	// SubmitGrace extends the deadline for in-flight auto-submits.
	SubmitGrace time.Duration
	Now         func() time.Time
	Logger      zerolog.Logger
}

// AttemptService runs the attempt lifecycle: start, submit, recording uploads.
type AttemptService struct {
	exams       *ExamService
	attempts    AttemptStore
	submissions SubmissionStore
	cache       AttemptCache
	auth        *AuthService
	media       AudioStore
	events      events.Publisher
	grace       time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(cfg AttemptServiceConfig) *AttemptService {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &AttemptService{
		exams:       cfg.Exams,
		attempts:    cfg.Attempts,
		submissions: cfg.Submissions,
		cache:       cfg.Cache,
		auth:        cfg.Auth,
		media:       cfg.Media,
		events:      cfg.Events,
		grace:       cfg.SubmitGrace,
		now:         now,
		log:         cfg.Logger.With().Str("component", "attempt_service").Logger(),
	}
}

// ─── Start ─────────────────────────────────────────────────────────────

// Start opens an attempt for the student, or returns the one already in
// progress. The exam's access code is checked on every call.
func (s *AttemptService) Start(ctx context.Context, examID uuid.UUID, studentID int, accessCode string) (*model.StartAttemptResponse, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotAvailable
	}

	if exam.RequiresAccessCode() {
		if err := s.auth.CheckSecret(exam.AccessCodeHash, accessCode); err != nil {
			return nil, ErrInvalidAccessCode
		}
	}

	now := s.now()

	existing, err := s.attempts.GetInProgress(ctx, examID, studentID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing attempt: %w", err)
	}
	if existing != nil {
		if s.overdue(existing, now) {
			s.expire(ctx, existing, now)
			return nil, ErrAttemptExpired
		}
		return &model.StartAttemptResponse{
			AttemptID: existing.ID,
			StartedAt: existing.StartedAt,
			ExpiresAt: existing.DeadlineAt,
			Resumed:   true,
		}, nil
	}

	if exam.StartsAt != nil && now.Before(*exam.StartsAt) {
		return nil, ErrExamNotStarted
	}
	if exam.EndsAt != nil && !now.Before(*exam.EndsAt) {
		return nil, ErrExamEnded
	}

	attempt := &model.Attempt{
		ExamID:     examID,
		StudentID:  studentID,
		StartedAt:  now,
		DeadlineAt: exam.Deadline(now),
	}

	if err := s.attempts.Create(ctx, attempt); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("create attempt: %w", err)
		}
		// Concurrent start from another tab or device.
		existing, fetchErr := s.attempts.GetInProgress(ctx, examID, studentID)
		if fetchErr != nil {
			return nil, fmt.Errorf("concurrent start detected, but fetch failed: %w", fetchErr)
		}
		return &model.StartAttemptResponse{
			AttemptID: existing.ID,
			StartedAt: existing.StartedAt,
			ExpiresAt: existing.DeadlineAt,
			Resumed:   true,
		}, nil
	}

	if err := s.cache.SetAttemptStart(ctx, examID.String(), studentID, attempt.StartedAt, attempt.DeadlineAt); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache attempt start")
	}
	s.broadcast(ctx, examID, attempt, model.MonitorAttemptStarted)

	s.log.Info().
		Str("exam_id", examID.String()).
		Str("attempt_id", attempt.ID.String()).
		Int("student_id", studentID).
		Time("deadline", attempt.DeadlineAt).
		Msg("Attempt started")

	return &model.StartAttemptResponse{
		AttemptID: attempt.ID,
		StartedAt: attempt.StartedAt,
		ExpiresAt: attempt.DeadlineAt,
	}, nil
}

// ─── Submit ────────────────────────────────────────────────────────────

// Submit finalizes an attempt with its inline answers.
func (s *AttemptService) Submit(ctx context.Context, examID uuid.UUID, studentID int, req *model.SubmitRequest) (*model.SubmitResponse, error) {
	attempt, err := s.ownedAttempt(ctx, examID, studentID, req.AttemptID)
	if err != nil {
		return nil, err
	}

	switch attempt.Status {
	case model.AttemptStatusInProgress:
	case model.AttemptStatusSubmitted:
		return nil, ErrAlreadySubmitted
	default:
		return nil, ErrAttemptClosed
	}

	now := s.now()
	if s.overdue(attempt, now) {
		s.expire(ctx, attempt, now)
		return nil, ErrAttemptExpired
	}

	payload, err := s.exams.GetPayload(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	answers, err := buildAnswers(attempt.ID, payload.Questions, req.Answers)
	if err != nil {
		return nil, err
	}

	sub := &model.Submission{
		AttemptID:        attempt.ID,
		SubmittedAt:      now,
		TimeSpentMinutes: clampTimeSpent(req.TimeSpentMinutes, attempt),
		AnswerCount:      len(answers),
	}
	if err := s.submissions.Finalize(ctx, sub, answers); err != nil {
		if errors.Is(err, repository.ErrAttemptNotOpen) {
			return nil, ErrAlreadySubmitted
		}
		return nil, fmt.Errorf("finalize attempt: %w", err)
	}

	if err := s.events.PublishSubmissionCreated(ctx, &events.SubmissionCreated{
		SubmissionID:     sub.ID,
		AttemptID:        attempt.ID,
		ExamID:           examID,
		StudentID:        studentID,
		AnswerCount:      sub.AnswerCount,
		TimeSpentMinutes: sub.TimeSpentMinutes,
		SubmittedAt:      sub.SubmittedAt,
	}); err != nil {
		s.log.Warn().Err(err).Str("submission_id", sub.ID.String()).Msg("Failed to publish submission event")
	}
	s.broadcast(ctx, examID, attempt, model.MonitorSubmitted)

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("submission_id", sub.ID.String()).
		Int("answers", sub.AnswerCount).
		Msg("Attempt submitted")

	return &model.SubmitResponse{SubmissionID: sub.ID, SubmittedAt: sub.SubmittedAt}, nil
}

// buildAnswers checks inline answers against the exam's questions. A
// repeated question keeps its last answer.
func buildAnswers(attemptID uuid.UUID, questions []model.QuestionForStudent, inputs []model.AnswerInput) ([]model.StudentAnswer, error) {
	byID := make(map[uuid.UUID]*model.QuestionForStudent, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}

	index := make(map[uuid.UUID]int, len(inputs))
	answers := make([]model.StudentAnswer, 0, len(inputs))
	for _, in := range inputs {
		q, ok := byID[in.QuestionID]
		if !ok {
			return nil, fmt.Errorf("%w: unknown question %s", ErrInvalidAnswer, in.QuestionID)
		}
		if q.Type != in.Type {
			return nil, fmt.Errorf("%w: question %s is %s, got %s", ErrInvalidAnswer, q.ID, q.Type, in.Type)
		}

		ans := model.StudentAnswer{AttemptID: attemptID, QuestionID: q.ID}
		switch {
		case q.Type == model.QuestionTypeMCQ:
			if in.SelectedOptionIndex == nil || *in.SelectedOptionIndex < 0 || *in.SelectedOptionIndex >= len(q.Options) {
				return nil, fmt.Errorf("%w: option out of range for %s", ErrInvalidAnswer, q.ID)
			}
			ans.SelectedOptionIndex = in.SelectedOptionIndex
		case q.Type.IsText():
			if in.AnswerText == nil {
				return nil, fmt.Errorf("%w: missing text for %s", ErrInvalidAnswer, q.ID)
			}
			ans.AnswerText = in.AnswerText
		default:
			return nil, fmt.Errorf("%w: %s answers are uploaded", ErrInvalidAnswer, q.Type)
		}

		if i, seen := index[q.ID]; seen {
			answers[i] = ans
			continue
		}
		index[q.ID] = len(answers)
		answers = append(answers, ans)
	}
	return answers, nil
}

// clampTimeSpent bounds the client-reported minutes by the attempt window.
func clampTimeSpent(reported int, a *model.Attempt) int {
	limit := int(math.Ceil(a.DeadlineAt.Sub(a.StartedAt).Minutes()))
	if reported < 0 {
		return 0
	}
	if reported > limit {
		return limit
	}
	return reported
}

// ─── Recordings ────────────────────────────────────────────────────────

// UploadAudio stores one recording of a submitted attempt.
func (s *AttemptService) UploadAudio(ctx context.Context, examID uuid.UUID, studentID int, in *AudioInput) (*model.AudioUploadResponse, error) {
	attempt, err := s.ownedAttempt(ctx, examID, studentID, in.AttemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != model.AttemptStatusSubmitted {
		return nil, ErrAttemptClosed
	}

	sub, err := s.submissions.GetByID(ctx, in.SubmissionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubmissionUnknown
		}
		return nil, fmt.Errorf("get submission: %w", err)
	}
	if sub.AttemptID != attempt.ID {
		return nil, ErrSubmissionUnknown
	}

	payload, err := s.exams.GetPayload(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	if !isRecordingQuestion(payload.Questions, in.QuestionID) {
		return nil, ErrNotRecordingQuestion
	}

	stored, err := s.media.SaveAudio(in.Body)
	if err != nil {
		return nil, err
	}

	if err := s.submissions.AppendRecording(ctx, attempt.ID, in.QuestionID, stored.URL); err != nil {
		return nil, fmt.Errorf("attach recording: %w", err)
	}

	if err := s.events.PublishAudioUploaded(ctx, &events.AudioUploaded{
		SubmissionID: sub.ID,
		AttemptID:    attempt.ID,
		ExamID:       examID,
		QuestionID:   in.QuestionID,
		StudentID:    studentID,
		URL:          stored.URL,
		MimeType:     stored.MimeType,
		UploadedAt:   s.now(),
	}); err != nil {
		s.log.Warn().Err(err).Str("url", stored.URL).Msg("Failed to publish audio event")
	}

	return &model.AudioUploadResponse{URL: stored.URL}, nil
}

func isRecordingQuestion(questions []model.QuestionForStudent, id uuid.UUID) bool {
	for _, q := range questions {
		if q.ID == id {
			return q.Type.IsRecording()
		}
	}
	return false
}

// ─── Helpers ───────────────────────────────────────────────────────────

// Authorize returns the student's in-progress attempt for the exam.
func (s *AttemptService) Authorize(ctx context.Context, examID uuid.UUID, studentID int, attemptID uuid.UUID) (*model.Attempt, error) {
	attempt, err := s.ownedAttempt(ctx, examID, studentID, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.Status != model.AttemptStatusInProgress {
		return nil, ErrAttemptClosed
	}
	return attempt, nil
}

func (s *AttemptService) ownedAttempt(ctx context.Context, examID uuid.UUID, studentID int, attemptID uuid.UUID) (*model.Attempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	// Do not leak other students' attempts.
	if attempt.StudentID != studentID || attempt.ExamID != examID {
		return nil, ErrAttemptNotFound
	}
	return attempt, nil
}

func (s *AttemptService) overdue(a *model.Attempt, now time.Time) bool {
	return now.After(a.DeadlineAt.Add(s.grace))
}

func (s *AttemptService) expire(ctx context.Context, a *model.Attempt, now time.Time) {
	if err := s.attempts.Expire(ctx, a.ID, now); err != nil {
		s.log.Error().Err(err).Str("attempt_id", a.ID.String()).Msg("Failed to expire attempt")
	}
}

func (s *AttemptService) broadcast(ctx context.Context, examID uuid.UUID, a *model.Attempt, typ model.MonitorMessageType) {
	msg := &model.MonitorMessage{Type: typ, AttemptID: a.ID, StudentID: a.StudentID, At: s.now()}
	if err := s.cache.PublishMonitor(ctx, examID.String(), msg); err != nil {
		s.log.Warn().Err(err).Str("type", string(typ)).Msg("Failed to publish monitor update")
	}
}

// RequireOpenAttempt reports ErrAttemptNotFound unless the student has an
// attempt in progress for the exam.
func (s *AttemptService) RequireOpenAttempt(ctx context.Context, examID uuid.UUID, studentID int) error {
	if _, err := s.attempts.GetInProgress(ctx, examID, studentID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAttemptNotFound
		}
		return fmt.Errorf("check attempt: %w", err)
	}
	return nil
}
