package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/examportal/internal/model"
	"github.com/stemsi/examportal/internal/repository"
)

// Domain Errors
var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrNoQuestions      = errors.New("exam has no questions")
	ErrExamNotPublished = errors.New("exam status is not PUBLISHED")
)

// ExamStore is the exam persistence used by ExamService.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	CreateWithQuestions(ctx context.Context, e *model.Exam, questions []model.Question) error
	ListPublished(ctx context.Context) ([]model.Exam, error)
}

// QuestionStore lists the questions of an exam.
type QuestionStore interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// PayloadCache caches the student-facing exam payload.
type PayloadCache interface {
	GetExamPayload(ctx context.Context, examID string) (*model.ExamPayload, error)
	SetExamPayload(ctx context.Context, examID string, payload *model.ExamPayload) error
}

// ExamService handles exam lookups and the Redis payload cache.
type ExamService struct {
	examRepo     ExamStore
	questionRepo QuestionStore
	cache        PayloadCache
	log          zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	examRepo ExamStore,
	questionRepo QuestionStore,
	cache PayloadCache,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		examRepo:     examRepo,
		questionRepo: questionRepo,
		cache:        cache,
		log:          log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam by its UUID.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	exam, err := s.examRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return exam, nil
}

// CreateFromDefinition stores an authored exam as PUBLISHED and warms its cache.
// The definition must already be validated.
func (s *ExamService) CreateFromDefinition(ctx context.Context, def *model.ExamDefinition, accessCodeHash string) (*model.Exam, error) {
	exam := &model.Exam{
		Title:              def.Title,
		Description:        def.Description,
		StartsAt:           def.StartsAt,
		EndsAt:             def.EndsAt,
		DurationMinutes:    def.DurationMinutes,
		TimePerQuestionSec: def.TimePerQuestionSec,
		AllowedReRecords:   def.AllowedReRecords,
		StrictMode:         def.StrictMode,
		AccessCodeHash:     accessCodeHash,
		Status:             model.ExamStatusPublished,
	}

	questions := make([]model.Question, len(def.Questions))
	for i, qd := range def.Questions {
		questions[i] = model.Question{
			Type:      qd.Type,
			Text:      qd.Text,
			Points:    qd.Points,
			MediaURL:  qd.MediaURL,
			MediaType: qd.MediaType,
			Options:   qd.Options,
			OrderNum:  i + 1,
		}
	}

	if err := s.examRepo.CreateWithQuestions(ctx, exam, questions); err != nil {
		return nil, fmt.Errorf("create exam: %w", err)
	}

	if _, err := s.warm(ctx, exam, questions); err != nil {
		// The read-through path in GetPayload recovers from a cold cache.
		s.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Failed to warm cache after create")
	}

	s.log.Info().
		Str("exam_id", exam.ID.String()).
		Int("questions", len(questions)).
		Msg("Exam created")
	return exam, nil
}

// GetPayload returns the student payload of a published exam, from Redis
// when cached and from PostgreSQL otherwise.
func (s *ExamService) GetPayload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error) {
	payload, err := s.cache.GetExamPayload(ctx, examID.String())
	if err == nil {
		return payload, nil
	}
	if !errors.Is(err, repository.ErrCacheMiss) {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Payload cache read failed, falling back to database")
	}

	exam, err := s.GetByID(ctx, examID)
	if err != nil {
		return nil, err
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotPublished
	}

	payload, err = s.WarmExamCache(ctx, exam)
	if payload == nil {
		return nil, err
	}
	if err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID.String()).Msg("Serving uncached payload")
	}
	return payload, nil
}

// WarmExamCache loads an exam's payload from PostgreSQL into Redis.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) (*model.ExamPayload, error) {
	questions, err := s.questionRepo.ListByExam(ctx, exam.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return s.warm(ctx, exam, questions)
}

func (s *ExamService) warm(ctx context.Context, exam *model.Exam, questions []model.Question) (*model.ExamPayload, error) {
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	// Build student-facing payload (without correct answers).
	studentQuestions := make([]model.QuestionForStudent, len(questions))
	for i := range questions {
		studentQuestions[i] = questions[i].ForStudent()
	}

	payload := &model.ExamPayload{
		Summary:   exam.Summary(questions),
		Questions: studentQuestions,
	}

	if err := s.cache.SetExamPayload(ctx, exam.ID.String(), payload); err != nil {
		return payload, fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", exam.ID.String()).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return payload, nil
}

// PrewarmAllCaches loads all published exams into Redis on application startup.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	warmed := 0
	for i := range exams {
		if _, err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}
