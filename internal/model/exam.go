package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// Exam represents an exam entity.
type Exam struct {
	ID                 uuid.UUID  `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	StartsAt           *time.Time `json:"starts_at,omitempty"`
	EndsAt             *time.Time `json:"ends_at,omitempty"`
	DurationMinutes    int        `json:"duration_minutes"`
	TimePerQuestionSec *int       `json:"time_per_question_sec,omitempty"`
	AllowedReRecords   int        `json:"allowed_re_records"`
	StrictMode         bool       `json:"strict_mode"`
	AccessCodeHash     string     `json:"-"`
	Status             ExamStatus `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Deadline returns when an attempt started at startedAt must end: the
// attempt duration, cut short by the exam window.
func (e *Exam) Deadline(startedAt time.Time) time.Time {
	deadline := startedAt.Add(time.Duration(e.DurationMinutes) * time.Minute)
	if e.EndsAt != nil && e.EndsAt.Before(deadline) {
		return *e.EndsAt
	}
	return deadline
}

func (e *Exam) RequiresAccessCode() bool {
	return e.AccessCodeHash != ""
}

// Summary builds the student-facing view of the exam.
func (e *Exam) Summary(questions []Question) ExamSummary {
	s := ExamSummary{
		ExamID:             e.ID,
		Title:              e.Title,
		Description:        e.Description,
		StartsAt:           e.StartsAt,
		EndsAt:             e.EndsAt,
		DurationMinutes:    e.DurationMinutes,
		TimePerQuestionSec: e.TimePerQuestionSec,
		AllowedReRecords:   e.AllowedReRecords,
		StrictMode:         e.StrictMode,
		QuestionCount:      len(questions),
	}
	for _, q := range questions {
		s.TotalPoints += q.Points
	}
	return s
}

// ExamSummary is the exam metadata a student sees before and during an attempt.
type ExamSummary struct {
	ExamID             uuid.UUID  `json:"exam_id"`
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	StartsAt           *time.Time `json:"starts_at,omitempty"`
	EndsAt             *time.Time `json:"ends_at,omitempty"`
	DurationMinutes    int        `json:"duration_minutes"`
	TimePerQuestionSec *int       `json:"time_per_question_sec,omitempty"`
	AllowedReRecords   int        `json:"allowed_re_records"`
	StrictMode         bool       `json:"strict_mode"`
	QuestionCount      int        `json:"question_count"`
	TotalPoints        int        `json:"total_points"`
}

// ExamPayload is the Redis-cached payload sent to students (no correct answers).
type ExamPayload struct {
	Summary   ExamSummary          `json:"summary"`
	Questions []QuestionForStudent `json:"questions"`
}

// ExamDefinition is the authoring output consumed by the seeding tool.
type ExamDefinition struct {
	Title              string               `json:"title" validate:"required,min=3,max=255"`
	Description        string               `json:"description" validate:"max=5000"`
	StartsAt           *time.Time           `json:"starts_at" validate:"omitempty"`
	EndsAt             *time.Time           `json:"ends_at" validate:"omitempty,gtfield=StartsAt"`
	DurationMinutes    int                  `json:"duration_minutes" validate:"required,min=1,max=480"`
	TimePerQuestionSec *int                 `json:"time_per_question_sec" validate:"omitempty,min=5,max=3600"`
	AllowedReRecords   int                  `json:"allowed_re_records" validate:"min=0,max=10"`
	StrictMode         bool                 `json:"strict_mode"`
	Questions          []QuestionDefinition `json:"questions" validate:"required,min=1,dive"`
}
