package model

import (
	"time"

	"github.com/google/uuid"
)

// AnswerInput is one inline answer of a submission. Recording answers are
// uploaded separately.
type AnswerInput struct {
	QuestionID          uuid.UUID    `json:"question_id" binding:"required"`
	Type                QuestionType `json:"type" binding:"required,oneof=mcq short_answer long_answer"`
	SelectedOptionIndex *int         `json:"selected_option_index,omitempty" binding:"omitempty,min=0,max=3"`
	AnswerText          *string      `json:"answer_text,omitempty" binding:"omitempty,max=20000"`
}

// SubmitRequest is the payload for submitting an attempt.
type SubmitRequest struct {
	AttemptID        uuid.UUID     `json:"attempt_id" binding:"required"`
	Answers          []AnswerInput `json:"answers" binding:"omitempty,dive"`
	TimeSpentMinutes int           `json:"time_spent_minutes" binding:"min=0"`
}

type SubmitResponse struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Submission records the finalization of an attempt.
type Submission struct {
	ID               uuid.UUID `json:"id"`
	AttemptID        uuid.UUID `json:"attempt_id"`
	SubmittedAt      time.Time `json:"submitted_at"`
	TimeSpentMinutes int       `json:"time_spent_minutes"`
	AnswerCount      int       `json:"answer_count"`
}

// StudentAnswer is the stored answer of one question in an attempt.
type StudentAnswer struct {
	AttemptID           uuid.UUID `json:"attempt_id"`
	QuestionID          uuid.UUID `json:"question_id"`
	SelectedOptionIndex *int      `json:"selected_option_index,omitempty"`
	AnswerText          *string   `json:"answer_text,omitempty"`
	RecordingURLs       []string  `json:"recording_urls,omitempty"`
}

// AudioUploadResponse is returned after a recording was stored.
type AudioUploadResponse struct {
	URL string `json:"url"`
}
