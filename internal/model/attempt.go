package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates attempt states.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusSubmitted  AttemptStatus = "submitted"
	AttemptStatusExpired    AttemptStatus = "expired"
)

// Attempt represents one student's sitting of an exam.
type Attempt struct {
	ID               uuid.UUID     `json:"id"`
	ExamID           uuid.UUID     `json:"exam_id"`
	StudentID        int           `json:"student_id"`
	StartedAt        time.Time     `json:"started_at"`
	DeadlineAt       time.Time     `json:"deadline_at"`
	FinishedAt       *time.Time    `json:"finished_at,omitempty"`
	Status           AttemptStatus `json:"status"`
	TimeSpentMinutes *int          `json:"time_spent_minutes,omitempty"`
}

// StartAttemptRequest is the payload for starting (or resuming) an attempt.
type StartAttemptRequest struct {
	AccessCode string `json:"access_code" binding:"omitempty,max=64"`
}

type StartAttemptResponse struct {
	AttemptID uuid.UUID `json:"attempt_id"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Resumed   bool      `json:"resumed"`
}
