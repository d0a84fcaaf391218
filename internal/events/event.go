// Package events publishes domain events for the downstream grading and
// transcription pipeline.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type names a domain event.
type Type string

const (
	TypeSubmissionCreated Type = "submission.created"
	TypeAudioUploaded     Type = "audio.uploaded"
)

const (
	source  = "examportal"
	version = "1"
)

// SubmissionCreated is emitted once an attempt was finalized.
type SubmissionCreated struct {
	SubmissionID     uuid.UUID `json:"submission_id"`
	AttemptID        uuid.UUID `json:"attempt_id"`
	ExamID           uuid.UUID `json:"exam_id"`
	StudentID        int       `json:"student_id"`
	AnswerCount      int       `json:"answer_count"`
	TimeSpentMinutes int       `json:"time_spent_minutes"`
	SubmittedAt      time.Time `json:"submitted_at"`
}

// AudioUploaded is emitted for every stored recording.
type AudioUploaded struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	AttemptID    uuid.UUID `json:"attempt_id"`
	ExamID       uuid.UUID `json:"exam_id"`
	QuestionID   uuid.UUID `json:"question_id"`
	StudentID    int       `json:"student_id"`
	URL          string    `json:"url"`
	MimeType     string    `json:"mime_type"`
	UploadedAt   time.Time `json:"uploaded_at"`
}
