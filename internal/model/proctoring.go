package model

import (
	"time"

	"github.com/google/uuid"
)

// ProctoringEventKind classifies stored proctoring evidence.
type ProctoringEventKind string

const (
	ProctoringDeparture  ProctoringEventKind = "departure"
	ProctoringWarning    ProctoringEventKind = "warning"
	ProctoringAutoSubmit ProctoringEventKind = "auto_submit"
)

// ProctoringEvent is one row of proctoring evidence for an attempt.
type ProctoringEvent struct {
	AttemptID  uuid.UUID           `json:"attempt_id"`
	ExamID     uuid.UUID           `json:"exam_id"`
	StudentID  int                 `json:"student_id"`
	Kind       ProctoringEventKind `json:"kind"`
	Signal     string              `json:"signal,omitempty"`
	Violations int                 `json:"violations"`
	Detail     string              `json:"detail,omitempty"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// MonitorMessageType classifies live monitor broadcasts.
type MonitorMessageType string

const (
	MonitorAttemptStarted MonitorMessageType = "attempt_started"
	MonitorSubmitted      MonitorMessageType = "submitted"
	MonitorProctoring     MonitorMessageType = "proctoring"
)

// MonitorMessage is one live update pushed to faculty monitors.
type MonitorMessage struct {
	Type       MonitorMessageType `json:"type"`
	AttemptID  uuid.UUID          `json:"attempt_id"`
	StudentID  int                `json:"student_id"`
	At         time.Time          `json:"at"`
	Proctoring *ProctoringEvent   `json:"proctoring,omitempty"`
}
