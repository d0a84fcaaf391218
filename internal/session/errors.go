package session

import "errors"

// Recoverable errors. The student can retry or continue.
var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrDeviceUnavailable = errors.New("no usable microphone")
	ErrInvalidState      = errors.New("recorder is not in a state that allows this operation")
	ErrQuotaExceeded     = errors.New("re-record limit reached for this question")
	ErrOutOfRange        = errors.New("question index out of range")
	ErrUnknownQuestion   = errors.New("unknown question")
	ErrKindMismatch      = errors.New("answer value does not match question type")
	ErrTakeNotFound      = errors.New("recording take not found")
)

// Session-fatal errors.
var (
	ErrNoActiveAttempt = errors.New("no active attempt")
	ErrBootstrap       = errors.New("session bootstrap failed")
)

// Submission errors.
var (
	ErrSessionFrozen    = errors.New("session is frozen")
	ErrAlreadySubmitted = errors.New("submission already in progress")
	ErrSubmitFailed     = errors.New("submission failed")
	ErrNothingToRetry   = errors.New("no failed submission to retry")
)
