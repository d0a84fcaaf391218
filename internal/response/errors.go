package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrFacultyAccessOnly ErrCode = "FACULTY_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Exam-specific ─────────────────────────────────────────────────
	ErrExamNotAvailable  ErrCode = "EXAM_NOT_AVAILABLE"
	ErrExamNotStarted    ErrCode = "EXAM_NOT_STARTED"
	ErrExamEnded         ErrCode = "EXAM_ENDED"
	ErrInvalidAccessCode ErrCode = "INVALID_ACCESS_CODE"
	ErrNoQuestions       ErrCode = "NO_QUESTIONS"

	// ─── Attempt-specific ──────────────────────────────────────────────
	ErrAttemptNotFound   ErrCode = "ATTEMPT_NOT_FOUND"
	ErrAttemptClosed     ErrCode = "ATTEMPT_CLOSED"
	ErrAttemptExpired    ErrCode = "ATTEMPT_EXPIRED"
	ErrAlreadySubmitted  ErrCode = "ALREADY_SUBMITTED"
	ErrSubmissionUnknown ErrCode = "SUBMISSION_UNKNOWN"
	ErrNotRecordingItem  ErrCode = "NOT_RECORDING_QUESTION"

	// ─── Media ─────────────────────────────────────────────────────────
	ErrFileRequired    ErrCode = "FILE_REQUIRED"
	ErrUnsupportedFile ErrCode = "UNSUPPORTED_FILE_TYPE"
	ErrFileTooLarge    ErrCode = "FILE_TOO_LARGE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."
	case ErrTokenExpired:
		return "Authentication token has expired. Please sign in again."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have access to this resource."
	case ErrStudentAccessOnly:
		return "This resource is available to students only."
	case ErrFacultyAccessOnly:
		return "This resource is available to faculty only."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "The submitted data is invalid."
	case ErrInvalidID:
		return "The provided ID is not valid."
	case ErrInvalidPayload:
		return "The request body could not be processed."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "The requested resource was not found."

	// ─── Exam-specific ─────────────────────────────────────────────────
	case ErrExamNotAvailable:
		return "This exam is not available."
	case ErrExamNotStarted:
		return "This exam has not started yet."
	case ErrExamEnded:
		return "This exam has already ended."
	case ErrInvalidAccessCode:
		return "The exam access code is incorrect."
	case ErrNoQuestions:
		return "This exam has no questions."

	// ─── Attempt-specific ──────────────────────────────────────────────
	case ErrAttemptNotFound:
		return "No attempt was found for this exam."
	case ErrAttemptClosed:
		return "This attempt is no longer in progress."
	case ErrAttemptExpired:
		return "The time for this attempt has run out."
	case ErrAlreadySubmitted:
		return "This attempt has already been submitted."
	case ErrSubmissionUnknown:
		return "The submission does not belong to this attempt."
	case ErrNotRecordingItem:
		return "This question does not accept recordings."

	// ─── Media ─────────────────────────────────────────────────────────
	case ErrFileRequired:
		return "An audio file is required."
	case ErrUnsupportedFile:
		return "Unsupported file type. Upload WebM, Ogg, WAV, MP3 or M4A audio."
	case ErrFileTooLarge:
		return "The file exceeds the maximum allowed size."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	default:
		return "An internal server error occurred."
	}
}
