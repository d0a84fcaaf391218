package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examportal/internal/middleware"
	"github.com/stemsi/examportal/internal/model"
	"github.com/stemsi/examportal/internal/response"
	"github.com/stemsi/examportal/internal/service"
	"github.com/stemsi/examportal/internal/validator"
)

// multipartMemory is how much of an upload is held in memory before
// spilling to a temp file.
const multipartMemory = 8 << 20

// AttemptRunner is the attempt lifecycle used by ExamHandler.
type AttemptRunner interface {
	Start(ctx context.Context, examID uuid.UUID, studentID int, accessCode string) (*model.StartAttemptResponse, error)
	Submit(ctx context.Context, examID uuid.UUID, studentID int, req *model.SubmitRequest) (*model.SubmitResponse, error)
	UploadAudio(ctx context.Context, examID uuid.UUID, studentID int, in *service.AudioInput) (*model.AudioUploadResponse, error)
	RequireOpenAttempt(ctx context.Context, examID uuid.UUID, studentID int) error
}

// ExamHandler handles the student exam-taking endpoints.
type ExamHandler struct {
	exams          PayloadSource
	attempts       AttemptRunner
	maxUploadBytes int64
	log            zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(exams PayloadSource, attempts AttemptRunner, maxUploadBytes int64, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		exams:          exams,
		attempts:       attempts,
		maxUploadBytes: maxUploadBytes,
		log:            log.With().Str("component", "exam_handler").Logger(),
	}
}

// studentAndExam extracts the caller and the :exam_id path parameter.
// It writes the error response itself and returns ok=false on failure.
func studentAndExam(c *gin.Context) (studentID int, examID uuid.UUID, ok bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return 0, uuid.Nil, false
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, uuid.Nil, false
	}
	return claims.UserID, examID, true
}

// StartAttempt godoc
// POST /api/v1/student/exams/:exam_id/start
// Opens an attempt, or returns the one in progress (idempotent).
func (h *ExamHandler) StartAttempt(c *gin.Context) {
	studentID, examID, ok := studentAndExam(c)
	if !ok {
		return
	}

	var req model.StartAttemptRequest
	if c.Request.ContentLength != 0 {
		if fields := validator.Bind(c, &req); fields != nil {
			response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
			return
		}
	}

	res, err := h.attempts.Start(c.Request.Context(), examID, studentID, req.AccessCode)
	if err != nil {
		h.logUnexpected(c, err, "Start attempt failed")
		failAttempt(c, err)
		return
	}

	status := http.StatusCreated
	if res.Resumed {
		status = http.StatusOK
	}
	response.Success(c, status, res)
}

// GetSummary godoc
// GET /api/v1/student/exams/:exam_id/summary
// Returns the exam metadata (duration, limits, question count).
func (h *ExamHandler) GetSummary(c *gin.Context) {
	_, examID, ok := studentAndExam(c)
	if !ok {
		return
	}

	payload, err := h.exams.GetPayload(c.Request.Context(), examID)
	if err != nil {
		h.logUnexpected(c, err, "Load summary failed")
		failExam(c, err)
		return
	}

	response.Success(c, http.StatusOK, payload.Summary)
}

// GetQuestions godoc
// GET /api/v1/student/exams/:exam_id/questions
// Returns the student-safe questions from the Redis payload.
// SECURITY: requires an attempt in progress so papers cannot be fetched early.
func (h *ExamHandler) GetQuestions(c *gin.Context) {
	studentID, examID, ok := studentAndExam(c)
	if !ok {
		return
	}

	if err := h.attempts.RequireOpenAttempt(c.Request.Context(), examID, studentID); err != nil {
		if errors.Is(err, service.ErrAttemptNotFound) {
			response.Fail(c, http.StatusForbidden, response.ErrForbidden)
			return
		}
		h.logUnexpected(c, err, "Attempt check failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	payload, err := h.exams.GetPayload(c.Request.Context(), examID)
	if err != nil {
		h.logUnexpected(c, err, "Load questions failed")
		failExam(c, err)
		return
	}

	response.Success(c, http.StatusOK, payload.Questions)
}

// Submit godoc
// POST /api/v1/student/exams/:exam_id/submit
// Finalizes the attempt with its inline (choice and text) answers.
func (h *ExamHandler) Submit(c *gin.Context) {
	studentID, examID, ok := studentAndExam(c)
	if !ok {
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.attempts.Submit(c.Request.Context(), examID, studentID, &req)
	if err != nil {
		h.logUnexpected(c, err, "Submit failed")
		failAttempt(c, err)
		return
	}

	response.Success(c, http.StatusCreated, res)
}

// UploadAudio godoc
// POST /api/v1/student/exams/:exam_id/upload-audio
// Stores one recording of a submitted attempt (multipart field "audio").
func (h *ExamHandler) UploadAudio(c *gin.Context) {
	studentID, examID, ok := studentAndExam(c)
	if !ok {
		return
	}

	// Leave room for the multipart envelope and the id fields.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+64*1024)
	if err := c.Request.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
			return
		}
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return
	}

	in := &service.AudioInput{}
	ids := map[string]*uuid.UUID{
		"attempt_id":    &in.AttemptID,
		"submission_id": &in.SubmissionID,
		"question_id":   &in.QuestionID,
	}
	fields := map[string]string{}
	for name, dst := range ids {
		id, err := uuid.Parse(c.PostForm(name))
		if err != nil {
			fields[name] = name + " must be a valid UUID"
			continue
		}
		*dst = id
	}
	if len(fields) > 0 {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	file, _, err := c.Request.FormFile("audio")
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	defer file.Close()
	in.Body = file

	res, err := h.attempts.UploadAudio(c.Request.Context(), examID, studentID, in)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedFileType):
			response.Fail(c, http.StatusUnsupportedMediaType, response.ErrUnsupportedFile)
		case errors.Is(err, service.ErrFileTooLarge):
			response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
		case errors.Is(err, service.ErrEmptyFile):
			response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		default:
			h.logUnexpected(c, err, "Audio upload failed")
			failAttempt(c, err)
		}
		return
	}

	response.Success(c, http.StatusCreated, res)
}

// logUnexpected logs errors that map to a 500.
func (h *ExamHandler) logUnexpected(c *gin.Context, err error, msg string) {
	if isDomainError(err) {
		return
	}
	h.log.Error().Err(err).Str("request_id", response.RequestID(c)).Msg(msg)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		service.ErrExamNotFound, service.ErrExamNotPublished, service.ErrExamNotAvailable,
		service.ErrExamNotStarted, service.ErrExamEnded, service.ErrInvalidAccessCode,
		service.ErrNoQuestions, service.ErrAttemptNotFound, service.ErrAttemptClosed,
		service.ErrAttemptExpired, service.ErrAlreadySubmitted, service.ErrSubmissionUnknown,
		service.ErrNotRecordingQuestion, service.ErrInvalidAnswer,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
