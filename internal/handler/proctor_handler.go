package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/examportal/internal/middleware"
	"github.com/stemsi/examportal/internal/model"
	"github.com/stemsi/examportal/internal/response"
	"github.com/stemsi/examportal/internal/service"
	"github.com/stemsi/examportal/internal/session"
	ws "github.com/stemsi/examportal/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// AttemptAuthorizer resolves the open attempt a relay connection belongs to.
type AttemptAuthorizer interface {
	Authorize(ctx context.Context, examID uuid.UUID, studentID int, attemptID uuid.UUID) (*model.Attempt, error)
}

// PayloadSource provides the student payload of an exam.
type PayloadSource interface {
	GetPayload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error)
}

// ViolationRecorder stores proctoring evidence.
type ViolationRecorder interface {
	Policy() session.Policy
	Record(ctx context.Context, ev *model.ProctoringEvent) error
}

// ProctorHandler hosts a server-side proctoring monitor per attempt.
type ProctorHandler struct {
	attempts AttemptAuthorizer
	exams    PayloadSource
	recorder ViolationRecorder
	tick     time.Duration
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewProctorHandler creates a new ProctorHandler.
func NewProctorHandler(attempts AttemptAuthorizer, exams PayloadSource, recorder ViolationRecorder, log zerolog.Logger, allowedOrigins []string) *ProctorHandler {
	return &ProctorHandler{
		attempts: attempts,
		exams:    exams,
		recorder: recorder,
		tick:     time.Second,
		log:      log.With().Str("component", "proctor_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// ProctorStream godoc
// WS /ws/v1/student/exams/:exam_id/proctor?attempt_id=&token=
// Relays page-visibility signals into a proctoring monitor and streams
// warnings, auto-submit instructions and the countdown back.
func (h *ProctorHandler) ProctorStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}
	attemptID, err := uuid.Parse(c.Query("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// SECURITY: Validate the attempt before upgrading.
	attempt, err := h.attempts.Authorize(c.Request.Context(), examID, claims.UserID, attemptID)
	if err != nil {
		failAttempt(c, err)
		return
	}
	payload, err := h.exams.GetPayload(c.Request.Context(), examID)
	if err != nil {
		failExam(c, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	r := &relay{
		h:       h,
		conn:    conn,
		attempt: attempt,
		guard:   &session.Guard{},
		log: h.log.With().
			Int("student_id", attempt.StudentID).
			Str("exam_id", examID.String()).
			Str("attempt_id", attempt.ID.String()).
			Logger(),
	}
	r.monitor = session.NewMonitor(h.recorder.Policy(), r.guard)
	r.countdown = session.NewCountdown(attempt.DeadlineAt)
	if !hasRecordings(payload.Questions) {
		r.monitor.Arm()
	}

	r.serve()
}

func hasRecordings(qs []model.QuestionForStudent) bool {
	for _, q := range qs {
		if q.Type.IsRecording() {
			return true
		}
	}
	return false
}

// relay is the state of one proctoring connection.
type relay struct {
	h         *ProctorHandler
	conn      *ws.Conn
	attempt   *model.Attempt
	guard     *session.Guard
	monitor   *session.Monitor
	countdown *session.Countdown
	log       zerolog.Logger

	mu        sync.Mutex
	awayTimer *time.Timer
}

func (r *relay) serve() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer r.stopAwayTimer()

	r.log.Info().Msg("Proctor relay connected")

	remaining := r.countdown.Remaining(time.Now())
	r.write(ws.ResponsePayload{Event: ws.EventReady, State: r.monitor.State().String(), Remaining: &remaining})

	r.conn.KeepAlive()
	go r.pingLoop(ctx)
	go r.countdown.Run(ctx, r.h.tick,
		func(left int) {
			r.write(ws.ResponsePayload{Event: ws.EventTick, Remaining: &left})
		},
		func() {
			r.write(ws.ResponsePayload{Event: ws.EventExpired})
			if r.guard.TryFire() {
				r.autoSubmit(session.TriggerDeadline, r.monitor.Violations())
			}
		},
	)

	for {
		var msg ws.RequestPayload
		if err := r.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				r.log.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionPing:
			r.write(ws.ResponsePayload{Event: ws.EventPong, State: r.monitor.State().String()})
		case ws.ActionSignal:
			kind, ok := session.ParseSignalKind(msg.Kind)
			if !ok {
				r.conn.WriteError("unknown signal: " + msg.Kind)
				continue
			}
			r.handleSignal(kind)
		default:
			r.log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			r.conn.WriteError("unknown action: " + string(msg.Action))
		}
	}
}

// handleSignal feeds one signal to the monitor. Receive time is used
// instead of the client clock so grace and debounce windows cannot be
// skewed by the client.
func (r *relay) handleSignal(kind session.SignalKind) {
	before := r.monitor.Violations()
	effects := r.monitor.Handle(session.Signal{Kind: kind, At: time.Now()})

	if after := r.monitor.Violations(); after > before {
		r.record(model.ProctoringDeparture, string(kind), after, "")
	}
	r.apply(effects)
}

func (r *relay) apply(effects []session.Effect) {
	for _, e := range effects {
		switch e.Kind {
		case session.EffectWarn:
			r.record(model.ProctoringWarning, "", e.Violations, "")
			r.write(ws.ResponsePayload{
				Event:      ws.EventWarning,
				State:      r.monitor.State().String(),
				Violations: e.Violations,
				Strikes:    e.Strikes,
			})
		case session.EffectStartAwayTimer:
			r.startAwayTimer(e.Deadline, e.Generation)
		case session.EffectCancelAwayTimer:
			r.stopAwayTimer()
		case session.EffectAutoSubmit:
			r.stopAwayTimer()
			r.autoSubmit(e.Trigger, e.Violations)
		}
	}
}

func (r *relay) autoSubmit(trigger session.Trigger, violations int) {
	r.record(model.ProctoringAutoSubmit, "", violations, string(trigger))
	r.write(ws.ResponsePayload{
		Event:      ws.EventAutoSubmit,
		State:      session.StateSubmitting.String(),
		Violations: violations,
		Trigger:    string(trigger),
	})
	r.log.Info().Str("trigger", string(trigger)).Int("violations", violations).Msg("Auto-submit instructed")
}

func (r *relay) startAwayTimer(deadline time.Time, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.awayTimer != nil {
		r.awayTimer.Stop()
	}
	r.awayTimer = time.AfterFunc(time.Until(deadline), func() {
		r.apply(r.monitor.AwayElapsed(time.Now(), gen))
	})
}

func (r *relay) stopAwayTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.awayTimer != nil {
		r.awayTimer.Stop()
		r.awayTimer = nil
	}
}

func (r *relay) record(kind model.ProctoringEventKind, signal string, violations int, detail string) {
	ev := &model.ProctoringEvent{
		AttemptID:  r.attempt.ID,
		ExamID:     r.attempt.ExamID,
		StudentID:  r.attempt.StudentID,
		Kind:       kind,
		Signal:     signal,
		Violations: violations,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.h.recorder.Record(ctx, ev); err != nil {
		r.log.Error().Err(err).Str("kind", string(kind)).Msg("Failed to record proctoring event")
	}
}

func (r *relay) write(p ws.ResponsePayload) {
	if err := r.conn.WriteJSON(p); err != nil {
		r.log.Debug().Err(err).Str("event", string(p.Event)).Msg("Write failed")
	}
}

func (r *relay) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(ws.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.conn.Ping(); err != nil {
				return
			}
		}
	}
}

// failAttempt maps attempt service errors onto API responses.
func failAttempt(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAttemptNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
	case errors.Is(err, service.ErrAttemptClosed):
		response.Fail(c, http.StatusConflict, response.ErrAttemptClosed)
	case errors.Is(err, service.ErrAttemptExpired):
		response.Fail(c, http.StatusGone, response.ErrAttemptExpired)
	case errors.Is(err, service.ErrAlreadySubmitted):
		response.Fail(c, http.StatusConflict, response.ErrAlreadySubmitted)
	case errors.Is(err, service.ErrSubmissionUnknown):
		response.Fail(c, http.StatusNotFound, response.ErrSubmissionUnknown)
	case errors.Is(err, service.ErrNotRecordingQuestion):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrNotRecordingItem)
	case errors.Is(err, service.ErrInvalidAnswer):
		response.FailWithMessage(c, http.StatusUnprocessableEntity, response.ErrValidation, err.Error())
	default:
		failExam(c, err)
	}
}

// failExam maps exam service errors onto API responses.
func failExam(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrExamNotPublished), errors.Is(err, service.ErrExamNotAvailable):
		response.Fail(c, http.StatusForbidden, response.ErrExamNotAvailable)
	case errors.Is(err, service.ErrExamNotStarted):
		response.Fail(c, http.StatusForbidden, response.ErrExamNotStarted)
	case errors.Is(err, service.ErrExamEnded):
		response.Fail(c, http.StatusForbidden, response.ErrExamEnded)
	case errors.Is(err, service.ErrInvalidAccessCode):
		response.Fail(c, http.StatusForbidden, response.ErrInvalidAccessCode)
	case errors.Is(err, service.ErrNoQuestions):
		response.Fail(c, http.StatusConflict, response.ErrNoQuestions)
	default:
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
