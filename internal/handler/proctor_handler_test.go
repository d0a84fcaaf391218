package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/examportal/internal/model"
	"github.com/stemsi/examportal/internal/service"
	"github.com/stemsi/examportal/internal/session"
	ws "github.com/stemsi/examportal/internal/websocket"
)

type relayFixture struct {
	srv      *httptest.Server
	attempts *fakeAttempts
	recorder *fakeRecorder
	handler  *ProctorHandler
}

func newRelayFixture(t *testing.T, deadline time.Duration, types ...model.QuestionType) *relayFixture {
	t.Helper()
	attempt := &model.Attempt{
		ID:         uuid.New(),
		ExamID:     uuid.New(),
		StudentID:  7,
		StartedAt:  time.Now(),
		DeadlineAt: time.Now().Add(deadline),
		Status:     model.AttemptStatusInProgress,
	}
	f := &relayFixture{
		attempts: &fakeAttempts{attempt: attempt},
		recorder: &fakeRecorder{policy: session.Policy{AwayTimeout: 60 * time.Millisecond, Strikes: 2}},
	}
	f.handler = NewProctorHandler(f.attempts, &fakePayloads{payload: samplePayload(types...)}, f.recorder, zerolog.Nop(), nil)
	f.handler.tick = 10 * time.Millisecond

	r := newEngine(7)
	r.GET("/proctor/:exam_id", f.handler.ProctorStream)
	f.srv = httptest.NewServer(r)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *relayFixture) dial(t *testing.T) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") +
		"/proctor/" + f.attempts.attempt.ExamID.String() + "?attempt_id=" + f.attempts.attempt.ID.String()
	return websocket.DefaultDialer.Dial(u, nil)
}

// readUntil reads events until one of kind arrives, skipping the rest.
func readUntil(t *testing.T, conn *websocket.Conn, kind ws.Event) ws.ResponsePayload {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg ws.ResponsePayload
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", kind)
		if msg.Event == kind {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, kind session.SignalKind) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(ws.RequestPayload{Action: ws.ActionSignal, Kind: string(kind)}))
}

func TestProctorRelayWarnsThenSubmitsOnAwayTimeout(t *testing.T) {
	f := newRelayFixture(t, time.Hour, model.QuestionTypeMCQ)
	conn, _, err := f.dial(t)
	require.NoError(t, err)
	defer conn.Close()

	ready := readUntil(t, conn, ws.EventReady)
	assert.Equal(t, session.StateNormal.String(), ready.State)
	require.NotNil(t, ready.Remaining)

	send(t, conn, session.SignalHidden)
	warn := readUntil(t, conn, ws.EventWarning)
	assert.Equal(t, 1, warn.Violations)
	assert.Equal(t, 2, warn.Strikes)

	submit := readUntil(t, conn, ws.EventAutoSubmit)
	assert.Equal(t, string(session.TriggerAwayTimeout), submit.Trigger)

	waitFor(t, func() bool { return len(f.recorder.kinds()) == 3 })
	assert.Equal(t, []model.ProctoringEventKind{
		model.ProctoringDeparture, model.ProctoringWarning, model.ProctoringAutoSubmit,
	}, f.recorder.kinds())
}

func TestProctorRelaySecondStrikeSubmits(t *testing.T) {
	f := newRelayFixture(t, time.Hour, model.QuestionTypeMCQ)
	f.recorder.policy.AwayTimeout = time.Hour
	conn, _, err := f.dial(t)
	require.NoError(t, err)
	defer conn.Close()
	readUntil(t, conn, ws.EventReady)

	send(t, conn, session.SignalBlur)
	readUntil(t, conn, ws.EventWarning)
	send(t, conn, session.SignalFocus)
	send(t, conn, session.SignalHidden)

	submit := readUntil(t, conn, ws.EventAutoSubmit)
	assert.Equal(t, string(session.TriggerViolation), submit.Trigger)
	assert.Equal(t, 2, submit.Violations)
}

func TestProctorRelayRecordingExamWaitsForMicrophone(t *testing.T) {
	f := newRelayFixture(t, time.Hour, model.QuestionTypeViva)
	f.recorder.policy.AwayTimeout = time.Hour
	conn, _, err := f.dial(t)
	require.NoError(t, err)
	defer conn.Close()
	readUntil(t, conn, ws.EventReady)

	send(t, conn, session.SignalHidden)
	send(t, conn, session.SignalVisible)
	require.NoError(t, conn.WriteJSON(ws.RequestPayload{Action: ws.ActionPing}))
	pong := readUntil(t, conn, ws.EventPong)
	assert.Equal(t, session.StateNormal.String(), pong.State, "departures before the microphone grant are ignored")

	send(t, conn, session.SignalMicGranted)
	send(t, conn, session.SignalHidden)
	readUntil(t, conn, ws.EventWarning)
}

func TestProctorRelayDeadline(t *testing.T) {
	f := newRelayFixture(t, 50*time.Millisecond, model.QuestionTypeMCQ)
	conn, _, err := f.dial(t)
	require.NoError(t, err)
	defer conn.Close()

	readUntil(t, conn, ws.EventExpired)
	submit := readUntil(t, conn, ws.EventAutoSubmit)
	assert.Equal(t, string(session.TriggerDeadline), submit.Trigger)
}

func TestProctorRelayUnknownSignal(t *testing.T) {
	f := newRelayFixture(t, time.Hour, model.QuestionTypeMCQ)
	conn, _, err := f.dial(t)
	require.NoError(t, err)
	defer conn.Close()
	readUntil(t, conn, ws.EventReady)

	require.NoError(t, conn.WriteJSON(ws.RequestPayload{Action: ws.ActionSignal, Kind: "teleport"}))
	msg := readUntil(t, conn, ws.EventError)
	assert.Contains(t, msg.Error, "teleport")
}

func TestProctorRelayRejectsClosedAttempt(t *testing.T) {
	f := newRelayFixture(t, time.Hour, model.QuestionTypeMCQ)
	f.attempts.authErr = service.ErrAttemptClosed

	_, resp, err := f.dial(t)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
