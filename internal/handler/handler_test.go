package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/examportal/internal/middleware"
	"github.com/stemsi/examportal/internal/model"
	"github.com/stemsi/examportal/internal/response"
	"github.com/stemsi/examportal/internal/service"
	"github.com/stemsi/examportal/internal/session"
	"github.com/stemsi/examportal/internal/validator"
)

var setupOnce sync.Once

func init() {
	gin.SetMode(gin.TestMode)
}

// newEngine returns a router authenticating every request as studentID.
func newEngine(studentID int) *gin.Engine {
	setupOnce.Do(validator.Setup)
	r := gin.New()
	r.Use(response.RequestIDMiddleware())
	r.Use(func(c *gin.Context) {
		if studentID > 0 {
			c.Set(middleware.ContextKeyClaims, &service.Claims{TokenType: service.TokenTypeStudent, UserID: studentID})
		}
		c.Next()
	})
	return r
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) *response.ErrorBody {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if out != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return env.Error
}

// ─── Fakes ──────────────────────────────────────────────────────────

type fakePayloads struct {
	payload *model.ExamPayload
	err     error
}

func (f *fakePayloads) GetPayload(_ context.Context, _ uuid.UUID) (*model.ExamPayload, error) {
	return f.payload, f.err
}

type fakeAttempts struct {
	mu sync.Mutex

	start      *model.StartAttemptResponse
	startErr   error
	submit     *model.SubmitResponse
	submitErr  error
	upload     *model.AudioUploadResponse
	uploadErr  error
	openErr    error
	attempt    *model.Attempt
	authErr    error
	lastCode   string
	lastSubmit *model.SubmitRequest
	lastAudio  []byte
}

func (f *fakeAttempts) Start(_ context.Context, _ uuid.UUID, _ int, code string) (*model.StartAttemptResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCode = code
	return f.start, f.startErr
}

func (f *fakeAttempts) Submit(_ context.Context, _ uuid.UUID, _ int, req *model.SubmitRequest) (*model.SubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSubmit = req
	return f.submit, f.submitErr
}

func (f *fakeAttempts) UploadAudio(_ context.Context, _ uuid.UUID, _ int, in *service.AudioInput) (*model.AudioUploadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, 64)
	n, _ := in.Body.Read(buf)
	f.lastAudio = buf[:n]
	return f.upload, f.uploadErr
}

func (f *fakeAttempts) RequireOpenAttempt(_ context.Context, _ uuid.UUID, _ int) error {
	return f.openErr
}

func (f *fakeAttempts) Authorize(_ context.Context, _ uuid.UUID, _ int, _ uuid.UUID) (*model.Attempt, error) {
	return f.attempt, f.authErr
}

type fakeRecorder struct {
	mu     sync.Mutex
	policy session.Policy
	events []*model.ProctoringEvent
}

func (f *fakeRecorder) Policy() session.Policy { return f.policy }

func (f *fakeRecorder) Record(_ context.Context, ev *model.ProctoringEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeRecorder) kinds() []model.ProctoringEventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.ProctoringEventKind, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Kind)
	}
	return out
}

func samplePayload(types ...model.QuestionType) *model.ExamPayload {
	p := &model.ExamPayload{Summary: model.ExamSummary{Title: "Biology", DurationMinutes: 30, QuestionCount: len(types)}}
	for i, typ := range types {
		p.Questions = append(p.Questions, model.QuestionForStudent{ID: uuid.New(), Type: typ, Text: "q", OrderNum: i + 1})
	}
	return p
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}
