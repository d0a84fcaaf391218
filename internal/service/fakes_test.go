package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/stemsi/examportal/internal/config"
	"github.com/stemsi/examportal/internal/events"
	"github.com/stemsi/examportal/internal/model"
	"github.com/stemsi/examportal/internal/repository"
)

type fakeExamStore struct {
	exams     map[uuid.UUID]*model.Exam
	questions map[uuid.UUID][]model.Question
}

func newFakeExamStore() *fakeExamStore {
	return &fakeExamStore{exams: map[uuid.UUID]*model.Exam{}, questions: map[uuid.UUID][]model.Question{}}
}

func (f *fakeExamStore) GetByID(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	e, ok := f.exams[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *e
	return &cp, nil
}

func (f *fakeExamStore) CreateWithQuestions(_ context.Context, e *model.Exam, qs []model.Question) error {
	e.ID = uuid.New()
	for i := range qs {
		qs[i].ID = uuid.New()
		qs[i].ExamID = e.ID
	}
	f.exams[e.ID] = e
	f.questions[e.ID] = qs
	return nil
}

func (f *fakeExamStore) ListPublished(context.Context) ([]model.Exam, error) {
	var out []model.Exam
	for _, e := range f.exams {
		if e.Status == model.ExamStatusPublished {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeExamStore) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	return f.questions[examID], nil
}

type fakePayloadCache struct {
	mu       sync.Mutex
	payloads map[string]*model.ExamPayload
	sets     int
}

func (f *fakePayloadCache) GetExamPayload(_ context.Context, examID string) (*model.ExamPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payloads[examID]
	if !ok {
		return nil, repository.ErrCacheMiss
	}
	return p, nil
}

func (f *fakePayloadCache) SetExamPayload(_ context.Context, examID string, p *model.ExamPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payloads == nil {
		f.payloads = map[string]*model.ExamPayload{}
	}
	f.payloads[examID] = p
	f.sets++
	return nil
}

type fakeAttemptStore struct {
	attempts map[uuid.UUID]*model.Attempt
	// conflict makes the next Create behave like a concurrent insert.
	conflict *model.Attempt
}

func newFakeAttemptStore() *fakeAttemptStore {
	return &fakeAttemptStore{attempts: map[uuid.UUID]*model.Attempt{}}
}

func (f *fakeAttemptStore) GetByID(_ context.Context, id uuid.UUID) (*model.Attempt, error) {
	a, ok := f.attempts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAttemptStore) GetInProgress(_ context.Context, examID uuid.UUID, studentID int) (*model.Attempt, error) {
	for _, a := range f.attempts {
		if a.ExamID == examID && a.StudentID == studentID && a.Status == model.AttemptStatusInProgress {
			cp := *a
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeAttemptStore) Create(_ context.Context, a *model.Attempt) error {
	if f.conflict != nil {
		f.attempts[f.conflict.ID] = f.conflict
		f.conflict = nil
		return pgx.ErrNoRows
	}
	a.ID = uuid.New()
	a.Status = model.AttemptStatusInProgress
	cp := *a
	f.attempts[a.ID] = &cp
	return nil
}

func (f *fakeAttemptStore) Expire(_ context.Context, id uuid.UUID, at time.Time) error {
	if a, ok := f.attempts[id]; ok && a.Status == model.AttemptStatusInProgress {
		a.Status = model.AttemptStatusExpired
		a.FinishedAt = &at
	}
	return nil
}

type fakeSubmissionStore struct {
	attempts    *fakeAttemptStore
	submissions map[uuid.UUID]*model.Submission
	answers     map[uuid.UUID][]model.StudentAnswer
	recordings  map[uuid.UUID][]string
}

func newFakeSubmissionStore(attempts *fakeAttemptStore) *fakeSubmissionStore {
	return &fakeSubmissionStore{
		attempts:    attempts,
		submissions: map[uuid.UUID]*model.Submission{},
		answers:     map[uuid.UUID][]model.StudentAnswer{},
		recordings:  map[uuid.UUID][]string{},
	}
}

func (f *fakeSubmissionStore) Finalize(_ context.Context, sub *model.Submission, answers []model.StudentAnswer) error {
	a, ok := f.attempts.attempts[sub.AttemptID]
	if !ok || a.Status != model.AttemptStatusInProgress {
		return repository.ErrAttemptNotOpen
	}
	a.Status = model.AttemptStatusSubmitted
	a.FinishedAt = &sub.SubmittedAt
	sub.ID = uuid.New()
	f.submissions[sub.ID] = sub
	f.answers[sub.AttemptID] = answers
	return nil
}

func (f *fakeSubmissionStore) GetByID(_ context.Context, id uuid.UUID) (*model.Submission, error) {
	s, ok := f.submissions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return s, nil
}

func (f *fakeSubmissionStore) AppendRecording(_ context.Context, _ uuid.UUID, questionID uuid.UUID, url string) error {
	f.recordings[questionID] = append(f.recordings[questionID], url)
	return nil
}

type fakeAttemptCache struct {
	starts  int
	monitor []model.MonitorMessageType
}

func (f *fakeAttemptCache) SetAttemptStart(context.Context, string, int, time.Time, time.Time) error {
	f.starts++
	return nil
}

func (f *fakeAttemptCache) PublishMonitor(_ context.Context, _ string, msg *model.MonitorMessage) error {
	f.monitor = append(f.monitor, msg.Type)
	return nil
}

type fakePublisher struct {
	submissions []*events.SubmissionCreated
	audio       []*events.AudioUploaded
}

func (f *fakePublisher) PublishSubmissionCreated(_ context.Context, ev *events.SubmissionCreated) error {
	f.submissions = append(f.submissions, ev)
	return nil
}

func (f *fakePublisher) PublishAudioUploaded(_ context.Context, ev *events.AudioUploaded) error {
	f.audio = append(f.audio, ev)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeAudioStore struct {
	saved int
}

func (f *fakeAudioStore) SaveAudio(r io.Reader) (*StoredMedia, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.saved++
	return &StoredMedia{URL: "/uploads/audio/" + uuid.NewString() + ".webm", MimeType: "audio/webm", Size: int64(len(data))}, nil
}

// harness wires AttemptService over in-memory fakes.
type harness struct {
	now         time.Time
	exams       *fakeExamStore
	cache       *fakePayloadCache
	attempts    *fakeAttemptStore
	submissions *fakeSubmissionStore
	attemptC    *fakeAttemptCache
	events      *fakePublisher
	audio       *fakeAudioStore
	auth        *AuthService
	examSvc     *ExamService
	svc         *AttemptService
}

func newHarness() *harness {
	h := &harness{
		now:      time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		exams:    newFakeExamStore(),
		cache:    &fakePayloadCache{},
		attempts: newFakeAttemptStore(),
		attemptC: &fakeAttemptCache{},
		events:   &fakePublisher{},
		audio:    &fakeAudioStore{},
		auth:     NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour, BcryptCost: 4}),
	}
	h.submissions = newFakeSubmissionStore(h.attempts)
	h.examSvc = NewExamService(h.exams, h.exams, h.cache, zerolog.Nop())
	h.svc = NewAttemptService(AttemptServiceConfig{
		Exams:       h.examSvc,
		Attempts:    h.attempts,
		Submissions: h.submissions,
		Cache:       h.attemptC,
		Auth:        h.auth,
		Media:       h.audio,
		Events:      h.events,
		SubmitGrace: 30 * time.Second,
		Now:         func() time.Time { return h.now },
		Logger:      zerolog.Nop(),
	})
	return h
}

// seedExam stores a published exam with an mcq, a short answer and a viva question.
func (h *harness) seedExam(accessCodeHash string) (*model.Exam, []model.Question) {
	exam := &model.Exam{
		Title:           "Biology",
		DurationMinutes: 30,
		Status:          model.ExamStatusPublished,
		AccessCodeHash:  accessCodeHash,
	}
	qs := []model.Question{
		{Type: model.QuestionTypeMCQ, Text: "Powerhouse?", Points: 1, OrderNum: 1,
			Options: []model.Option{{Text: "Nucleus"}, {Text: "Mitochondria", IsCorrect: true}}},
		{Type: model.QuestionTypeShortAnswer, Text: "Osmosis?", Points: 2, OrderNum: 2},
		{Type: model.QuestionTypeViva, Text: "Photosynthesis?", Points: 5, OrderNum: 3},
	}
	_ = h.exams.CreateWithQuestions(context.Background(), exam, qs)
	return exam, qs
}
