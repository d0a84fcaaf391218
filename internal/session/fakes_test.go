package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/examportal/internal/model"
)

type fakeAPI struct {
	mu sync.Mutex

	start     *model.StartAttemptResponse
	startErr  error
	summary   *model.ExamSummary
	sumErr    error
	questions []model.QuestionForStudent
	qErr      error

	submitErrs   []error       // consumed per call
	submitGate   chan struct{} // when set, Submit blocks until it is closed
	submissionID uuid.UUID
	uploadFail   map[uuid.UUID]bool

	startCalls int
	submits    []model.SubmitRequest
	uploads    []AudioUpload
}

func newFakeAPI(questions ...model.QuestionForStudent) *fakeAPI {
	return &fakeAPI{
		summary:      &model.ExamSummary{ExamID: uuid.New(), Title: "Biology", DurationMinutes: 30, AllowedReRecords: 1, QuestionCount: len(questions)},
		questions:    questions,
		submissionID: uuid.New(),
		uploadFail:   map[uuid.UUID]bool{},
	}
}

func (f *fakeAPI) StartAttempt(_ context.Context, _ uuid.UUID, _ string) (*model.StartAttemptResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	if f.startErr != nil {
		return nil, f.startErr
	}
	if f.start != nil {
		return f.start, nil
	}
	now := time.Now()
	return &model.StartAttemptResponse{AttemptID: uuid.New(), StartedAt: now, ExpiresAt: now.Add(30 * time.Minute)}, nil
}

func (f *fakeAPI) Summary(_ context.Context, _ uuid.UUID) (*model.ExamSummary, error) {
	if f.sumErr != nil {
		return nil, f.sumErr
	}
	s := *f.summary
	return &s, nil
}

func (f *fakeAPI) Questions(_ context.Context, _ uuid.UUID) ([]model.QuestionForStudent, error) {
	if f.qErr != nil {
		return nil, f.qErr
	}
	return append([]model.QuestionForStudent(nil), f.questions...), nil
}

func (f *fakeAPI) Submit(_ context.Context, _ uuid.UUID, req model.SubmitRequest) (*model.SubmitResponse, error) {
	if f.submitGate != nil {
		<-f.submitGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, req)
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &model.SubmitResponse{SubmissionID: f.submissionID, SubmittedAt: time.Now()}, nil
}

func (f *fakeAPI) UploadAudio(_ context.Context, _ uuid.UUID, up AudioUpload) (*model.AudioUploadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, up)
	if f.uploadFail[up.QuestionID] {
		return nil, errors.New("connection reset")
	}
	return &model.AudioUploadResponse{URL: "/uploads/audio/" + up.FileName}, nil
}

func (f *fakeAPI) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

type fakeStream struct {
	mu       sync.Mutex
	begun    int
	ended    int
	closed   bool
	endErr   error
	payload  []byte
	mimeType string
}

func (s *fakeStream) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begun++
	return nil
}

func (s *fakeStream) End() (Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended++
	if s.endErr != nil {
		return Capture{}, s.endErr
	}
	return Capture{Data: s.payload, MimeType: s.mimeType, Duration: time.Second}, nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeDevice struct {
	stream *fakeStream
	err    error
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{stream: &fakeStream{payload: []byte("RIFF....WAVE"), mimeType: "audio/wav"}}
}

func (d *fakeDevice) Open(context.Context) (Stream, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

func mcq(order int) model.QuestionForStudent {
	return model.QuestionForStudent{
		ID:       uuid.New(),
		Type:     model.QuestionTypeMCQ,
		Text:     "Pick one",
		Points:   1,
		Options:  []model.StudentOption{{Text: "A"}, {Text: "B"}, {Text: "C"}},
		OrderNum: order,
	}
}

func text(order int) model.QuestionForStudent {
	return model.QuestionForStudent{ID: uuid.New(), Type: model.QuestionTypeShortAnswer, Text: "Explain", Points: 2, OrderNum: order}
}

func viva(order int) model.QuestionForStudent {
	return model.QuestionForStudent{ID: uuid.New(), Type: model.QuestionTypeViva, Text: "Describe aloud", Points: 5, OrderNum: order}
}

func storeFor(questions ...model.QuestionForStudent) *Store {
	specs := make([]SlotSpec, 0, len(questions))
	for _, q := range questions {
		specs = append(specs, SlotSpec{QuestionID: q.ID.String(), Type: q.Type})
	}
	return NewStore(specs)
}

func intPtr(v int) *int { return &v }
