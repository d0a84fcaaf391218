package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/examportal/internal/model"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestStartCreatesAttemptWithDeadline(t *testing.T) {
	h := newHarness()
	exam, _ := h.seedExam("")

	res, err := h.svc.Start(context.Background(), exam.ID, 7, "")
	require.NoError(t, err)

	assert.False(t, res.Resumed)
	assert.Equal(t, h.now, res.StartedAt)
	assert.Equal(t, h.now.Add(30*time.Minute), res.ExpiresAt)
	assert.Equal(t, 1, h.attemptC.starts)
	assert.Equal(t, []model.MonitorMessageType{model.MonitorAttemptStarted}, h.attemptC.monitor)
}

func TestStartIsIdempotent(t *testing.T) {
	h := newHarness()
	exam, _ := h.seedExam("")

	first, err := h.svc.Start(context.Background(), exam.ID, 7, "")
	require.NoError(t, err)

	h.now = h.now.Add(5 * time.Minute)
	second, err := h.svc.Start(context.Background(), exam.ID, 7, "")
	require.NoError(t, err)

	assert.True(t, second.Resumed)
	assert.Equal(t, first.AttemptID, second.AttemptID)
	assert.Equal(t, first.ExpiresAt, second.ExpiresAt, "resuming keeps the original deadline")
}

func TestStartEndTimeCutsDeadline(t *testing.T) {
	h := newHarness()
	exam, _ := h.seedExam("")
	ends := h.now.Add(10 * time.Minute)
	h.exams.exams[exam.ID].EndsAt = &ends

	res, err := h.svc.Start(context.Background(), exam.ID, 7, "")
	require.NoError(t, err)
	assert.Equal(t, ends, res.ExpiresAt)
}

func TestStartChecksAccessCode(t *testing.T) {
	h := newHarness()
	hash, err := h.auth.HashSecret("BIO-42")
	require.NoError(t, err)
	exam, _ := h.seedExam(hash)

	_, err = h.svc.Start(context.Background(), exam.ID, 7, "wrong")
	assert.ErrorIs(t, err, ErrInvalidAccessCode)

	_, err = h.svc.Start(context.Background(), exam.ID, 7, "BIO-42")
	assert.NoError(t, err)
}

func TestStartWindow(t *testing.T) {
	h := newHarness()
	exam, _ := h.seedExam("")

	starts := h.now.Add(time.Hour)
	h.exams.exams[exam.ID].StartsAt = &starts
	_, err := h.svc.Start(context.Background(), exam.ID, 7, "")
	assert.ErrorIs(t, err, ErrExamNotStarted)

	h.exams.exams[exam.ID].StartsAt = nil
	ends := h.now
	h.exams.exams[exam.ID].EndsAt = &ends
	_, err = h.svc.Start(context.Background(), exam.ID, 7, "")
	assert.ErrorIs(t, err, ErrExamEnded)
}

func TestStartRejectsUnpublishedAndUnknown(t *testing.T) {
	h := newHarness()
	exam, _ := h.seedExam("")
	h.exams.exams[exam.ID].Status = model.ExamStatusDraft

	_, err := h.svc.Start(context.Background(), exam.ID, 7, "")
	assert.ErrorIs(t, err, ErrExamNotAvailable)

	_, err = h.svc.Start(context.Background(), uuid.New(), 7, "")
	assert.ErrorIs(t, err, ErrExamNotFound)
}

func TestStartResumeAfterDeadlineExpires(t *testing.T) {
	h := newHarness()
	exam, _ := h.seedExam("")

	res, err := h.svc.Start(context.Background(), exam.ID, 7, "")
	require.NoError(t, err)

	h.now = h.now.Add(31 * time.Minute)
	_, err = h.svc.Start(context.Background(), exam.ID, 7, "")
	assert.ErrorIs(t, err, ErrAttemptExpired)
	assert.Equal(t, model.AttemptStatusExpired, h.attempts.attempts[res.AttemptID].Status)
}

func TestStartConcurrentCreateReturnsWinner(t *testing.T) {
	h := newHarness()
	exam, _ := h.seedExam("")
	winner := &model.Attempt{
		ID: uuid.New(), ExamID: exam.ID, StudentID: 7,
		StartedAt: h.now, DeadlineAt: h.now.Add(30 * time.Minute),
		Status: model.AttemptStatusInProgress,
	}
	h.attempts.conflict = winner

	res, err := h.svc.Start(context.Background(), exam.ID, 7, "")
	require.NoError(t, err)
	assert.Equal(t, winner.ID, res.AttemptID)
	assert.True(t, res.Resumed)
}

func startAttempt(t *testing.T, h *harness) (*model.Exam, []model.Question, uuid.UUID) {
	t.Helper()
	exam, qs := h.seedExam("")
	res, err := h.svc.Start(context.Background(), exam.ID, 7, "")
	require.NoError(t, err)
	return exam, qs, res.AttemptID
}

func TestSubmitStoresInlineAnswers(t *testing.T) {
	h := newHarness()
	exam, qs, attemptID := startAttempt(t, h)

	h.now = h.now.Add(12 * time.Minute)
	res, err := h.svc.Submit(context.Background(), exam.ID, 7, &model.SubmitRequest{
		AttemptID: attemptID,
		Answers: []model.AnswerInput{
			{QuestionID: qs[0].ID, Type: model.QuestionTypeMCQ, SelectedOptionIndex: intPtr(0)},
			{QuestionID: qs[1].ID, Type: model.QuestionTypeShortAnswer, AnswerText: strPtr("water moves")},
			{QuestionID: qs[0].ID, Type: model.QuestionTypeMCQ, SelectedOptionIndex: intPtr(1)},
		},
		TimeSpentMinutes: 12,
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, res.SubmissionID)

	stored := h.submissions.answers[attemptID]
	require.Len(t, stored, 2, "a repeated question keeps one answer")
	assert.Equal(t, 1, *stored[0].SelectedOptionIndex, "last answer wins")
	assert.Equal(t, "water moves", *stored[1].AnswerText)

	assert.Equal(t, model.AttemptStatusSubmitted, h.attempts.attempts[attemptID].Status)
	require.Len(t, h.events.submissions, 1)
	assert.Equal(t, 2, h.events.submissions[0].AnswerCount)
	assert.Equal(t, 12, h.submissions.submissions[res.SubmissionID].TimeSpentMinutes)
	assert.Contains(t, h.attemptC.monitor, model.MonitorSubmitted)
}

func TestSubmitTwiceIsRejected(t *testing.T) {
	h := newHarness()
	exam, _, attemptID := startAttempt(t, h)
	req := &model.SubmitRequest{AttemptID: attemptID}

	_, err := h.svc.Submit(context.Background(), exam.ID, 7, req)
	require.NoError(t, err)

	_, err = h.svc.Submit(context.Background(), exam.ID, 7, req)
	assert.ErrorIs(t, err, ErrAlreadySubmitted)
}

func TestSubmitHonoursGrace(t *testing.T) {
	h := newHarness()
	exam, _, attemptID := startAttempt(t, h)

	h.now = h.now.Add(30*time.Minute + 20*time.Second)
	_, err := h.svc.Submit(context.Background(), exam.ID, 7, &model.SubmitRequest{AttemptID: attemptID, TimeSpentMinutes: 99})
	require.NoError(t, err, "inside the grace period")

	var sub *model.Submission
	for _, s := range h.submissions.submissions {
		sub = s
	}
	assert.Equal(t, 30, sub.TimeSpentMinutes, "reported time is clamped to the attempt window")
}

func TestSubmitAfterGraceExpires(t *testing.T) {
	h := newHarness()
	exam, _, attemptID := startAttempt(t, h)

	h.now = h.now.Add(31 * time.Minute)
	_, err := h.svc.Submit(context.Background(), exam.ID, 7, &model.SubmitRequest{AttemptID: attemptID})
	assert.ErrorIs(t, err, ErrAttemptExpired)
	assert.Equal(t, model.AttemptStatusExpired, h.attempts.attempts[attemptID].Status)
}

func TestSubmitRejectsForeignAttempt(t *testing.T) {
	h := newHarness()
	exam, _, attemptID := startAttempt(t, h)

	_, err := h.svc.Submit(context.Background(), exam.ID, 8, &model.SubmitRequest{AttemptID: attemptID})
	assert.ErrorIs(t, err, ErrAttemptNotFound)

	_, err = h.svc.Submit(context.Background(), uuid.New(), 7, &model.SubmitRequest{AttemptID: attemptID})
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}

func TestSubmitRejectsInvalidAnswers(t *testing.T) {
	cases := map[string]func(qs []model.Question) model.AnswerInput{
		"unknown question": func(qs []model.Question) model.AnswerInput {
			return model.AnswerInput{QuestionID: uuid.New(), Type: model.QuestionTypeMCQ, SelectedOptionIndex: intPtr(0)}
		},
		"option out of range": func(qs []model.Question) model.AnswerInput {
			return model.AnswerInput{QuestionID: qs[0].ID, Type: model.QuestionTypeMCQ, SelectedOptionIndex: intPtr(2)}
		},
		"type mismatch": func(qs []model.Question) model.AnswerInput {
			return model.AnswerInput{QuestionID: qs[1].ID, Type: model.QuestionTypeLongAnswer, AnswerText: strPtr("x")}
		},
		"inline recording": func(qs []model.Question) model.AnswerInput {
			return model.AnswerInput{QuestionID: qs[2].ID, Type: model.QuestionTypeViva}
		},
		"missing text": func(qs []model.Question) model.AnswerInput {
			return model.AnswerInput{QuestionID: qs[1].ID, Type: model.QuestionTypeShortAnswer}
		},
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness()
			exam, qs, attemptID := startAttempt(t, h)

			_, err := h.svc.Submit(context.Background(), exam.ID, 7, &model.SubmitRequest{
				AttemptID: attemptID,
				Answers:   []model.AnswerInput{build(qs)},
			})
			assert.ErrorIs(t, err, ErrInvalidAnswer)
			assert.Equal(t, model.AttemptStatusInProgress, h.attempts.attempts[attemptID].Status)
		})
	}
}

func submitAttempt(t *testing.T, h *harness) (*model.Exam, []model.Question, uuid.UUID, uuid.UUID) {
	t.Helper()
	exam, qs, attemptID := startAttempt(t, h)
	res, err := h.svc.Submit(context.Background(), exam.ID, 7, &model.SubmitRequest{AttemptID: attemptID})
	require.NoError(t, err)
	return exam, qs, attemptID, res.SubmissionID
}

func TestUploadAudioAttachesRecording(t *testing.T) {
	h := newHarness()
	exam, qs, attemptID, subID := submitAttempt(t, h)

	res, err := h.svc.UploadAudio(context.Background(), exam.ID, 7, &AudioInput{
		AttemptID:    attemptID,
		SubmissionID: subID,
		QuestionID:   qs[2].ID,
		Body:         strings.NewReader("webm bytes"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{res.URL}, h.submissions.recordings[qs[2].ID])
	require.Len(t, h.events.audio, 1)
	assert.Equal(t, qs[2].ID, h.events.audio[0].QuestionID)
}

func TestUploadAudioRejections(t *testing.T) {
	h := newHarness()
	exam, qs, attemptID, subID := submitAttempt(t, h)
	upload := func(in AudioInput) error {
		in.Body = strings.NewReader("x")
		_, err := h.svc.UploadAudio(context.Background(), exam.ID, 7, &in)
		return err
	}

	assert.ErrorIs(t, upload(AudioInput{AttemptID: attemptID, SubmissionID: subID, QuestionID: qs[0].ID}), ErrNotRecordingQuestion)
	assert.ErrorIs(t, upload(AudioInput{AttemptID: attemptID, SubmissionID: uuid.New(), QuestionID: qs[2].ID}), ErrSubmissionUnknown)
	assert.ErrorIs(t, upload(AudioInput{AttemptID: uuid.New(), SubmissionID: subID, QuestionID: qs[2].ID}), ErrAttemptNotFound)
	assert.Zero(t, h.audio.saved)
}

func TestUploadAudioBeforeSubmitIsRejected(t *testing.T) {
	h := newHarness()
	exam, qs, attemptID := startAttempt(t, h)

	_, err := h.svc.UploadAudio(context.Background(), exam.ID, 7, &AudioInput{
		AttemptID: attemptID, SubmissionID: uuid.New(), QuestionID: qs[2].ID, Body: strings.NewReader("x"),
	})
	assert.ErrorIs(t, err, ErrAttemptClosed)
}

func TestAuthorizeRequiresOpenAttempt(t *testing.T) {
	h := newHarness()
	exam, _, attemptID := startAttempt(t, h)

	a, err := h.svc.Authorize(context.Background(), exam.ID, 7, attemptID)
	require.NoError(t, err)
	assert.Equal(t, attemptID, a.ID)

	_, err = h.svc.Submit(context.Background(), exam.ID, 7, &model.SubmitRequest{AttemptID: attemptID})
	require.NoError(t, err)
	_, err = h.svc.Authorize(context.Background(), exam.ID, 7, attemptID)
	assert.ErrorIs(t, err, ErrAttemptClosed)
}
