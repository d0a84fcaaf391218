package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Capture is the raw result of one recording.
type Capture struct {
	Data     []byte
	MimeType string
	Duration time.Duration
}

// Stream is an open audio input. Begin and End bracket one take.
type Stream interface {
	Begin() error
	End() (Capture, error)
	Close() error
}

// Device acquires audio streams. Open must return ErrPermissionDenied or
// ErrDeviceUnavailable (possibly wrapped) when access fails.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

type RecorderConfig struct {
	// ReRecordLimit is the number of takes that may be discarded per
	// question visit.
	ReRecordLimit int
	// MaxTakeDuration stops a recording automatically. Zero disables it.
	MaxTakeDuration time.Duration
	// OnAutoStop is notified after a take was stopped by MaxTakeDuration.
	OnAutoStop func(questionID string, take TakeRef, err error)
	Logger     zerolog.Logger
}

// Recorder is the recording capture unit. Takes are appended to the
// recording slots of a Store; their bytes stay here until upload.
type Recorder struct {
	mu     sync.Mutex
	device Device
	store  *Store
	cfg    RecorderConfig
	log    zerolog.Logger

	stream    Stream
	current   string // question being recorded, empty when idle
	startedAt time.Time
	autoStop  *time.Timer
	used      int
	blobs     map[string][]byte
}

func NewRecorder(device Device, store *Store, cfg RecorderConfig) *Recorder {
	return &Recorder{
		device: device,
		store:  store,
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "recorder").Logger(),
		blobs:  make(map[string][]byte),
	}
}

// Open acquires the audio stream. Calling it with a stream already open
// is a no-op.
func (r *Recorder) Open(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream != nil {
		return nil
	}
	if r.device == nil {
		return ErrDeviceUnavailable
	}
	stream, err := r.device.Open(ctx)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	r.stream = stream
	return nil
}

func (r *Recorder) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream != nil
}

// Recording returns the question currently being recorded.
func (r *Recorder) Recording() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.current != ""
}

// Record starts capturing a take for questionID.
func (r *Recorder) Record(questionID string) error {
	slot, err := r.store.Get(questionID)
	if err != nil {
		return err
	}
	if slot.Kind != KindRecording {
		return fmt.Errorf("%w: %s is %s", ErrKindMismatch, questionID, slot.Kind)
	}
	if r.store.Frozen() {
		return ErrSessionFrozen
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream == nil || r.current != "" {
		return ErrInvalidState
	}
	if err := r.stream.Begin(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	r.current = questionID
	r.startedAt = time.Now()

	if r.cfg.MaxTakeDuration > 0 {
		r.autoStop = time.AfterFunc(r.cfg.MaxTakeDuration, func() {
			r.fireAutoStop(questionID)
		})
	}
	return nil
}

// Stop finalizes the current take, appends it to the question's take
// list and makes it active.
func (r *Recorder) Stop() (TakeRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked()
}

// StopActive stops a capture in progress, if any.
func (r *Recorder) StopActive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == "" {
		return
	}
	qid := r.current
	if _, err := r.stopLocked(); err != nil {
		r.log.Warn().Err(err).Str("question_id", qid).Msg("Failed to finalize take while stopping")
	}
}

// Discard removes a take. Every discard consumes one unit of the
// per-question re-record quota.
func (r *Recorder) Discard(questionID string, idx int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != "" {
		return ErrInvalidState
	}
	if r.used >= r.cfg.ReRecordLimit {
		return ErrQuotaExceeded
	}
	removed, err := r.store.RemoveTake(questionID, idx)
	if err != nil {
		return err
	}
	delete(r.blobs, removed.ID)
	r.used++
	return nil
}

// QuotaLeft returns how many discards remain for the current question.
func (r *Recorder) QuotaLeft() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if left := r.cfg.ReRecordLimit - r.used; left > 0 {
		return left
	}
	return 0
}

func (r *Recorder) ResetQuota() {
	r.mu.Lock()
	r.used = 0
	r.mu.Unlock()
}

// Blob returns the audio bytes of a take.
func (r *Recorder) Blob(takeID string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.blobs[takeID]
	return b, ok
}

// Close stops any capture and releases the stream.
func (r *Recorder) Close() error {
	r.StopActive()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream == nil {
		return nil
	}
	err := r.stream.Close()
	r.stream = nil
	return err
}

func (r *Recorder) fireAutoStop(questionID string) {
	r.mu.Lock()
	if r.current != questionID {
		r.mu.Unlock()
		return
	}
	take, err := r.stopLocked()
	r.mu.Unlock()

	r.log.Info().Str("question_id", questionID).Msg("Recording stopped at time limit")
	if r.cfg.OnAutoStop != nil {
		r.cfg.OnAutoStop(questionID, take, err)
	}
}

func (r *Recorder) stopLocked() (TakeRef, error) {
	if r.current == "" {
		return TakeRef{}, ErrInvalidState
	}
	qid := r.current
	r.current = ""
	if r.autoStop != nil {
		r.autoStop.Stop()
		r.autoStop = nil
	}

	capture, err := r.stream.End()
	if err != nil {
		return TakeRef{}, fmt.Errorf("finalize take: %w", err)
	}
	if capture.Duration == 0 {
		capture.Duration = time.Since(r.startedAt)
	}

	take := TakeRef{
		ID:         uuid.NewString(),
		MimeType:   capture.MimeType,
		Size:       len(capture.Data),
		Duration:   capture.Duration,
		CapturedAt: time.Now(),
	}
	if err := r.store.AppendTake(qid, take); err != nil {
		return TakeRef{}, err
	}
	r.blobs[take.ID] = capture.Data
	return take, nil
}
