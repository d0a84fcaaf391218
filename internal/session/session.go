package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/examportal/internal/model"
)

// Observer receives session events for presentation. Callbacks may run
// on timer goroutines and must not block.
type Observer interface {
	OnTick(remaining int)
	OnWarning(violations, strikes int)
	OnRecordingStopped(questionID string, take TakeRef, err error)
	OnSubmitStarted(trigger Trigger)
	OnSubmitFinished(result *Result, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnTick(int)                                {}
func (NopObserver) OnWarning(int, int)                        {}
func (NopObserver) OnRecordingStopped(string, TakeRef, error) {}
func (NopObserver) OnSubmitStarted(Trigger)                   {}
func (NopObserver) OnSubmitFinished(*Result, error)           {}

type Config struct {
	Policy       Policy
	Device       Device
	Observer     Observer
	TickInterval time.Duration
	// UnloadTimeout bounds the best-effort submission sent on unload.
	UnloadTimeout time.Duration
	Logger        zerolog.Logger
}

// Session is one student's live attempt: answers, navigation, recording,
// proctoring, countdown and submission wired together.
type Session struct {
	boot      *Bootstrapped
	store     *Store
	nav       *Navigator
	rec       *Recorder
	monitor   *Monitor
	countdown *Countdown
	coord     *Coordinator
	guard     *Guard
	obs       Observer
	cfg       Config
	log       zerolog.Logger

	mu        sync.Mutex
	runCtx    context.Context
	awayTimer *time.Timer

	doneOnce sync.Once
	done     chan struct{}
	result   *Result
}

func New(api ExamAPI, boot *Bootstrapped, cfg Config) *Session {
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.UnloadTimeout <= 0 {
		cfg.UnloadTimeout = 5 * time.Second
	}
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy()
	}

	s := &Session{
		boot:      boot,
		store:     boot.Store,
		guard:     &Guard{},
		obs:       cfg.Observer,
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "session").Str("attempt_id", boot.AttemptID.String()).Logger(),
		countdown: NewCountdown(boot.Deadline),
		runCtx:    context.Background(),
		done:      make(chan struct{}),
	}

	var maxTake time.Duration
	if boot.Summary.TimePerQuestionSec != nil {
		maxTake = time.Duration(*boot.Summary.TimePerQuestionSec) * time.Second
	}
	s.rec = NewRecorder(cfg.Device, s.store, RecorderConfig{
		ReRecordLimit:   boot.Summary.AllowedReRecords,
		MaxTakeDuration: maxTake,
		OnAutoStop:      s.obs.OnRecordingStopped,
		Logger:          cfg.Logger,
	})
	s.nav = NewNavigator(s.store.Len(), s.rec, s.store.Frozen)
	s.monitor = NewMonitor(cfg.Policy, s.guard)
	if !boot.HasRecordings() {
		s.monitor.Arm()
	}
	s.coord = NewCoordinator(CoordinatorConfig{
		API:       api,
		ExamID:    boot.ExamID,
		AttemptID: boot.AttemptID,
		StartedAt: boot.StartedAt,
		Store:     s.store,
		Takes:     s.rec,
		Guard:     s.guard,
		Logger:    cfg.Logger,
	})
	return s
}

// Run drives the countdown until ctx is cancelled or the attempt has
// been submitted. Timers and the audio stream are released on return.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	go s.countdown.Run(ctx, s.cfg.TickInterval, s.obs.OnTick, func() {
		s.log.Info().Msg("Time is up")
		s.startSubmit(TriggerDeadline, false)
	})

	select {
	case <-ctx.Done():
	case <-s.done:
	}

	s.stopAwayTimer()
	if err := s.rec.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to release audio stream")
	}
	return ctx.Err()
}

// Done is closed once the attempt has been submitted successfully.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Result returns the submission outcome once Done is closed.
func (s *Session) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Session) Exam() model.ExamSummary { return s.boot.Summary }

func (s *Session) Deadline() time.Time { return s.countdown.Deadline() }

func (s *Session) Remaining() int { return s.countdown.Remaining(time.Now()) }

func (s *Session) Counts() Counts { return s.store.Counts() }

func (s *Session) Frozen() bool { return s.store.Frozen() }

func (s *Session) ProctorState() ProctorState { return s.monitor.State() }

func (s *Session) Violations() int { return s.monitor.Violations() }

func (s *Session) QuotaLeft() int { return s.rec.QuotaLeft() }

func (s *Session) Index() int { return s.nav.Current() }

func (s *Session) Len() int { return s.store.Len() }

// Question returns question i with its answer slot.
func (s *Session) Question(i int) (model.QuestionForStudent, AnswerSlot, error) {
	if i < 0 || i >= len(s.boot.Questions) {
		return model.QuestionForStudent{}, AnswerSlot{}, ErrOutOfRange
	}
	q := s.boot.Questions[i]
	slot, err := s.store.Get(q.ID.String())
	return q, slot, err
}

func (s *Session) Current() (model.QuestionForStudent, AnswerSlot, error) {
	return s.Question(s.nav.Current())
}

func (s *Session) GoTo(i int) error { return s.nav.GoTo(i) }

func (s *Session) Next() error { return s.nav.Next() }

func (s *Session) Previous() error { return s.nav.Previous() }

// SelectOption toggles option idx of the current mcq question.
func (s *Session) SelectOption(idx int) error {
	q, _, err := s.Current()
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(q.Options) {
		return ErrOutOfRange
	}
	return s.store.SelectOption(q.ID.String(), idx)
}

func (s *Session) SetText(text string) error {
	q, _, err := s.Current()
	if err != nil {
		return err
	}
	return s.store.SetText(q.ID.String(), text)
}

func (s *Session) ToggleReview() error {
	q, _, err := s.Current()
	if err != nil {
		return err
	}
	return s.store.ToggleReview(q.ID.String())
}

// OpenMicrophone acquires the audio stream. The permission prompt opens
// a proctoring grace window; a granted stream arms departure tracking.
func (s *Session) OpenMicrophone(ctx context.Context) error {
	if s.rec.IsOpen() {
		return nil
	}
	s.Signal(Signal{Kind: SignalMicPrompt, At: time.Now()})
	if err := s.rec.Open(ctx); err != nil {
		return err
	}
	s.Signal(Signal{Kind: SignalMicGranted, At: time.Now()})
	return nil
}

func (s *Session) StartRecording() error {
	q, _, err := s.Current()
	if err != nil {
		return err
	}
	return s.rec.Record(q.ID.String())
}

func (s *Session) StopRecording() (TakeRef, error) {
	return s.rec.Stop()
}

func (s *Session) DiscardTake(idx int) error {
	q, _, err := s.Current()
	if err != nil {
		return err
	}
	return s.rec.Discard(q.ID.String(), idx)
}

func (s *Session) ActivateTake(idx int) error {
	q, _, err := s.Current()
	if err != nil {
		return err
	}
	return s.store.SetActiveTake(q.ID.String(), idx)
}

// TakeAudio returns the bytes of a recorded take for playback.
func (s *Session) TakeAudio(takeID string) ([]byte, bool) {
	return s.rec.Blob(takeID)
}

// Submit is the student's manual submission.
func (s *Session) Submit(ctx context.Context) (*Result, error) {
	if s.boot.AttemptID == uuid.Nil {
		return nil, ErrNoActiveAttempt
	}
	if !s.guard.TryFire() {
		return nil, ErrAlreadySubmitted
	}
	s.stopAwayTimer()
	s.obs.OnSubmitStarted(TriggerManual)
	res, err := s.coord.SubmitFired(ctx, TriggerManual)
	s.finish(res, err)
	return res, err
}

// Retry re-sends a submission whose inline post failed.
func (s *Session) Retry(ctx context.Context) (*Result, error) {
	s.obs.OnSubmitStarted(TriggerManual)
	res, err := s.coord.Retry(ctx)
	s.finish(res, err)
	return res, err
}

// Signal feeds a browser-level event to the proctoring monitor.
func (s *Session) Signal(sig Signal) {
	s.apply(s.monitor.Handle(sig))
}

// Notify is Signal stamped with the current time.
func (s *Session) Notify(kind SignalKind) {
	s.Signal(Signal{Kind: kind, At: time.Now()})
}

// Unload fires a best-effort submission and waits at most UnloadTimeout
// for it. Delivery is not guaranteed.
func (s *Session) Unload() {
	s.Notify(SignalUnload)
	select {
	case <-s.done:
	case <-time.After(s.cfg.UnloadTimeout):
		s.log.Warn().Msg("Unload submission did not finish in time")
	}
}

func (s *Session) apply(effects []Effect) {
	for _, e := range effects {
		switch e.Kind {
		case EffectWarn:
			s.log.Warn().Int("violations", e.Violations).Msg("Proctoring warning")
			s.obs.OnWarning(e.Violations, e.Strikes)
		case EffectStartAwayTimer:
			s.startAwayTimer(e.Deadline, e.Generation)
		case EffectCancelAwayTimer:
			s.stopAwayTimer()
		case EffectAutoSubmit:
			s.log.Warn().Str("trigger", string(e.Trigger)).Msg("Auto-submitting attempt")
			s.startSubmit(e.Trigger, true)
		}
	}
}

// startSubmit runs an automatic submission in the background. fired is
// true when the monitor already set the guard.
func (s *Session) startSubmit(trigger Trigger, fired bool) {
	if !fired && !s.guard.TryFire() {
		return
	}
	s.stopAwayTimer()

	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()

	timeout := time.Duration(0)
	if trigger == TriggerUnload {
		ctx = context.Background()
		timeout = s.cfg.UnloadTimeout
	}

	s.obs.OnSubmitStarted(trigger)
	go func() {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		res, err := s.coord.SubmitFired(ctx, trigger)
		s.finish(res, err)
	}()
}

func (s *Session) finish(res *Result, err error) {
	s.obs.OnSubmitFinished(res, err)
	if err != nil {
		if !errors.Is(err, ErrAlreadySubmitted) {
			s.log.Error().Err(err).Msg("Submission did not complete")
		}
		return
	}
	s.mu.Lock()
	s.result = res
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) startAwayTimer(deadline time.Time, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.awayTimer != nil {
		s.awayTimer.Stop()
	}
	s.awayTimer = time.AfterFunc(time.Until(deadline), func() {
		s.apply(s.monitor.AwayElapsed(time.Now(), gen))
	})
}

func (s *Session) stopAwayTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.awayTimer != nil {
		s.awayTimer.Stop()
		s.awayTimer = nil
	}
}

func (s *Session) String() string {
	c := s.Counts()
	return fmt.Sprintf("attempt %s: %d answered, %d marked, %d unanswered",
		s.boot.AttemptID, c.Answered, c.MarkedForReview, c.Unanswered)
}
