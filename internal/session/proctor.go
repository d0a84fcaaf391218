package session

import (
	"sync"
	"time"
)

type ProctorState int

const (
	StateNormal ProctorState = iota
	StateWarned
	StateSubmitting
)

func (s ProctorState) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateWarned:
		return "warned"
	case StateSubmitting:
		return "submitting"
	}
	return "unknown"
}

// SignalKind names a browser-level event relevant to proctoring. The
// string values are the wire names used by the proctoring websocket.
type SignalKind string

const (
	SignalHidden          SignalKind = "hidden"
	SignalBlur            SignalKind = "blur"
	SignalFullscreenExit  SignalKind = "fullscreen_exit"
	SignalVisible         SignalKind = "visible"
	SignalFocus           SignalKind = "focus"
	SignalFullscreenEnter SignalKind = "fullscreen_enter"
	SignalMicPrompt       SignalKind = "mic_prompt"
	SignalMicGranted      SignalKind = "mic_granted"
	SignalBannerDismissed SignalKind = "banner_dismissed"
	SignalUnload          SignalKind = "unload"
)

var signalKinds = map[SignalKind]struct{}{
	SignalHidden: {}, SignalBlur: {}, SignalFullscreenExit: {},
	SignalVisible: {}, SignalFocus: {}, SignalFullscreenEnter: {},
	SignalMicPrompt: {}, SignalMicGranted: {}, SignalBannerDismissed: {},
	SignalUnload: {},
}

func ParseSignalKind(s string) (SignalKind, bool) {
	k := SignalKind(s)
	_, ok := signalKinds[k]
	return k, ok
}

// IsDeparture reports whether the signal means the student left the exam.
func (k SignalKind) IsDeparture() bool {
	return k == SignalHidden || k == SignalBlur || k == SignalFullscreenExit
}

func (k SignalKind) IsReturn() bool {
	return k == SignalVisible || k == SignalFocus || k == SignalFullscreenEnter
}

type Signal struct {
	Kind SignalKind
	At   time.Time
}

type Policy struct {
	Debounce     time.Duration
	PromptGrace  time.Duration
	DismissGrace time.Duration
	AwayTimeout  time.Duration
	// Strikes is the violation count that forces submission.
	Strikes int
}

func DefaultPolicy() Policy {
	return Policy{
		Debounce:     1500 * time.Millisecond,
		PromptGrace:  3500 * time.Millisecond,
		DismissGrace: 1500 * time.Millisecond,
		AwayTimeout:  10 * time.Second,
		Strikes:      2,
	}
}

type EffectKind int

const (
	EffectWarn EffectKind = iota
	EffectStartAwayTimer
	EffectCancelAwayTimer
	EffectAutoSubmit
)

// Effect is an instruction for the runtime hosting a Monitor.
type Effect struct {
	Kind       EffectKind
	Violations int
	Strikes    int
	Deadline   time.Time // EffectStartAwayTimer
	Generation uint64    // away timer generation, echoed to AwayElapsed
	Trigger    Trigger   // EffectAutoSubmit
}

// Monitor is the proctoring state machine. It performs no I/O and keeps
// no timers: the host schedules the away timer from EffectStartAwayTimer
// and reports back through AwayElapsed (or polls Tick).
type Monitor struct {
	mu     sync.Mutex
	policy Policy
	guard  *Guard

	state      ProctorState
	armed      bool
	violations int

	away          bool
	awaySince     time.Time
	lastDeparture time.Time // last counted departure
	lastSignal    time.Time // last departure past the filters, coalesced ones included
	promptAt      time.Time
	dismissAt     time.Time

	awayPending  bool
	awayDeadline time.Time
	awayGen      uint64
}

func NewMonitor(policy Policy, guard *Guard) *Monitor {
	if policy.Strikes < 1 {
		policy.Strikes = 1
	}
	return &Monitor{policy: policy, guard: guard}
}

// Arm enables departure tracking. Sessions that need the microphone are
// armed by SignalMicGranted instead.
func (m *Monitor) Arm() {
	m.mu.Lock()
	m.armed = true
	m.mu.Unlock()
}

func (m *Monitor) State() ProctorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncGuardLocked()
	return m.state
}

func (m *Monitor) Violations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.violations
}

// AwaySince returns when the current absence started.
func (m *Monitor) AwaySince() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.awaySince, m.away
}

// Handle applies one signal and returns the effects to execute.
func (m *Monitor) Handle(sig Signal) []Effect {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.syncGuardLocked() {
		return nil
	}

	switch {
	case sig.Kind == SignalMicPrompt:
		m.promptAt = sig.At
	case sig.Kind == SignalMicGranted:
		m.armed = true
	case sig.Kind == SignalBannerDismissed:
		m.dismissAt = sig.At
	case sig.Kind == SignalUnload:
		return m.fireLocked(TriggerUnload)
	case sig.Kind.IsReturn():
		return m.returnLocked()
	case sig.Kind.IsDeparture():
		return m.departLocked(sig.At)
	}
	return nil
}

// AwayElapsed reports that the away timer of the given generation fired.
// Stale generations are ignored.
func (m *Monitor) AwayElapsed(now time.Time, gen uint64) []Effect {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.syncGuardLocked() || !m.awayPending || gen != m.awayGen || now.Before(m.awayDeadline) {
		return nil
	}
	m.awayPending = false
	return m.fireLocked(TriggerAwayTimeout)
}

// Tick checks the away deadline against now.
func (m *Monitor) Tick(now time.Time) []Effect {
	m.mu.Lock()
	gen := m.awayGen
	m.mu.Unlock()
	return m.AwayElapsed(now, gen)
}

func (m *Monitor) departLocked(at time.Time) []Effect {
	if !m.armed || m.away {
		return nil
	}
	if inWindow(at, m.promptAt, m.policy.PromptGrace) || inWindow(at, m.dismissAt, m.policy.DismissGrace) {
		return nil
	}
	prev := m.lastSignal
	m.lastSignal = at
	if inWindow(at, prev, m.policy.Debounce) {
		return m.resumeLocked()
	}

	m.lastDeparture = at
	m.away = true
	m.awaySince = at
	m.violations++

	if m.violations >= m.policy.Strikes {
		return m.fireLocked(TriggerViolation)
	}

	m.state = StateWarned
	m.awayGen++
	m.awayPending = true
	m.awayDeadline = at.Add(m.policy.AwayTimeout)
	return []Effect{
		{Kind: EffectWarn, Violations: m.violations, Strikes: m.policy.Strikes},
		{Kind: EffectStartAwayTimer, Deadline: m.awayDeadline, Generation: m.awayGen},
	}
}

// resumeLocked treats a departure coalesced into the previous one as a
// continuation of that absence, re-arming its original away deadline.
func (m *Monitor) resumeLocked() []Effect {
	m.away = true
	m.awaySince = m.lastDeparture
	if m.state != StateWarned || m.awayPending {
		return nil
	}
	m.awayGen++
	m.awayPending = true
	m.awayDeadline = m.lastDeparture.Add(m.policy.AwayTimeout)
	return []Effect{{Kind: EffectStartAwayTimer, Deadline: m.awayDeadline, Generation: m.awayGen}}
}

func (m *Monitor) returnLocked() []Effect {
	if !m.away {
		return nil
	}
	m.away = false
	m.awaySince = time.Time{}
	if !m.awayPending {
		return nil
	}
	m.awayPending = false
	return []Effect{{Kind: EffectCancelAwayTimer, Generation: m.awayGen}}
}

func (m *Monitor) fireLocked(trigger Trigger) []Effect {
	m.state = StateSubmitting
	m.awayPending = false
	if !m.guard.TryFire() {
		return nil
	}
	return []Effect{{Kind: EffectAutoSubmit, Trigger: trigger, Violations: m.violations, Strikes: m.policy.Strikes}}
}

// syncGuardLocked moves to StateSubmitting when another path already
// fired the guard.
func (m *Monitor) syncGuardLocked() bool {
	if m.guard.Fired() {
		m.state = StateSubmitting
		m.awayPending = false
		return true
	}
	return false
}

// inWindow reports whether at falls in [start, start+d).
func inWindow(at, start time.Time, d time.Duration) bool {
	if start.IsZero() {
		return false
	}
	return !at.Before(start) && at.Before(start.Add(d))
}
