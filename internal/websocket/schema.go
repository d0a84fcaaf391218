package websocket

import "time"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSignal Action = "signal"
	ActionPing   Action = "ping"
)

// RequestPayload is every message a proctoring client sends.
type RequestPayload struct {
	Action Action `json:"action"`
	// Kind is a proctoring signal name such as "hidden" or "focus".
	Kind string     `json:"kind,omitempty"`
	At   *time.Time `json:"at,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventReady      Event = "ready"
	EventWarning    Event = "warning"
	EventAutoSubmit Event = "auto_submit"
	EventTick       Event = "tick"
	EventExpired    Event = "expired"
	EventError      Event = "error"
	EventPong       Event = "pong"
)

// ResponsePayload is every message the server sends. Only the fields
// relevant to Event are set.
type ResponsePayload struct {
	Event      Event  `json:"event"`
	State      string `json:"state,omitempty"`
	Remaining  *int   `json:"remaining,omitempty"`
	Violations int    `json:"violations,omitempty"`
	Strikes    int    `json:"strikes,omitempty"`
	Trigger    string `json:"trigger,omitempty"`
	Error      string `json:"error,omitempty"`
}
