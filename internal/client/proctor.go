package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/stemsi/examportal/internal/session"
	ws "github.com/stemsi/examportal/internal/websocket"
)

// ProctorLink relays proctoring signals to the server-side monitor and
// delivers its events.
type ProctorLink struct {
	conn   *ws.Conn
	events chan ws.ResponsePayload
	done   chan struct{}
}

// DialProctor opens the proctoring websocket for an attempt.
func (c *Client) DialProctor(ctx context.Context, examID, attemptID uuid.UUID) (*ProctorLink, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = fmt.Sprintf("/ws/v1/student/exams/%s/proctor", examID)
	q := u.Query()
	q.Set("attempt_id", attemptID.String())
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), http.Header{})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial proctor: http %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial proctor: %w", err)
	}

	link := &ProctorLink{
		conn:   ws.Wrap(conn),
		events: make(chan ws.ResponsePayload, 16),
		done:   make(chan struct{}),
	}
	go link.readLoop()
	return link, nil
}

// Events delivers server events until the connection closes.
func (l *ProctorLink) Events() <-chan ws.ResponsePayload {
	return l.events
}

// Send relays a signal.
func (l *ProctorLink) Send(sig session.Signal) error {
	at := sig.At.UTC()
	return l.conn.WriteJSON(ws.RequestPayload{Action: ws.ActionSignal, Kind: string(sig.Kind), At: &at})
}

func (l *ProctorLink) Ping() error {
	return l.conn.WriteJSON(ws.RequestPayload{Action: ws.ActionPing})
}

func (l *ProctorLink) Close() error {
	l.conn.WriteClose()
	err := l.conn.Close()
	<-l.done
	return err
}

func (l *ProctorLink) readLoop() {
	defer close(l.done)
	defer close(l.events)
	for {
		var msg ws.ResponsePayload
		if err := l.conn.Conn.ReadJSON(&msg); err != nil {
			return
		}
		select {
		case l.events <- msg:
		default:
			// consumer lags; ticks are superseded by the next one anyway
		}
	}
}
