package session

import "sync"

// recordingHalter is the part of the Recorder the navigator drives.
type recordingHalter interface {
	StopActive()
	ResetQuota()
}

// Navigator owns the current question index.
type Navigator struct {
	mu     sync.Mutex
	index  int
	total  int
	rec    recordingHalter
	frozen func() bool
}

func NewNavigator(total int, rec recordingHalter, frozen func() bool) *Navigator {
	return &Navigator{total: total, rec: rec, frozen: frozen}
}

func (n *Navigator) Current() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.index
}

func (n *Navigator) Total() int {
	return n.total
}

// GoTo moves to question i. Any recording of the outgoing question is
// stopped and the re-record quota is reset before the index changes.
func (n *Navigator) GoTo(i int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.frozen != nil && n.frozen() {
		return ErrSessionFrozen
	}
	if i < 0 || i >= n.total {
		return ErrOutOfRange
	}
	if n.rec != nil {
		n.rec.StopActive()
		n.rec.ResetQuota()
	}
	n.index = i
	return nil
}

// Next moves forward; it is a no-op on the last question.
func (n *Navigator) Next() error {
	i := n.Current()
	if i+1 >= n.total {
		return nil
	}
	return n.GoTo(i + 1)
}

// Previous moves back; it is a no-op on the first question.
func (n *Navigator) Previous() error {
	i := n.Current()
	if i == 0 {
		return nil
	}
	return n.GoTo(i - 1)
}
