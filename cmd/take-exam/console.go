package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/stemsi/examportal/internal/session"
)

// console renders session events as plain text. Observer callbacks run on
// timer goroutines, so every write takes the lock.
type console struct {
	mu       sync.Mutex
	w        io.Writer
	lastTick int
}

var _ session.Observer = (*console)(nil)

func newConsole(w io.Writer) *console {
	return &console{w: w, lastTick: -1}
}

func (c *console) Printf(format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

// OnTick prints the remaining time once a minute and every second of the
// last ten.
func (c *console) OnTick(remaining int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remaining == c.lastTick {
		return
	}
	c.lastTick = remaining
	if remaining%60 == 0 || remaining <= 10 {
		fmt.Fprintf(c.w, "[time] %02d:%02d left\n", remaining/60, remaining%60)
	}
}

func (c *console) OnWarning(violations, strikes int) {
	c.Printf("[proctor] You left the exam (%d/%d). Return now or the exam is submitted.\n", violations, strikes)
}

func (c *console) OnRecordingStopped(questionID string, take session.TakeRef, err error) {
	if err != nil {
		c.Printf("[recording] %s stopped: %v\n", questionID, err)
		return
	}
	c.Printf("[recording] time limit reached, take %s saved\n", take.ID)
}

func (c *console) OnSubmitStarted(trigger session.Trigger) {
	c.Printf("[submit] submitting (%s)...\n", trigger)
}

func (c *console) OnSubmitFinished(res *session.Result, err error) {
	if err != nil {
		c.Printf("[submit] failed: %v. Type 'retry' to send again.\n", err)
	}
}

func (c *console) Question(s *session.Session) {
	q, slot, err := s.Current()
	if err != nil {
		c.Printf("! %v\n", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "\nQ%d/%d (%s, %d pts)", s.Index()+1, s.Len(), q.Type, q.Points)
	if slot.Review == session.ReviewMarked {
		fmt.Fprint(c.w, " [review]")
	}
	fmt.Fprintf(c.w, "\n%s\n", q.Text)

	switch slot.Kind {
	case session.KindChoice:
		for i, opt := range q.Options {
			mark := " "
			if slot.Selected != nil && *slot.Selected == i {
				mark = "x"
			}
			fmt.Fprintf(c.w, "  [%s] %d. %s\n", mark, i+1, opt.Text)
		}
	case session.KindText:
		if slot.Text != "" {
			fmt.Fprintf(c.w, "  answer: %s\n", slot.Text)
		}
	case session.KindRecording:
		for i, t := range slot.Takes {
			mark := " "
			if slot.Active != nil && *slot.Active == i {
				mark = "*"
			}
			fmt.Fprintf(c.w, "  %s take %d: %s\n", mark, i+1, t.Duration)
		}
		fmt.Fprintf(c.w, "  re-records left: %d\n", s.QuotaLeft())
	}
}

func (c *console) Status(s *session.Session) {
	counts := s.Counts()
	c.Printf("answered %d, review %d, unanswered %d | %ds left | proctor %s (%d violations)\n",
		counts.Answered, counts.MarkedForReview, counts.Unanswered,
		s.Remaining(), s.ProctorState(), s.Violations())
}

func (c *console) Result(res *session.Result) {
	if res == nil {
		return
	}
	c.Printf("Submitted %s (%s): %d answers, %d/%d recordings uploaded\n",
		res.SubmissionID, res.Trigger, res.InlineAnswers, res.AudioSucceeded, res.AudioAttempted)
	if res.Partial() {
		c.Printf("Some recordings failed to upload: %v\n", res.FailedUploads)
	}
}

func (c *console) Help() {
	c.Printf(`Commands:
  n, p, g <n>        next, previous, go to question
  o <n>              select option
  t <text>           set the text answer
  r                  toggle mark for review
  mic, rec, stop     open the microphone, start and stop a take
  discard <n>, use <n>
  away, back         leave and return to the exam window
  dismiss            dismiss the proctoring banner
  status, submit, retry, quit
`)
}
