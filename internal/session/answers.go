package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stemsi/examportal/internal/model"
)

type SlotKind int

const (
	KindChoice SlotKind = iota
	KindText
	KindRecording
)

func (k SlotKind) String() string {
	switch k {
	case KindChoice:
		return "choice"
	case KindText:
		return "text"
	case KindRecording:
		return "recording"
	}
	return "unknown"
}

type ReviewFlag int

const (
	ReviewUnset ReviewFlag = iota
	ReviewMarked
)

// TakeRef identifies one captured recording. The audio bytes are held by
// the Recorder and looked up by ID at upload time.
type TakeRef struct {
	ID         string
	MimeType   string
	Size       int
	Duration   time.Duration
	CapturedAt time.Time
}

// AnswerSlot is the answer state for one question. Only the fields of
// its Kind are meaningful.
type AnswerSlot struct {
	QuestionID string
	Type       model.QuestionType
	Kind       SlotKind
	Review     ReviewFlag

	Selected *int   // KindChoice
	Text     string // KindText

	Takes  []TakeRef // KindRecording
	Active *int
}

func (s AnswerSlot) clone() AnswerSlot {
	out := s
	if s.Selected != nil {
		v := *s.Selected
		out.Selected = &v
	}
	if s.Active != nil {
		v := *s.Active
		out.Active = &v
	}
	out.Takes = append([]TakeRef(nil), s.Takes...)
	return out
}

func (s AnswerSlot) answered() bool {
	switch s.Kind {
	case KindChoice:
		return s.Selected != nil
	case KindText:
		return strings.TrimSpace(s.Text) != ""
	case KindRecording:
		return s.Active != nil && len(s.Takes) > 0
	}
	return false
}

// ActiveTake returns the take that will be submitted for a recording slot.
func (s AnswerSlot) ActiveTake() (TakeRef, bool) {
	if s.Kind != KindRecording || s.Active == nil || *s.Active >= len(s.Takes) {
		return TakeRef{}, false
	}
	return s.Takes[*s.Active], true
}

// Value is a whole-slot replacement accepted by Store.Set.
type Value interface {
	kind() SlotKind
}

type ChoiceValue struct{ Selected *int }

type TextValue struct{ Text string }

type RecordingValue struct {
	Takes  []TakeRef
	Active *int
}

func (ChoiceValue) kind() SlotKind    { return KindChoice }
func (TextValue) kind() SlotKind      { return KindText }
func (RecordingValue) kind() SlotKind { return KindRecording }

// Counts partitions the questions of a session. Marked questions are
// counted as marked whether or not they are answered.
type Counts struct {
	Answered        int
	MarkedForReview int
	Unanswered      int
}

func (c Counts) Total() int {
	return c.Answered + c.MarkedForReview + c.Unanswered
}

// Store holds one AnswerSlot per question of the exam.
type Store struct {
	mu     sync.RWMutex
	order  []string
	slots  map[string]*AnswerSlot
	frozen bool
}

// SlotSpec declares a question for NewStore.
type SlotSpec struct {
	QuestionID string
	Type       model.QuestionType
}

// KindOf maps a question type to the answer slot it needs.
func KindOf(t model.QuestionType) SlotKind {
	switch {
	case t.IsRecording():
		return KindRecording
	case t.IsText():
		return KindText
	}
	return KindChoice
}

func NewStore(specs []SlotSpec) *Store {
	s := &Store{
		order: make([]string, 0, len(specs)),
		slots: make(map[string]*AnswerSlot, len(specs)),
	}
	for _, spec := range specs {
		s.order = append(s.order, spec.QuestionID)
		s.slots[spec.QuestionID] = &AnswerSlot{
			QuestionID: spec.QuestionID,
			Type:       spec.Type,
			Kind:       KindOf(spec.Type),
		}
	}
	return s
}

func (s *Store) Len() int {
	return len(s.order)
}

// QuestionID returns the id of the question at position i.
func (s *Store) QuestionID(i int) (string, error) {
	if i < 0 || i >= len(s.order) {
		return "", ErrOutOfRange
	}
	return s.order[i], nil
}

func (s *Store) Get(questionID string) (AnswerSlot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.slots[questionID]
	if !ok {
		return AnswerSlot{}, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	return slot.clone(), nil
}

// Set replaces the value of a slot. The review flag is preserved.
func (s *Store) Set(questionID string, v Value) error {
	return s.mutate(questionID, func(slot *AnswerSlot) error {
		if v.kind() != slot.Kind {
			return fmt.Errorf("%w: %s is %s", ErrKindMismatch, questionID, slot.Kind)
		}
		switch val := v.(type) {
		case ChoiceValue:
			slot.Selected = nil
			if val.Selected != nil {
				idx := *val.Selected
				slot.Selected = &idx
			}
		case TextValue:
			slot.Text = val.Text
		case RecordingValue:
			if val.Active != nil && (*val.Active < 0 || *val.Active >= len(val.Takes)) {
				return ErrTakeNotFound
			}
			tmp := AnswerSlot{Takes: val.Takes, Active: val.Active}.clone()
			slot.Takes, slot.Active = tmp.Takes, tmp.Active
		}
		return nil
	})
}

// SelectOption selects option idx. Selecting the already selected option
// clears the selection.
func (s *Store) SelectOption(questionID string, idx int) error {
	return s.mutate(questionID, func(slot *AnswerSlot) error {
		if slot.Kind != KindChoice {
			return fmt.Errorf("%w: %s is %s", ErrKindMismatch, questionID, slot.Kind)
		}
		if slot.Selected != nil && *slot.Selected == idx {
			slot.Selected = nil
			return nil
		}
		slot.Selected = &idx
		return nil
	})
}

func (s *Store) SetText(questionID, text string) error {
	return s.Set(questionID, TextValue{Text: text})
}

// AppendTake adds a take and makes it the active one.
func (s *Store) AppendTake(questionID string, take TakeRef) error {
	return s.mutate(questionID, func(slot *AnswerSlot) error {
		if slot.Kind != KindRecording {
			return fmt.Errorf("%w: %s is %s", ErrKindMismatch, questionID, slot.Kind)
		}
		slot.Takes = append(slot.Takes, take)
		active := len(slot.Takes) - 1
		slot.Active = &active
		return nil
	})
}

// RemoveTake deletes the take at idx and returns it. The active index
// follows its take when an earlier one is removed. Removing the active
// take activates its successor (or the new last take); removing the
// only take clears it.
func (s *Store) RemoveTake(questionID string, idx int) (TakeRef, error) {
	var removed TakeRef
	err := s.mutate(questionID, func(slot *AnswerSlot) error {
		if slot.Kind != KindRecording {
			return fmt.Errorf("%w: %s is %s", ErrKindMismatch, questionID, slot.Kind)
		}
		if idx < 0 || idx >= len(slot.Takes) {
			return ErrTakeNotFound
		}
		removed = slot.Takes[idx]
		slot.Takes = append(slot.Takes[:idx:idx], slot.Takes[idx+1:]...)

		if len(slot.Takes) == 0 || slot.Active == nil {
			slot.Active = nil
			return nil
		}
		active := *slot.Active
		if idx < active {
			active--
		}
		if active >= len(slot.Takes) {
			active = len(slot.Takes) - 1
		}
		slot.Active = &active
		return nil
	})
	return removed, err
}

func (s *Store) SetActiveTake(questionID string, idx int) error {
	return s.mutate(questionID, func(slot *AnswerSlot) error {
		if slot.Kind != KindRecording {
			return fmt.Errorf("%w: %s is %s", ErrKindMismatch, questionID, slot.Kind)
		}
		if idx < 0 || idx >= len(slot.Takes) {
			return ErrTakeNotFound
		}
		slot.Active = &idx
		return nil
	})
}

func (s *Store) ToggleReview(questionID string) error {
	return s.mutate(questionID, func(slot *AnswerSlot) error {
		if slot.Review == ReviewMarked {
			slot.Review = ReviewUnset
		} else {
			slot.Review = ReviewMarked
		}
		return nil
	})
}

func (s *Store) IsAnswered(questionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.slots[questionID]
	return ok && slot.answered()
}

func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c Counts
	for _, id := range s.order {
		slot := s.slots[id]
		switch {
		case slot.Review == ReviewMarked:
			c.MarkedForReview++
		case slot.answered():
			c.Answered++
		default:
			c.Unanswered++
		}
	}
	return c
}

// Freeze makes the store read-only. It is idempotent.
func (s *Store) Freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

func (s *Store) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

// Snapshot returns copies of all slots in question order.
func (s *Store) Snapshot() []AnswerSlot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AnswerSlot, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.slots[id].clone())
	}
	return out
}

func (s *Store) mutate(questionID string, fn func(*AnswerSlot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return ErrSessionFrozen
	}
	slot, ok := s.slots[questionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	return fn(slot)
}
