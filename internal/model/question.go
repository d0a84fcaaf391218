package model

import (
	"github.com/google/uuid"
)

type QuestionType string

const (
	QuestionTypeMCQ         QuestionType = "mcq"
	QuestionTypeShortAnswer QuestionType = "short_answer"
	QuestionTypeLongAnswer  QuestionType = "long_answer"
	QuestionTypeViva        QuestionType = "viva"
	QuestionTypeInterview   QuestionType = "interview"
)

func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeMCQ, QuestionTypeShortAnswer, QuestionTypeLongAnswer, QuestionTypeViva, QuestionTypeInterview:
		return true
	}
	return false
}

// IsRecording reports whether answers are spoken recordings.
func (t QuestionType) IsRecording() bool {
	return t == QuestionTypeViva || t == QuestionTypeInterview
}

func (t QuestionType) IsText() bool {
	return t == QuestionTypeShortAnswer || t == QuestionTypeLongAnswer
}

const (
	MinOptions = 2
	MaxOptions = 4
)

// Option is one choice of an mcq question.
type Option struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// Question represents a single exam question.
type Question struct {
	ID        uuid.UUID    `json:"id"`
	ExamID    uuid.UUID    `json:"exam_id"`
	Type      QuestionType `json:"type"`
	Text      string       `json:"text"`
	Points    int          `json:"points"`
	MediaURL  *string      `json:"media_url,omitempty"`
	MediaType *string      `json:"media_type,omitempty"`
	Options   []Option     `json:"options,omitempty"`
	OrderNum  int          `json:"order_num"`
}

// ForStudent strips the correct answer.
func (q *Question) ForStudent() QuestionForStudent {
	out := QuestionForStudent{
		ID:        q.ID,
		Type:      q.Type,
		Text:      q.Text,
		Points:    q.Points,
		MediaURL:  q.MediaURL,
		MediaType: q.MediaType,
		OrderNum:  q.OrderNum,
	}
	for _, o := range q.Options {
		out.Options = append(out.Options, StudentOption{Text: o.Text})
	}
	return out
}

type StudentOption struct {
	Text string `json:"text"`
}

// QuestionForStudent is a question without the correct answer, sent to students.
type QuestionForStudent struct {
	ID        uuid.UUID       `json:"id"`
	Type      QuestionType    `json:"type"`
	Text      string          `json:"text"`
	Points    int             `json:"points"`
	MediaURL  *string         `json:"media_url,omitempty"`
	MediaType *string         `json:"media_type,omitempty"`
	Options   []StudentOption `json:"options,omitempty"`
	OrderNum  int             `json:"order_num"`
}

// QuestionDefinition is one question of an ExamDefinition.
type QuestionDefinition struct {
	Type      QuestionType `json:"type" validate:"required,oneof=mcq short_answer long_answer viva interview"`
	Text      string       `json:"text" validate:"required,min=1,max=5000"`
	Points    int          `json:"points" validate:"min=0,max=1000"`
	MediaURL  *string      `json:"media_url" validate:"omitempty,url"`
	MediaType *string      `json:"media_type" validate:"required_with=MediaURL,omitempty,oneof=image audio video"`
	Options   []Option     `json:"options" validate:"omitempty,dive"`
}
