package model

import (
	"time"

	"github.com/google/uuid"
)

// Question is a multiple-choice question. Multiple selects the answer model:
// false replaces the selection on every click, true toggles membership.
type Question struct {
	ID         uuid.UUID `json:"id"`
	SubjectID  uuid.UUID `json:"subject_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Topic      string    `json:"topic"`
	Difficulty int       `json:"difficulty"`
	Multiple   bool      `json:"multiple"`
	Options    []Option  `json:"options"`
	CreatedAt  time.Time `json:"created_at"`
}

// Option is one answer choice of a question.
type Option struct {
	ID         uuid.UUID `json:"id"`
	QuestionID uuid.UUID `json:"question_id"`
	Text       string    `json:"text"`
	IsCorrect  bool      `json:"is_correct"`
}

// CorrectSet returns the ids of the options flagged correct.
func (q *Question) CorrectSet() map[uuid.UUID]struct{} {
	set := make(map[uuid.UUID]struct{})
	for _, o := range q.Options {
		if o.IsCorrect {
			set[o.ID] = struct{}{}
		}
	}
	return set
}

// HasOption reports whether optionID belongs to q.
func (q *Question) HasOption(optionID uuid.UUID) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

// View strips the answer key for learner-facing responses.
func (q *Question) View() QuestionView {
	opts := make([]OptionView, len(q.Options))
	for i, o := range q.Options {
		opts[i] = OptionView{ID: o.ID, Text: o.Text}
	}
	return QuestionView{
		ID:         q.ID,
		Title:      q.Title,
		Body:       q.Body,
		Topic:      q.Topic,
		Difficulty: q.Difficulty,
		Multiple:   q.Multiple,
		Options:    opts,
	}
}

// QuestionView is a question without correctness flags, sent to learners.
type QuestionView struct {
	ID         uuid.UUID    `json:"id"`
	Title      string       `json:"title"`
	Body       string       `json:"body"`
	Topic      string       `json:"topic"`
	Difficulty int          `json:"difficulty"`
	Multiple   bool         `json:"multiple"`
	Options    []OptionView `json:"options"`
}

type OptionView struct {
	ID   uuid.UUID `json:"id"`
	Text string    `json:"text"`
}

// OptionInput is one option inside a question create/update payload.
type OptionInput struct {
	Text      string `json:"text" binding:"required,min=1,max=1000"`
	IsCorrect bool   `json:"is_correct"`
}

// UpsertQuestionRequest is the payload for creating or replacing a question.
type UpsertQuestionRequest struct {
	SubjectID  uuid.UUID     `json:"subject_id" binding:"required"`
	Title      string        `json:"title" binding:"required,min=1,max=500"`
	Body       string        `json:"body" binding:"max=5000"`
	Topic      string        `json:"topic" binding:"max=100"`
	Difficulty int           `json:"difficulty" binding:"required,min=1,max=3"`
	Multiple   bool          `json:"multiple"`
	Options    []OptionInput `json:"options" binding:"required,min=2,max=10,dive"`
}
