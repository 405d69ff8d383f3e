package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ResultSchemaVersion is the current layout of ResultPayload.
const ResultSchemaVersion = 1

// ErrUnsupportedSchema is returned for result payloads written by a newer layout.
var ErrUnsupportedSchema = errors.New("unsupported result payload schema version")

// Attempt is one learner's submitted run of a test. It is written once.
type Attempt struct {
	ID          uuid.UUID      `json:"id"`
	UserID      uuid.UUID      `json:"user_id"`
	TestID      uuid.UUID      `json:"test_id"`
	StartedAt   time.Time      `json:"started_at"`
	SubmittedAt *time.Time     `json:"submitted_at"`
	Score       float64        `json:"score"`
	TotalMarks  int            `json:"total_marks"`
	Summary     Summary        `json:"summary"`
	Result      *ResultPayload `json:"result,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`

	// Joined for listings.
	TestTitle       string     `json:"test_title,omitempty"`
	SubjectID       *uuid.UUID `json:"subject_id,omitempty"`
	SubjectName     string     `json:"subject_name,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
}

// Summary is the headline result of an attempt.
type Summary struct {
	Correct    int `json:"correct"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// TimeTaken is the wall time between start and submission, zero while unsubmitted.
func (a *Attempt) TimeTaken() time.Duration {
	if a.SubmittedAt == nil {
		return 0
	}
	d := a.SubmittedAt.Sub(a.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// ResultPayload is the per-question record stored with an attempt.
type ResultPayload struct {
	SchemaVersion int                       `json:"schema_version"`
	Answers       map[uuid.UUID][]uuid.UUID `json:"answers"`
	Questions     []ResultQuestion          `json:"questions"`
}

// ResultQuestion is the outcome of one question inside a ResultPayload.
type ResultQuestion struct {
	ID         uuid.UUID `json:"id"`
	Topic      string    `json:"topic"`
	Difficulty int       `json:"difficulty"`
	Correct    bool      `json:"correct"`
}

// DecodeResultPayload parses a stored payload. Empty input yields an empty
// payload. Unversioned payloads share the version 1 field names and are upgraded.
func DecodeResultPayload(raw []byte) (*ResultPayload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return &ResultPayload{SchemaVersion: ResultSchemaVersion}, nil
	}

	var p ResultPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode result payload: %w", err)
	}

	switch {
	case p.SchemaVersion == 0:
		p.SchemaVersion = ResultSchemaVersion
	case p.SchemaVersion > ResultSchemaVersion:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSchema, p.SchemaVersion)
	}
	return &p, nil
}

// AnswerRow is the normalised per-question answer written after submission.
type AnswerRow struct {
	AttemptID         uuid.UUID   `json:"attempt_id"`
	QuestionID        uuid.UUID   `json:"question_id"`
	SelectedOptionIDs []uuid.UUID `json:"selected_option_ids"`
	Correct           bool        `json:"correct"`
	MarksAwarded      int         `json:"marks_awarded"`
}

// AnswerRows flattens an attempt's payload into rows, one per question.
func (a *Attempt) AnswerRows() []AnswerRow {
	if a.Result == nil {
		return nil
	}
	rows := make([]AnswerRow, 0, len(a.Result.Questions))
	for _, q := range a.Result.Questions {
		marks := 0
		if q.Correct {
			marks = 1
		}
		selected := a.Result.Answers[q.ID]
		if selected == nil {
			selected = []uuid.UUID{}
		}
		rows = append(rows, AnswerRow{
			AttemptID:         a.ID,
			QuestionID:        q.ID,
			SelectedOptionIDs: selected,
			Correct:           q.Correct,
			MarksAwarded:      marks,
		})
	}
	return rows
}

// AttemptFilter narrows the admin attempt listing.
type AttemptFilter struct {
	Search    string     `form:"search" binding:"max=100"`
	Subject   string     `form:"subject_id" binding:"omitempty,uuid"`
	SubjectID *uuid.UUID `form:"-"`
	From      *time.Time `form:"from" time_format:"2006-01-02"`
	To        *time.Time `form:"to" time_format:"2006-01-02"`
	Band      string     `form:"band" binding:"omitempty,oneof=high medium low"`
	Page      int        `form:"page" binding:"omitempty,min=1"`
	PerPage   int        `form:"per_page" binding:"omitempty,min=1,max=100"`
}

// Resolve parses the query-string subject into SubjectID.
func (f *AttemptFilter) Resolve() error {
	if f.Subject == "" {
		return nil
	}
	id, err := uuid.Parse(f.Subject)
	if err != nil {
		return fmt.Errorf("subject_id: %w", err)
	}
	f.SubjectID = &id
	return nil
}
