package model

import (
	"time"

	"github.com/google/uuid"
)

// Test is a timed paper of position-ordered questions within a subject.
type Test struct {
	ID              uuid.UUID `json:"id"`
	SubjectID       uuid.UUID `json:"subject_id"`
	Title           string    `json:"title"`
	DurationMinutes int       `json:"duration_minutes"`
	Shuffle         bool      `json:"shuffle"`
	QuestionCount   int       `json:"question_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// TestQuestion links a question to a test at a position.
type TestQuestion struct {
	TestID     uuid.UUID `json:"test_id"`
	QuestionID uuid.UUID `json:"question_id"`
	Position   int       `json:"position"`
}

// TestPaper is the cached, server-side copy of a test with its answer key.
// It is never serialised to learners as is.
type TestPaper struct {
	Test      Test       `json:"test"`
	Questions []Question `json:"questions"`
}

// Question returns the paper question with the given id.
func (p *TestPaper) Question(id uuid.UUID) (*Question, bool) {
	for i := range p.Questions {
		if p.Questions[i].ID == id {
			return &p.Questions[i], true
		}
	}
	return nil, false
}

// CreateTestRequest is the payload for creating a test.
type CreateTestRequest struct {
	SubjectID       uuid.UUID `json:"subject_id" binding:"required"`
	Title           string    `json:"title" binding:"required,min=3,max=255"`
	DurationMinutes int       `json:"duration_minutes" binding:"required,min=1,max=480"`
	Shuffle         bool      `json:"shuffle"`
}

// UpdateTestRequest is the payload for updating a test.
type UpdateTestRequest struct {
	Title           string `json:"title" binding:"omitempty,min=3,max=255"`
	DurationMinutes int    `json:"duration_minutes" binding:"omitempty,min=1,max=480"`
	Shuffle         *bool  `json:"shuffle"`
}

// SetTestQuestionsRequest replaces the ordered question list of a test.
type SetTestQuestionsRequest struct {
	QuestionIDs []uuid.UUID `json:"question_ids" binding:"required,min=1,max=500,unique"`
}
