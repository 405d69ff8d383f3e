package model

import "github.com/google/uuid"

// AttemptReview walks a learner through a submitted attempt question by
// question, with the answer key and their own selection side by side.
type AttemptReview struct {
	AttemptID uuid.UUID        `json:"attempt_id"`
	TestID    uuid.UUID        `json:"test_id"`
	TestTitle string           `json:"test_title"`
	Score     float64          `json:"score"`
	Summary   Summary          `json:"summary"`
	Questions []ReviewQuestion `json:"questions"`
}

// ReviewQuestion is one question of an AttemptReview. Available is false
// when the question was deleted after the attempt; only the stored outcome
// is known then.
type ReviewQuestion struct {
	Index      int            `json:"index"`
	ID         uuid.UUID      `json:"id"`
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	Topic      string         `json:"topic"`
	Difficulty int            `json:"difficulty"`
	Multiple   bool           `json:"multiple"`
	Correct    bool           `json:"correct"`
	Answered   bool           `json:"answered"`
	Available  bool           `json:"available"`
	Options    []ReviewOption `json:"options"`
}

type ReviewOption struct {
	ID        uuid.UUID `json:"id"`
	Text      string    `json:"text"`
	IsCorrect bool      `json:"is_correct"`
	Selected  bool      `json:"selected"`
}
