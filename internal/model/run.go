package model

import "github.com/google/uuid"

// SelectOptionRequest is one click on an option during a test run.
type SelectOptionRequest struct {
	QuestionID uuid.UUID `json:"question_id" binding:"required"`
	OptionID   uuid.UUID `json:"option_id" binding:"required"`
}

// MoveCursorRequest jumps to any question of a run.
type MoveCursorRequest struct {
	Index *int `json:"index" binding:"required,min=0"`
}
