package model

import (
	"time"

	"github.com/google/uuid"
)

// Subject groups questions and tests under a course, e.g. "Physics".
type Subject struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateSubjectRequest is the payload for creating a subject.
type CreateSubjectRequest struct {
	Name string `json:"name" binding:"required,notblank,min=2,max=100"`
	Key  string `json:"key" binding:"required,min=2,max=32,code"`
}

// UpdateSubjectRequest is the payload for updating a subject.
type UpdateSubjectRequest struct {
	Name string `json:"name" binding:"required,notblank,min=2,max=100"`
	Key  string `json:"key" binding:"required,min=2,max=32,code"`
}
