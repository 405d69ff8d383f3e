package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role separates learners from administrators.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Profile is a user account together with the learner details collected on sign-up.
type Profile struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	UserName     string    `json:"user_name"`
	PhoneNumber  string    `json:"phone_number"`
	City         string    `json:"city"`
	Pincode      string    `json:"pincode"`
	TargetExam   string    `json:"target_exam"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsComplete reports whether every detail needed for tests and chat is filled in.
func (p *Profile) IsComplete() bool {
	for _, v := range []string{p.UserName, p.PhoneNumber, p.City, p.Pincode, p.TargetExam} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

// RegisterRequest is the payload for learner sign-up.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=8,max=128"`
	UserName string `json:"user_name" binding:"required,notblank,min=2,max=100"`
}

// LoginRequest is the payload for authentication.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=4,max=128"`
}

// UpdateProfileRequest is the payload for editing one's own profile.
type UpdateProfileRequest struct {
	UserName    string `json:"user_name" binding:"required,notblank,min=2,max=100"`
	PhoneNumber string `json:"phone_number" binding:"required,e164"`
	City        string `json:"city" binding:"required,notblank,min=2,max=100"`
	Pincode     string `json:"pincode" binding:"required,pincode"`
	TargetExam  string `json:"target_exam" binding:"required,min=2,max=100"`
}
