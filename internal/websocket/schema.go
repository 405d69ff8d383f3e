package websocket

import (
	"github.com/google/uuid"
	"github.com/stemsi/mocktest-backend/internal/model"
	"github.com/stemsi/mocktest-backend/internal/testrun"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSelect Action = "select"
	ActionGoto   Action = "goto"
	ActionSubmit Action = "submit"
	ActionPing   Action = "ping"
)

// RequestPayload is every client message of the run stream. Fields unused
// by an action are ignored.
type RequestPayload struct {
	Action     Action    `json:"action"`
	QuestionID uuid.UUID `json:"question_id,omitempty"`
	OptionID   uuid.UUID `json:"option_id,omitempty"`
	Index      *int      `json:"index,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState     Event = "state"
	EventQuestion  Event = "question"
	EventSubmitted Event = "submitted"
	EventChat      Event = "chat"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

// StateResponse carries a run snapshot. It is pushed after every change
// and every tick of the countdown.
type StateResponse struct {
	Event Event            `json:"event"`
	State testrun.Snapshot `json:"state"`
}

// QuestionResponse carries the question under the cursor.
type QuestionResponse struct {
	Event    Event              `json:"event"`
	Index    int                `json:"index"`
	Question model.QuestionView `json:"question"`
}

type SubmittedResponse struct {
	Event     Event         `json:"event"`
	AttemptID uuid.UUID     `json:"attempt_id"`
	Score     float64       `json:"score"`
	Summary   model.Summary `json:"summary"`
}

// ChatResponse relays one chat event to a channel subscriber.
type ChatResponse struct {
	Event Event           `json:"event"`
	Chat  model.ChatEvent `json:"chat"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
