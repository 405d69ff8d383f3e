package model

import (
	"time"

	"github.com/google/uuid"
)

// Channel is a chat room.
type Channel struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Message is a chat post; ParentMessageID marks a reply.
type Message struct {
	ID              uuid.UUID       `json:"id"`
	ChannelID       uuid.UUID       `json:"channel_id"`
	UserID          uuid.UUID       `json:"user_id"`
	UserName        string          `json:"user_name,omitempty"`
	Content         string          `json:"content"`
	ParentMessageID *uuid.UUID      `json:"parent_message_id,omitempty"`
	Reactions       []ReactionTally `json:"reactions"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Reaction is one user's emoji on a message.
type Reaction struct {
	ID        uuid.UUID `json:"id"`
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionTally counts one emoji on a message.
type ReactionTally struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

// ChatEventType names realtime chat events.
type ChatEventType string

const (
	ChatEventMessageCreated ChatEventType = "message_created"
	ChatEventMessageDeleted ChatEventType = "message_deleted"
	ChatEventReaction       ChatEventType = "reaction_changed"
)

// ChatEvent is published to a channel's subscribers after every write.
type ChatEvent struct {
	Type      ChatEventType `json:"type"`
	ChannelID uuid.UUID     `json:"channel_id"`
	Message   *Message      `json:"message,omitempty"`
	MessageID uuid.UUID     `json:"message_id"`
	Reaction  *Reaction     `json:"reaction,omitempty"`
	Added     bool          `json:"added,omitempty"`
}

// CreateChannelRequest is the payload for creating a channel.
type CreateChannelRequest struct {
	Name        string `json:"name" binding:"required,notblank,min=2,max=100"`
	Description string `json:"description" binding:"max=500"`
}

// PostMessageRequest is the payload for posting a chat message or reply.
type PostMessageRequest struct {
	Content         string     `json:"content" binding:"required,min=1,max=4000"`
	ParentMessageID *uuid.UUID `json:"parent_message_id"`
}

// ReactRequest toggles an emoji reaction.
type ReactRequest struct {
	Emoji string `json:"emoji" binding:"required,min=1,max=16"`
}
