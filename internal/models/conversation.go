package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is a 1:1 thread between two participants.
// The pair is unordered; participant_1 is whoever made first contact.
type Conversation struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Participant1  uuid.UUID  `json:"participant1" db:"participant_1"`
	Participant2  uuid.UUID  `json:"participant2" db:"participant_2"`
	LastMessageAt *time.Time `json:"lastMessageAt" db:"last_message_at"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID uuid.UUID) bool {
	return c.Participant1 == userID || c.Participant2 == userID
}

// OtherParticipant returns the participant that is not viewerID.
func (c *Conversation) OtherParticipant(viewerID uuid.UUID) uuid.UUID {
	if c.Participant1 == viewerID {
		return c.Participant2
	}
	return c.Participant1
}

// MessagePreview is the denormalized last message shown in the conversation list.
type MessagePreview struct {
	ID        uuid.UUID `json:"id"`
	Content   string    `json:"content"`
	SenderID  uuid.UUID `json:"senderId"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConversationSummary is a conversation as seen by one viewer.
type ConversationSummary struct {
	Conversation
	OtherParticipant *PublicUser    `json:"otherParticipant,omitempty"`
	LastMessage      *MessagePreview `json:"lastMessage,omitempty"`
	UnreadCount      int             `json:"unreadCount"`
}

// --- DTOs for conversation operations ---

// StartConversationRequest opens (or finds) the thread with another user.
type StartConversationRequest struct {
	ParticipantID uuid.UUID `json:"participantId" binding:"required"`
}

// MarkReadResponse reports how many messages flipped to read.
type MarkReadResponse struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Updated        int64     `json:"updated"`
}

// UnreadCountResponse is the inbox-wide unread badge.
type UnreadCountResponse struct {
	UnreadCount int `json:"unreadCount"`
}
