package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxMessageLength is the content limit in characters, measured after trimming.
const MaxMessageLength = 1000

// Message is a single entry in a conversation. Messages are append-only;
// ReadAt moves from nil to a timestamp once and never back.
type Message struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	ConversationID uuid.UUID  `json:"conversationId" db:"conversation_id"`
	SenderID       uuid.UUID  `json:"senderId" db:"sender_id"`
	Content        string     `json:"content" db:"content"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
	ReadAt         *time.Time `json:"readAt" db:"read_at"`

	SenderName string `json:"senderName" db:"-"`
}

// IsRead reports whether the recipient has opened the conversation since this message arrived.
func (m *Message) IsRead() bool {
	return m.ReadAt != nil
}

type SendMessageRequest struct {
	Content string `json:"content"`
}
