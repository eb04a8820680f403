package store

import (
	"context"
	"errors"
	"time"

	"krewup-messaging/internal/models"

	"github.com/google/uuid"
)

// RecentMessageLimit is how many messages a thread fetch returns.
const RecentMessageLimit = 50

// UserStore reads KrewUp profiles.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]*models.User, error)
}

// ConversationStore persists conversations and builds the per-viewer inbox.
type ConversationStore interface {
	// CreateConversation stores a new pair with initiatorID as participant_1.
	// Returns ErrConversationExists if the unordered pair already has one.
	CreateConversation(ctx context.Context, initiatorID, recipientID uuid.UUID) (*models.Conversation, error)
	GetConversationByID(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	GetConversationByParticipants(ctx context.Context, a, b uuid.UUID) (*models.Conversation, error)

	// ListConversationsForUser returns every conversation userID takes part in,
	// ordered by last_message_at descending with empty conversations last. The
	// unread count is computed at query time.
	ListConversationsForUser(ctx context.Context, userID uuid.UUID) ([]*models.ConversationSummary, error)
}

// MessageStore persists messages and read state.
type MessageStore interface {
	// CreateMessage inserts the message and advances the conversation's
	// last_message_at to message.CreatedAt (never backwards) in one transaction.
	CreateMessage(ctx context.Context, message *models.Message) error

	// ListRecentMessages returns the newest limit messages in ascending order
	// (created_at, then id) with SenderName resolved.
	ListRecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]*models.Message, error)

	// MarkConversationRead sets read_at on every unread message in the
	// conversation not sent by viewerID and returns how many rows changed.
	MarkConversationRead(ctx context.Context, conversationID, viewerID uuid.UUID, readAt time.Time) (int64, error)

	// CountUnreadForUser totals unread messages across all of userID's conversations.
	CountUnreadForUser(ctx context.Context, userID uuid.UUID) (int, error)
}

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrEmailExists          = errors.New("email already exists")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationExists   = errors.New("conversation already exists")
)

func otherParticipantOrUnknown(id uuid.UUID, firstName, lastName *string) *models.PublicUser {
	if firstName == nil && lastName == nil {
		return &models.PublicUser{ID: id, DisplayName: models.UnknownUserName}
	}
	u := &models.User{ID: id}
	if firstName != nil {
		u.FirstName = *firstName
	}
	if lastName != nil {
		u.LastName = *lastName
	}
	return u.ToPublicUser()
}

func senderName(firstName, lastName *string) string {
	var first, last string
	if firstName != nil {
		first = *firstName
	}
	if lastName != nil {
		last = *lastName
	}
	return models.DisplayName(first, last)
}
