// Package syncer keeps a viewer's inbox fresh on the client: a polling
// Scheduler writes into a Cache, a Bus turns writes into immediate refetches,
// and ConversationListSync and MessageThreadSync expose typed views.
package syncer

import (
	"context"

	"krewup-messaging/internal/models"

	"github.com/google/uuid"
)

// API is the messaging surface the sync layer calls. The HTTP client and the
// in-process LocalClient both implement it; the viewer is implicit.
type API interface {
	ListConversations(ctx context.Context) ([]*models.ConversationSummary, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error)
	SendMessage(ctx context.Context, conversationID uuid.UUID, content string) (*models.Message, error)
	MarkAsRead(ctx context.Context, conversationID uuid.UUID) (int64, error)
}
