package syncer

import (
	"context"

	"krewup-messaging/internal/models"

	"github.com/google/uuid"
)

// Messenger performs writes and invalidates the queries they affect.
type Messenger struct {
	api API
	bus *Bus
}

func NewMessenger(api API, bus *Bus) *Messenger {
	return &Messenger{api: api, bus: bus}
}

// Send posts content and, on success, invalidates the thread and the list.
func (m *Messenger) Send(ctx context.Context, conversationID uuid.UUID, content string) (*models.Message, error) {
	msg, err := m.api.SendMessage(ctx, conversationID, content)
	if err != nil {
		return nil, err
	}
	m.bus.Invalidate(models.MessagesQueryKey(conversationID))
	m.bus.Invalidate(models.ConversationsQueryKey)
	return msg, nil
}

// MarkRead clears unread state for conversationID and invalidates the list so
// its unread badge converges.
func (m *Messenger) MarkRead(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	n, err := m.api.MarkAsRead(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	m.bus.Invalidate(models.ConversationsQueryKey)
	return n, nil
}
