package messaging

import (
	"context"

	"krewup-messaging/internal/auth"
	"krewup-messaging/internal/models"
	"krewup-messaging/internal/syncer"

	"github.com/google/uuid"
)

var _ syncer.API = (*LocalClient)(nil)

// LocalClient calls a Service in-process as a fixed viewer. It satisfies the
// same API surface as the HTTP client, so the sync layer can run against a
// Service without a network hop.
type LocalClient struct {
	svc      *Service
	viewerID uuid.UUID
}

func NewLocalClient(svc *Service, viewerID uuid.UUID) *LocalClient {
	return &LocalClient{svc: svc, viewerID: viewerID}
}

func (c *LocalClient) ctx(ctx context.Context) context.Context {
	return auth.WithViewer(ctx, c.viewerID)
}

func (c *LocalClient) ListConversations(ctx context.Context) ([]*models.ConversationSummary, error) {
	return c.svc.ListConversations(c.ctx(ctx))
}

func (c *LocalClient) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error) {
	return c.svc.ListMessages(c.ctx(ctx), conversationID)
}

func (c *LocalClient) SendMessage(ctx context.Context, conversationID uuid.UUID, content string) (*models.Message, error) {
	return c.svc.SendMessage(c.ctx(ctx), conversationID, content)
}

func (c *LocalClient) MarkAsRead(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	return c.svc.MarkAsRead(c.ctx(ctx), conversationID)
}
