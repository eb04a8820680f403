package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"krewup-messaging/internal/auth"
	"krewup-messaging/internal/events"
	"krewup-messaging/internal/metrics"
	"krewup-messaging/internal/models"
	"krewup-messaging/internal/ratelimit"
	"krewup-messaging/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "krewup-messaging/messaging"

// Notifier pushes invalidation hints to a user's connected clients.
type Notifier interface {
	NotifyInvalidate(userID uuid.UUID, keys ...string)
}

type nopNotifier struct{}

func (nopNotifier) NotifyInvalidate(uuid.UUID, ...string) {}

// Options are the optional collaborators of a Service. Zero values fall back
// to no-op implementations.
type Options struct {
	Limiter  ratelimit.Limiter
	Events   events.Publisher
	Notifier Notifier
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Service owns the write paths (SendMessage, MarkAsRead) and the reads the
// client sync layer polls. The viewer is always taken from the context.
type Service struct {
	users         store.UserStore
	conversations store.ConversationStore
	messages      store.MessageStore

	limiter  ratelimit.Limiter
	events   events.Publisher
	notifier Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(users store.UserStore, conversations store.ConversationStore, messages store.MessageStore, opts Options) *Service {
	s := &Service{
		users:         users,
		conversations: conversations,
		messages:      messages,
		limiter:       opts.Limiter,
		events:        opts.Events,
		notifier:      opts.Notifier,
		metrics:       opts.Metrics,
		logger:        opts.Logger.With().Str("component", "messaging").Logger(),
		now:           opts.Now,
	}
	if s.limiter == nil {
		s.limiter = ratelimit.Unlimited{}
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SendMessage appends content to a conversation as the context's viewer.
//
// Checks run in a fixed order and stop at the first failure: rate limit,
// empty content, content length, conversation existence, participation.
// Nothing is written unless every check passes.
func (s *Service) SendMessage(ctx context.Context, conversationID uuid.UUID, content string) (msg *models.Message, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "messaging.SendMessage")
	span.SetAttributes(attribute.String("conversation.id", conversationID.String()))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	viewerID, err := auth.ViewerFromContext(ctx)
	if err != nil {
		return nil, err
	}

	decision, err := s.limiter.Allow(ctx, viewerID.String())
	if err != nil {
		s.logger.Warn().Err(err).Str("viewer_id", viewerID.String()).Msg("rate limiter unavailable, allowing send")
	} else if !decision.Allowed {
		s.metrics.SendRejected("rate_limited")
		return nil, &RateLimitError{RetryAfter: decision.RetryAfter}
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		s.metrics.SendRejected("empty")
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > models.MaxMessageLength {
		s.metrics.SendRejected("too_long")
		return nil, ErrContentTooLong
	}

	conv, err := s.getConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			s.metrics.SendRejected("not_found")
		}
		return nil, err
	}
	if !conv.HasParticipant(viewerID) {
		s.metrics.SendRejected("not_participant")
		return nil, ErrNotParticipant
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	createdAt := models.ServerTime(s.now())
	// Keep created_at monotonic per conversation even if the clock steps back.
	if conv.LastMessageAt != nil && createdAt.Before(*conv.LastMessageAt) {
		createdAt = *conv.LastMessageAt
	}

	msg = &models.Message{
		ID:             id,
		ConversationID: conv.ID,
		SenderID:       viewerID,
		Content:        trimmed,
		CreatedAt:      createdAt,
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	msg.SenderName = s.displayName(ctx, viewerID)

	s.metrics.MessageSent()
	recipientID := conv.OtherParticipant(viewerID)
	s.publish(ctx, events.Event{
		Type:           events.TypeMessageSent,
		ConversationID: conv.ID,
		ActorID:        viewerID,
		RecipientID:    recipientID,
		MessageID:      msg.ID,
		OccurredAt:     msg.CreatedAt,
	})
	threadKey := models.MessagesQueryKey(conv.ID)
	s.notifier.NotifyInvalidate(viewerID, threadKey, models.ConversationsQueryKey)
	s.notifier.NotifyInvalidate(recipientID, threadKey, models.ConversationsQueryKey)

	s.logger.Debug().
		Str("conversation_id", conv.ID.String()).
		Str("message_id", msg.ID.String()).
		Str("sender_id", viewerID.String()).
		Msg("message sent")
	return msg, nil
}

// MarkAsRead sets read_at on every unread message in the conversation that the
// viewer did not send, and returns how many changed. A repeat call with no new
// messages returns 0.
func (s *Service) MarkAsRead(ctx context.Context, conversationID uuid.UUID) (updated int64, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "messaging.MarkAsRead")
	span.SetAttributes(attribute.String("conversation.id", conversationID.String()))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	viewerID, conv, err := s.participantConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}

	updated, err = s.messages.MarkConversationRead(ctx, conv.ID, viewerID, models.ServerTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("failed to mark conversation read: %w", err)
	}
	span.SetAttributes(attribute.Int64("messages.updated", updated))
	if updated == 0 {
		return 0, nil
	}

	s.metrics.MessagesRead(updated)
	otherID := conv.OtherParticipant(viewerID)
	s.publish(ctx, events.Event{
		Type:           events.TypeConversationRead,
		ConversationID: conv.ID,
		ActorID:        viewerID,
		RecipientID:    otherID,
		Updated:        updated,
		OccurredAt:     s.now().UTC(),
	})
	s.notifier.NotifyInvalidate(viewerID, models.ConversationsQueryKey)
	// The sender's thread shows read receipts.
	s.notifier.NotifyInvalidate(otherID, models.MessagesQueryKey(conv.ID))
	return updated, nil
}

// ListConversations returns the viewer's inbox, newest activity first.
func (s *Service) ListConversations(ctx context.Context) ([]*models.ConversationSummary, error) {
	viewerID, err := auth.ViewerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.conversations.ListConversationsForUser(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return list, nil
}

// ListMessages returns the most recent messages of a conversation in
// ascending order.
func (s *Service) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error) {
	_, conv, err := s.participantConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.ListRecentMessages(ctx, conv.ID, store.RecentMessageLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// GetOrCreateConversation returns the viewer's conversation with participantID,
// creating it on first contact. created reports whether a new row was written.
func (s *Service) GetOrCreateConversation(ctx context.Context, participantID uuid.UUID) (conv *models.Conversation, created bool, err error) {
	viewerID, err := auth.ViewerFromContext(ctx)
	if err != nil {
		return nil, false, err
	}
	if participantID == viewerID {
		return nil, false, ErrSelfConversation
	}
	if _, err := s.users.GetUserByID(ctx, participantID); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, false, ErrRecipientNotFound
		}
		return nil, false, fmt.Errorf("failed to look up recipient: %w", err)
	}

	conv, err = s.conversations.GetConversationByParticipants(ctx, viewerID, participantID)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, store.ErrConversationNotFound) {
		return nil, false, fmt.Errorf("failed to look up conversation: %w", err)
	}

	conv, err = s.conversations.CreateConversation(ctx, viewerID, participantID)
	if errors.Is(err, store.ErrConversationExists) {
		// Lost a race with the other participant's first contact.
		conv, err = s.conversations.GetConversationByParticipants(ctx, viewerID, participantID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to look up conversation: %w", err)
		}
		return conv, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}

	s.logger.Info().
		Str("conversation_id", conv.ID.String()).
		Str("initiator_id", viewerID.String()).
		Msg("conversation created")
	s.notifier.NotifyInvalidate(participantID, models.ConversationsQueryKey)
	return conv, true, nil
}

// UnreadTotal counts unread messages across all of the viewer's conversations.
func (s *Service) UnreadTotal(ctx context.Context) (int, error) {
	viewerID, err := auth.ViewerFromContext(ctx)
	if err != nil {
		return 0, err
	}
	n, err := s.messages.CountUnreadForUser(ctx, viewerID)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return n, nil
}

func (s *Service) getConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv, err := s.conversations.GetConversationByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return conv, nil
}

func (s *Service) participantConversation(ctx context.Context, id uuid.UUID) (uuid.UUID, *models.Conversation, error) {
	viewerID, err := auth.ViewerFromContext(ctx)
	if err != nil {
		return uuid.Nil, nil, err
	}
	conv, err := s.getConversation(ctx, id)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if !conv.HasParticipant(viewerID) {
		return uuid.Nil, nil, ErrNotParticipant
	}
	return viewerID, conv, nil
}

func (s *Service) displayName(ctx context.Context, userID uuid.UUID) string {
	u, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrUserNotFound) {
			s.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("sender lookup failed")
		}
		return models.UnknownUserName
	}
	return models.DisplayName(u.FirstName, u.LastName)
}

func (s *Service) publish(ctx context.Context, e events.Event) {
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn().Err(err).Str("event", e.Type).Str("conversation_id", e.ConversationID.String()).Msg("failed to publish event")
	}
}
