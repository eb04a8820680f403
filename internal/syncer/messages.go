package syncer

import (
	"context"
	"sort"
	"strings"
	"sync"

	"krewup-messaging/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MessageThreadSync polls the open conversation's recent messages under
// "messages:<id>". With no conversation open it schedules nothing.
type MessageThreadSync struct {
	api       API
	scheduler *Scheduler
	bus       *Bus
	messenger *Messenger
	cfg       Config
	logger    zerolog.Logger

	mu             sync.Mutex
	conversationID uuid.UUID
}

// Thread is what a UI binds to for the open conversation.
type Thread struct {
	ConversationID uuid.UUID
	Messages       []*models.Message
	Snapshot
}

// Open reports whether a conversation is set.
func (t Thread) Open() bool {
	return t.ConversationID != uuid.Nil
}

func NewMessageThreadSync(api API, scheduler *Scheduler, bus *Bus, cfg Config, logger zerolog.Logger) *MessageThreadSync {
	return &MessageThreadSync{
		api:       api,
		scheduler: scheduler,
		bus:       bus,
		messenger: NewMessenger(api, bus),
		cfg:       cfg,
		logger:    logger.With().Str("component", "thread").Logger(),
	}
}

// Open starts polling conversationID and marks it read once. Opening the
// conversation that is already open only marks the thread active. uuid.Nil
// closes the thread.
//
// A MarkAsRead failure is returned but the thread stays open; unread state
// clears on the next successful open.
func (m *MessageThreadSync) Open(ctx context.Context, conversationID uuid.UUID) error {
	if conversationID == uuid.Nil {
		m.Close()
		return nil
	}

	m.mu.Lock()
	current := m.conversationID
	if current == conversationID {
		m.mu.Unlock()
		m.scheduler.MarkActive(models.MessagesQueryKey(conversationID))
		return nil
	}
	if current != uuid.Nil {
		m.scheduler.Unschedule(models.MessagesQueryKey(current))
	}
	m.conversationID = conversationID
	m.mu.Unlock()

	key := models.MessagesQueryKey(conversationID)
	fetch := func(ctx context.Context) (any, error) {
		return m.fetch(ctx, conversationID)
	}
	if err := m.scheduler.Schedule(key, fetch, m.cfg); err != nil {
		return err
	}
	m.scheduler.MarkActive(key)

	if _, err := m.messenger.MarkRead(ctx, conversationID); err != nil {
		m.logger.Warn().Err(err).Str("conversation_id", conversationID.String()).Msg("mark as read failed")
		return err
	}
	return nil
}

// Close stops polling the open conversation.
func (m *MessageThreadSync) Close() {
	m.mu.Lock()
	current := m.conversationID
	m.conversationID = uuid.Nil
	m.mu.Unlock()
	if current != uuid.Nil {
		m.scheduler.Unschedule(models.MessagesQueryKey(current))
	}
}

// ConversationID returns the open conversation, or uuid.Nil.
func (m *MessageThreadSync) ConversationID() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversationID
}

func (m *MessageThreadSync) MarkActive() {
	if id := m.ConversationID(); id != uuid.Nil {
		m.scheduler.MarkActive(models.MessagesQueryKey(id))
	}
}

func (m *MessageThreadSync) Pause() {
	if id := m.ConversationID(); id != uuid.Nil {
		m.scheduler.Pause(models.MessagesQueryKey(id))
	}
}

func (m *MessageThreadSync) Resume() {
	if id := m.ConversationID(); id != uuid.Nil {
		m.scheduler.Resume(models.MessagesQueryKey(id))
	}
}

// Snapshot returns the open thread, or an idle empty Thread when none is open.
func (m *MessageThreadSync) Snapshot() Thread {
	id := m.ConversationID()
	if id == uuid.Nil {
		return Thread{Snapshot: Snapshot{Status: StatusIdle}}
	}
	snap, _ := m.scheduler.Snapshot(models.MessagesQueryKey(id))
	msgs, _ := ValueAs[[]*models.Message](snap)
	return Thread{ConversationID: id, Messages: msgs, Snapshot: snap}
}

func (m *MessageThreadSync) fetch(ctx context.Context, conversationID uuid.UUID) (any, error) {
	msgs, err := m.api.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	NormalizeThread(msgs)

	prev, ok := m.scheduler.Snapshot(models.MessagesQueryKey(conversationID))
	if ok {
		if old, has := ValueAs[[]*models.Message](prev); has && len(msgs) > len(old) {
			m.bus.Invalidate(models.ConversationsQueryKey)
		}
	}
	return msgs, nil
}

// NormalizeThread orders messages ascending by created_at, keeping the
// server's order for ties, and fills blank sender names.
func NormalizeThread(msgs []*models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	for _, msg := range msgs {
		if strings.TrimSpace(msg.SenderName) == "" {
			msg.SenderName = models.UnknownUserName
		}
	}
}
