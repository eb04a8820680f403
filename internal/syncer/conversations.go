package syncer

import (
	"context"
	"sort"

	"krewup-messaging/internal/models"
)

// ConversationListSync polls the viewer's conversations under the
// "conversations" key.
type ConversationListSync struct {
	api       API
	scheduler *Scheduler
	cfg       Config
}

// ConversationList is what a UI binds to: the last good list plus query state.
type ConversationList struct {
	Conversations []*models.ConversationSummary
	Snapshot
}

func NewConversationListSync(api API, scheduler *Scheduler, cfg Config) *ConversationListSync {
	return &ConversationListSync{api: api, scheduler: scheduler, cfg: cfg}
}

// Start schedules the list and fetches it immediately.
func (c *ConversationListSync) Start() error {
	return c.scheduler.Schedule(models.ConversationsQueryKey, c.fetch, c.cfg)
}

func (c *ConversationListSync) Stop() {
	c.scheduler.Unschedule(models.ConversationsQueryKey)
}

func (c *ConversationListSync) Pause()      { c.scheduler.Pause(models.ConversationsQueryKey) }
func (c *ConversationListSync) Resume()     { c.scheduler.Resume(models.ConversationsQueryKey) }
func (c *ConversationListSync) MarkActive() { c.scheduler.MarkActive(models.ConversationsQueryKey) }

// Snapshot returns the current list. Unread counts are exactly what the
// server last reported; nothing is adjusted locally.
func (c *ConversationListSync) Snapshot() ConversationList {
	snap, _ := c.scheduler.Snapshot(models.ConversationsQueryKey)
	list, _ := ValueAs[[]*models.ConversationSummary](snap)
	return ConversationList{Conversations: list, Snapshot: snap}
}

func (c *ConversationListSync) fetch(ctx context.Context) (any, error) {
	list, err := c.api.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	SortConversations(list)
	return list, nil
}

// SortConversations orders by last_message_at descending with conversations
// that have no messages last. Equal keys keep their server order.
func SortConversations(list []*models.ConversationSummary) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].LastMessageAt, list[j].LastMessageAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}
