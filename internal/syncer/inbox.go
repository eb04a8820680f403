package syncer

import (
	"github.com/rs/zerolog"
)

// Inbox wires one viewer's sync layer: a cache, its scheduler and bus, and the
// two sync components over a single API. The composition root owns it.
type Inbox struct {
	Cache         *Cache
	Scheduler     *Scheduler
	Bus           *Bus
	Messenger     *Messenger
	Conversations *ConversationListSync
	Thread        *MessageThreadSync
}

func NewInbox(api API, conversations, messages Config, logger zerolog.Logger) *Inbox {
	cache := NewCache()
	scheduler := NewScheduler(cache, logger)
	bus := NewBus(scheduler, logger)
	return &Inbox{
		Cache:         cache,
		Scheduler:     scheduler,
		Bus:           bus,
		Messenger:     NewMessenger(api, bus),
		Conversations: NewConversationListSync(api, scheduler, conversations),
		Thread:        NewMessageThreadSync(api, scheduler, bus, messages, logger),
	}
}

// Pause stops both pollers, e.g. while the window is hidden.
func (i *Inbox) Pause() {
	i.Conversations.Pause()
	i.Thread.Pause()
}

// Resume restarts both pollers with an immediate fetch each.
func (i *Inbox) Resume() {
	i.Conversations.Resume()
	i.Thread.Resume()
}

// Close stops all polling and waits for in-flight fetches to return.
func (i *Inbox) Close() {
	i.Thread.Close()
	i.Conversations.Stop()
	i.Scheduler.Close()
}
