package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"krewup-messaging/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeAPI struct {
	mu            sync.Mutex
	conversations []*models.ConversationSummary
	messages      map[uuid.UUID][]*models.Message
	listErr       error

	listCalls     int
	messageCalls  map[uuid.UUID]int
	markReadCalls map[uuid.UUID]int
	sent          []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		messages:      make(map[uuid.UUID][]*models.Message),
		messageCalls:  make(map[uuid.UUID]int),
		markReadCalls: make(map[uuid.UUID]int),
	}
}

func (f *fakeAPI) ListConversations(context.Context) ([]*models.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]*models.ConversationSummary(nil), f.conversations...), nil
}

func (f *fakeAPI) ListMessages(_ context.Context, id uuid.UUID) ([]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messageCalls[id]++
	return append([]*models.Message(nil), f.messages[id]...), nil
}

func (f *fakeAPI) SendMessage(_ context.Context, id uuid.UUID, content string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if content == "" {
		return nil, errors.New("Message cannot be empty")
	}
	f.sent = append(f.sent, content)
	msg := &models.Message{ID: uuid.New(), ConversationID: id, Content: content, CreatedAt: time.Now()}
	f.messages[id] = append(f.messages[id], msg)
	return msg, nil
}

func (f *fakeAPI) MarkAsRead(_ context.Context, id uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadCalls[id]++
	return 0, nil
}

func (f *fakeAPI) counts(id uuid.UUID) (list, thread, markRead int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.messageCalls[id], f.markReadCalls[id]
}

func (f *fakeAPI) addMessage(id uuid.UUID, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[id] = append(f.messages[id], &models.Message{ID: uuid.New(), ConversationID: id, Content: content, CreatedAt: time.Now()})
}

var slow = Config{BaseInterval: time.Hour, MaxInterval: time.Hour}

func newTestInbox(t *testing.T, api API) *Inbox {
	t.Helper()
	in := NewInbox(api, slow, slow, zerolog.Nop())
	t.Cleanup(in.Close)
	return in
}

func at(minutes int) *time.Time {
	t := time.Date(2025, 5, 1, 12, minutes, 0, 0, time.UTC)
	return &t
}

func TestSortConversationsNullsLastStable(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	list := []*models.ConversationSummary{
		{Conversation: models.Conversation{ID: ids[0]}},
		{Conversation: models.Conversation{ID: ids[1], LastMessageAt: at(1)}},
		{Conversation: models.Conversation{ID: ids[2]}},
		{Conversation: models.Conversation{ID: ids[3], LastMessageAt: at(5)}},
		{Conversation: models.Conversation{ID: ids[4], LastMessageAt: at(1)}},
	}
	SortConversations(list)

	want := []uuid.UUID{ids[3], ids[1], ids[4], ids[0], ids[2]}
	for i, c := range list {
		if c.ID != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], c.ID)
		}
	}
}

func TestConversationListSyncKeepsListOnError(t *testing.T) {
	api := newFakeAPI()
	api.conversations = []*models.ConversationSummary{
		{Conversation: models.Conversation{ID: uuid.New()}, UnreadCount: 2},
	}
	in := newTestInbox(t, api)
	if err := in.Conversations.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "list", func() bool { return len(in.Conversations.Snapshot().Conversations) == 1 })

	api.mu.Lock()
	api.listErr = errors.New("503")
	api.mu.Unlock()
	in.Bus.Invalidate(models.ConversationsQueryKey)
	waitFor(t, "error", func() bool { return in.Conversations.Snapshot().IsError() })

	snap := in.Conversations.Snapshot()
	if len(snap.Conversations) != 1 || snap.Conversations[0].UnreadCount != 2 {
		t.Fatalf("expected previous list to stay visible, got %+v", snap.Conversations)
	}
}

func TestMessageThreadSyncInertWithoutConversation(t *testing.T) {
	api := newFakeAPI()
	in := newTestInbox(t, api)

	if err := in.Thread.Open(context.Background(), uuid.Nil); err != nil {
		t.Fatalf("open nil: %v", err)
	}
	snap := in.Thread.Snapshot()
	if snap.Open() || snap.Messages != nil || snap.Status != StatusIdle {
		t.Fatalf("expected inert thread, got %+v", snap)
	}
	if keys := in.Cache.Keys(); len(keys) != 0 {
		t.Fatalf("expected nothing scheduled, got %v", keys)
	}
	in.Thread.MarkActive()
	in.Thread.Pause()
	in.Thread.Resume()
	if len(api.markReadCalls) != 0 || len(api.messageCalls) != 0 {
		t.Fatalf("expected no API calls while inert")
	}
}

func TestMessageThreadSyncOpenMarksReadOnce(t *testing.T) {
	api := newFakeAPI()
	in := newTestInbox(t, api)
	first, second := uuid.New(), uuid.New()
	api.addMessage(first, "hello")

	if err := in.Thread.Open(context.Background(), first); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := in.Thread.Open(context.Background(), first); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	waitFor(t, "thread", func() bool { return len(in.Thread.Snapshot().Messages) == 1 })
	if _, _, mr := api.counts(first); mr != 1 {
		t.Fatalf("expected one MarkAsRead for the open thread, got %d", mr)
	}

	if err := in.Thread.Open(context.Background(), second); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if _, ok := in.Cache.Get(models.MessagesQueryKey(first)); ok {
		t.Fatalf("expected previous thread to be unscheduled")
	}
	if _, _, mr := api.counts(second); mr != 1 {
		t.Fatalf("expected MarkAsRead for the new thread, got %d", mr)
	}

	in.Thread.Close()
	if in.Thread.Snapshot().Open() {
		t.Fatalf("expected closed thread")
	}
	if _, ok := in.Cache.Get(models.MessagesQueryKey(second)); ok {
		t.Fatalf("expected thread key removed on close")
	}
}

func TestMessageThreadSyncGrowthInvalidatesConversations(t *testing.T) {
	api := newFakeAPI()
	in := newTestInbox(t, api)
	id := uuid.New()
	api.addMessage(id, "one")

	if err := in.Conversations.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := in.Thread.Open(context.Background(), id); err != nil {
		t.Fatalf("open: %v", err)
	}
	waitFor(t, "thread", func() bool { return len(in.Thread.Snapshot().Messages) == 1 })
	// Open's MarkRead invalidates the list once.
	waitFor(t, "list refetch after open", func() bool { l, _, _ := api.counts(id); return l == 2 })

	// Same length: no invalidation.
	in.Scheduler.RefetchNow(models.MessagesQueryKey(id))
	waitFor(t, "thread refetch", func() bool { _, th, _ := api.counts(id); return th == 2 })
	time.Sleep(10 * time.Millisecond)
	if l, _, _ := api.counts(id); l != 2 {
		t.Fatalf("expected no list refetch for an unchanged thread, got %d", l)
	}

	api.addMessage(id, "two")
	in.Scheduler.RefetchNow(models.MessagesQueryKey(id))
	waitFor(t, "list refetch after growth", func() bool { l, _, _ := api.counts(id); return l == 3 })
	waitFor(t, "thread grew", func() bool { return len(in.Thread.Snapshot().Messages) == 2 })
}

func TestNormalizeThreadOrdersAndFillsNames(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &models.Message{Content: "a", CreatedAt: base.Add(time.Second), SenderName: "Ana Lopez"}
	b := &models.Message{Content: "b", CreatedAt: base}
	c := &models.Message{Content: "c", CreatedAt: base.Add(time.Second), SenderName: "  "}
	msgs := []*models.Message{a, b, c}

	NormalizeThread(msgs)
	if msgs[0] != b || msgs[1] != a || msgs[2] != c {
		t.Fatalf("unexpected order: %s %s %s", msgs[0].Content, msgs[1].Content, msgs[2].Content)
	}
	if b.SenderName != models.UnknownUserName || c.SenderName != models.UnknownUserName {
		t.Fatalf("expected blank names to fall back to %q", models.UnknownUserName)
	}
	if a.SenderName != "Ana Lopez" {
		t.Fatalf("expected resolved name to be kept")
	}
}

func TestMessengerInvalidatesAfterWrites(t *testing.T) {
	api := newFakeAPI()
	in := newTestInbox(t, api)
	id := uuid.New()

	if err := in.Conversations.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := in.Thread.Open(context.Background(), id); err != nil {
		t.Fatalf("open: %v", err)
	}
	waitFor(t, "initial fetches", func() bool { l, th, _ := api.counts(id); return l >= 2 && th >= 1 })
	waitFor(t, "settled", func() bool {
		return !in.Thread.Snapshot().InFlight && !in.Conversations.Snapshot().InFlight
	})
	list0, thread0, _ := api.counts(id)

	if _, err := in.Messenger.Send(context.Background(), id, "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "thread refetch", func() bool { _, th, _ := api.counts(id); return th > thread0 })
	waitFor(t, "list refetch", func() bool { l, _, _ := api.counts(id); return l > list0 })

	_, thread1, _ := api.counts(id)
	if _, err := in.Messenger.Send(context.Background(), id, ""); err == nil {
		t.Fatalf("expected send error to surface")
	}
	time.Sleep(10 * time.Millisecond)
	if _, th, _ := api.counts(id); th != thread1 {
		t.Fatalf("failed send must not invalidate, thread fetched %d -> %d", thread1, th)
	}

	list1, _, _ := api.counts(id)
	if _, err := in.Messenger.MarkRead(context.Background(), id); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	waitFor(t, "list refetch after read", func() bool { l, _, _ := api.counts(id); return l > list1 })
}

func TestInboxPauseResume(t *testing.T) {
	api := newFakeAPI()
	in := newTestInbox(t, api)
	id := uuid.New()
	if err := in.Conversations.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := in.Thread.Open(context.Background(), id); err != nil {
		t.Fatalf("open: %v", err)
	}
	waitFor(t, "settled", func() bool {
		return in.Thread.Snapshot().HasValue && in.Conversations.Snapshot().HasValue &&
			!in.Thread.Snapshot().InFlight && !in.Conversations.Snapshot().InFlight
	})

	in.Pause()
	if in.Thread.Snapshot().Status != StatusPaused || in.Conversations.Snapshot().Status != StatusPaused {
		t.Fatalf("expected both queries paused")
	}
	list0, thread0, _ := api.counts(id)
	in.Resume()
	waitFor(t, "resume fetches", func() bool {
		l, th, _ := api.counts(id)
		return l > list0 && th > thread0
	})
}
