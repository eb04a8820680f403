package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"krewup-messaging/internal/auth"
	"krewup-messaging/internal/events"
	"krewup-messaging/internal/models"
	"krewup-messaging/internal/ratelimit"
	"krewup-messaging/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type hint struct {
	userID uuid.UUID
	keys   []string
}

type recordingNotifier struct {
	mu    sync.Mutex
	hints []hint
}

func (n *recordingNotifier) NotifyInvalidate(userID uuid.UUID, keys ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hints = append(n.hints, hint{userID: userID, keys: keys})
}

func (n *recordingNotifier) keysFor(userID uuid.UUID) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, h := range n.hints {
		if h.userID == userID {
			out = append(out, h.keys...)
		}
	}
	return out
}

type stubLimiter struct {
	decision ratelimit.Decision
	err      error
	calls    int
}

func (l *stubLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	l.calls++
	return l.decision, l.err
}

type fixture struct {
	svc      *Service
	db       *store.SQLiteStore
	events   *events.Recorder
	notifier *recordingNotifier
	a, b, c  uuid.UUID
	conv     *models.Conversation
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	db, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db, events: &events.Recorder{}, notifier: &recordingNotifier{}}
	f.a = addUser(t, db, "Ana", "Lopez")
	f.b = addUser(t, db, "Ben", "Okafor")
	f.c = addUser(t, db, "Cal", "Reyes")

	if opts.Events == nil {
		opts.Events = f.events
	}
	if opts.Notifier == nil {
		opts.Notifier = f.notifier
	}
	opts.Logger = zerolog.Nop()
	f.svc = NewService(db, db, db, opts)

	conv, created, err := f.svc.GetOrCreateConversation(as(f.a), f.b)
	if err != nil || !created {
		t.Fatalf("create conversation: created=%v err=%v", created, err)
	}
	f.conv = conv
	return f
}

func addUser(t *testing.T, db *store.SQLiteStore, first, last string) uuid.UUID {
	t.Helper()
	now := time.Now()
	u := &models.User{
		ID:        uuid.New(),
		FirstName: first,
		LastName:  last,
		Email:     strings.ToLower(first) + "@example.com",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.ID
}

func as(userID uuid.UUID) context.Context {
	return auth.WithViewer(context.Background(), userID)
}

func (f *fixture) messageCount(t *testing.T) int {
	t.Helper()
	msgs, err := f.db.ListRecentMessages(context.Background(), f.conv.ID, store.RecentMessageLimit)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	return len(msgs)
}

func TestSendMessageRejectsBlankContent(t *testing.T) {
	f := newFixture(t, Options{})
	for _, content := range []string{"", " ", "\t\n", "   \r\n  ", " "} {
		_, err := f.svc.SendMessage(as(f.a), f.conv.ID, content)
		if !errors.Is(err, ErrEmptyContent) {
			t.Fatalf("content %q: expected ErrEmptyContent, got %v", content, err)
		}
		if err.Error() != "Message cannot be empty" {
			t.Fatalf("unexpected message %q", err.Error())
		}
	}
	if n := f.messageCount(t); n != 0 {
		t.Fatalf("expected no inserts, got %d", n)
	}
}

func TestSendMessageRejectsTooLong(t *testing.T) {
	f := newFixture(t, Options{})
	for _, content := range []string{
		strings.Repeat("a", models.MaxMessageLength+1),
		strings.Repeat("é", models.MaxMessageLength+1),
		strings.Repeat("x", 5000),
	} {
		if _, err := f.svc.SendMessage(as(f.a), f.conv.ID, content); !errors.Is(err, ErrContentTooLong) {
			t.Fatalf("expected ErrContentTooLong for %d runes, got %v", len([]rune(content)), err)
		}
	}
	if n := f.messageCount(t); n != 0 {
		t.Fatalf("expected no inserts, got %d", n)
	}

	// The limit applies after trimming and counts characters, not bytes.
	padded := "  " + strings.Repeat("é", models.MaxMessageLength) + "  "
	if _, err := f.svc.SendMessage(as(f.a), f.conv.ID, padded); err != nil {
		t.Fatalf("expected exactly %d characters to be accepted, got %v", models.MaxMessageLength, err)
	}
}

func TestSendMessageRejectsNonParticipant(t *testing.T) {
	f := newFixture(t, Options{})
	for _, content := range []string{"hi", "a", strings.Repeat("z", models.MaxMessageLength), "  padded  "} {
		if _, err := f.svc.SendMessage(as(f.c), f.conv.ID, content); !errors.Is(err, ErrNotParticipant) {
			t.Fatalf("content %q: expected ErrNotParticipant, got %v", content, err)
		}
	}
	if n := f.messageCount(t); n != 0 {
		t.Fatalf("expected no inserts, got %d", n)
	}
}

func TestSendMessageUnknownConversation(t *testing.T) {
	f := newFixture(t, Options{})
	if _, err := f.svc.SendMessage(as(f.a), uuid.New(), "hello"); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestSendMessageRequiresViewer(t *testing.T) {
	f := newFixture(t, Options{})
	if _, err := f.svc.SendMessage(context.Background(), f.conv.ID, "hello"); !errors.Is(err, auth.ErrNoViewer) {
		t.Fatalf("expected ErrNoViewer, got %v", err)
	}
}

func TestSendMessageRateLimitCheckedFirst(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}}
	f := newFixture(t, Options{Limiter: limiter})

	// Invalid content, a missing conversation and a non-participant all
	// report the rate limit instead of their own failure.
	cases := []struct {
		viewer uuid.UUID
		conv   uuid.UUID
		body   string
	}{
		{f.a, f.conv.ID, ""},
		{f.a, f.conv.ID, strings.Repeat("a", 2000)},
		{f.a, uuid.New(), "hi"},
		{f.c, f.conv.ID, "hi"},
	}
	for i, tc := range cases {
		_, err := f.svc.SendMessage(as(tc.viewer), tc.conv, tc.body)
		var rl *RateLimitError
		if !errors.As(err, &rl) {
			t.Fatalf("case %d: expected RateLimitError, got %v", i, err)
		}
		if rl.RetryAfterSeconds() != 2 {
			t.Fatalf("case %d: expected retry-after rounded up to 2s, got %d", i, rl.RetryAfterSeconds())
		}
	}
	if limiter.calls != len(cases) {
		t.Fatalf("expected limiter consulted %d times, got %d", len(cases), limiter.calls)
	}
}

func TestSendMessageFailsOpenWhenLimiterErrors(t *testing.T) {
	limiter := &stubLimiter{err: errors.New("redis: connection refused")}
	f := newFixture(t, Options{Limiter: limiter})
	if _, err := f.svc.SendMessage(as(f.a), f.conv.ID, "still works"); err != nil {
		t.Fatalf("expected send to succeed when limiter is down, got %v", err)
	}
}

func TestSendMessageAdvancesConversation(t *testing.T) {
	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	f := newFixture(t, Options{Now: func() time.Time { return clock }})
	ctx := context.Background()

	var prev *time.Time
	for i := 0; i < 3; i++ {
		before := f.messageCount(t)
		msg, err := f.svc.SendMessage(as(f.a), f.conv.ID, "  message  ")
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if msg.Content != "message" {
			t.Fatalf("expected trimmed content, got %q", msg.Content)
		}
		if msg.ReadAt != nil {
			t.Fatalf("new message must be unread")
		}
		if msg.SenderName != "Ana Lopez" {
			t.Fatalf("expected sender name Ana Lopez, got %q", msg.SenderName)
		}
		if after := f.messageCount(t); after != before+1 {
			t.Fatalf("expected %d messages, got %d", before+1, after)
		}

		conv, err := f.db.GetConversationByID(ctx, f.conv.ID)
		if err != nil {
			t.Fatalf("get conversation: %v", err)
		}
		if conv.LastMessageAt == nil {
			t.Fatalf("expected last_message_at to be set")
		}
		if prev != nil && conv.LastMessageAt.Before(*prev) {
			t.Fatalf("last_message_at moved backwards: %v -> %v", *prev, *conv.LastMessageAt)
		}
		prev = conv.LastMessageAt

		// Step the clock backwards between sends.
		clock = clock.Add(-time.Minute)
	}
}

func TestSendMessagePublishesAndNotifies(t *testing.T) {
	f := newFixture(t, Options{})
	msg, err := f.svc.SendMessage(as(f.a), f.conv.ID, "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	evs := f.events.Events()
	if len(evs) != 1 || evs[0].Type != events.TypeMessageSent || evs[0].MessageID != msg.ID || evs[0].RecipientID != f.b {
		t.Fatalf("unexpected events: %+v", evs)
	}

	threadKey := models.MessagesQueryKey(f.conv.ID)
	for _, user := range []uuid.UUID{f.a, f.b} {
		keys := f.notifier.keysFor(user)
		if !contains(keys, threadKey) || !contains(keys, models.ConversationsQueryKey) {
			t.Fatalf("expected %s to be told to refetch both queries, got %v", user, keys)
		}
	}
}

func TestMarkAsReadIdempotent(t *testing.T) {
	f := newFixture(t, Options{})
	for i := 0; i < 4; i++ {
		if _, err := f.svc.SendMessage(as(f.a), f.conv.ID, "ping"); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if _, err := f.svc.SendMessage(as(f.b), f.conv.ID, "own message"); err != nil {
		t.Fatalf("send: %v", err)
	}

	n, err := f.svc.MarkAsRead(as(f.b), f.conv.ID)
	if err != nil || n != 4 {
		t.Fatalf("expected 4 rows on first call, got %d err=%v", n, err)
	}
	n, err = f.svc.MarkAsRead(as(f.b), f.conv.ID)
	if err != nil || n != 0 {
		t.Fatalf("expected 0 rows on repeat, got %d err=%v", n, err)
	}

	readEvents := 0
	for _, e := range f.events.Events() {
		if e.Type == events.TypeConversationRead {
			readEvents++
		}
	}
	if readEvents != 1 {
		t.Fatalf("expected one read event, got %d", readEvents)
	}
	if !contains(f.notifier.keysFor(f.a), models.MessagesQueryKey(f.conv.ID)) {
		t.Fatalf("expected sender to be told to refetch the thread for read receipts")
	}
}

func TestMarkAsReadRequiresParticipant(t *testing.T) {
	f := newFixture(t, Options{})
	if _, err := f.svc.MarkAsRead(as(f.c), f.conv.ID); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := f.svc.MarkAsRead(as(f.a), uuid.New()); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestUnreadCountMatchesStore(t *testing.T) {
	f := newFixture(t, Options{})
	const n = 5
	for i := 0; i < n; i++ {
		if _, err := f.svc.SendMessage(as(f.a), f.conv.ID, "msg"); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	unread := func() int {
		list, err := f.svc.ListConversations(as(f.b))
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 1 {
			t.Fatalf("expected 1 conversation, got %d", len(list))
		}
		return list[0].UnreadCount
	}

	if got := unread(); got != n {
		t.Fatalf("expected %d unread, got %d", n, got)
	}
	if total, _ := f.svc.UnreadTotal(as(f.b)); total != n {
		t.Fatalf("expected total %d, got %d", n, total)
	}
	if total, _ := f.svc.UnreadTotal(as(f.a)); total != 0 {
		t.Fatalf("sender should have nothing unread, got %d", total)
	}

	if _, err := f.svc.MarkAsRead(as(f.b), f.conv.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if got := unread(); got != 0 {
		t.Fatalf("expected 0 unread after MarkAsRead, got %d", got)
	}
}

func TestListMessagesRequiresParticipant(t *testing.T) {
	f := newFixture(t, Options{})
	if _, err := f.svc.ListMessages(as(f.c), f.conv.ID); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
}

func TestGetOrCreateConversation(t *testing.T) {
	f := newFixture(t, Options{})

	conv, created, err := f.svc.GetOrCreateConversation(as(f.b), f.a)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if created || conv.ID != f.conv.ID {
		t.Fatalf("expected existing conversation %s, got %s created=%v", f.conv.ID, conv.ID, created)
	}
	if conv.Participant1 != f.a {
		t.Fatalf("expected first contact to stay participant_1")
	}

	if _, _, err := f.svc.GetOrCreateConversation(as(f.a), f.a); !errors.Is(err, ErrSelfConversation) {
		t.Fatalf("expected ErrSelfConversation, got %v", err)
	}
	if _, _, err := f.svc.GetOrCreateConversation(as(f.a), uuid.New()); !errors.Is(err, ErrRecipientNotFound) {
		t.Fatalf("expected ErrRecipientNotFound, got %v", err)
	}

	if !contains(f.notifier.keysFor(f.b), models.ConversationsQueryKey) {
		t.Fatalf("expected recipient to be told about the new conversation")
	}
}

func contains(keys []string, want string) bool {
	for _, k := range keys {
		if k == want {
			return true
		}
	}
	return false
}
