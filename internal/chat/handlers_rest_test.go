package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"krewup-messaging/internal/messaging"
	"krewup-messaging/internal/middleware"
	"krewup-messaging/internal/models"
	"krewup-messaging/internal/ratelimit"
	"krewup-messaging/internal/store"
	"krewup-messaging/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const testSecret = "test-secret"

type testServer struct {
	router *gin.Engine
	a, b   uuid.UUID
	tokens map[uuid.UUID]string
}

func newTestServer(t *testing.T, limiter ratelimit.Limiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ts := &testServer{tokens: make(map[uuid.UUID]string)}
	for i, name := range []string{"Ana", "Ben"} {
		u := &models.User{ID: uuid.New(), FirstName: name, LastName: "Test", Email: name + "@example.com", CreatedAt: time.Now(), UpdatedAt: time.Now()}
		if err := db.CreateUser(context.Background(), u); err != nil {
			t.Fatalf("create user: %v", err)
		}
		token, err := utils.GenerateJWT(testSecret, u.ID, time.Hour)
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		ts.tokens[u.ID] = token
		if i == 0 {
			ts.a = u.ID
		} else {
			ts.b = u.ID
		}
	}

	svc := messaging.NewService(db, db, db, messaging.Options{Limiter: limiter, Logger: zerolog.Nop()})
	ts.router = gin.New()
	api := ts.router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(testSecret))
	NewRestHandler(svc, zerolog.Nop()).Register(api)
	return ts
}

func (ts *testServer) do(t *testing.T, as uuid.UUID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token, ok := ts.tokens[as]; ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func (ts *testServer) startConversation(t *testing.T) uuid.UUID {
	t.Helper()
	rec := ts.do(t, ts.a, http.MethodPost, "/api/v1/conversations", gin.H{"participantId": ts.b})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return decode[models.Conversation](t, rec).ID
}

func TestConversationFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	convID := ts.startConversation(t)

	rec := ts.do(t, ts.b, http.MethodPost, "/api/v1/conversations", gin.H{"participantId": ts.a})
	if rec.Code != http.StatusOK || decode[models.Conversation](t, rec).ID != convID {
		t.Fatalf("expected existing conversation on reverse contact, got %d: %s", rec.Code, rec.Body.String())
	}

	path := "/api/v1/conversations/" + convID.String()
	rec = ts.do(t, ts.a, http.MethodPost, path+"/messages", gin.H{"content": "  Need a hand Saturday?  "})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if msg := decode[models.Message](t, rec); msg.Content != "Need a hand Saturday?" || msg.SenderName != "Ana Test" {
		t.Fatalf("unexpected message %+v", msg)
	}

	rec = ts.do(t, ts.b, http.MethodGet, "/api/v1/messages/unread-count", nil)
	if got := decode[models.UnreadCountResponse](t, rec).UnreadCount; got != 1 {
		t.Fatalf("expected 1 unread, got %d", got)
	}

	rec = ts.do(t, ts.b, http.MethodGet, "/api/v1/conversations", nil)
	list := decode[[]models.ConversationSummary](t, rec)
	if len(list) != 1 || list[0].UnreadCount != 1 || list[0].LastMessage == nil {
		t.Fatalf("unexpected inbox %+v", list)
	}

	rec = ts.do(t, ts.b, http.MethodPost, path+"/read", nil)
	if got := decode[models.MarkReadResponse](t, rec).Updated; got != 1 {
		t.Fatalf("expected 1 updated, got %d", got)
	}
	rec = ts.do(t, ts.b, http.MethodPost, path+"/read", nil)
	if got := decode[models.MarkReadResponse](t, rec).Updated; got != 0 {
		t.Fatalf("expected idempotent read, got %d", got)
	}

	rec = ts.do(t, ts.b, http.MethodGet, path+"/messages", nil)
	msgs := decode[[]models.Message](t, rec)
	if len(msgs) != 1 || !msgs[0].IsRead() {
		t.Fatalf("expected one read message, got %+v", msgs)
	}
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, nil)
	convID := ts.startConversation(t)
	path := "/api/v1/conversations/" + convID.String() + "/messages"
	stranger := uuid.New()
	token, err := utils.GenerateJWT(testSecret, stranger, time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	ts.tokens[stranger] = token

	tests := []struct {
		name   string
		as     uuid.UUID
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"empty", ts.a, http.MethodPost, path, gin.H{"content": "   "}, http.StatusBadRequest, messaging.CodeEmptyContent},
		{"too long", ts.a, http.MethodPost, path, gin.H{"content": string(bytes.Repeat([]byte("x"), 1001))}, http.StatusBadRequest, messaging.CodeContentTooLong},
		{"unknown conversation", ts.a, http.MethodPost, "/api/v1/conversations/" + uuid.NewString() + "/messages", gin.H{"content": "hi"}, http.StatusNotFound, messaging.CodeNotFound},
		{"not participant", stranger, http.MethodGet, path, nil, http.StatusForbidden, messaging.CodeNotParticipant},
		{"bad id", ts.a, http.MethodGet, "/api/v1/conversations/nope/messages", nil, http.StatusBadRequest, messaging.CodeInvalidRequest},
		{"self", ts.a, http.MethodPost, "/api/v1/conversations", gin.H{"participantId": ts.a}, http.StatusBadRequest, messaging.CodeSelfConversation},
		{"missing recipient", ts.a, http.MethodPost, "/api/v1/conversations", gin.H{"participantId": uuid.New()}, http.StatusNotFound, messaging.CodeRecipientMissing},
		{"no token", uuid.Nil, http.MethodGet, "/api/v1/conversations", nil, http.StatusUnauthorized, messaging.CodeUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, tt.as, tt.method, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if got := decode[map[string]string](t, rec)["code"]; got != tt.code {
				t.Fatalf("expected code %q, got %q", tt.code, got)
			}
		})
	}
}

func TestRateLimitedSendSetsRetryAfter(t *testing.T) {
	ts := newTestServer(t, ratelimit.NewLocalLimiter(1, time.Minute))
	convID := ts.startConversation(t)
	path := "/api/v1/conversations/" + convID.String() + "/messages"

	if rec := ts.do(t, ts.a, http.MethodPost, path, gin.H{"content": "first"}); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	rec := ts.do(t, ts.a, http.MethodPost, path, gin.H{"content": "second"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if got := decode[map[string]string](t, rec)["code"]; got != messaging.CodeRateLimited {
		t.Fatalf("expected rate_limited code, got %q", got)
	}
}
