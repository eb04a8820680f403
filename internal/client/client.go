// Package client talks to the messaging HTTP API as one signed-in user. It
// satisfies syncer.API so the terminal inbox polls through it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"krewup-messaging/internal/messaging"
	"krewup-messaging/internal/models"
	"krewup-messaging/internal/syncer"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// APIError is a non-2xx response. It unwraps to the matching messaging
// sentinel, so errors.Is(err, messaging.ErrNotParticipant) works on the client.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error %d (%s)", e.Status, e.Code)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return messaging.ErrorForCode(e.Code)
}

var _ syncer.API = (*Client)(nil)

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New returns a Client for baseURL (e.g. http://localhost:8080) that
// authenticates with token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// HintsURL returns the websocket endpoint for invalidation hints.
func (c *Client) HintsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {c.token}}.Encode()
	return u.String(), nil
}

func (c *Client) ListConversations(ctx context.Context) ([]*models.ConversationSummary, error) {
	var out []*models.ConversationSummary
	err := c.do(ctx, http.MethodGet, "/api/v1/conversations", nil, &out)
	return out, err
}

func (c *Client) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]*models.Message, error) {
	var out []*models.Message
	err := c.do(ctx, http.MethodGet, "/api/v1/conversations/"+conversationID.String()+"/messages", nil, &out)
	return out, err
}

func (c *Client) SendMessage(ctx context.Context, conversationID uuid.UUID, content string) (*models.Message, error) {
	var out models.Message
	body := models.SendMessageRequest{Content: content}
	if err := c.do(ctx, http.MethodPost, "/api/v1/conversations/"+conversationID.String()+"/messages", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MarkAsRead(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	var out models.MarkReadResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/conversations/"+conversationID.String()+"/read", nil, &out); err != nil {
		return 0, err
	}
	return out.Updated, nil
}

// StartConversation finds or creates the conversation with participantID.
func (c *Client) StartConversation(ctx context.Context, participantID uuid.UUID) (*models.Conversation, error) {
	var out models.Conversation
	body := models.StartConversationRequest{ParticipantID: participantID}
	if err := c.do(ctx, http.MethodPost, "/api/v1/conversations", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SearchUsers(ctx context.Context, query string) ([]*models.PublicUser, error) {
	var out []*models.PublicUser
	err := c.do(ctx, http.MethodGet, "/api/v1/users?"+url.Values{"search": {query}}.Encode(), nil, &out)
	return out, err
}

func (c *Client) Me(ctx context.Context) (*models.PublicUser, error) {
	var out models.PublicUser
	if err := c.do(ctx, http.MethodGet, "/api/v1/users/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out models.UnreadCountResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/messages/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)

	if resp.StatusCode == http.StatusTooManyRequests || body.Code == messaging.CodeRateLimited {
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &messaging.RateLimitError{RetryAfter: time.Duration(secs) * time.Second}
	}
	return &APIError{Status: resp.StatusCode, Code: body.Code, Message: body.Error}
}
