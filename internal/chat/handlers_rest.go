package chat

import (
	"errors"
	"net/http"
	"strconv"

	"krewup-messaging/internal/messaging"
	"krewup-messaging/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RestHandler handles REST API requests related to conversations and messages.
// The viewer comes from the request context set by AuthMiddleware.
type RestHandler struct {
	svc    *messaging.Service
	logger zerolog.Logger
}

// NewRestHandler creates a new RestHandler.
func NewRestHandler(svc *messaging.Service, logger zerolog.Logger) *RestHandler {
	return &RestHandler{
		svc:    svc,
		logger: logger.With().Str("component", "chat").Logger(),
	}
}

// Register mounts the conversation routes on an authenticated group.
func (h *RestHandler) Register(r gin.IRoutes) {
	r.GET("/conversations", h.ListConversations)
	r.POST("/conversations", h.StartConversation)
	r.GET("/conversations/:id/messages", h.GetMessages)
	r.POST("/conversations/:id/messages", h.PostMessage)
	r.POST("/conversations/:id/read", h.MarkRead)
	r.GET("/messages/unread-count", h.UnreadCount)
}

// ListConversations returns the viewer's inbox.
// GET /conversations
func (h *RestHandler) ListConversations(c *gin.Context) {
	list, err := h.svc.ListConversations(c.Request.Context())
	if err != nil {
		h.writeError(c, "ListConversations", err)
		return
	}
	if list == nil {
		list = make([]*models.ConversationSummary, 0)
	}
	c.JSON(http.StatusOK, list)
}

// StartConversation finds or creates the viewer's conversation with another user.
// POST /conversations
func (h *RestHandler) StartConversation(c *gin.Context) {
	var req models.StartConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "code": messaging.CodeInvalidRequest})
		return
	}

	conv, created, err := h.svc.GetOrCreateConversation(c.Request.Context(), req.ParticipantID)
	if err != nil {
		h.writeError(c, "StartConversation", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, conv)
}

// GetMessages returns the most recent messages of a conversation, oldest first.
// GET /conversations/:id/messages
func (h *RestHandler) GetMessages(c *gin.Context) {
	conversationID, ok := conversationParam(c)
	if !ok {
		return
	}
	msgs, err := h.svc.ListMessages(c.Request.Context(), conversationID)
	if err != nil {
		h.writeError(c, "GetMessages", err)
		return
	}
	if msgs == nil {
		msgs = make([]*models.Message, 0)
	}
	c.JSON(http.StatusOK, msgs)
}

// PostMessage sends a message to a conversation.
// POST /conversations/:id/messages
func (h *RestHandler) PostMessage(c *gin.Context) {
	conversationID, ok := conversationParam(c)
	if !ok {
		return
	}
	var req models.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request data", "code": messaging.CodeInvalidRequest})
		return
	}

	msg, err := h.svc.SendMessage(c.Request.Context(), conversationID, req.Content)
	if err != nil {
		h.writeError(c, "PostMessage", err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkRead clears the viewer's unread messages in a conversation.
// POST /conversations/:id/read
func (h *RestHandler) MarkRead(c *gin.Context) {
	conversationID, ok := conversationParam(c)
	if !ok {
		return
	}
	updated, err := h.svc.MarkAsRead(c.Request.Context(), conversationID)
	if err != nil {
		h.writeError(c, "MarkRead", err)
		return
	}
	c.JSON(http.StatusOK, models.MarkReadResponse{ConversationID: conversationID, Updated: updated})
}

// UnreadCount returns the viewer's total unread messages.
// GET /messages/unread-count
func (h *RestHandler) UnreadCount(c *gin.Context) {
	n, err := h.svc.UnreadTotal(c.Request.Context())
	if err != nil {
		h.writeError(c, "UnreadCount", err)
		return
	}
	c.JSON(http.StatusOK, models.UnreadCountResponse{UnreadCount: n})
}

func conversationParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation ID format", "code": messaging.CodeInvalidRequest})
		return uuid.Nil, false
	}
	return id, true
}

var codeStatus = map[string]int{
	messaging.CodeUnauthorized:     http.StatusUnauthorized,
	messaging.CodeRateLimited:      http.StatusTooManyRequests,
	messaging.CodeEmptyContent:     http.StatusBadRequest,
	messaging.CodeContentTooLong:   http.StatusBadRequest,
	messaging.CodeSelfConversation: http.StatusBadRequest,
	messaging.CodeNotFound:         http.StatusNotFound,
	messaging.CodeRecipientMissing: http.StatusNotFound,
	messaging.CodeNotParticipant:   http.StatusForbidden,
}

// writeError maps service errors onto status codes. Unknown errors are logged
// and reported as 500 without detail.
func (h *RestHandler) writeError(c *gin.Context, op string, err error) {
	code := messaging.ErrorCode(err)
	status, known := codeStatus[code]
	if !known {
		h.logger.Error().Err(err).Str("op", op).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "code": messaging.CodeInternal})
		return
	}

	var rl *messaging.RateLimitError
	if errors.As(err, &rl) {
		c.Header("Retry-After", strconv.Itoa(rl.RetryAfterSeconds()))
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
