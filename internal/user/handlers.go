package user

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"krewup-messaging/internal/middleware"
	"krewup-messaging/internal/models"
	"krewup-messaging/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

// UserHandler exposes profile lookups used to start conversations.
type UserHandler struct {
	userStore store.UserStore
	logger    zerolog.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(userStore store.UserStore, logger zerolog.Logger) *UserHandler {
	return &UserHandler{
		userStore: userStore,
		logger:    logger.With().Str("component", "user").Logger(),
	}
}

// Register mounts the profile routes on an authenticated group.
func (h *UserHandler) Register(r gin.IRoutes) {
	r.GET("/users/me", h.GetMe)
	r.GET("/users/:id", h.GetUserByID)
	r.GET("/users", h.SearchUsers)
}

// GetMe returns the viewer's own profile.
func (h *UserHandler) GetMe(c *gin.Context) {
	viewerID, ok := middleware.ViewerID(c)
	if !ok {
		h.logger.Error().Msg("GetMe: viewer missing from context")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User ID not found in context", "code": "unauthorized"})
		return
	}
	h.respondWithUser(c, viewerID)
}

// GetUserByID returns the public profile for a user.
func (h *UserHandler) GetUserByID(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID format", "code": "invalid_request"})
		return
	}
	h.respondWithUser(c, userID)
}

func (h *UserHandler) respondWithUser(c *gin.Context, userID uuid.UUID) {
	user, err := h.userStore.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found", "code": "user_not_found"})
			return
		}
		h.logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to get user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user information", "code": "internal"})
		return
	}
	c.JSON(http.StatusOK, user.ToPublicUser())
}

// SearchUsers matches profiles by name or email.
func (h *UserHandler) SearchUsers(c *gin.Context) {
	query := strings.TrimSpace(c.Query("search"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Search query parameter is required", "code": "invalid_request"})
		return
	}

	limit := defaultSearchLimit
	if size := c.Query("limit"); size != "" {
		if parsed, err := strconv.Atoi(size); err == nil && parsed > 0 && parsed <= maxSearchLimit {
			limit = parsed
		}
	}

	users, err := h.userStore.SearchUsers(c.Request.Context(), query, limit)
	if err != nil {
		h.logger.Error().Err(err).Str("query", query).Msg("user search failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error during user search", "code": "internal"})
		return
	}

	viewerID, _ := middleware.ViewerID(c)
	publicUsers := make([]*models.PublicUser, 0, len(users))
	for _, u := range users {
		if u.ID == viewerID {
			continue
		}
		publicUsers = append(publicUsers, u.ToPublicUser())
	}
	c.JSON(http.StatusOK, publicUsers)
}
