package middleware

import (
	"net/http"
	"strings"

	"krewup-messaging/internal/auth"
	"krewup-messaging/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	authorizationHeaderKey  = "Authorization"
	authorizationTypeBearer = "bearer"
	authorizationPayloadKey = "userID"
)

// AuthMiddleware returns a Gin middleware that validates bearer tokens and
// stores the viewer on both the gin context and the request context.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(authorizationHeaderKey)

		if len(authHeader) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is not provided", "code": "unauthorized"})
			return
		}

		fields := strings.Fields(authHeader)
		if len(fields) < 2 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format", "code": "unauthorized"})
			return
		}

		authType := strings.ToLower(fields[0])
		if authType != authorizationTypeBearer {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unsupported authorization type, 'Bearer' required", "code": "unauthorized"})
			return
		}

		viewerID, err := ViewerFromToken(secret, fields[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token", "code": "unauthorized"})
			return
		}

		c.Set(authorizationPayloadKey, viewerID)
		c.Request = c.Request.WithContext(auth.WithViewer(c.Request.Context(), viewerID))

		c.Next()
	}
}

// ViewerFromToken validates token and returns its user id.
func ViewerFromToken(secret, token string) (uuid.UUID, error) {
	claims, err := utils.ValidateJWT(secret, token)
	if err != nil {
		return uuid.Nil, err
	}
	return claims.Viewer()
}

// ViewerID returns the viewer set by AuthMiddleware.
func ViewerID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(authorizationPayloadKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
