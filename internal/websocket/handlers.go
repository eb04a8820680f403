package websocket

import (
	"net/http"
	"strings"

	"krewup-messaging/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WSHandler upgrades authenticated requests into hint connections.
type WSHandler struct {
	hub      *Hub
	secret   string
	upgrader websocket.Upgrader
}

// NewWSHandler creates a WSHandler. An empty origins list accepts any origin.
func NewWSHandler(hub *Hub, secret string, origins []string) *WSHandler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = true
	}
	return &WSHandler{
		hub:    hub,
		secret: secret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
	}
}

// HandleWebSocketConnection authenticates with ?token= (browsers cannot set
// headers on upgrade) or a bearer header, then starts the client's pumps.
// GET /ws
func (h *WSHandler) HandleWebSocketConnection(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		if fields := strings.Fields(c.GetHeader("Authorization")); len(fields) == 2 && strings.EqualFold(fields[0], "bearer") {
			token = fields[1]
		}
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing authentication token", "code": "unauthorized"})
		return
	}

	userID, err := middleware.ViewerFromToken(h.secret, token)
	if err != nil {
		h.hub.logger.Debug().Err(err).Msg("rejected websocket token")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token", "code": "unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the response.
		h.hub.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(h.hub, conn, userID)
	if !h.hub.add(client) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
