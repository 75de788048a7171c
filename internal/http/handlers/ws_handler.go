// WebSocket and health handlers.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/chatrsa/go-messaging-backend/internal/http/middleware"
	"github.com/chatrsa/go-messaging-backend/internal/ws"
)

// Handlers bundles the dependencies of all HTTP endpoints.
type Handlers struct {
	Auth        AuthService
	Coordinator *ws.Coordinator
	Registry    *ws.Registry

	upgrader websocket.Upgrader
}

// New constructs the handler set. The upgrader accepts any origin; browser
// cross-origin policy is enforced by the CORS layer on the REST routes, and
// the WebSocket handshake is gated by the bearer token instead.
func New(auth AuthService, coordinator *ws.Coordinator, registry *ws.Registry) *Handlers {
	return &Handlers{
		Auth:        auth,
		Coordinator: coordinator,
		Registry:    registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 << 10,
			WriteBufferSize: 4 << 10,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Connect upgrades the request and hands the connection to the messaging
// coordinator for the rest of its lifetime. The bearer token travels as the
// "token" query parameter; the coordinator owns all close semantics,
// including the missing/invalid-token policy closes.
func (h *Handlers) Connect(c *gin.Context) {
	token := c.Query("token")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error response.
		middleware.LoggerFrom(c).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.Coordinator.Serve(c.Request.Context(), conn, token)
}

// HealthResponse reports liveness plus the current presence snapshot.
type HealthResponse struct {
	Status      string       `json:"status"`
	Timestamp   time.Time    `json:"timestamp"`
	OnlineUsers []ws.UserRef `json:"online_users"`
	OnlineCount int          `json:"online_count"`
}

// Health is the liveness endpoint.
func (h *Handlers) Health(c *gin.Context) {
	online := h.Registry.Online()
	ok(c, http.StatusOK, HealthResponse{
		Status:      "ok",
		Timestamp:   time.Now().UTC(),
		OnlineUsers: online,
		OnlineCount: len(online),
	})
}
