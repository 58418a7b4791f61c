package sync

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local development server
	},
}

// AuthorizeFunc reports whether the caller may follow userID's stream.
type AuthorizeFunc func(c *gin.Context, userID string) bool

// WSHandler upgrades GET /ws?userId= and registers the connection for that
// user once authorize approves it; a nil authorize admits everyone. Incoming
// messages are read and discarded until the peer goes away.
func WSHandler(hub *Hub, authorize AuthorizeFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.Query("userId"))
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "userId required"})
			return
		}
		if authorize != nil && !authorize(c, userID) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.logger.Debug("upgrade failed", zap.Error(err))
			return
		}

		// Not yet shared with the hub, so this write cannot race a broadcast.
		_ = ws.WriteJSON(Welcome{Type: TypeWelcome, Message: "connected"})

		hub.AddWS(userID, ws)
		hub.logger.Info("client connected", zap.String("user_id", userID))

		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				break
			}
		}

		hub.RemoveWS(userID, ws)
		hub.logger.Info("client disconnected", zap.String("user_id", userID))
	}
}
