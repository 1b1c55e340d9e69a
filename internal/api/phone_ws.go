package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pccr10001/softphone/internal/calling"
	"github.com/pccr10001/softphone/pkg/logger"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsMessage is one frame pushed to the dashboard.
type wsMessage struct {
	Type     string                `json:"type"`
	Snapshot *calling.Snapshot     `json:"snapshot,omitempty"`
	Notice   *calling.Notice       `json:"notice,omitempty"`
	Entry    *calling.CallLogEntry `json:"entry,omitempty"`
}

// WS streams snapshots and notices for the user's phone. Browsers cannot set
// headers on a websocket, so the token may also come from ?token=.
func (h *PhoneHandler) WS(c *gin.Context) {
	if _, exists := c.Get(ctxUser); !exists {
		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		if !authenticate(c, h.users, token) {
			return
		}
	}
	user, ok := currentUser(c)
	if !ok {
		return
	}

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Errorf("upgrade websocket failed: %v", err)
		return
	}
	defer conn.Close()

	phone := h.phones.EnsurePhone(user.ID)
	updates, stop := phone.Subscribe()
	defer stop()

	// The reader only tracks liveness; the dashboard sends commands over HTTP.
	closed := make(chan struct{})
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(msg wsMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			logger.Log.Debugf("ws write for user %d failed: %v", user.ID, err)
			return false
		}
		return true
	}
	snapshot := func() wsMessage {
		s := phone.Snapshot()
		return wsMessage{Type: "snapshot", Snapshot: &s}
	}

	if !write(snapshot()) {
		return
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			var msg wsMessage
			switch u.Kind {
			case calling.UpdateNotice:
				msg = wsMessage{Type: "notice", Notice: u.Notice}
			case calling.UpdateLogged:
				msg = wsMessage{Type: "call_logged", Entry: u.Entry}
			default:
				msg = snapshot()
			}
			if !write(msg) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
