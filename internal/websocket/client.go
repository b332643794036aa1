package websocket

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"friends-go/internal/config"
)

var newline = []byte("\n")

// Client is a middleman between the websocket connection and the hub.
// The connection is push-only: anything the browser sends is read and discarded.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	UserID uuid.UUID `json:"userId"`
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// readPump keeps the read side alive so pongs and close frames are processed.
func (c *Client) readPump(wsCfg config.WebSocketConfig) {
	defer func() {
		c.hub.leave(c)
		_ = c.conn.Close()
	}()
	pongWait := time.Duration(wsCfg.PongWaitSeconds) * time.Second
	c.conn.SetReadLimit(int64(wsCfg.MaxMessageSizeBytes))
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket closed unexpectedly", zap.Stringer("user", c.UserID), zap.Error(err))
			}
			return
		}
	}
}

// writePump pumps notifications from the hub to the websocket connection.
func (c *Client) writePump(wsCfg config.WebSocketConfig) {
	writeWait := time.Duration(wsCfg.WriteWaitSeconds) * time.Second
	ticker := time.NewTicker(time.Duration(wsCfg.PingPeriodSeconds) * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// hub 关闭了通道
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			// 合并排队中的通知，按行分隔
			n := len(c.send)
			for i := 0; i < n; i++ {
				_, _ = w.Write(newline)
				_, _ = w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWsPerConnection upgrades the request and attaches the connection to hub as userID.
func ServeWsPerConnection(hub *Hub, userID uuid.UUID, w http.ResponseWriter, r *http.Request, wsCfg config.WebSocketConfig, checkOrigin func(*http.Request) bool) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	bufferSize := wsCfg.SendBufferSize
	if bufferSize <= 0 {
		bufferSize = 64
	}
	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, bufferSize),
		UserID: userID,
	}
	if !hub.join(client) {
		_ = conn.Close()
		return
	}

	go client.writePump(wsCfg)
	go client.readPump(wsCfg)

	hub.logger.Debug("client connected", zap.Stringer("user", userID))
}
