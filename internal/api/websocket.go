package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/vm-uploader/backend/internal/models"
	"github.com/vm-uploader/backend/internal/queue"
)

// WebSocket message types for the queue feed
const (
	// Client -> Server messages
	MsgTypePing   = "ping"
	MsgTypeDelete = "delete"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypePong      = "pong"
	MsgTypeDeleted   = "deleted"
	MsgTypeError     = "error"
)

const (
	// DefaultMaxMessageSize bounds inbound client frames
	DefaultMaxMessageSize = 64 * 1024

	outboundBuffer = 256
	writeWait      = 10 * time.Second
)

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// DeletePayload names the file a client wants removed
type DeletePayload struct {
	ID string `json:"id"`
}

// WebSocket error response
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler streams queue events of one session to a browser
type WebSocketHandler struct {
	sessions       SessionStore
	upgrader       websocket.Upgrader
	maxMessageSize int64
	logger         *log.Logger
}

// NewWebSocketHandler creates a new queue feed handler
func NewWebSocketHandler(sessions SessionStore, maxMessageSize int64, logger *log.Logger) QueueStreamHandler {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	if logger == nil {
		logger = log.Default()
	}
	return &WebSocketHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow connections from dev server
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		maxMessageSize: maxMessageSize,
		logger:         logger,
	}
}

// HandleWebSocket upgrades the connection, sends "connected" and then
// forwards every queue event until the client disconnects.
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	sess, err := loadSession(c, wsh.sessions)
	if err != nil {
		return err
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	ws.SetReadLimit(wsh.maxMessageSize)

	logger := wsh.logger.With("session", sess.ID)
	logger.Debug("client connected")

	conn := &feedConn{
		ws:     ws,
		out:    make(chan WSMessage, outboundBuffer),
		stop:   make(chan struct{}),
		logger: logger,
	}
	conn.send(WSMessage{
		Type:      MsgTypeConnected,
		ID:        sess.ID,
		Payload:   mustJSON(sess.Info()),
		Timestamp: time.Now().UnixMilli(),
	})

	// The writer starts after subscribing so a client that has seen
	// "connected" never misses a later event.
	unsubscribe := sess.Queue.Subscribe(queue.ListenerFunc(func(ev models.QueueEvent) {
		conn.send(eventMessage(ev))
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn.writeLoop()
	}()

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("connection error", "err", err)
			}
			break
		}

		switch msg.Type {
		case MsgTypePing:
			// Keeps an otherwise idle session from expiring
			wsh.sessions.Get(sess.ID)
			conn.send(WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()})
		case MsgTypeDelete:
			wsh.handleDelete(conn, sess.Queue, msg)
		default:
			conn.sendError("Unknown message type: "+msg.Type, "INVALID_TYPE")
		}
	}

	unsubscribe()
	close(conn.stop)
	wg.Wait()
	logger.Debug("client disconnected")
	return nil
}

// handleDelete removes a file on behalf of the client. The resulting
// delete event reaches the client through the feed.
func (wsh *WebSocketHandler) handleDelete(conn *feedConn, q *queue.Manager, msg WSMessage) {
	var payload DeletePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.ID == "" {
		conn.sendError("Invalid delete payload", "INVALID_PAYLOAD")
		return
	}
	if err := q.Delete(payload.ID); err != nil {
		conn.sendError("File not found: "+payload.ID, "NOT_FOUND")
		return
	}
	conn.send(WSMessage{Type: MsgTypeDeleted, ID: payload.ID, Timestamp: time.Now().UnixMilli()})
}

// feedConn serialises writes to one socket through a single goroutine.
type feedConn struct {
	ws     *websocket.Conn
	out    chan WSMessage
	stop   chan struct{}
	logger *log.Logger
}

// send never blocks; a slow client loses messages rather than stalling the queue.
func (fc *feedConn) send(msg WSMessage) {
	select {
	case fc.out <- msg:
	case <-fc.stop:
	default:
		fc.logger.Warn("dropping message for slow client", "type", msg.Type)
	}
}

func (fc *feedConn) sendError(message, code string) {
	fc.send(WSMessage{
		Type:      MsgTypeError,
		Timestamp: time.Now().UnixMilli(),
		Payload:   mustJSON(WSErrorResponse{Message: message, Code: code}),
	})
}

func (fc *feedConn) writeLoop() {
	for {
		select {
		case <-fc.stop:
			return
		case msg := <-fc.out:
			_ = fc.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := fc.ws.WriteJSON(msg); err != nil {
				fc.logger.Debug("failed to send message", "err", err)
				return
			}
		}
	}
}

// eventMessage wraps a queue event in the feed envelope.
func eventMessage(ev models.QueueEvent) WSMessage {
	return WSMessage{
		Type:      string(ev.Type),
		ID:        ev.FileID,
		Payload:   mustJSON(ev),
		Timestamp: ev.Timestamp.UnixMilli(),
	}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
