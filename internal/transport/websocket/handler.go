package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"recovery/internal/auth"
	"recovery/internal/realtime"
)

const (
	// Time allowed to write a message to the peer.
	defaultWriteWait = 10 * time.Second

	// Maximum message size allowed from peer.
	defaultMaxMessageSize = 64 * 1024

	defaultSendQueueSize = 256
	defaultBufferSize    = 1024
)

// Config tunes the connection handling.
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	SendQueueSize   int
	WriteWait       time.Duration
}

// Handler upgrades authenticated requests and attaches them to the realtime core.
type Handler struct {
	core     *realtime.Core
	cfg      Config
	upgrader websocket.Upgrader
	logTags  log.Fields
}

// NewHandler creates a Handler feeding core.
func NewHandler(core *realtime.Core, cfg Config) *Handler {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaultBufferSize
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = defaultBufferSize
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	return &Handler{
		core: core,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			// Credentials are checked before the upgrade, origin is not.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logTags: log.Fields{"module": "transport", "component": "websocket"},
	}
}

// Handle serves GET /ws. It expects the principal to be on the request context.
func (h *Handler) Handle(c *gin.Context) {
	principal, ok := auth.PrincipalFrom(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   gin.H{"code": "unauthenticated", "message": auth.ErrMissingToken.Error()},
		})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		log.WithError(err).WithFields(h.logTags).WithField("identity", principal.ID).Warn("WebSocket upgrade failed")
		return
	}

	tr := &connTransport{conn: conn, writeWait: h.cfg.WriteWait}
	s := realtime.NewSession(realtime.Identity{ID: principal.ID, Role: principal.Role}, tr, h.cfg.SendQueueSize)

	go h.writePump(conn, s)
	h.core.Connect(s)

	// The request context is cancelled once this handler returns.
	ctx := context.WithoutCancel(c.Request.Context())
	go h.readPump(ctx, conn, s)
}

// readPump dispatches inbound frames until the connection fails.
func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, s *realtime.Session) {
	defer s.Terminate()

	conn.SetReadLimit(h.cfg.MaxMessageSize)
	conn.SetPongHandler(func(string) error {
		s.Pong()
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).WithFields(h.logTags).WithField("session", s.ID()).Info("Connection lost")
			}
			return
		}
		h.core.Dispatcher.DispatchRaw(ctx, s, data)
	}
}

// writePump drains the session queue onto the connection.
func (h *Handler) writePump(conn *websocket.Conn, s *realtime.Session) {
	defer conn.Close()

	for msg := range s.Outbound() {
		data, err := json.Marshal(msg)
		if err != nil {
			log.WithError(err).WithFields(h.logTags).WithFields(log.Fields{
				"session": s.ID(), "event": msg.Event,
			}).Error("Failed to encode message")
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.WithError(err).WithFields(h.logTags).WithField("session", s.ID()).Debug("Write failed")
			s.Terminate()
			return
		}
	}

	// The session closed its queue.
	_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// connTransport exposes a websocket connection to the presence monitor.
type connTransport struct {
	conn      *websocket.Conn
	writeWait time.Duration
}

func (t *connTransport) Ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeWait))
}

func (t *connTransport) Close() error {
	return t.conn.Close()
}
