// Package websocket carries classroom events over gorilla websocket connections.
package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"classroom/pkg/interfaces"
)

// Dispatcher receives decoded traffic from connections
type Dispatcher interface {
	Dispatch(ctx context.Context, conn interfaces.Connection, raw []byte) error
	Disconnect(conn interfaces.Connection)
}

// Config controls socket timing and limits
type Config struct {
	PingInterval   time.Duration `json:"ping_interval"`
	PongWait       time.Duration `json:"pong_wait"`
	WriteWait      time.Duration `json:"write_wait"`
	SendBuffer     int           `json:"send_buffer"`
	MaxFrameBytes  int64         `json:"max_frame_bytes"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

// DefaultConfig pings every 30s and drops peers silent for 60s
func DefaultConfig() Config {
	return Config{
		PingInterval:  30 * time.Second,
		PongWait:      60 * time.Second,
		WriteWait:     5 * time.Second,
		SendBuffer:    100,
		MaxFrameBytes: 128 * 1024,
	}
}

// Handler authenticates and upgrades connections, then pumps frames to the dispatcher
// ARCHITECTURAL DISCOVERY: Multi-stage validation (token -> upgrade -> read pump)
// ensures invalid credentials never consume a websocket
type Handler struct {
	cfg        Config
	auth       interfaces.Authenticator
	dispatcher Dispatcher
	upgrader   websocket.Upgrader
	log        *logrus.Entry
	logger     *logrus.Logger
}

func NewHandler(cfg Config, auth interfaces.Authenticator, dispatcher Dispatcher, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &Handler{
		cfg:        cfg,
		auth:       auth,
		dispatcher: dispatcher,
		log:        logger.WithField("component", "websocket"),
		logger:     logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// checkOrigin accepts every origin unless an allow-list is configured
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// HandleWebSocket verifies the caller's token, upgrades and serves the socket
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := tokenFrom(r)
	identity, err := h.auth.Verify(token)
	if err != nil {
		h.log.WithField("remote", r.RemoteAddr).WithError(err).Info("connection refused")
		status := http.StatusUnauthorized
		if !errors.Is(err, interfaces.ErrAuthRejected) {
			status = http.StatusInternalServerError
		}
		http.Error(w, "authentication required", status)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	conn := NewConnection(ws, identity, h.cfg.SendBuffer, h.cfg.WriteWait, h.logger)
	conn.log.WithField("role", identity.Role).Info("connection opened")
	go h.serve(conn)
}

// tokenFrom reads the token query parameter, falling back to a bearer header
func tokenFrom(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if parts := strings.SplitN(header, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// serve runs the read pump until the peer goes away, then removes the
// connection from its room
func (h *Handler) serve(conn *Connection) {
	defer func() {
		h.dispatcher.Disconnect(conn)
		_ = conn.Close()
		conn.log.Info("connection closed")
	}()

	ws := conn.conn
	if h.cfg.MaxFrameBytes > 0 {
		ws.SetReadLimit(h.cfg.MaxFrameBytes)
	}

	// TECHNICAL DISCOVERY: Pong extends the read deadline; a silent peer times out the read
	if err := ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	go h.heartbeat(conn)

	ctx := context.Background()
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				conn.log.WithError(err).Debug("websocket read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		_ = h.dispatcher.Dispatch(ctx, conn, data)
	}
}

func (h *Handler) heartbeat(conn *Connection) {
	if h.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}
