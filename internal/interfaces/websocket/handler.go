// Package websocket streams session state to interview clients and turns
// their control frames into domain events.
package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/garyjia/ai-interview/internal/application/session"
)

// Frame types sent to the client
const (
	FrameState        = "state"
	FrameStateChanged = "state_changed"
	FrameError        = "error"
)

// ServerFrame is a message written to the client
type ServerFrame struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// ClientFrame is a control message read from the client
type ClientFrame struct {
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// Config holds connection tuning
type Config struct {
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageBytes int64
	SendBuffer      int
	// AllowedOrigins lists accepted Origin hosts. Empty allows same-host
	// requests only; "*" allows any origin.
	AllowedOrigins []string
}

// DefaultConfig returns the connection defaults
func DefaultConfig() Config {
	return Config{
		PingInterval:    25 * time.Second,
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
		MaxMessageBytes: 64 * 1024,
		SendBuffer:      16,
	}
}

// SessionSource resolves live sessions
type SessionSource interface {
	Get(id string) (*session.Session, error)
}

// Handler upgrades HTTP requests into session streams
type Handler struct {
	cfg      Config
	sessions SessionSource
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates a session stream handler
func NewHandler(cfg Config, sessions SessionSource, logger *zap.Logger) *Handler {
	defaults := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = cfg.PingInterval * 2
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaults.WriteWait
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaults.MaxMessageBytes
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaults.SendBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Handler{
		cfg:      cfg,
		sessions: sessions,
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeSession upgrades the request and serves the session until either
// side closes the connection
func (h *Handler) ServeSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	s, err := h.sessions.Get(sessionID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		writeJSONError(w, status, err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		h.logger.Error("WebSocket upgrade failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}

	h.logger.Info("WebSocket client connected",
		zap.String("session_id", sessionID),
		zap.String("remote_addr", r.RemoteAddr))

	newClient(conn, s, h.cfg, h.logger).run(r.Context())
}

// checkOrigin accepts requests without an Origin header, same-host requests
// and origins on the allow-list
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}

	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, u.Host) || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return strings.EqualFold(u.Host, r.Host)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}
