package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/ai-interview/internal/application/session"
	"github.com/garyjia/ai-interview/internal/domain/conversation"
)

type testFrame struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func newTestServer(t *testing.T) (*session.Manager, *httptest.Server) {
	t.Helper()

	manager := session.NewManager(session.DefaultConfig())
	h := NewHandler(DefaultConfig(), manager, zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeSession(w, r, strings.TrimPrefix(r.URL.Path, "/ws/sessions/"))
	}))
	t.Cleanup(func() {
		manager.CloseAll(context.Background())
		srv.Close()
	})
	return manager, srv
}

func dial(t *testing.T, srv *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) testFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f testFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestServeSession_StreamsStateAndChanges(t *testing.T) {
	manager, srv := newTestServer(t)
	s, err := manager.Create(context.Background(), session.CreateRequest{})
	require.NoError(t, err)

	conn := dial(t, srv, s.ID())
	defer conn.Close()

	first := readFrame(t, conn)
	require.Equal(t, FrameState, first.Type)
	var view conversation.View
	require.NoError(t, json.Unmarshal(first.Data, &view))
	assert.Equal(t, conversation.StateIdle, view.State)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "session_created"}))

	changed := readFrame(t, conn)
	require.Equal(t, FrameStateChanged, changed.Type)
	var change session.Change
	require.NoError(t, json.Unmarshal(changed.Data, &change))
	assert.Equal(t, conversation.StateIdle, change.Transition.From)
	assert.Equal(t, conversation.StateListening, change.Transition.To)
	assert.True(t, change.View.MicrophoneActive)
	assert.Equal(t, conversation.StateListening, s.State())
}

func TestServeSession_ErrorFrames(t *testing.T) {
	manager, srv := newTestServer(t)
	s, err := manager.Create(context.Background(), session.CreateRequest{})
	require.NoError(t, err)

	conn := dial(t, srv, s.ID())
	defer conn.Close()
	readFrame(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	f := readFrame(t, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.Contains(t, f.Error, "malformed frame")

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "audio.chunk"}))
	f = readFrame(t, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.Contains(t, f.Error, "unsupported event type")

	assert.Equal(t, conversation.StateIdle, s.State())
}

func TestServeSession_NormalCloseResets(t *testing.T) {
	manager, srv := newTestServer(t)
	s, err := manager.Create(context.Background(), session.CreateRequest{})
	require.NoError(t, err)

	conn := dial(t, srv, s.ID())
	readFrame(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "session.created"}))
	readFrame(t, conn)
	require.Equal(t, conversation.StateListening, s.State())

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, msg))
	defer conn.Close()

	assert.Eventually(t, func() bool {
		return s.State() == conversation.StateIdle
	}, 2*time.Second, 10*time.Millisecond)
	last := s.History(1)
	require.Len(t, last, 1)
	assert.True(t, last[0].Forced())
}

func TestServeSession_AbruptDisconnectIsTransportLost(t *testing.T) {
	manager, srv := newTestServer(t)
	s, err := manager.Create(context.Background(), session.CreateRequest{})
	require.NoError(t, err)

	conn := dial(t, srv, s.ID())
	readFrame(t, conn)
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "session.created"}))
	readFrame(t, conn)

	require.NoError(t, conn.UnderlyingConn().Close())

	assert.Eventually(t, func() bool {
		return s.State() == conversation.StateError
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServeSession_ServerCloseSendsGoingAway(t *testing.T) {
	manager, srv := newTestServer(t)
	s, err := manager.Create(context.Background(), session.CreateRequest{})
	require.NoError(t, err)

	conn := dial(t, srv, s.ID())
	defer conn.Close()
	readFrame(t, conn)

	require.NoError(t, manager.Close(context.Background(), s.ID()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestServeSession_UnknownSession(t *testing.T) {
	_, srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", nil, "", true},
		{"same host", nil, "http://interview.local", true},
		{"foreign host rejected", nil, "http://evil.example", false},
		{"allow-listed host", []string{"app.example.com"}, "https://app.example.com", true},
		{"allow-listed full origin", []string{"https://app.example.com"}, "https://app.example.com", true},
		{"wildcard", []string{"*"}, "http://anything.example", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.AllowedOrigins = tt.allowed
			h := NewHandler(cfg, nil, nil)

			req := httptest.NewRequest(http.MethodGet, "http://interview.local/ws/sessions/x", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, h.checkOrigin(req))
		})
	}
}

func TestNewHandler_NormalisesConfig(t *testing.T) {
	h := NewHandler(Config{PingInterval: time.Second, PongWait: time.Millisecond}, nil, nil)

	assert.Equal(t, 2*time.Second, h.cfg.PongWait)
	assert.Equal(t, DefaultConfig().WriteWait, h.cfg.WriteWait)
	assert.Equal(t, DefaultConfig().MaxMessageBytes, h.cfg.MaxMessageBytes)
	assert.Equal(t, DefaultConfig().SendBuffer, h.cfg.SendBuffer)
}
