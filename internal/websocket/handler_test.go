package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroom/pkg/interfaces"
	"classroom/pkg/types"
)

// staticAuth accepts tokens of the form "<role>:<userID>"
type staticAuth struct{}

func (staticAuth) Verify(token string) (types.Identity, error) {
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return types.Identity{}, fmt.Errorf("%w: bad token", interfaces.ErrAuthRejected)
	}
	return types.Identity{UserID: parts[1], Name: parts[1], Role: types.Role(parts[0])}, nil
}

// echoDispatcher answers every frame with a chat event and records disconnects
type echoDispatcher struct {
	mu           sync.Mutex
	frames       []string
	disconnected []string
}

func (d *echoDispatcher) Dispatch(ctx context.Context, conn interfaces.Connection, raw []byte) error {
	d.mu.Lock()
	d.frames = append(d.frames, string(raw))
	d.mu.Unlock()
	return conn.Send(types.NewEvent(types.EventChatMessage, types.ChatMessage{
		UserID: conn.Identity().UserID,
		Text:   string(raw),
	}))
}

func (d *echoDispatcher) Disconnect(conn interfaces.Connection) {
	d.mu.Lock()
	d.disconnected = append(d.disconnected, conn.Identity().UserID)
	d.mu.Unlock()
}

func (d *echoDispatcher) disconnects() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.disconnected...)
}

func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *echoDispatcher) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	d := &echoDispatcher{}
	h := NewHandler(cfg, staticAuth{}, d, logger)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)
	return srv, d
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + query
}

func TestHandler_RejectsMissingToken(t *testing.T) {
	srv, _ := newTestServer(t, DefaultConfig())

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_QueryTokenRoundTrip(t *testing.T) {
	srv, d := newTestServer(t, DefaultConfig())

	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=student:s1"), nil)
	require.NoError(t, err)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"raiseHand","roomId":"c1"}`)))

	var ev struct {
		Type string            `json:"type"`
		Data types.ChatMessage `json:"data"`
	}
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, client.ReadJSON(&ev))
	assert.Equal(t, types.EventChatMessage, ev.Type)
	assert.Equal(t, "s1", ev.Data.UserID)

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool {
		return len(d.disconnects()) == 1
	}, 2*time.Second, 10*time.Millisecond, "closing the socket disconnects the connection")
	assert.Equal(t, []string{"s1"}, d.disconnects())
}

func TestHandler_BearerHeader(t *testing.T) {
	srv, _ := newTestServer(t, DefaultConfig())

	header := http.Header{}
	header.Set("Authorization", "Bearer teacher:t1")
	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	require.NoError(t, err)
	defer client.Close()
}

func TestHandler_OriginAllowList(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"https://class.example.com"}
	srv, _ := newTestServer(t, cfg)

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=student:s1"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://class.example.com")
	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=student:s1"), header)
	require.NoError(t, err)
	_ = client.Close()
}

func TestTokenFrom(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		want   string
	}{
		{"query", "/ws?token=abc", "", "abc"},
		{"bearer", "/ws", "Bearer xyz", "xyz"},
		{"query wins", "/ws?token=abc", "Bearer xyz", "abc"},
		{"basic ignored", "/ws", "Basic xyz", ""},
		{"none", "/ws", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, tokenFrom(r))
		})
	}
}

func TestConnection_SendAfterClose(t *testing.T) {
	results := make(chan error, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			results <- err
			return
		}
		conn := NewConnection(ws, types.Identity{UserID: "u1", Role: types.RoleStudent}, 1, time.Second, nil)
		results <- conn.Close()
		results <- conn.Send(types.NewEvent(types.EventHandRaised, nil))
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, <-results)
	assert.ErrorIs(t, <-results, ErrConnectionClosed)
}
