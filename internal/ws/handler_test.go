package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sixking/backend/internal/auth"
	"github.com/sixking/backend/internal/game"
	"github.com/sixking/backend/internal/ledger"
	"github.com/stretchr/testify/require"
)

type recordingDispatcher struct {
	mu           sync.Mutex
	disconnected []string
	players      []string
}

func (d *recordingDispatcher) Handle(_ context.Context, c game.Conn, raw []byte) {
	d.mu.Lock()
	if a, ok := c.(interface{ AuthenticatedPlayer() string }); ok {
		d.players = append(d.players, a.AuthenticatedPlayer())
	}
	d.mu.Unlock()
	c.Send(raw)
}

func (d *recordingDispatcher) Disconnect(c game.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnected = append(d.disconnected, c.ID())
}

func newServer(t *testing.T, d Dispatcher, requireAuth bool) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", NewHandler(d, "secret", requireAuth, nil).ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
}

// dial opens a connection and consumes the welcome frame.
func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"connected","data":{"message":"Connected to game server"}}`, string(msg))
	return conn
}

func TestWelcomeFrameComesFirst(t *testing.T) {
	d := &recordingDispatcher{}
	srv := newServer(t, d, false)

	conn := dial(t, wsURL(srv, ""))
	defer conn.Close()

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Empty(t, d.players, "the welcome frame is not dispatched")
}

func TestClientEchoAndDisconnect(t *testing.T) {
	d := &recordingDispatcher{}
	srv := newServer(t, d, false)

	conn := dial(t, wsURL(srv, ""))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"ping"}`, string(msg))

	conn.Close()
	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return len(d.disconnected) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandshakeToken(t *testing.T) {
	d := &recordingDispatcher{}
	srv := newServer(t, d, true)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.Error(t, err)
	require.Equal(t, 401, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "?token=garbage"), nil)
	require.Error(t, err)
	require.Equal(t, 401, resp.StatusCode)

	tok, err := auth.IssuePlayerToken("secret", "alice", time.Hour)
	require.NoError(t, err)
	conn := dial(t, wsURL(srv, "?token="+tok))
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Equal(t, []string{"alice"}, d.players)
}

func TestClientSendAfterCloseIsDropped(t *testing.T) {
	c := &Client{id: "c1", send: make(chan []byte, 1)}
	require.True(t, c.Send([]byte("a")))
	require.False(t, c.Send([]byte("b")), "full buffer must drop, not block")
	c.close()
	require.False(t, c.Send([]byte("c")))
	c.close()
}

func TestPingPongThroughCoordinator(t *testing.T) {
	co, err := game.NewCoordinator(game.Config{MinStake: 1}, game.Deps{Ledger: ledger.NewMemory(100)})
	require.NoError(t, err)
	t.Cleanup(co.Shutdown)
	srv := newServer(t, co, false)

	conn := dial(t, wsURL(srv, ""))
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var env struct {
		Type string `json:"type"`
		Data struct {
			Timestamp string `json:"timestamp"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg, &env))
	require.Equal(t, "pong", env.Type)
	_, err = time.Parse(time.RFC3339Nano, env.Data.Timestamp)
	require.NoError(t, err)
}
