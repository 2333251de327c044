package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/duocall/internal/app"
	"github.com/dkeye/duocall/internal/config"
)

func newTestServer(t *testing.T) (*app.Relay, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<html>duocall</html>"), 0o600))

	cfg := &config.Config{
		Mode:         "test",
		StaticPath:   static,
		ReadLimit:    32768,
		PingPeriod:   54 * time.Second,
		Secret:       "test-secret",
		SendBuffer:   8,
		Backpressure: "drop",
	}
	ctx, cancel := context.WithCancel(context.Background())
	relay := app.NewRelay(app.DropPolicy{}, nil)
	srv := httptest.NewServer(SetupRouter(ctx, cfg, relay))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return relay, srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestRouter_IndexAndSessionCookie(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var found bool
	for _, c := range resp.Cookies() {
		if c.Name == sessionName {
			found = true
		}
	}
	assert.True(t, found, "session cookie should be issued")
}

func TestRouter_RootUpgradesWebsocket(t *testing.T) {
	relay, srv := newTestServer(t)

	a, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/"), nil)
	require.NoError(t, err)
	defer a.Close()
	b, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws"), nil)
	require.NoError(t, err)
	defer b.Close()
	require.Eventually(t, func() bool { return relay.Count() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte(`{"type":"end"}`)))
	require.NoError(t, b.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := b.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"end"}`, string(data))
}

func TestRouter_Health(t *testing.T) {
	relay, srv := newTestServer(t)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws"), nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return relay.Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 1, body.Connections)
}
