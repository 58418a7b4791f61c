package sync

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(nil)
	r := gin.New()
	r.GET("/ws", WSHandler(hub, nil))
	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.CloseAll()
		ts.Close()
	})
	return hub, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	var hello Welcome
	require.NoError(t, ws.ReadJSON(&hello))
	assert.Equal(t, TypeWelcome, hello.Type)
	return ws
}

func TestSendToUserOnlyReachesThatUser(t *testing.T) {
	hub, url := startHub(t)

	alice := dial(t, url+"?userId=alice")
	bob := dial(t, url+"?userId=bob")
	require.Eventually(t, func() bool { return hub.Stats().Clients == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, hub.Stats().Users)

	n := hub.SendToUser("alice", ProgressEvent{Type: TypeProgress, Current: 1, Total: 3})
	assert.Equal(t, 1, n)

	var ev ProgressEvent
	require.NoError(t, alice.ReadJSON(&ev))
	assert.Equal(t, 1, ev.Current)
	assert.Equal(t, 3, ev.Total)

	_ = bob.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err, "bob should not receive alice's progress")
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, url := startHub(t)

	ws := dial(t, url+"?userId=alice")
	require.Eventually(t, func() bool { return hub.Stats().Clients == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return hub.Stats().Users == 0 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, hub.SendToUser("alice", Welcome{Type: TypeWelcome}))
}

func TestMissingUserIDRejected(t *testing.T) {
	_, url := startHub(t)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthorizeGuardsUserStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)
	r := gin.New()
	r.GET("/ws", WSHandler(hub, func(c *gin.Context, userID string) bool {
		return c.GetHeader("X-User") == userID
	}))
	ts := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.CloseAll()
		ts.Close()
	})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?userId=alice"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"X-User": {"bob"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, hub.Stats().Clients)

	ws, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-User": {"alice"}})
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return hub.Stats().Clients == 1 }, time.Second, 5*time.Millisecond)
}
