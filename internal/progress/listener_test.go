package progress

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"http://localhost:5000", "ws://localhost:5000/ws?userId=u+1"},
		{"https://api.example.com/api", "wss://api.example.com/ws?userId=u+1"},
	}
	for _, tc := range cases {
		got, err := ChannelURL(tc.base, "u 1")
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := ChannelURL("not a url", "u")
	assert.Error(t, err)
}

func TestDecodeEvent(t *testing.T) {
	ev, err := decodeEvent([]byte(`{"type":"progress","current":5,"total":20}`))
	require.NoError(t, err)
	assert.True(t, ev.HasCounts)
	assert.Equal(t, 5, ev.Current)
	assert.Equal(t, 20, ev.Total)
	assert.False(t, ev.Terminal())

	ev, err = decodeEvent([]byte(`{"type":"progress","error":true,"message":"bad row"}`))
	require.NoError(t, err)
	assert.True(t, ev.Failed)
	assert.Equal(t, "bad row", ev.Error)

	ev, err = decodeEvent([]byte(`{"type":"progress","error":"disk full"}`))
	require.NoError(t, err)
	assert.True(t, ev.Failed)
	assert.Equal(t, "disk full", ev.Error)

	ev, err = decodeEvent([]byte(`{"type":"progress","error":false,"completed":true}`))
	require.NoError(t, err)
	assert.False(t, ev.Failed)
	assert.True(t, ev.Terminal())

	_, err = decodeEvent([]byte(`{"type":"welcome"}`))
	assert.ErrorIs(t, err, errNotProgress)
	_, err = decodeEvent([]byte(`not json`))
	assert.Error(t, err)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// serve starts a websocket server that writes msgs and then waits for the
// client to hang up.
func serve(t *testing.T, msgs []string, gotUser chan<- string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if gotUser != nil {
			gotUser <- r.URL.Query().Get("userId")
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for _, m := range msgs {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func connect(t *testing.T, srv *httptest.Server) *Listener {
	t.Helper()
	endpoint, err := ChannelURL(srv.URL, "u1")
	require.NoError(t, err)
	l := NewListener(endpoint)
	return l
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestListenerDeliversProgressAndSkipsMalformed(t *testing.T) {
	users := make(chan string, 1)
	srv := serve(t, []string{
		`{"type":"welcome","message":"connected"}`,
		`{{{`,
		`{"type":"progress","current":5,"total":20}`,
		`{"type":"progress","current":20,"total":20,"completed":true}`,
	}, users)

	l := connect(t, srv)
	events, cancel := l.Subscribe()
	defer cancel()
	assert.Equal(t, Disconnected, l.State())

	require.NoError(t, l.Connect(context.Background()))
	assert.Equal(t, "u1", <-users)
	assert.Equal(t, Open, l.State())

	first := next(t, events)
	assert.Equal(t, 5, first.Current)
	second := next(t, events)
	assert.True(t, second.Completed)
	assert.Equal(t, Open, l.State(), "malformed messages must not close the connection")

	require.NoError(t, l.Close())
	assert.Equal(t, Closed, l.State())
	_, ok := <-events
	assert.False(t, ok)
}

func TestListenerCloseIsIdempotentAndFinal(t *testing.T) {
	srv := serve(t, nil, nil)
	l := connect(t, srv)
	require.NoError(t, l.Connect(context.Background()))

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.ErrorIs(t, l.Connect(context.Background()), ErrClosed)

	ch, cancel := l.Subscribe()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)

	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed")
	}
}

func TestListenerServerHangupClosesSubscribers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = ws.Close()
	}))
	defer srv.Close()

	l := connect(t, srv)
	events, _ := l.Subscribe()
	require.NoError(t, l.Connect(context.Background()))

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber not released after hangup")
	}
	assert.Equal(t, Closed, l.State())
	assert.NoError(t, l.Close())
}

func TestListenerDialFailureStaysDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	srv.Close()

	l := NewListener(endpoint)
	require.Error(t, l.Connect(context.Background()))
	assert.Equal(t, Disconnected, l.State())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	srv := serve(t, nil, nil)
	l := connect(t, srv)
	defer l.Close()

	ch, cancel := l.Subscribe()
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)

	l.publish(Event{Current: 1})
}
