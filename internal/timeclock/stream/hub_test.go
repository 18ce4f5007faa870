package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "timeclock/pkg/domain-errors"
)

func receive(t *testing.T, c *Client) string {
	t.Helper()
	select {
	case msg := <-c.Send:
		return string(msg)
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for message")
		return ""
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.Send:
		t.Fatalf("unexpected message %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubLocalBroadcast(t *testing.T) {
	hub := NewHub(nil)
	a := hub.Register("e-1")
	b := hub.Register("e-2")
	defer hub.Unregister(a)
	defer hub.Unregister(b)

	hub.Broadcast(context.Background(), "e-1", []byte("hello"))
	assert.Equal(t, "hello", receive(t, a))
	assertSilent(t, b)
}

func TestHubUnregister(t *testing.T) {
	hub := NewHub(nil)
	c := hub.Register("e-1")
	assert.Equal(t, 1, hub.Subscribers("e-1"))

	hub.Unregister(c)
	hub.Unregister(c)
	_, ok := <-c.Send
	assert.False(t, ok)
	assert.Zero(t, hub.Subscribers("e-1"))

	hub.Broadcast(context.Background(), "e-1", []byte("late"))
}

func TestHubFullBufferDropsUpdate(t *testing.T) {
	hub := NewHub(nil)
	c := hub.Register("e-1")
	defer hub.Unregister(c)

	for i := 0; i < sendBuffer+10; i++ {
		hub.Broadcast(context.Background(), "e-1", []byte("x"))
	}
	assert.Len(t, c.Send, sendBuffer)
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "timeclock:e-1:presence", channel("e-1"))
	assert.Equal(t, "e-1", entryIDFromChannel(channel("e-1")))
	assert.Empty(t, entryIDFromChannel("tracking:e-1:broadcast"))
}

// TestHubRedisDeliversOnce verifies a broadcast through Redis reaches a
// local subscriber exactly once, and that a publish from another replica
// reaches it too.
func TestHubRedisDeliversOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	hub := NewHub(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	select {
	case <-hub.Ready():
	case <-time.After(time.Second):
		t.Fatalf("hub never subscribed")
	}

	c := hub.Register("e-1")
	defer hub.Unregister(c)

	hub.Broadcast(context.Background(), "e-1", []byte("ping"))
	assert.Equal(t, "ping", receive(t, c))
	assertSilent(t, c)

	require.NoError(t, rdb.Publish(context.Background(), channel("e-1"), "from-replica").Err())
	assert.Equal(t, "from-replica", receive(t, c))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatalf("run did not stop")
	}
}

func newStreamServer(t *testing.T, hub *Hub, authorize EntryAuthorizer) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/timeclock/entries/{entryID}/stream", NewHandler(hub, authorize, nil).ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, entryID string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/timeclock/entries/" + entryID + "/stream"
}

func TestHandlerStreamsPresence(t *testing.T) {
	hub := NewHub(nil)
	srv := newStreamServer(t, hub, func(context.Context, string) error { return nil })

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "e-1"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers("e-1") == 1 }, time.Second, 5*time.Millisecond)
	hub.Broadcast(context.Background(), "e-1", []byte(`{"entry_id":"e-1"}`))

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"entry_id":"e-1"}`, string(msg))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	assert.Eventually(t, func() bool { return hub.Subscribers("e-1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestHandlerRejectsUnauthorizedEntry(t *testing.T) {
	hub := NewHub(nil)
	srv := newStreamServer(t, hub, func(context.Context, string) error {
		return dErrors.New(dErrors.CodeNotFound, "entry not found")
	})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "e-9"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Zero(t, hub.Subscribers("e-9"))
}

func TestHandlerRequiresUpgrade(t *testing.T) {
	hub := NewHub(nil)
	srv := newStreamServer(t, hub, nil)

	resp, err := http.Get(srv.URL + "/timeclock/entries/e-1/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
