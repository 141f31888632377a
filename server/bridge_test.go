package server

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citizenweb/kraken/messages"
)

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestBridgeForwardsNotifications(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	// Registration is asynchronous; make sure the client is in the hub
	// before publishing.
	require.Eventually(t, func() bool {
		env.server.mu.RLock()
		defer env.server.mu.RUnlock()
		return len(env.server.clients) == 1
	}, time.Second, 5*time.Millisecond)

	n := messages.New(messages.LevelWarning, "Security", "Login failed")
	require.NoError(t, messages.Send(context.Background(), env.store, n))

	f := readFrame(t, conn)
	assert.Equal(t, EventNotification, f.Type)
	data := f.Data.(map[string]interface{})
	assert.Equal(t, n.ID, data["id"])
	assert.Equal(t, "warning", data["level"])
	assert.Equal(t, "Login failed", data["message"])
}

func TestBridgeForwardsRecordEvents(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)
	ctx := context.Background()

	require.Eventually(t, func() bool {
		env.server.mu.RLock()
		defer env.server.mu.RUnlock()
		return len(env.server.clients) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, env.server.pusher.Push(ctx, "widget", map[string]interface{}{"id": "w1"}))
	f := readFrame(t, conn)
	assert.Equal(t, EventModelPush, f.Type)
	raw, err := json.Marshal(f.Data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"widget":[{"id":"w1"}]}`, string(raw))

	require.NoError(t, env.server.pusher.Remove(ctx, "widget", "w1"))
	f = readFrame(t, conn)
	assert.Equal(t, EventModelPurge, f.Type)
	raw, err = json.Marshal(f.Data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"model":"widget","id":"w1"}`, string(raw))
}

func TestBridgeStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)

	done := make(chan struct{})
	go func() {
		env.server.cancel()
		env.server.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop on context cancellation")
	}
}

func TestBroadcastSkipsFullClients(t *testing.T) {
	env := newTestEnv(t)

	// A client that never drains its channel.
	stuck := &Client{
		server: env.server,
		send:   make(chan *frame, 1),
		id:     "stuck",
	}
	env.server.mu.Lock()
	env.server.clients[stuck] = true
	env.server.mu.Unlock()

	for i := 0; i < maxClientDrops+1; i++ {
		env.server.broadcast(EventNotification, map[string]interface{}{"i": i})
	}

	// Fan-out happens on the hub goroutine, so eviction lands asynchronously.
	require.Eventually(t, func() bool {
		env.server.mu.RLock()
		defer env.server.mu.RUnlock()
		_, present := env.server.clients[stuck]
		return !present
	}, time.Second, 5*time.Millisecond, "persistently slow client should be evicted")
	assert.Greater(t, env.server.drops.Load(), int64(0))
}

func TestBroadcastDuringClientChurn(t *testing.T) {
	env := newTestEnv(t)

	var wg sync.WaitGroup
	wg.Add(2)

	// Clients connecting and dropping while frames stream through the hub;
	// close and send must never collide.
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			client := &Client{
				server: env.server,
				send:   make(chan *frame, 1),
				id:     strconv.Itoa(i),
			}
			select {
			case env.server.register <- client:
			case <-env.server.ctx.Done():
				return
			}
			select {
			case env.server.unregister <- client:
			case <-env.server.ctx.Done():
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			env.server.broadcast(EventNotification, map[string]interface{}{"seq": i})
		}
	}()

	wg.Wait()

	require.Eventually(t, func() bool {
		env.server.mu.RLock()
		defer env.server.mu.RUnlock()
		return len(env.server.clients) == 0
	}, time.Second, 5*time.Millisecond)
}
