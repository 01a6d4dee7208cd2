package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/qasim313/Unbrandit/internal/model"
	"github.com/qasim313/Unbrandit/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAuth struct {
	owned map[string]string // kind:id -> owner
}

func (a *fakeAuth) Authorize(_ context.Context, userID, kind, id string) (any, error) {
	if kind != service.RoomBuild && kind != service.RoomProject {
		return nil, fmt.Errorf("%w: unknown room", service.ErrValidation)
	}
	if a.owned[kind+":"+id] != userID {
		return nil, service.ErrNotFound
	}
	return map[string]any{"id": id, "status": "QUEUED"}, nil
}

type authorizeFunc func(ctx context.Context, userID, kind, id string) (any, error)

func (f authorizeFunc) Authorize(ctx context.Context, userID, kind, id string) (any, error) {
	return f(ctx, userID, kind, id)
}

type fakeConn struct {
	in     chan []byte
	out    chan []byte
	once   sync.Once
	closed chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), out: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-c.in:
		return websocket.TextMessage, msg, nil
	case <-c.closed:
		return 0, nil, errors.New("closed")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	select {
	case c.out <- data:
		return nil
	case <-c.closed:
		return errors.New("closed")
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	c.in <- data
}

func (c *fakeConn) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case data := <-c.out:
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func (c *fakeConn) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case data := <-c.out:
		t.Fatalf("unexpected message: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func startSession(t *testing.T, h *Hub, userID string) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	go h.HandleConnection(conn, userID)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHub_SubscribeSendsAckThenSnapshot(t *testing.T) {
	h := NewHub(&fakeAuth{owned: map[string]string{"build:b1": "u1"}})
	conn := startSession(t, h, "u1")

	conn.send(t, model.WSMessage{Type: model.WSMessageTypeSubscribeBuild, ID: "b1"})

	ack := conn.next(t)
	assert.Equal(t, model.WSMessageTypeSubscribed, ack["type"])
	assert.Equal(t, "build", ack["room"])
	assert.Equal(t, "b1", ack["id"])

	snap := conn.next(t)
	assert.Equal(t, model.WSMessageTypeBuildUpdate, snap["type"])
	assert.Equal(t, "QUEUED", snap["data"].(map[string]any)["status"])
	assert.Equal(t, 1, h.Subscribers("build", "b1"))
}

func TestHub_PublishReachesOnlyThatRoom(t *testing.T) {
	h := NewHub(&fakeAuth{owned: map[string]string{"build:b1": "u1", "build:b2": "u1", "project:p1": "u1"}})
	conn := startSession(t, h, "u1")

	for _, msg := range []model.WSMessage{
		{Type: model.WSMessageTypeSubscribeBuild, ID: "b1"},
		{Type: model.WSMessageTypeSubscribeProject, ID: "p1"},
	} {
		conn.send(t, msg)
		conn.next(t)
		conn.next(t)
	}

	h.Publish("build", "b2", model.WSUpdateMessage{Type: model.WSMessageTypeBuildUpdate, ID: "b2"})
	conn.expectSilence(t)

	h.Publish("build", "b1", model.WSUpdateMessage{Type: model.WSMessageTypeBuildUpdate, ID: "b1", Data: "one"})
	h.Publish("project", "p1", model.WSUpdateMessage{Type: model.WSMessageTypeProjectUpdate, ID: "p1", Data: "two"})
	h.Publish("build", "b1", model.WSUpdateMessage{Type: model.WSMessageTypeBuildUpdate, ID: "b1", Data: "three"})

	var got []string
	for i := 0; i < 3; i++ {
		got = append(got, conn.next(t)["data"].(string))
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestHub_RejectsForeignSubscription(t *testing.T) {
	h := NewHub(&fakeAuth{owned: map[string]string{"build:b1": "owner"}})
	conn := startSession(t, h, "intruder")

	conn.send(t, model.WSMessage{Type: model.WSMessageTypeSubscribeBuild, ID: "b1"})
	msg := conn.next(t)
	assert.Equal(t, model.WSMessageTypeError, msg["type"])
	assert.Equal(t, model.WSErrorCodeNotFound, msg["error"].(map[string]any)["code"])
	assert.Zero(t, h.Subscribers("build", "b1"))

	h.Publish("build", "b1", model.WSUpdateMessage{Type: model.WSMessageTypeBuildUpdate, ID: "b1"})
	conn.expectSilence(t)
}

func TestHub_UnsubscribePingAndBadInput(t *testing.T) {
	h := NewHub(&fakeAuth{owned: map[string]string{"build:b1": "u1"}})
	conn := startSession(t, h, "u1")

	conn.send(t, model.WSMessage{Type: model.WSMessageTypePing})
	assert.Equal(t, model.WSMessageTypePong, conn.next(t)["type"])

	conn.in <- []byte("{not json")
	assert.Equal(t, model.WSMessageTypeError, conn.next(t)["type"])

	conn.send(t, model.WSMessage{Type: "subscribe:flavor", ID: "x"})
	assert.Equal(t, model.WSMessageTypeError, conn.next(t)["type"])

	conn.send(t, model.WSMessage{Type: model.WSMessageTypeSubscribeBuild})
	assert.Equal(t, model.WSMessageTypeError, conn.next(t)["type"])

	conn.send(t, model.WSMessage{Type: model.WSMessageTypeSubscribeBuild, ID: "b1"})
	conn.next(t)
	conn.next(t)
	conn.send(t, model.WSMessage{Type: model.WSMessageTypeUnsubscribeBuild, ID: "b1"})
	assert.Equal(t, model.WSMessageTypeUnsubscribed, conn.next(t)["type"])
	assert.Zero(t, h.Subscribers("build", "b1"))

	h.Publish("build", "b1", model.WSUpdateMessage{Type: model.WSMessageTypeBuildUpdate, ID: "b1"})
	conn.expectSilence(t)
}

func TestHub_SlowClientIsDropped(t *testing.T) {
	h := NewHub(&fakeAuth{owned: map[string]string{"build:b1": "u1"}})
	slow := &Client{UserID: "u1", Send: make(chan []byte, 2)}
	require.True(t, h.Register(slow))

	h.HandleMessage(context.Background(), slow, []byte(`{"type":"subscribe:build","id":"b1"}`))
	require.Len(t, slow.Send, 2)

	finished := make(chan struct{})
	go func() {
		h.Publish("build", "b1", model.WSUpdateMessage{Type: model.WSMessageTypeBuildUpdate, ID: "b1"})
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow session")
	}

	assert.Zero(t, h.Subscribers("build", "b1"))
	<-slow.Send
	<-slow.Send
	_, open := <-slow.Send
	assert.False(t, open)

	// A later publish or unregister must not panic on the closed queue.
	h.Publish("build", "b1", model.WSUpdateMessage{Type: model.WSMessageTypeBuildUpdate, ID: "b1"})
	h.Unregister(slow)
}

func TestHub_ShutdownClosesSessions(t *testing.T) {
	h := NewHub(&fakeAuth{})
	conn := startSession(t, h, "u1")
	conn.send(t, model.WSMessage{Type: model.WSMessageTypePing})
	conn.next(t)

	h.Shutdown()
	select {
	case <-conn.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed on shutdown")
	}

	late := &Client{UserID: "u2", Send: make(chan []byte, 1)}
	assert.False(t, h.Register(late))
}

func TestHub_SlowSubscribeDoesNotBlockOtherRooms(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	h := NewHub(authorizeFunc(func(_ context.Context, _, _, id string) (any, error) {
		if id == "slow" {
			close(entered)
			<-release
		}
		return map[string]any{"id": id}, nil
	}))

	watcher := startSession(t, h, "u1")
	watcher.send(t, model.WSMessage{Type: model.WSMessageTypeSubscribeBuild, ID: "b2"})
	watcher.next(t)
	watcher.next(t)

	blocked := startSession(t, h, "u1")
	blocked.send(t, model.WSMessage{Type: model.WSMessageTypeSubscribeBuild, ID: "slow"})
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("authorization never started")
	}

	finished := make(chan struct{})
	go func() {
		h.Publish("build", "b2", model.WSUpdateMessage{Type: model.WSMessageTypeBuildUpdate, ID: "b2", Data: "running"})
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("publish waited on another room's authorization")
	}
	assert.Equal(t, "running", watcher.next(t)["data"])
}

func TestHub_SubscribeRereadsSnapshotAfterConcurrentUpdate(t *testing.T) {
	var calls atomic.Int32
	var h *Hub
	h = NewHub(authorizeFunc(func(_ context.Context, _, _, id string) (any, error) {
		if calls.Add(1) == 1 {
			// The record moves on after this read but before the session joins.
			h.Publish("build", id, model.WSUpdateMessage{Type: model.WSMessageTypeBuildUpdate, ID: id})
			return map[string]any{"status": "QUEUED"}, nil
		}
		return map[string]any{"status": "RUNNING"}, nil
	}))
	conn := startSession(t, h, "u1")

	conn.send(t, model.WSMessage{Type: model.WSMessageTypeSubscribeBuild, ID: "b1"})
	assert.Equal(t, model.WSMessageTypeSubscribed, conn.next(t)["type"])
	snap := conn.next(t)
	assert.Equal(t, "RUNNING", snap["data"].(map[string]any)["status"])
	assert.EqualValues(t, 2, calls.Load())
	conn.expectSilence(t)
	assert.Equal(t, 1, h.Subscribers("build", "b1"))
}
