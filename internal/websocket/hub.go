package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/qasim313/Unbrandit/internal/logging"
	"github.com/qasim313/Unbrandit/internal/model"
	"github.com/qasim313/Unbrandit/internal/service"
)

const (
	sendBuffer     = 256
	pingInterval   = 30 * time.Second
	authorizeLimit = 5 * time.Second

	snapshotAttempts = 3
)

// Conn is the part of *websocket.Conn the hub uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Authorizer checks a subscription and returns the snapshot to start from.
type Authorizer interface {
	Authorize(ctx context.Context, userID, kind, id string) (any, error)
}

// Room is one subscribable entity.
type Room struct {
	Kind string
	ID   string
}

// Client represents one dashboard session. A session may hold many rooms.
type Client struct {
	UserID string
	Conn   Conn
	Send   chan []byte

	rooms  map[Room]struct{}
	closed bool
}

// pendingRoom tracks subscriptions still reading their snapshot.
type pendingRoom struct {
	waiters int
	seq     uint64
}

// Hub maintains active WebSocket sessions grouped by room.
type Hub struct {
	auth     Authorizer
	rooms    map[Room]map[*Client]struct{}
	clients  map[*Client]struct{}
	pending  map[Room]*pendingRoom
	shutdown bool

	mu sync.Mutex
}

// NewHub creates a new Hub
func NewHub(auth Authorizer) *Hub {
	return &Hub{
		auth:    auth,
		rooms:   make(map[Room]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
		pending: make(map[Room]*pendingRoom),
	}
}

// Publish delivers msg to every session in the room. It never blocks: a
// session whose buffer is full is disconnected and must re-fetch on reconnect.
func (h *Hub) Publish(kind, id string, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error().Err(err).Str("room", kind).Str("id", id).Msg("failed to marshal update")
		return
	}

	room := Room{Kind: kind, ID: id}
	h.mu.Lock()
	defer h.mu.Unlock()
	if p := h.pending[room]; p != nil {
		p.seq++
	}
	for client := range h.rooms[room] {
		h.enqueueLocked(client, data)
	}
}

// Register adds a session. It returns false once the hub is shut down.
func (h *Hub) Register(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return false
	}
	if client.rooms == nil {
		client.rooms = make(map[Room]struct{})
	}
	h.clients[client] = struct{}{}
	return true
}

// Unregister removes a session from every room and closes its send queue.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(client)
}

// Shutdown closes every session; writers flush a close frame and exit.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdown = true
	for client := range h.clients {
		h.dropLocked(client)
	}
}

// Subscribers reports how many sessions watch a room.
func (h *Hub) Subscribers(kind, id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[Room{Kind: kind, ID: id}])
}

func (h *Hub) enqueueLocked(client *Client, data []byte) {
	if client.closed {
		return
	}
	select {
	case client.Send <- data:
	default:
		logging.Warn().Str("user_id", client.UserID).Msg("websocket session too slow, disconnecting")
		h.dropLocked(client)
	}
}

func (h *Hub) dropLocked(client *Client) {
	if client.closed {
		return
	}
	client.closed = true
	for room := range client.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	client.rooms = nil
	delete(h.clients, client)
	close(client.Send)
}

func (h *Hub) send(client *Client, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enqueueLocked(client, data)
}

// subscribe authorizes without holding the hub lock, so a slow lookup never
// delays publishes to other rooms. An update published to the room while the
// snapshot was being read forces a re-read; the last attempt joins regardless.
func (h *Hub) subscribe(ctx context.Context, client *Client, kind, id string) {
	ctx, cancel := context.WithTimeout(ctx, authorizeLimit)
	defer cancel()

	room := Room{Kind: kind, ID: id}
	h.mu.Lock()
	if client.closed {
		h.mu.Unlock()
		return
	}
	p := h.pending[room]
	if p == nil {
		p = &pendingRoom{}
		h.pending[room] = p
	}
	p.waiters++
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		if p.waiters--; p.waiters == 0 {
			delete(h.pending, room)
		}
		h.mu.Unlock()
	}()

	for attempt := 1; ; attempt++ {
		h.mu.Lock()
		seen := p.seq
		h.mu.Unlock()

		snapshot, err := h.auth.Authorize(ctx, client.UserID, kind, id)

		h.mu.Lock()
		if client.closed {
			h.mu.Unlock()
			return
		}
		if err != nil {
			h.rejectLocked(client, kind, id, err)
			h.mu.Unlock()
			return
		}
		if p.seq != seen && attempt < snapshotAttempts {
			h.mu.Unlock()
			continue
		}

		if h.rooms[room] == nil {
			h.rooms[room] = make(map[*Client]struct{})
		}
		h.rooms[room][client] = struct{}{}
		client.rooms[room] = struct{}{}

		h.enqueueJSONLocked(client, model.WSAckMessage{Type: model.WSMessageTypeSubscribed, Room: kind, ID: id})
		h.enqueueJSONLocked(client, model.WSUpdateMessage{Type: updateType(kind), ID: id, Data: snapshot})
		h.mu.Unlock()
		return
	}
}

func (h *Hub) rejectLocked(client *Client, kind, id string, err error) {
	code, message := model.WSErrorCodeServiceError, "Subscription failed"
	switch {
	case errors.Is(err, service.ErrNotFound):
		code, message = model.WSErrorCodeNotFound, kind+" not found"
	case errors.Is(err, service.ErrValidation):
		code, message = model.WSErrorCodeValidation, err.Error()
	default:
		logging.Error().Err(err).Str("room", kind).Str("id", id).Msg("subscription lookup failed")
	}
	h.enqueueJSONLocked(client, model.WSErrorMessage{
		Type:  model.WSMessageTypeError,
		ID:    id,
		Error: model.WSError{Code: code, Message: message},
	})
}

func (h *Hub) unsubscribe(client *Client, kind, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.closed {
		return
	}
	room := Room{Kind: kind, ID: id}
	delete(client.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.enqueueJSONLocked(client, model.WSAckMessage{Type: model.WSMessageTypeUnsubscribed, Room: kind, ID: id})
}

func (h *Hub) enqueueJSONLocked(client *Client, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.enqueueLocked(client, data)
}

func updateType(kind string) string {
	if kind == service.RoomProject {
		return model.WSMessageTypeProjectUpdate
	}
	return model.WSMessageTypeBuildUpdate
}

// HandleMessage processes one inbound frame from a session.
func (h *Hub) HandleMessage(ctx context.Context, client *Client, raw []byte) {
	var msg model.WSMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.send(client, model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			Error: model.WSError{Code: model.WSErrorCodeValidation, Message: "Malformed message"},
		})
		return
	}

	switch msg.Type {
	case model.WSMessageTypePing:
		h.send(client, model.WSMessage{Type: model.WSMessageTypePong})
		return
	case model.WSMessageTypeSubscribeBuild, model.WSMessageTypeSubscribeProject,
		model.WSMessageTypeUnsubscribeBuild, model.WSMessageTypeUnsubscribeProject:
	default:
		h.send(client, model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			ID:    msg.ID,
			Error: model.WSError{Code: model.WSErrorCodeValidation, Message: "Unknown message type"},
		})
		return
	}

	if msg.ID == "" {
		h.send(client, model.WSErrorMessage{
			Type:  model.WSMessageTypeError,
			Error: model.WSError{Code: model.WSErrorCodeValidation, Message: "id is required"},
		})
		return
	}

	action, kind, _ := strings.Cut(msg.Type, ":")
	if action == "subscribe" {
		h.subscribe(ctx, client, kind, msg.ID)
	} else {
		h.unsubscribe(client, kind, msg.ID)
	}
}

// HandleConnection serves one authenticated WebSocket session until it
// disconnects or the hub shuts down.
func (h *Hub) HandleConnection(c Conn, userID string) {
	client := &Client{
		UserID: userID,
		Conn:   c,
		Send:   make(chan []byte, sendBuffer),
	}
	if !h.Register(client) {
		_ = c.WriteMessage(websocket.CloseMessage, []byte{})
		_ = c.Close()
		return
	}
	defer h.Unregister(client)

	done := make(chan struct{})
	defer close(done)

	// Writer goroutine
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					_ = c.Close()
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					_ = c.Close()
					return
				}

			case <-ticker.C:
				// Keep-alive
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					_ = c.Close()
					return
				}

			case <-done:
				return
			}
		}
	}()

	ctx := context.Background()
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug().Err(err).Str("user_id", userID).Msg("websocket closed")
			}
			return
		}
		h.HandleMessage(ctx, client, message)
	}
}
