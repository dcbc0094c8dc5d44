package hub

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/fathima-sithara/realtime-chat/internal/domain"
	"github.com/fathima-sithara/realtime-chat/internal/metrics"
	"go.uber.org/zap"
)

var ErrUnknownConnection = errors.New("unknown connection")

// Conn is a live connection as seen by the hub. Send must not block; it
// reports false when the frame was dropped.
type Conn interface {
	ID() string
	Send(frame []byte) bool
}

func UserRoom(userID string) string { return "user:" + userID }

func ConversationRoom(conversationID string) string { return "conversation:" + conversationID }

// Hub tracks which connections are in which rooms and fans events out to
// them. Delivery is fire-and-forget: a connection whose queue is full loses
// the frame.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]Conn
	rooms    map[string]map[string]Conn     // room -> conn id -> conn
	memberOf map[string]map[string]struct{} // conn id -> rooms

	metrics *metrics.Metrics
	log     *zap.SugaredLogger
}

func New(m *metrics.Metrics, log *zap.SugaredLogger) *Hub {
	return &Hub{
		conns:    make(map[string]Conn),
		rooms:    make(map[string]map[string]Conn),
		memberOf: make(map[string]map[string]struct{}),
		metrics:  m,
		log:      log,
	}
}

func (h *Hub) Add(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID()] = c
	if _, ok := h.memberOf[c.ID()]; !ok {
		h.memberOf[c.ID()] = make(map[string]struct{})
	}
	if h.metrics != nil {
		h.metrics.Connections.Set(float64(len(h.conns)))
	}
}

// Remove drops the connection from every room it joined.
func (h *Hub) Remove(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room := range h.memberOf[connID] {
		h.leaveLocked(connID, room)
	}
	delete(h.memberOf, connID)
	delete(h.conns, connID)
	if h.metrics != nil {
		h.metrics.Connections.Set(float64(len(h.conns)))
	}
}

func (h *Hub) Join(connID, room string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]Conn)
		h.rooms[room] = members
	}
	members[connID] = c
	h.memberOf[connID][room] = struct{}{}
	return nil
}

func (h *Hub) Leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(connID, room)
}

func (h *Hub) leaveLocked(connID, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.memberOf[connID]; ok {
		delete(rooms, room)
	}
}

// EvictUser removes the connections found in the personal room of userID
// from room.
func (h *Hub) EvictUser(userID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for connID := range h.rooms[UserRoom(userID)] {
		h.leaveLocked(connID, room)
	}
}

func (h *Hub) CloseRoom(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for connID := range h.rooms[room] {
		h.leaveLocked(connID, room)
	}
}

// InRoom reports whether connID has joined room.
func (h *Hub) InRoom(connID, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][connID]
	return ok
}

// ConnectionCount reports the live connections, whether bound or not.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Publish delivers the event to every connection in room.
func (h *Hub) Publish(room, eventType string, payload interface{}) error {
	return h.PublishExcept(room, "", eventType, payload)
}

// PublishExcept delivers to room, skipping the connection exceptConnID.
func (h *Hub) PublishExcept(room, exceptConnID, eventType string, payload interface{}) error {
	frame, err := Encode(eventType, payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.rooms[room]))
	for id, c := range h.rooms[room] {
		if id != exceptConnID {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	h.deliver(eventType, frame, targets)
	return nil
}

// PublishRooms delivers once per connection across all rooms.
func (h *Hub) PublishRooms(rooms []string, eventType string, payload interface{}) error {
	frame, err := Encode(eventType, payload)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{})
	var targets []Conn
	h.mu.RLock()
	for _, room := range rooms {
		for id, c := range h.rooms[room] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	h.deliver(eventType, frame, targets)
	return nil
}

// PublishUsers delivers to the personal rooms of userIDs.
func (h *Hub) PublishUsers(userIDs []string, eventType string, payload interface{}) error {
	rooms := make([]string, len(userIDs))
	for i, id := range userIDs {
		rooms[i] = UserRoom(id)
	}
	return h.PublishRooms(rooms, eventType, payload)
}

// PublishAll delivers to every live connection.
func (h *Hub) PublishAll(eventType string, payload interface{}) error {
	frame, err := Encode(eventType, payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	h.deliver(eventType, frame, targets)
	return nil
}

// SendTo delivers to a single connection.
func (h *Hub) SendTo(connID, eventType string, payload interface{}) error {
	frame, err := Encode(eventType, payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}
	h.deliver(eventType, frame, []Conn{c})
	return nil
}

func (h *Hub) deliver(eventType string, frame []byte, targets []Conn) {
	if h.metrics != nil {
		h.metrics.EventsPublished.WithLabelValues(eventType).Inc()
	}
	for _, c := range targets {
		if !c.Send(frame) {
			if h.metrics != nil {
				h.metrics.FramesDropped.Inc()
			}
			h.log.Debugw("send queue full, frame dropped", "conn", c.ID(), "event", eventType)
		}
	}
}

// Encode builds the wire frame for an event.
func Encode(eventType string, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(domain.Envelope{Type: eventType, Payload: raw})
}
