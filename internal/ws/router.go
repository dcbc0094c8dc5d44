package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/fathima-sithara/realtime-chat/internal/apperr"
	"github.com/fathima-sithara/realtime-chat/internal/domain"
	"github.com/fathima-sithara/realtime-chat/internal/hub"
	"github.com/fathima-sithara/realtime-chat/internal/metrics"
	"github.com/fathima-sithara/realtime-chat/internal/presence"
	"go.uber.org/zap"
)

// Rooms is the part of the hub the router drives.
type Rooms interface {
	Join(connID, room string) error
	Leave(connID, room string)
	InRoom(connID, room string) bool
	PublishExcept(room, exceptConnID, eventType string, payload interface{}) error
	SendTo(connID, eventType string, payload interface{}) error
}

type Presence interface {
	Register(ctx context.Context, identity, connID string) error
	IdentityOf(connID string) (string, bool)
}

type Conversations interface {
	Get(ctx context.Context, id, userID string) (*domain.Conversation, error)
}

type SeenMarker interface {
	MarkSeen(ctx context.Context, conversationID, viewer string) (int64, error)
}

var errNotJoined = apperr.Forbidden("send join-user first")

// Router applies client events to the hub, the presence registry and the
// message service.
type Router struct {
	rooms    Rooms
	presence Presence
	convs    Conversations
	seen     SeenMarker
	verify   bool
	metrics  *metrics.Metrics
	log      *zap.SugaredLogger
}

// NewRouter builds a router. With verify set, join-conversation checks
// membership against the store before joining the room.
func NewRouter(rooms Rooms, p Presence, convs Conversations, seen SeenMarker, verify bool, m *metrics.Metrics, log *zap.SugaredLogger) *Router {
	return &Router{rooms: rooms, presence: p, convs: convs, seen: seen, verify: verify, metrics: m, log: log}
}

// Handle applies one inbound frame. A rejected event is logged and answered
// with an error event; the connection stays open.
func (r *Router) Handle(ctx context.Context, connID string, frame []byte) {
	eventType, err := r.dispatch(ctx, connID, frame)
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
		r.log.Warnw("client event rejected", "conn", connID, "event", eventType, "err", err)
		_ = r.rooms.SendTo(connID, domain.EventError, domain.ErrorPayload{Event: eventType, Message: apperr.Message(err)})
	}
	if r.metrics != nil {
		r.metrics.InboundEvents.WithLabelValues(eventType, outcome).Inc()
	}
}

func (r *Router) dispatch(ctx context.Context, connID string, frame []byte) (string, error) {
	var env domain.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return "malformed", apperr.Validation("malformed frame")
	}
	switch env.Type {
	case domain.EventJoinUser:
		id, err := decodeID(env.Payload, "user_id")
		if err != nil {
			return env.Type, err
		}
		return env.Type, r.Bind(ctx, connID, id)
	case domain.EventJoinConversation:
		return env.Type, r.joinConversation(ctx, connID, env.Payload)
	case domain.EventLeaveConversation:
		id, err := decodeID(env.Payload, "conversation_id")
		if err != nil {
			return env.Type, err
		}
		r.rooms.Leave(connID, hub.ConversationRoom(id))
		return env.Type, nil
	case domain.EventMessageSeen:
		return env.Type, r.messageSeen(ctx, connID, env.Payload)
	case domain.EventTyping:
		return env.Type, r.typing(connID, env.Payload)
	default:
		return "unknown", apperr.Validation("unknown event " + env.Type)
	}
}

// Bind ties connID to identity, joins its personal room and lets presence
// mark the identity online.
func (r *Router) Bind(ctx context.Context, connID, identity string) error {
	if bound, ok := r.presence.IdentityOf(connID); ok && bound != identity {
		return apperr.Forbidden("connection is bound to another user")
	}
	if err := r.rooms.Join(connID, hub.UserRoom(identity)); err != nil {
		return apperr.Internal("join personal room", err)
	}
	err := r.presence.Register(ctx, identity, connID)
	switch {
	case errors.Is(err, presence.ErrConnectionBound):
		r.rooms.Leave(connID, hub.UserRoom(identity))
		return apperr.Forbidden("connection is bound to another user")
	case errors.Is(err, presence.ErrConnectionClosed):
		r.rooms.Leave(connID, hub.UserRoom(identity))
		return apperr.Conflict("connection already closed")
	case err != nil:
		// the connection is registered; only the presence write failed
		r.log.Errorw("presence transition", "user", identity, "conn", connID, "err", err)
	}
	return nil
}

func (r *Router) joinConversation(ctx context.Context, connID string, raw json.RawMessage) error {
	id, err := decodeID(raw, "conversation_id")
	if err != nil {
		return err
	}
	if r.verify {
		identity, ok := r.presence.IdentityOf(connID)
		if !ok {
			return errNotJoined
		}
		if _, err := r.convs.Get(ctx, id, identity); err != nil {
			return err
		}
	}
	if err := r.rooms.Join(connID, hub.ConversationRoom(id)); err != nil {
		return apperr.Internal("join conversation room", err)
	}
	return nil
}

func (r *Router) messageSeen(ctx context.Context, connID string, raw json.RawMessage) error {
	var p domain.SeenPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperr.Validation("malformed message-seen payload")
	}
	if p.ConversationID == "" {
		return apperr.Validation("conversation_id required")
	}
	identity, ok := r.presence.IdentityOf(connID)
	if !ok {
		return errNotJoined
	}
	if p.UserID != "" && p.UserID != identity {
		return apperr.Forbidden("cannot mark messages seen for another user")
	}
	_, err := r.seen.MarkSeen(ctx, p.ConversationID, identity)
	return err
}

func (r *Router) typing(connID string, raw json.RawMessage) error {
	var p domain.TypingPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return apperr.Validation("malformed typing payload")
	}
	if p.ConversationID == "" {
		return apperr.Validation("conversation_id required")
	}
	room := hub.ConversationRoom(p.ConversationID)
	if !r.rooms.InRoom(connID, room) {
		return apperr.Forbidden("join the conversation first")
	}
	return r.rooms.PublishExcept(room, connID, domain.EventTypingUpdate, p)
}

// decodeID accepts either a bare JSON string or an object carrying field.
func decodeID(raw json.RawMessage, field string) (string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", apperr.Validation("malformed payload")
		}
		if v, ok := obj[field]; !ok || json.Unmarshal(v, &id) != nil {
			return "", apperr.Validation(field + " required")
		}
	}
	if id = strings.TrimSpace(id); id == "" {
		return "", apperr.Validation(field + " required")
	}
	return id, nil
}
