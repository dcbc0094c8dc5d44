package domain

import (
	"encoding/json"
	"time"
)

// Live event names, client to server.
const (
	EventJoinUser          = "join-user"
	EventJoinConversation  = "join-conversation"
	EventLeaveConversation = "leave-conversation"
	EventMessageSeen       = "message-seen"
	EventTyping            = "typing"
)

// Live event names, server to client.
const (
	EventUserStatus          = "userStatus"
	EventReceiveMessage      = "receive-message"
	EventMessageSeenUpdate   = "message-seen-update"
	EventConversationCreated = "conversation-created"
	EventConversationUpdated = "conversation-updated"
	EventConversationDeleted = "conversation-deleted"
	EventTypingUpdate        = "typing-update"
	EventMessageUpdated      = "message-updated"
	EventMessageDeleted      = "message-deleted"
	EventError               = "error"
)

// Envelope is the wire frame for every live event in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type UserStatusPayload struct {
	UserID   string     `json:"user_id"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type ReceiveMessagePayload struct {
	ConversationID string   `json:"conversation_id"`
	Message        *Message `json:"message"`
}

type SeenPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	Name           string `json:"name"`
	IsTyping       bool   `json:"is_typing"`
}

type MessageUpdatedPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Content        string `json:"content"`
	IsEdited       bool   `json:"is_edited"`
}

type MessageDeletedPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

type ConversationDeletedPayload struct {
	ConversationID string `json:"conversation_id"`
}

// ErrorPayload reports a rejected client event back to its connection.
type ErrorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
