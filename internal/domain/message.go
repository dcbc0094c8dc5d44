package domain

import "time"

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
	KindFile  MessageKind = "file"
)

// MessageStatus only moves forward: sent, delivered, seen.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"
)

type Message struct {
	ID             string        `bson:"_id" json:"id"`
	ConversationID string        `bson:"conversation_id" json:"conversation_id"`
	Sender         string        `bson:"sender" json:"sender"`
	Content        string        `bson:"content" json:"content"`
	Kind           MessageKind   `bson:"type" json:"type"`
	Status         MessageStatus `bson:"status" json:"status"`
	SeenBy         []string      `bson:"seen_by" json:"seen_by"`
	IsEdited       bool          `bson:"is_edited" json:"is_edited"`
	CreatedAt      time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `bson:"updated_at" json:"updated_at"`
}

func (m *Message) HasSeen(userID string) bool {
	for _, id := range m.SeenBy {
		if id == userID {
			return true
		}
	}
	return false
}

// SeenByAll reports whether every participant is in SeenBy.
func (m *Message) SeenByAll(participants []string) bool {
	for _, p := range participants {
		if !m.HasSeen(p) {
			return false
		}
	}
	return true
}

// StatusAfterSeen is the status a message takes once seenBy has been extended.
func StatusAfterSeen(seenBy, participants []string) MessageStatus {
	m := Message{SeenBy: seenBy}
	if m.SeenByAll(participants) {
		return StatusSeen
	}
	return StatusDelivered
}
