package domain

import (
	"sort"
	"strings"
	"time"
)

type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

type Conversation struct {
	ID            string           `bson:"_id" json:"id"`
	Type          ConversationType `bson:"type" json:"type"`
	Name          string           `bson:"name,omitempty" json:"name,omitempty"`
	Participants  []string         `bson:"participants" json:"participants"`
	Admin         string           `bson:"admin,omitempty" json:"admin,omitempty"`
	LastMessageID *string          `bson:"last_message_id" json:"last_message_id"`
	// PairKey is set for direct conversations only and carries a unique index.
	PairKey   string    `bson:"pair_key,omitempty" json:"-"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

func (c *Conversation) IsGroup() bool { return c.Type == ConversationGroup }

func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Others returns every participant except userID.
func (c *Conversation) Others(userID string) []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p != userID {
			out = append(out, p)
		}
	}
	return out
}

// ConversationView is a conversation as listed for one viewer.
type ConversationView struct {
	*Conversation
	LastMessage *Message `json:"last_message"`
	UnreadCount int64    `json:"unread_count"`
}

// PairKey identifies the unordered pair of a direct conversation.
func PairKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}
