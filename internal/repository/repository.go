package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fathima-sithara/realtime-chat/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate key")
	// ErrAlreadySeen is returned by EditMessage when every participant has seen the message.
	ErrAlreadySeen = errors.New("message already seen")
)

type UserRepository interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	ListUsers(ctx context.Context, excludeID string) ([]*domain.User, error)
	UpsertUser(ctx context.Context, u *domain.User) (*domain.User, error)
	// SetPresence creates the user record when it does not exist yet.
	SetPresence(ctx context.Context, id string, online bool, lastSeen *time.Time) error
}

type ConversationRepository interface {
	// CreateConversation returns ErrDuplicate when a direct conversation for
	// the same pair already exists.
	CreateConversation(ctx context.Context, c *domain.Conversation) error
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	FindDirect(ctx context.Context, pairKey string) (*domain.Conversation, error)
	// ListConversations returns the conversations of userID, most recently updated first.
	ListConversations(ctx context.Context, userID string) ([]*domain.Conversation, error)
	AddParticipant(ctx context.Context, id, userID string) (*domain.Conversation, error)
	RemoveParticipant(ctx context.Context, id, userID string) (*domain.Conversation, error)
	RenameConversation(ctx context.Context, id, name string) (*domain.Conversation, error)
	SetLastMessage(ctx context.Context, id string, messageID *string, at time.Time) error
	DeleteConversation(ctx context.Context, id string) error
}

type MessageRepository interface {
	InsertMessage(ctx context.Context, m *domain.Message) error
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	// ListMessages returns up to limit messages strictly older than before
	// (or the newest when before is nil), newest first.
	ListMessages(ctx context.Context, conversationID string, before *time.Time, limit int64) ([]*domain.Message, error)
	// LatestMessage returns ErrNotFound for an empty conversation.
	LatestMessage(ctx context.Context, conversationID string) (*domain.Message, error)
	// MarkSeen adds viewer to seen_by of every message in the conversation not
	// sent by viewer and not yet seen by viewer. Each message is updated atomically.
	MarkSeen(ctx context.Context, conversationID, viewer string, participants []string) (int64, error)
	// EditMessage returns ErrAlreadySeen when the message status is seen.
	EditMessage(ctx context.Context, id, content string, at time.Time) (*domain.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	DeleteConversationMessages(ctx context.Context, conversationID string) (int64, error)
	CountUnread(ctx context.Context, conversationID, viewer string) (int64, error)
}

// Store groups the three repositories behind one handle.
type Store interface {
	UserRepository
	ConversationRepository
	MessageRepository
	Close(ctx context.Context) error
}
