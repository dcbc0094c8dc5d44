package service

import (
	"context"
	"time"

	"github.com/fathima-sithara/realtime-chat/internal/apperr"
	"github.com/fathima-sithara/realtime-chat/internal/domain"
	"github.com/fathima-sithara/realtime-chat/internal/repository"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Page struct {
	Messages   []*domain.Message `json:"messages"`
	HasMore    bool              `json:"has_more"`
	NextCursor *time.Time        `json:"next_cursor"`
}

// HistoryService serves conversation history backwards from a cursor.
type HistoryService struct {
	convs repository.ConversationRepository
	msgs  repository.MessageRepository
}

func NewHistoryService(store repository.Store) *HistoryService {
	return &HistoryService{convs: store, msgs: store}
}

// Page returns up to limit messages strictly older than cursor (the newest
// when cursor is nil) in ascending order. NextCursor is the creation time of
// the oldest returned message; pass it back to continue.
func (s *HistoryService) Page(ctx context.Context, conversationID, viewer string, cursor *time.Time, limit int) (*Page, error) {
	switch {
	case limit < 0:
		return nil, apperr.Validation("limit must not be negative")
	case limit == 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}

	conv, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, storeErr(err, "conversation")
	}
	if !conv.HasParticipant(viewer) {
		return nil, apperr.Forbidden("not a participant of this conversation")
	}

	// one extra row tells whether an older page exists
	rows, err := s.msgs.ListMessages(ctx, conv.ID, cursor, int64(limit+1))
	if err != nil {
		return nil, storeErr(err, "messages")
	}
	if rows == nil {
		rows = []*domain.Message{}
	}
	page := &Page{HasMore: len(rows) > limit}
	if page.HasMore {
		rows = rows[:limit]
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	page.Messages = rows
	if len(rows) > 0 {
		oldest := rows[0].CreatedAt
		page.NextCursor = &oldest
	}
	return page, nil
}
