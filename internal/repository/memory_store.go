package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fathima-sithara/realtime-chat/internal/domain"
)

// MemoryStore keeps everything in process memory. It backs the memory store
// driver and the tests.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*domain.User
	conversations map[string]*domain.Conversation
	messages      map[string]*domain.Message
	byConv        map[string][]string // conversationID -> message ids in insert order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*domain.User),
		conversations: make(map[string]*domain.Conversation),
		messages:      make(map[string]*domain.Message),
		byConv:        make(map[string][]string),
	}
}

func (s *MemoryStore) Close(context.Context) error { return nil }

func copyUser(u *domain.User) *domain.User {
	c := *u
	if u.LastSeen != nil {
		ls := *u.LastSeen
		c.LastSeen = &ls
	}
	return &c
}

func copyConversation(c *domain.Conversation) *domain.Conversation {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	if c.LastMessageID != nil {
		id := *c.LastMessageID
		out.LastMessageID = &id
	}
	return &out
}

func copyMessage(m *domain.Message) *domain.Message {
	out := *m
	out.SeenBy = append([]string(nil), m.SeenBy...)
	return &out
}

// users

func (s *MemoryStore) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (s *MemoryStore) ListUsers(_ context.Context, excludeID string) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.User, 0, len(s.users))
	for id, u := range s.users {
		if id == excludeID {
			continue
		}
		out = append(out, copyUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (s *MemoryStore) UpsertUser(_ context.Context, u *domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if cur, ok := s.users[u.ID]; ok {
		cur.FullName = u.FullName
		cur.Email = u.Email
		cur.Avatar = u.Avatar
		cur.UpdatedAt = now
		return copyUser(cur), nil
	}
	nu := copyUser(u)
	nu.CreatedAt = now
	nu.UpdatedAt = now
	s.users[u.ID] = nu
	return copyUser(nu), nil
}

func (s *MemoryStore) SetPresence(_ context.Context, id string, online bool, lastSeen *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		now := time.Now().UTC()
		u = &domain.User{ID: id, CreatedAt: now, UpdatedAt: now}
		s.users[id] = u
	}
	u.IsOnline = online
	u.LastSeen = nil
	if lastSeen != nil {
		ls := *lastSeen
		u.LastSeen = &ls
	}
	return nil
}

// conversations

func (s *MemoryStore) CreateConversation(_ context.Context, c *domain.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.PairKey != "" {
		for _, ex := range s.conversations {
			if ex.PairKey == c.PairKey {
				return ErrDuplicate
			}
		}
	}
	s.conversations[c.ID] = copyConversation(c)
	return nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(c), nil
}

func (s *MemoryStore) FindDirect(_ context.Context, pairKey string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conversations {
		if c.PairKey == pairKey {
			return copyConversation(c), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListConversations(_ context.Context, userID string) ([]*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Conversation
	for _, c := range s.conversations {
		if c.HasParticipant(userID) {
			out = append(out, copyConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) mutateConversation(id string, fn func(c *domain.Conversation)) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	fn(c)
	c.UpdatedAt = time.Now().UTC()
	return copyConversation(c), nil
}

func (s *MemoryStore) AddParticipant(_ context.Context, id, userID string) (*domain.Conversation, error) {
	return s.mutateConversation(id, func(c *domain.Conversation) {
		if !c.HasParticipant(userID) {
			c.Participants = append(c.Participants, userID)
		}
	})
}

func (s *MemoryStore) RemoveParticipant(_ context.Context, id, userID string) (*domain.Conversation, error) {
	return s.mutateConversation(id, func(c *domain.Conversation) {
		c.Participants = c.Others(userID)
	})
}

func (s *MemoryStore) RenameConversation(_ context.Context, id, name string) (*domain.Conversation, error) {
	return s.mutateConversation(id, func(c *domain.Conversation) { c.Name = name })
}

func (s *MemoryStore) SetLastMessage(_ context.Context, id string, messageID *string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.LastMessageID = nil
	if messageID != nil {
		mid := *messageID
		c.LastMessageID = &mid
	}
	c.UpdatedAt = at
	return nil
}

func (s *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	return nil
}

// messages

func (s *MemoryStore) InsertMessage(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; ok {
		return ErrDuplicate
	}
	s.messages[m.ID] = copyMessage(m)
	s.byConv[m.ConversationID] = append(s.byConv[m.ConversationID], m.ID)
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(m), nil
}

// sortedDesc returns the live messages of a conversation, newest first. Caller holds the lock.
func (s *MemoryStore) sortedDesc(conversationID string) []*domain.Message {
	ids := s.byConv[conversationID]
	out := make([]*domain.Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := s.messages[id]; ok {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID string, before *time.Time, limit int64) ([]*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Message
	for _, m := range s.sortedDesc(conversationID) {
		if before != nil && !m.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, copyMessage(m))
		if limit > 0 && int64(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) LatestMessage(_ context.Context, conversationID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.sortedDesc(conversationID)
	if len(msgs) == 0 {
		return nil, ErrNotFound
	}
	return copyMessage(msgs[0]), nil
}

func (s *MemoryStore) MarkSeen(_ context.Context, conversationID, viewer string, participants []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range s.byConv[conversationID] {
		m, ok := s.messages[id]
		if !ok || m.Sender == viewer || m.HasSeen(viewer) {
			continue
		}
		m.SeenBy = append(m.SeenBy, viewer)
		m.Status = domain.StatusAfterSeen(m.SeenBy, participants)
		n++
	}
	return n, nil
}

func (s *MemoryStore) EditMessage(_ context.Context, id, content string, at time.Time) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	if m.Status == domain.StatusSeen {
		return nil, ErrAlreadySeen
	}
	m.Content = content
	m.IsEdited = true
	m.UpdatedAt = at
	return copyMessage(m), nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.messages, id)
	ids := s.byConv[m.ConversationID]
	for i, mid := range ids {
		if mid == id {
			s.byConv[m.ConversationID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) DeleteConversationMessages(_ context.Context, conversationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range s.byConv[conversationID] {
		if _, ok := s.messages[id]; ok {
			delete(s.messages, id)
			n++
		}
	}
	delete(s.byConv, conversationID)
	return n, nil
}

func (s *MemoryStore) CountUnread(_ context.Context, conversationID, viewer string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, id := range s.byConv[conversationID] {
		if m, ok := s.messages[id]; ok && !m.HasSeen(viewer) {
			n++
		}
	}
	return n, nil
}
