package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/fathima-sithara/realtime-chat/internal/domain"
	"github.com/fathima-sithara/realtime-chat/internal/hub"
	"github.com/fathima-sithara/realtime-chat/internal/metrics"
	"github.com/fathima-sithara/realtime-chat/internal/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recConn struct {
	id     string
	mu     sync.Mutex
	frames []domain.Envelope
}

func (c *recConn) ID() string { return c.id }

func (c *recConn) Send(frame []byte) bool {
	var env domain.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, env)
	return true
}

// count returns how many frames of eventType the connection received.
func (c *recConn) count(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.frames {
		if f.Type == eventType {
			n++
		}
	}
	return n
}

type fakePresence struct {
	mu     sync.Mutex
	online map[string]bool
}

func (p *fakePresence) set(id string, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[id] = online
}

func (p *fakePresence) IsOnline(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[id]
}

func (p *fakePresence) Online() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for id, on := range p.online {
		if on {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (p *fakePresence) AnyOnline(ids []string) bool {
	for _, id := range ids {
		if p.IsOnline(id) {
			return true
		}
	}
	return false
}

var errUnreachable = errors.New("store unreachable")

// flakyStore fails the flagged operations and delegates the rest.
type flakyStore struct {
	*repository.MemoryStore
	failDeleteConversation bool
	failGetUser            bool
}

func (s *flakyStore) DeleteConversation(ctx context.Context, id string) error {
	if s.failDeleteConversation {
		return errUnreachable
	}
	return s.MemoryStore.DeleteConversation(ctx, id)
}

func (s *flakyStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	if s.failGetUser {
		return nil, errUnreachable
	}
	return s.MemoryStore.GetUser(ctx, id)
}

type testEnv struct {
	ctx      context.Context
	store    *repository.MemoryStore
	hub      *hub.Hub
	presence *fakePresence
	convs    *ConversationService
	msgs     *MessageService
	history  *HistoryService
	users    *UserService
}

func newTestEnv(t *testing.T, users ...string) *testEnv {
	t.Helper()
	log := zap.NewNop().Sugar()
	store := repository.NewMemoryStore()
	h := hub.New(metrics.New(), log)
	presence := &fakePresence{online: map[string]bool{}}
	stamp := NewStamper(nil)
	e := &testEnv{
		ctx:      context.Background(),
		store:    store,
		hub:      h,
		presence: presence,
		convs:    NewConversationService(store, h, nil, stamp, log),
		msgs:     NewMessageService(store, h, presence, nil, stamp, log),
		history:  NewHistoryService(store),
		users:    NewUserService(store, presence),
	}
	for _, id := range users {
		_, err := store.UpsertUser(e.ctx, &domain.User{ID: id, FullName: id})
		require.NoError(t, err)
	}
	return e
}

// connect attaches a live connection for userID to its personal room.
func (e *testEnv) connect(t *testing.T, connID, userID string) *recConn {
	t.Helper()
	c := &recConn{id: connID}
	e.hub.Add(c)
	require.NoError(t, e.hub.Join(connID, hub.UserRoom(userID)))
	e.presence.set(userID, true)
	return c
}

func (e *testEnv) direct(t *testing.T, a, b string) *domain.Conversation {
	t.Helper()
	conv, _, err := e.convs.Create(e.ctx, a, CreateConversationInput{Type: domain.ConversationDirect, Participants: []string{b}})
	require.NoError(t, err)
	return conv
}

func (e *testEnv) group(t *testing.T, admin string, members ...string) *domain.Conversation {
	t.Helper()
	conv, _, err := e.convs.Create(e.ctx, admin, CreateConversationInput{Type: domain.ConversationGroup, Participants: members, Name: "team"})
	require.NoError(t, err)
	return conv
}

func (e *testEnv) send(t *testing.T, sender, convID, content string) *domain.Message {
	t.Helper()
	m, err := e.msgs.Send(e.ctx, sender, SendInput{ConversationID: convID, Content: content})
	require.NoError(t, err)
	return m
}

func TestStamper_StrictlyIncreasing(t *testing.T) {
	req := require.New(t)
	frozen := time.Date(2025, 3, 1, 12, 0, 0, 123456789, time.UTC)
	s := NewStamper(func() time.Time { return frozen })

	a, b, c := s.Next(), s.Next(), s.Next()

	req.Equal(frozen.Truncate(time.Millisecond), a)
	req.Equal(a.Add(time.Millisecond), b)
	req.Equal(b.Add(time.Millisecond), c)
}
