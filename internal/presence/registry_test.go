package presence

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/fathima-sithara/realtime-chat/internal/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type presenceWrite struct {
	id       string
	online   bool
	lastSeen *time.Time
}

type fakeStore struct {
	mu     sync.Mutex
	writes []presenceWrite
}

func (s *fakeStore) SetPresence(_ context.Context, id string, online bool, lastSeen *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, presenceWrite{id: id, online: online, lastSeen: lastSeen})
	return nil
}

// last returns the final persisted state per identity.
func (s *fakeStore) last() map[string]presenceWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]presenceWrite{}
	for _, w := range s.writes {
		out[w.id] = w
	}
	return out
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []domain.UserStatusPayload
}

func (b *fakeBroadcaster) PublishAll(eventType string, payload interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if eventType == domain.EventUserStatus {
		b.events = append(b.events, payload.(domain.UserStatusPayload))
	}
	return nil
}

func (b *fakeBroadcaster) forUser(id string) []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []bool
	for _, e := range b.events {
		if e.UserID == id {
			out = append(out, e.IsOnline)
		}
	}
	return out
}

func newTestRegistry() (*Registry, *fakeStore, *fakeBroadcaster) {
	st := &fakeStore{}
	bc := &fakeBroadcaster{}
	return NewRegistry(st, bc, zap.NewNop().Sugar()), st, bc
}

func TestRegistry_MultiDevice(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	r, st, bc := newTestRegistry()

	// Given alice connects from two devices
	req.NoError(r.Register(ctx, "alice", "phone"))
	req.NoError(r.Register(ctx, "alice", "laptop"))

	// Then one online event is emitted
	req.True(r.IsOnline("alice"))
	req.Equal([]bool{true}, bc.forUser("alice"))
	req.Len(r.conns["alice"], 2)

	// When one device disconnects alice stays online
	req.NoError(r.Deregister(ctx, "phone"))
	req.True(r.IsOnline("alice"))
	req.Equal([]bool{true}, bc.forUser("alice"))

	// When the last device disconnects alice goes offline with a last-seen time
	req.NoError(r.Deregister(ctx, "laptop"))
	req.False(r.IsOnline("alice"))
	req.Equal([]bool{true, false}, bc.forUser("alice"))

	final := st.last()["alice"]
	req.False(final.online)
	req.NotNil(final.lastSeen)
	req.Empty(r.Online())
}

func TestRegistry_OnlineWriteClearsLastSeen(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	r, st, _ := newTestRegistry()

	req.NoError(r.Register(ctx, "bob", "c1"))
	req.NoError(r.Deregister(ctx, "c1"))
	req.NoError(r.Register(ctx, "bob", "c2"))

	final := st.last()["bob"]
	req.True(final.online)
	req.Nil(final.lastSeen)
}

func TestRegistry_DeregisterUnknownIsNoop(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	r, st, bc := newTestRegistry()

	req.NoError(r.Deregister(ctx, "ghost"))

	req.Empty(st.writes)
	req.Empty(bc.events)
}

func TestRegistry_DeregisterBeforeRegister(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	r, _, bc := newTestRegistry()

	// Given the disconnect is processed before the connect
	req.NoError(r.Deregister(ctx, "c1"))
	req.ErrorIs(r.Register(ctx, "carol", "c1"), ErrConnectionClosed)

	// Then the dead handle carries no presence
	req.False(r.IsOnline("carol"))
	req.Empty(bc.forUser("carol"))
}

func TestRegistry_DuplicateRegister(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	r, _, bc := newTestRegistry()

	req.NoError(r.Register(ctx, "dave", "c1"))
	req.NoError(r.Register(ctx, "dave", "c1"))
	req.ErrorIs(r.Register(ctx, "erin", "c1"), ErrConnectionBound)

	req.Len(r.conns["dave"], 1)
	req.Equal([]bool{true}, bc.forUser("dave"))

	req.NoError(r.Deregister(ctx, "c1"))
	req.NoError(r.Deregister(ctx, "c1"))
	req.Equal([]bool{true, false}, bc.forUser("dave"))
}

// Random register/deregister sequences, duplicates included, checked against
// a plain set model.
func TestRegistry_ArbitraryOrder(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	identities := []string{"u1", "u2", "u3"}

	for round := 0; round < 50; round++ {
		r, st, bc := newTestRegistry()
		model := map[string]map[string]bool{}
		owner := map[string]string{}
		dead := map[string]bool{}

		for step := 0; step < 200; step++ {
			conn := fmt.Sprintf("c%d", rng.Intn(12))
			if rng.Intn(2) == 0 {
				id := identities[rng.Intn(len(identities))]
				if o, ok := owner[conn]; ok && o != id {
					continue
				}
				err := r.Register(ctx, id, conn)
				if dead[conn] {
					require.ErrorIs(t, err, ErrConnectionClosed)
				} else {
					require.NoError(t, err)
				}
				if !dead[conn] {
					if model[id] == nil {
						model[id] = map[string]bool{}
					}
					model[id][conn] = true
					owner[conn] = id
				}
			} else {
				require.NoError(t, r.Deregister(ctx, conn))
				if id, ok := owner[conn]; ok {
					delete(model[id], conn)
				}
				dead[conn] = true
			}

			for _, id := range identities {
				require.Equal(t, len(model[id]) > 0, r.IsOnline(id), "round %d step %d id %s", round, step, id)
			}
		}

		final := st.last()
		for _, id := range identities {
			evs := bc.forUser(id)
			for i, online := range evs {
				require.Equal(t, i%2 == 0, online, "events alternate for %s", id)
			}
			if w, ok := final[id]; ok {
				require.Equal(t, r.IsOnline(id), w.online)
			}
		}
	}
}

func TestRegistry_ConcurrentTransitionsStayOrdered(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	r, st, bc := newTestRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("conn-%d", i)
			for j := 0; j < 20; j++ {
				c := fmt.Sprintf("%s-%d", conn, j)
				_ = r.Register(ctx, "frank", c)
				_ = r.Deregister(ctx, c)
			}
		}(i)
	}
	wg.Wait()

	req.False(r.IsOnline("frank"))
	evs := bc.forUser("frank")
	req.NotEmpty(evs)
	for i, online := range evs {
		req.Equal(i%2 == 0, online)
	}
	req.False(st.last()["frank"].online)
	req.Zero(r.locks.size())
}
