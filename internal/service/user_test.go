package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fathima-sithara/realtime-chat/internal/apperr"
	"github.com/stretchr/testify/require"
)

func TestUserService_ProfileAndList(t *testing.T) {
	req := require.New(t)
	e := newTestEnv(t, "B")
	e.connect(t, "b", "B")

	_, err := e.users.UpdateProfile(e.ctx, "A", ProfileInput{FullName: " "})
	req.Equal(apperr.KindValidation, apperr.KindOf(err))
	for _, email := range []string{"nope", "@", "a@"} {
		_, err = e.users.UpdateProfile(e.ctx, "A", ProfileInput{FullName: "Ann", Email: email})
		req.Equal(apperr.KindValidation, apperr.KindOf(err), email)
	}
	_, err = e.users.UpdateProfile(e.ctx, "A", ProfileInput{FullName: "Ann", Avatar: "not a url"})
	req.Equal(apperr.KindValidation, apperr.KindOf(err))

	me, err := e.users.UpdateProfile(e.ctx, "A", ProfileInput{FullName: " Ann ", Email: "Ann@Example.com"})
	req.NoError(err)
	req.Equal("Ann", me.FullName)
	req.Equal("ann@example.com", me.Email)
	req.False(me.IsOnline)

	others, err := e.users.List(e.ctx, "A")
	req.NoError(err)
	req.Len(others, 1)
	req.Equal("B", others[0].ID)
	req.True(others[0].IsOnline)

	_, err = e.users.Me(e.ctx, "ghost")
	req.Equal(apperr.KindNotFound, apperr.KindOf(err))
}

func TestUserService_Presence(t *testing.T) {
	req := require.New(t)
	e := newTestEnv(t, "A", "B")
	seen := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	req.NoError(e.store.SetPresence(e.ctx, "B", false, &seen))
	e.connect(t, "a", "A")

	p, err := e.users.Presence(e.ctx, "A")
	req.NoError(err)
	req.True(p.IsOnline)
	req.Nil(p.LastSeen)

	p, err = e.users.Presence(e.ctx, "B")
	req.NoError(err)
	req.False(p.IsOnline)
	req.Equal(seen, *p.LastSeen)

	_, err = e.users.Presence(e.ctx, "ghost")
	req.Equal(apperr.KindNotFound, apperr.KindOf(err))
}

type fakeMirror struct {
	online   map[string]bool
	lastSeen map[string]time.Time
}

func (m *fakeMirror) Get(_ context.Context, id string) (bool, *time.Time, error) {
	online, ok := m.online[id]
	if !ok {
		return false, nil, errors.New("not mirrored")
	}
	var seen *time.Time
	if t, ok := m.lastSeen[id]; ok {
		seen = &t
	}
	return online, seen, nil
}

func TestUserService_PresenceFallsBackToMirror(t *testing.T) {
	req := require.New(t)
	e := newTestEnv(t, "B")
	seen := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	mirror := &fakeMirror{
		online:   map[string]bool{"B": false, "C": true},
		lastSeen: map[string]time.Time{"B": seen},
	}

	// Given a store that cannot read users
	store := &flakyStore{MemoryStore: e.store, failGetUser: true}
	users := NewUserService(store, e.presence, WithPresenceFallback(mirror))

	// Then presence comes from the mirror
	p, err := users.Presence(e.ctx, "B")
	req.NoError(err)
	req.False(p.IsOnline)
	req.Equal(seen, *p.LastSeen)

	p, err = users.Presence(e.ctx, "C")
	req.NoError(err)
	req.True(p.IsOnline)
	req.Nil(p.LastSeen)

	// and a user the mirror never saw surfaces the store failure
	_, err = users.Presence(e.ctx, "ghost")
	req.Equal(apperr.KindInternal, apperr.KindOf(err))

	// without a fallback the store failure surfaces directly
	_, err = NewUserService(store, e.presence).Presence(e.ctx, "B")
	req.Equal(apperr.KindInternal, apperr.KindOf(err))
}

func TestUserService_Online(t *testing.T) {
	req := require.New(t)
	e := newTestEnv(t, "A", "B", "C")
	e.connect(t, "c", "C")
	e.connect(t, "a", "A")

	req.Equal([]string{"A", "C"}, e.users.Online())
}
