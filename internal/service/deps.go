package service

import (
	"errors"
	"sync"
	"time"

	"github.com/fathima-sithara/realtime-chat/internal/apperr"
	"github.com/fathima-sithara/realtime-chat/internal/repository"
)

// Publisher is the slice of the hub the services need.
type Publisher interface {
	Publish(room, eventType string, payload interface{}) error
	PublishUsers(userIDs []string, eventType string, payload interface{}) error
	// EvictUser removes every connection of userID from room.
	EvictUser(userID, room string)
	// CloseRoom removes every connection from room.
	CloseRoom(room string)
}

// PresenceChecker answers from the live registry.
type PresenceChecker interface {
	IsOnline(identity string) bool
	AnyOnline(identities []string) bool
}

// Emitter forwards domain events to downstream consumers.
type Emitter interface {
	Emit(name, key string, data interface{})
}

type nopEmitter struct{}

func (nopEmitter) Emit(string, string, interface{}) {}

// Stamper hands out strictly increasing UTC timestamps at millisecond
// resolution, the precision the store keeps. Creation times double as the
// history cursor, so two messages must never share one.
type Stamper struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewStamper(now func() time.Time) *Stamper {
	if now == nil {
		now = time.Now
	}
	return &Stamper{now: now}
}

func (s *Stamper) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now().UTC().Truncate(time.Millisecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Millisecond)
	}
	s.last = t
	return t
}

// storeErr maps repository sentinels to the service error taxonomy.
func storeErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return apperr.NotFound(what + " not found")
	case errors.Is(err, repository.ErrDuplicate):
		return apperr.Conflict(what + " already exists")
	default:
		return apperr.Internal(what, err)
	}
}
