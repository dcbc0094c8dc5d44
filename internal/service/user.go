package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fathima-sithara/realtime-chat/internal/apperr"
	"github.com/fathima-sithara/realtime-chat/internal/domain"
	"github.com/fathima-sithara/realtime-chat/internal/repository"
	"github.com/fathima-sithara/realtime-chat/internal/validate"
)

// OnlineLister is the presence view the user endpoints need.
type OnlineLister interface {
	PresenceChecker
	Online() []string
}

// PresenceReader reads presence another process recorded, such as the Redis
// mirror.
type PresenceReader interface {
	Get(ctx context.Context, userID string) (online bool, lastSeen *time.Time, err error)
}

type UserService struct {
	users    repository.UserRepository
	presence OnlineLister
	fallback PresenceReader
}

type UserOption func(*UserService)

// WithPresenceFallback answers presence reads from r when the store fails.
func WithPresenceFallback(r PresenceReader) UserOption {
	return func(s *UserService) { s.fallback = r }
}

func NewUserService(users repository.UserRepository, presence OnlineLister, opts ...UserOption) *UserService {
	s := &UserService{users: users, presence: presence}
	for _, o := range opts {
		o(s)
	}
	return s
}

type ProfileInput struct {
	FullName string `json:"full_name" validate:"required,max=100"`
	Email    string `json:"email" validate:"omitempty,email"`
	Avatar   string `json:"avatar" validate:"omitempty,url"`
}

func (s *UserService) Me(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return nil, storeErr(err, "user")
	}
	u.IsOnline = s.presence.IsOnline(id)
	return u, nil
}

// List returns every user except the caller.
func (s *UserService) List(ctx context.Context, caller string) ([]*domain.User, error) {
	users, err := s.users.ListUsers(ctx, caller)
	if err != nil {
		return nil, storeErr(err, "users")
	}
	for _, u := range users {
		u.IsOnline = s.presence.IsOnline(u.ID)
	}
	return users, nil
}

// UpdateProfile creates or updates the profile of the authenticated identity.
func (s *UserService) UpdateProfile(ctx context.Context, id string, in ProfileInput) (*domain.User, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.TrimSpace(strings.ToLower(in.Email))
	in.Avatar = strings.TrimSpace(in.Avatar)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	u, err := s.users.UpsertUser(ctx, &domain.User{ID: id, FullName: in.FullName, Email: in.Email, Avatar: in.Avatar})
	if err != nil {
		return nil, storeErr(err, "user")
	}
	u.IsOnline = s.presence.IsOnline(id)
	return u, nil
}

// Presence combines the live flag with the persisted last-seen time.
func (s *UserService) Presence(ctx context.Context, id string) (*domain.Presence, error) {
	p := &domain.Presence{UserID: id, IsOnline: s.presence.IsOnline(id)}
	if p.IsOnline {
		return p, nil
	}
	u, err := s.users.GetUser(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("user not found")
	}
	if err != nil {
		if s.fallback == nil {
			return nil, storeErr(err, "user")
		}
		online, lastSeen, ferr := s.fallback.Get(ctx, id)
		if ferr != nil {
			return nil, storeErr(err, "user")
		}
		p.IsOnline, p.LastSeen = online, lastSeen
		return p, nil
	}
	p.LastSeen = u.LastSeen
	return p, nil
}

// Online lists the identities with at least one live connection here.
func (s *UserService) Online() []string {
	return s.presence.Online()
}
