package service

import (
	"context"
	"errors"
	"strings"

	"github.com/fathima-sithara/realtime-chat/internal/apperr"
	"github.com/fathima-sithara/realtime-chat/internal/domain"
	"github.com/fathima-sithara/realtime-chat/internal/events"
	"github.com/fathima-sithara/realtime-chat/internal/hub"
	"github.com/fathima-sithara/realtime-chat/internal/repository"
	"github.com/fathima-sithara/realtime-chat/internal/validate"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ConversationService struct {
	convs repository.ConversationRepository
	msgs  repository.MessageRepository
	users repository.UserRepository
	pub   Publisher
	emit  Emitter
	stamp *Stamper
	log   *zap.SugaredLogger
}

func NewConversationService(store repository.Store, pub Publisher, emit Emitter, stamp *Stamper, log *zap.SugaredLogger) *ConversationService {
	if emit == nil {
		emit = nopEmitter{}
	}
	return &ConversationService{convs: store, msgs: store, users: store, pub: pub, emit: emit, stamp: stamp, log: log}
}

type CreateConversationInput struct {
	Type         domain.ConversationType `json:"type" validate:"required,oneof=direct group"`
	Participants []string                `json:"participants" validate:"required,min=1"`
	Name         string                  `json:"name" validate:"max=100"`
}

// Create opens a conversation for creator. Direct conversations are unique
// per unordered pair: asking again returns the existing one with created=false.
func (s *ConversationService) Create(ctx context.Context, creator string, in CreateConversationInput) (*domain.Conversation, bool, error) {
	if err := validate.Struct(in); err != nil {
		return nil, false, err
	}
	others := dedupe(in.Participants, creator)
	if len(others) == 0 {
		return nil, false, apperr.Validation("participants required")
	}
	if in.Type == domain.ConversationDirect && len(others) != 1 {
		return nil, false, apperr.Validation("a direct conversation has exactly one other participant")
	}
	for _, id := range others {
		if _, err := s.users.GetUser(ctx, id); err != nil {
			return nil, false, storeErr(err, "user "+id)
		}
	}

	now := s.stamp.Next()
	conv := &domain.Conversation{
		ID:           uuid.NewString(),
		Type:         in.Type,
		Participants: append([]string{creator}, others...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if in.Type == domain.ConversationDirect {
		conv.PairKey = domain.PairKey(creator, others[0])
		existing, err := s.convs.FindDirect(ctx, conv.PairKey)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, false, storeErr(err, "conversation")
		}
	} else {
		conv.Name = strings.TrimSpace(in.Name)
		conv.Admin = creator
	}

	if err := s.convs.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, repository.ErrDuplicate) && conv.PairKey != "" {
			// lost a race with a concurrent create for the same pair
			existing, ferr := s.convs.FindDirect(ctx, conv.PairKey)
			if ferr != nil {
				return nil, false, storeErr(ferr, "conversation")
			}
			return existing, false, nil
		}
		return nil, false, storeErr(err, "conversation")
	}

	s.publish(conv.Participants, domain.EventConversationCreated, conv)
	s.emit.Emit(events.ConversationCreated, conv.ID, conv)
	return conv, true, nil
}

// List returns the conversations of viewer with last message and unread count.
func (s *ConversationService) List(ctx context.Context, viewer string) ([]*domain.ConversationView, error) {
	convs, err := s.convs.ListConversations(ctx, viewer)
	if err != nil {
		return nil, storeErr(err, "conversations")
	}
	out := make([]*domain.ConversationView, 0, len(convs))
	for _, c := range convs {
		v := &domain.ConversationView{Conversation: c}
		if c.LastMessageID != nil {
			m, err := s.msgs.GetMessage(ctx, *c.LastMessageID)
			switch {
			case err == nil:
				v.LastMessage = m
			case !errors.Is(err, repository.ErrNotFound):
				return nil, storeErr(err, "message")
			}
		}
		if v.UnreadCount, err = s.msgs.CountUnread(ctx, c.ID, viewer); err != nil {
			return nil, storeErr(err, "unread count")
		}
		out = append(out, v)
	}
	return out, nil
}

// Get returns the conversation when userID participates in it.
func (s *ConversationService) Get(ctx context.Context, id, userID string) (*domain.Conversation, error) {
	conv, err := s.convs.GetConversation(ctx, id)
	if err != nil {
		return nil, storeErr(err, "conversation")
	}
	if !conv.HasParticipant(userID) {
		return nil, apperr.Forbidden("not a participant of this conversation")
	}
	return conv, nil
}

// groupForAdmin loads a group conversation and checks actor is its admin.
func (s *ConversationService) groupForAdmin(ctx context.Context, id, actor string) (*domain.Conversation, error) {
	conv, err := s.convs.GetConversation(ctx, id)
	if err != nil {
		return nil, storeErr(err, "conversation")
	}
	if !conv.IsGroup() {
		return nil, apperr.Validation("operation only allowed on group conversations")
	}
	if conv.Admin != actor {
		return nil, apperr.Forbidden("only the group admin can do this")
	}
	return conv, nil
}

func (s *ConversationService) AddMember(ctx context.Context, id, actor, userID string) (*domain.Conversation, error) {
	if userID == "" {
		return nil, apperr.Validation("user id required")
	}
	conv, err := s.groupForAdmin(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if conv.HasParticipant(userID) {
		return nil, apperr.Conflict("user is already a participant")
	}
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return nil, storeErr(err, "user")
	}
	updated, err := s.convs.AddParticipant(ctx, id, userID)
	if err != nil {
		return nil, storeErr(err, "conversation")
	}
	s.publish(updated.Participants, domain.EventConversationUpdated, updated)
	s.emit.Emit(events.ConversationUpdated, updated.ID, updated)
	return updated, nil
}

// UpdateMember is the PATCH form of AddMember.
func (s *ConversationService) UpdateMember(ctx context.Context, id, actor, participantID string) (*domain.Conversation, error) {
	return s.AddMember(ctx, id, actor, participantID)
}

// RemoveMember takes userID out of a group. The admin can never be removed
// this way.
func (s *ConversationService) RemoveMember(ctx context.Context, id, actor, userID string) (*domain.Conversation, error) {
	conv, err := s.groupForAdmin(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if userID == conv.Admin {
		return nil, apperr.Validation("the group admin cannot be removed")
	}
	if !conv.HasParticipant(userID) {
		return nil, apperr.NotFound("user is not a participant")
	}
	if len(conv.Participants) <= 2 {
		return nil, apperr.Validation("a group needs at least two participants")
	}
	updated, err := s.convs.RemoveParticipant(ctx, id, userID)
	if err != nil {
		return nil, storeErr(err, "conversation")
	}
	s.pub.EvictUser(userID, hub.ConversationRoom(id))
	s.publish(append(updated.Participants, userID), domain.EventConversationUpdated, updated)
	s.emit.Emit(events.ConversationUpdated, updated.ID, updated)
	return updated, nil
}

func (s *ConversationService) Rename(ctx context.Context, id, actor, name string) (*domain.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("name required")
	}
	if _, err := s.groupForAdmin(ctx, id, actor); err != nil {
		return nil, err
	}
	updated, err := s.convs.RenameConversation(ctx, id, name)
	if err != nil {
		return nil, storeErr(err, "conversation")
	}
	s.publish(updated.Participants, domain.EventConversationUpdated, updated)
	s.emit.Emit(events.ConversationUpdated, updated.ID, updated)
	return updated, nil
}

// Delete removes a conversation and its messages. Groups can only be deleted
// by their admin, direct conversations by either participant.
func (s *ConversationService) Delete(ctx context.Context, id, actor string) error {
	conv, err := s.convs.GetConversation(ctx, id)
	if err != nil {
		return storeErr(err, "conversation")
	}
	if conv.IsGroup() && conv.Admin != actor {
		return apperr.Forbidden("only the group admin can delete the group")
	}
	if !conv.HasParticipant(actor) {
		return apperr.Forbidden("not a participant of this conversation")
	}
	// conversation first: a failed delete must leave its history intact
	if err := s.convs.DeleteConversation(ctx, id); err != nil {
		return storeErr(err, "conversation")
	}
	n, err := s.msgs.DeleteConversationMessages(ctx, id)
	if err != nil {
		s.log.Errorw("delete conversation messages", "conversation", id, "err", err)
	}
	s.log.Infow("conversation deleted", "conversation", id, "by", actor, "messages", n)

	payload := domain.ConversationDeletedPayload{ConversationID: id}
	s.pub.CloseRoom(hub.ConversationRoom(id))
	s.publish(conv.Participants, domain.EventConversationDeleted, payload)
	s.emit.Emit(events.ConversationDeleted, id, payload)
	return nil
}

func (s *ConversationService) publish(userIDs []string, eventType string, payload interface{}) {
	if err := s.pub.PublishUsers(userIDs, eventType, payload); err != nil {
		s.log.Warnw("publish", "event", eventType, "err", err)
	}
}

// dedupe drops blanks, duplicates and exclude, keeping first-seen order.
func dedupe(ids []string, exclude string) []string {
	seen := map[string]struct{}{exclude: {}}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
