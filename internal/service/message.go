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

// MessageService owns the message lifecycle. REST handlers and live events
// both go through it so the two paths cannot drift apart.
type MessageService struct {
	convs    repository.ConversationRepository
	msgs     repository.MessageRepository
	pub      Publisher
	presence PresenceChecker
	emit     Emitter
	stamp    *Stamper
	log      *zap.SugaredLogger
}

func NewMessageService(store repository.Store, pub Publisher, presence PresenceChecker, emit Emitter, stamp *Stamper, log *zap.SugaredLogger) *MessageService {
	if emit == nil {
		emit = nopEmitter{}
	}
	return &MessageService{convs: store, msgs: store, pub: pub, presence: presence, emit: emit, stamp: stamp, log: log}
}

type SendInput struct {
	ConversationID string             `json:"conversation_id" validate:"required"`
	Content        string             `json:"content" validate:"required_if=Kind text,max=10000"`
	Kind           domain.MessageKind `json:"type" validate:"oneof=text image file"`
}

// Send stores a new message and publishes receive-message to the
// conversation room. The message starts as delivered when another
// participant is online, sent otherwise.
func (s *MessageService) Send(ctx context.Context, sender string, in SendInput) (*domain.Message, error) {
	if in.Kind == "" {
		in.Kind = domain.KindText
	}
	in.Content = strings.TrimSpace(in.Content)
	if err := validate.Struct(in); err != nil {
		return nil, err
	}

	conv, err := s.convs.GetConversation(ctx, in.ConversationID)
	if err != nil {
		return nil, storeErr(err, "conversation")
	}
	if !conv.HasParticipant(sender) {
		return nil, apperr.Forbidden("not a participant of this conversation")
	}

	status := domain.StatusSent
	if s.presence != nil && s.presence.AnyOnline(conv.Others(sender)) {
		status = domain.StatusDelivered
	}
	now := s.stamp.Next()
	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Sender:         sender,
		Content:        in.Content,
		Kind:           in.Kind,
		Status:         status,
		SeenBy:         []string{sender},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.msgs.InsertMessage(ctx, msg); err != nil {
		return nil, storeErr(err, "message")
	}
	if err := s.convs.SetLastMessage(ctx, conv.ID, &msg.ID, now); err != nil {
		s.log.Errorw("set last message", "conversation", conv.ID, "message", msg.ID, "err", err)
	}

	payload := domain.ReceiveMessagePayload{ConversationID: conv.ID, Message: msg}
	if err := s.pub.Publish(hub.ConversationRoom(conv.ID), domain.EventReceiveMessage, payload); err != nil {
		s.log.Warnw("publish", "event", domain.EventReceiveMessage, "err", err)
	}
	s.emit.Emit(events.MessageSent, conv.ID, payload)
	return msg, nil
}

// MarkSeen records that viewer has seen every message of the conversation
// sent by someone else. Repeating it changes nothing. It returns how many
// messages were newly marked.
func (s *MessageService) MarkSeen(ctx context.Context, conversationID, viewer string) (int64, error) {
	if conversationID == "" {
		return 0, apperr.Validation("conversation_id required")
	}
	conv, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, storeErr(err, "conversation")
	}
	if !conv.HasParticipant(viewer) {
		return 0, apperr.Forbidden("not a participant of this conversation")
	}
	n, err := s.msgs.MarkSeen(ctx, conv.ID, viewer, conv.Participants)
	if err != nil {
		return 0, storeErr(err, "messages")
	}

	if n == 0 {
		return 0, nil
	}

	payload := domain.SeenPayload{ConversationID: conv.ID, UserID: viewer}
	if err := s.pub.Publish(hub.ConversationRoom(conv.ID), domain.EventMessageSeenUpdate, payload); err != nil {
		s.log.Warnw("publish", "event", domain.EventMessageSeenUpdate, "err", err)
	}
	s.emit.Emit(events.MessageSeen, conv.ID, payload)
	return n, nil
}

// Edit replaces the content of a message. Only the sender may edit, and only
// until every participant has seen it.
func (s *MessageService) Edit(ctx context.Context, messageID, editor, content string) (*domain.Message, error) {
	msg, err := s.msgs.GetMessage(ctx, messageID)
	if err != nil {
		return nil, storeErr(err, "message")
	}
	if msg.Sender != editor {
		return nil, apperr.Forbidden("only the sender can edit this message")
	}
	content = strings.TrimSpace(content)
	if msg.Kind == domain.KindText && content == "" {
		return nil, apperr.Validation("content required")
	}
	conv, err := s.convs.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, storeErr(err, "conversation")
	}
	if msg.Status == domain.StatusSeen || msg.SeenByAll(conv.Participants) {
		return nil, apperr.Conflict("message already seen by everyone")
	}

	updated, err := s.msgs.EditMessage(ctx, messageID, content, s.stamp.Next())
	if errors.Is(err, repository.ErrAlreadySeen) {
		return nil, apperr.Conflict("message already seen by everyone")
	}
	if err != nil {
		return nil, storeErr(err, "message")
	}

	payload := domain.MessageUpdatedPayload{
		ConversationID: conv.ID,
		MessageID:      updated.ID,
		Content:        updated.Content,
		IsEdited:       updated.IsEdited,
	}
	if err := s.pub.PublishUsers(conv.Others(editor), domain.EventMessageUpdated, payload); err != nil {
		s.log.Warnw("publish", "event", domain.EventMessageUpdated, "err", err)
	}
	s.emit.Emit(events.MessageEdited, conv.ID, payload)
	return updated, nil
}

// Delete removes a message. When it was the conversation's last message the
// pointer moves to the newest remaining one.
func (s *MessageService) Delete(ctx context.Context, messageID, requester string) error {
	msg, err := s.msgs.GetMessage(ctx, messageID)
	if err != nil {
		return storeErr(err, "message")
	}
	if msg.Sender != requester {
		return apperr.Forbidden("only the sender can delete this message")
	}
	if err := s.msgs.DeleteMessage(ctx, messageID); err != nil {
		return storeErr(err, "message")
	}

	conv, err := s.convs.GetConversation(ctx, msg.ConversationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return storeErr(err, "conversation")
	}
	if conv.LastMessageID != nil && *conv.LastMessageID == messageID {
		s.recomputeLastMessage(ctx, conv)
	}

	payload := domain.MessageDeletedPayload{ConversationID: conv.ID, MessageID: messageID}
	if err := s.pub.PublishUsers(conv.Others(requester), domain.EventMessageDeleted, payload); err != nil {
		s.log.Warnw("publish", "event", domain.EventMessageDeleted, "err", err)
	}
	s.emit.Emit(events.MessageDeleted, conv.ID, payload)
	return nil
}

func (s *MessageService) recomputeLastMessage(ctx context.Context, conv *domain.Conversation) {
	var next *string
	latest, err := s.msgs.LatestMessage(ctx, conv.ID)
	switch {
	case err == nil:
		next = &latest.ID
	case !errors.Is(err, repository.ErrNotFound):
		s.log.Errorw("find latest message", "conversation", conv.ID, "err", err)
		return
	}
	if err := s.convs.SetLastMessage(ctx, conv.ID, next, conv.UpdatedAt); err != nil {
		s.log.Errorw("reset last message", "conversation", conv.ID, "err", err)
	}
}
