package api

import (
	"strconv"
	"time"

	"github.com/fathima-sithara/realtime-chat/internal/apperr"
	"github.com/fathima-sithara/realtime-chat/internal/service"
	"github.com/fathima-sithara/realtime-chat/internal/validate"
	"github.com/gofiber/fiber/v2"
)

var errBadPayload = apperr.Validation("invalid payload")

// bind decodes the body into out and checks its validate tags.
func bind(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return errBadPayload
	}
	return validate.Struct(out)
}

func (s *Server) listUsers(c *fiber.Ctx) error {
	ctx, cancel := s.ctx(c)
	defer cancel()
	users, err := s.svc.Users.List(ctx, userID(c))
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusOK, users)
}

func (s *Server) me(c *fiber.Ctx) error {
	ctx, cancel := s.ctx(c)
	defer cancel()
	u, err := s.svc.Users.Me(ctx, userID(c))
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusOK, u)
}

func (s *Server) online(c *fiber.Ctx) error {
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{"user_ids": s.svc.Users.Online()})
}

func (s *Server) updateProfile(c *fiber.Ctx) error {
	var in service.ProfileInput
	if err := c.BodyParser(&in); err != nil {
		return errBadPayload
	}
	ctx, cancel := s.ctx(c)
	defer cancel()
	u, err := s.svc.Users.UpdateProfile(ctx, userID(c), in)
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusOK, u)
}

func (s *Server) presence(c *fiber.Ctx) error {
	ctx, cancel := s.ctx(c)
	defer cancel()
	p, err := s.svc.Users.Presence(ctx, c.Params("id"))
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusOK, p)
}

func (s *Server) createConversation(c *fiber.Ctx) error {
	var in service.CreateConversationInput
	if err := c.BodyParser(&in); err != nil {
		return errBadPayload
	}
	ctx, cancel := s.ctx(c)
	defer cancel()
	conv, created, err := s.svc.Conversations.Create(ctx, userID(c), in)
	if err != nil {
		return err
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return JSONSuccess(c, status, conv)
}

func (s *Server) listConversations(c *fiber.Ctx) error {
	ctx, cancel := s.ctx(c)
	defer cancel()
	list, err := s.svc.Conversations.List(ctx, userID(c))
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusOK, list)
}

func (s *Server) getConversation(c *fiber.Ctx) error {
	ctx, cancel := s.ctx(c)
	defer cancel()
	conv, err := s.svc.Conversations.Get(ctx, c.Params("id"), userID(c))
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusOK, conv)
}

type renameReq struct {
	Name string `json:"name" validate:"required,max=100"`
}

func (s *Server) renameConversation(c *fiber.Ctx) error {
	var req renameReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := s.ctx(c)
	defer cancel()
	conv, err := s.svc.Conversations.Rename(ctx, c.Params("id"), userID(c), req.Name)
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusOK, conv)
}

func (s *Server) deleteConversation(c *fiber.Ctx) error {
	ctx, cancel := s.ctx(c)
	defer cancel()
	if err := s.svc.Conversations.Delete(ctx, c.Params("id"), userID(c)); err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{"conversation_id": c.Params("id")})
}

type addMemberReq struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	UserID         string `json:"user_id" validate:"required"`
}

func (s *Server) addMember(c *fiber.Ctx) error {
	var req addMemberReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := s.ctx(c)
	defer cancel()
	conv, err := s.svc.Conversations.AddMember(ctx, req.ConversationID, userID(c), req.UserID)
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusOK, conv)
}

type updateMemberReq struct {
	ParticipantID string `json:"participant_id" validate:"required"`
}

func (s *Server) updateMember(c *fiber.Ctx) error {
	var req updateMemberReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := s.ctx(c)
	defer cancel()
	conv, err := s.svc.Conversations.UpdateMember(ctx, c.Params("id"), userID(c), req.ParticipantID)
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusOK, conv)
}

func (s *Server) removeMember(c *fiber.Ctx) error {
	ctx, cancel := s.ctx(c)
	defer cancel()
	conv, err := s.svc.Conversations.RemoveMember(ctx, c.Params("id"), userID(c), c.Params("participant_id"))
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusOK, conv)
}

func (s *Server) markSeen(c *fiber.Ctx) error {
	ctx, cancel := s.ctx(c)
	defer cancel()
	n, err := s.svc.Messages.MarkSeen(ctx, c.Params("id"), userID(c))
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{"updated": n})
}

func (s *Server) listMessages(c *fiber.Ctx) error {
	var cursor *time.Time
	if raw := c.Query("cursor"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return apperr.Validation("cursor must be an RFC3339 timestamp")
		}
		cursor = &t
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return apperr.Validation("limit must be a number")
		}
		limit = n
	}
	ctx, cancel := s.ctx(c)
	defer cancel()
	page, err := s.svc.History.Page(ctx, c.Params("id"), userID(c), cursor, limit)
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusOK, page)
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	var in service.SendInput
	if err := c.BodyParser(&in); err != nil {
		return errBadPayload
	}
	ctx, cancel := s.ctx(c)
	defer cancel()
	msg, err := s.svc.Messages.Send(ctx, userID(c), in)
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusCreated, msg)
}

type editReq struct {
	Content string `json:"content" validate:"max=10000"`
}

func (s *Server) editMessage(c *fiber.Ctx) error {
	var req editReq
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx, cancel := s.ctx(c)
	defer cancel()
	msg, err := s.svc.Messages.Edit(ctx, c.Params("id"), userID(c), req.Content)
	if err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusOK, msg)
}

func (s *Server) deleteMessage(c *fiber.Ctx) error {
	ctx, cancel := s.ctx(c)
	defer cancel()
	if err := s.svc.Messages.Delete(ctx, c.Params("id"), userID(c)); err != nil {
		return err
	}
	return JSONSuccess(c, fiber.StatusOK, fiber.Map{"message_id": c.Params("id")})
}
