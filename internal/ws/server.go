package ws

import (
	"context"

	"github.com/fathima-sithara/realtime-chat/internal/auth"
	"github.com/fathima-sithara/realtime-chat/internal/config"
	"github.com/fathima-sithara/realtime-chat/internal/hub"
	"github.com/fathima-sithara/realtime-chat/internal/metrics"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Deregisterer releases a connection from the presence registry.
type Deregisterer interface {
	Deregister(ctx context.Context, connID string) error
}

// Server accepts websocket upgrades and runs one Client per connection.
type Server struct {
	hub         *hub.Hub
	presence    Deregisterer
	router      *Router
	jv          *auth.Validator
	requireAuth bool
	opts        clientOptions
	metrics     *metrics.Metrics
	log         *zap.SugaredLogger
}

func NewServer(h *hub.Hub, p Deregisterer, router *Router, jv *auth.Validator, cfg *config.Config, m *metrics.Metrics, log *zap.SugaredLogger) *Server {
	return &Server{
		hub:         h,
		presence:    p,
		router:      router,
		jv:          jv,
		requireAuth: cfg.JWT.Required,
		opts: clientOptions{
			pingInterval: cfg.PingInterval,
			writeWait:    cfg.WriteDeadline,
			readLimit:    cfg.WS.MaxMessageSizeBytes,
			sendBuffer:   cfg.WS.SendBuffer,
			ratePerSec:   cfg.WS.RatePerSecond,
		},
		metrics: m,
		log:     log,
	}
}

// Upgrade only lets websocket upgrades through. A token from the query or
// the Authorization header binds the connection to its subject.
func (s *Server) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	token := c.Query("token")
	if token == "" {
		token, _ = auth.ParseBearerToken(c.Get(fiber.HeaderAuthorization))
	}
	if token == "" {
		if s.requireAuth {
			return fiber.NewError(fiber.StatusUnauthorized, "missing token")
		}
		return c.Next()
	}
	sub, err := s.jv.Validate(token)
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
	}
	c.Locals("user_id", sub)
	return c.Next()
}

func (s *Server) Handler() fiber.Handler {
	return websocket.New(s.serve)
}

func (s *Server) serve(conn *websocket.Conn) {
	client := newClient(uuid.NewString(), conn, s.opts, s.metrics, s.log)
	ctx := context.Background()

	s.hub.Add(client)
	defer func() {
		client.close()
		s.hub.Remove(client.ID())
		if err := s.presence.Deregister(ctx, client.ID()); err != nil {
			s.log.Errorw("presence transition", "conn", client.ID(), "err", err)
		}
		s.log.Debugw("connection closed", "conn", client.ID())
	}()

	if uid, ok := conn.Locals("user_id").(string); ok && uid != "" {
		if err := s.router.Bind(ctx, client.ID(), uid); err != nil {
			s.log.Warnw("bind connection", "conn", client.ID(), "user", uid, "err", err)
			return
		}
	}
	s.log.Debugw("connection opened", "conn", client.ID())

	go client.writePump()
	client.readPump(func(frame []byte) {
		s.router.Handle(ctx, client.ID(), frame)
	})
}
