package api

import (
	"context"
	"net/http"
	"time"

	"github.com/fathima-sithara/realtime-chat/internal/auth"
	"github.com/fathima-sithara/realtime-chat/internal/cache"
	"github.com/fathima-sithara/realtime-chat/internal/service"
	"github.com/fathima-sithara/realtime-chat/internal/ws"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

type Services struct {
	Users         *service.UserService
	Conversations *service.ConversationService
	Messages      *service.MessageService
	History       *service.HistoryService
}

// Options carries the optional collaborators of the HTTP server. A nil
// Limiter, Metrics or WS leaves the matching route or middleware out.
type Options struct {
	Validator      *auth.Validator
	Limiter        *cache.RateLimiter
	Metrics        http.Handler
	WS             *ws.Server
	RequestTimeout time.Duration
	AccessLog      bool
	// CORSOrigins is handed to the cors middleware; empty disables it.
	CORSOrigins string
	// Connections, when set, adds the live socket count to /health.
	Connections ConnectionCounter
}

type ConnectionCounter interface {
	ConnectionCount() int
}

type Server struct {
	svc     Services
	timeout time.Duration
	log     *zap.SugaredLogger
}

func NewServer(svc Services, opts Options, log *zap.SugaredLogger) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          ErrorHandler(log),
		DisableStartupMessage: true,
	})
	s := &Server{svc: svc, timeout: opts.RequestTimeout, log: log}

	app.Use(recover.New())
	if opts.AccessLog {
		app.Use(logger.New())
	}
	if opts.CORSOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins:     opts.CORSOrigins,
			AllowMethods:     "GET,POST,PUT,PATCH,DELETE,OPTIONS",
			AllowHeaders:     "Content-Type, Authorization",
			AllowCredentials: opts.CORSOrigins != "*",
		}))
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		body := fiber.Map{"status": "ok", "online_users": len(svc.Users.Online())}
		if opts.Connections != nil {
			body["connections"] = opts.Connections.ConnectionCount()
		}
		return c.JSON(body)
	})
	if opts.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics))
	}
	// registered ahead of the group so the socket authenticates itself
	if opts.WS != nil {
		app.Get("/v1/ws", opts.WS.Upgrade, opts.WS.Handler())
	}

	api := app.Group("/v1")
	api.Use(JWTAuthMiddleware(opts.Validator))
	if opts.Limiter != nil {
		api.Use(opts.Limiter.Middleware(userID))
	}

	api.Get("/users", s.listUsers)
	api.Get("/users/me", s.me)
	api.Get("/users/online", s.online)
	api.Put("/users/me", s.updateProfile)
	api.Get("/users/:id/presence", s.presence)

	api.Post("/conversations", s.createConversation)
	api.Get("/conversations", s.listConversations)
	api.Post("/conversations/members", s.addMember)
	api.Get("/conversations/:id", s.getConversation)
	api.Patch("/conversations/:id", s.renameConversation)
	api.Delete("/conversations/:id", s.deleteConversation)
	api.Patch("/conversations/:id/members", s.updateMember)
	api.Delete("/conversations/:id/members/:participant_id", s.removeMember)
	api.Post("/conversations/:id/seen", s.markSeen)
	api.Get("/conversations/:id/messages", s.listMessages)

	api.Post("/messages", s.sendMessage)
	api.Patch("/messages/:id", s.editMessage)
	api.Delete("/messages/:id", s.deleteMessage)

	return app
}

// ctx bounds a handler's store work by the configured request timeout.
func (s *Server) ctx(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(c.UserContext())
	}
	return context.WithTimeout(c.UserContext(), s.timeout)
}
