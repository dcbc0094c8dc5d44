package api

import (
	"errors"

	"github.com/fathima-sithara/realtime-chat/internal/apperr"
	"github.com/fathima-sithara/realtime-chat/internal/auth"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const localUserID = "user_id"

// JWTAuthMiddleware requires a bearer token and stores its subject under
// the user_id local.
func JWTAuthMiddleware(jv *auth.Validator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := auth.ParseBearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return JSONError(c, fiber.StatusUnauthorized, "missing auth")
		}
		sub, err := jv.Validate(token)
		if err != nil {
			return JSONError(c, fiber.StatusUnauthorized, "invalid token")
		}
		c.Locals(localUserID, sub)
		return c.Next()
	}
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

// ErrorHandler renders handler errors with the status of their kind.
// Internal causes are logged and hidden from the caller.
func ErrorHandler(log *zap.SugaredLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return JSONError(c, fe.Code, fe.Message)
		}
		status := apperr.HTTPStatus(err)
		if status >= fiber.StatusInternalServerError {
			log.Errorw("request failed", "method", c.Method(), "path", c.Path(), "err", err)
		}
		return JSONError(c, status, apperr.Message(err))
	}
}
