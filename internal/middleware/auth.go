package middleware

import (
	"strings"

	"github.com/expo-payments/backend/internal/auth"
	"github.com/expo-payments/backend/internal/config"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	CtxUserID      = "user_id"
	CtxUniversalID = "universal_id"
)

func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return reject(c, fiber.StatusUnauthorized, "missing authorization header")
		}

		scheme, tokenStr, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tokenStr) == "" {
			return reject(c, fiber.StatusUnauthorized, "invalid authorization format")
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, strings.TrimSpace(tokenStr))
		if err != nil {
			log.Debug("jwt parse error", zap.String("request_id", GetRequestID(c)), zap.Error(err))
			return reject(c, fiber.StatusUnauthorized, "invalid or expired token")
		}

		c.Locals(CtxUserID, claims.UserID)
		c.Locals(CtxUniversalID, claims.UniversalID)

		return c.Next()
	}
}

func GetUserID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(CtxUserID).(uuid.UUID)
	return id
}

func GetUniversalID(c *fiber.Ctx) string {
	id, _ := c.Locals(CtxUniversalID).(string)
	return id
}

// reject writes the common error envelope.
func reject(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg, "request_id": GetRequestID(c)})
}
