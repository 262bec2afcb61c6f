package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/wedogs/backend/internal/auth"
	"go.uber.org/zap"
)

const (
	CtxSubjectID = "subject_id"
	CtxRole      = "role"
)

func bearer(c *fiber.Ctx) (string, bool) {
	authHeader := c.Get("Authorization")
	tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
	return tokenStr, authHeader != "" && tokenStr != authHeader
}

func AuthMiddleware(secret string, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Get("Authorization") == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenStr, ok := bearer(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		claims, err := auth.ParseJWT(secret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(CtxSubjectID, claims.SubjectID)
		c.Locals(CtxRole, claims.Role)

		return c.Next()
	}
}

// OptionalAuthMiddleware attaches the subject when a valid token is present
// and lets guests through otherwise. A malformed token is still rejected.
func OptionalAuthMiddleware(secret string, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Get("Authorization") == "" {
			return c.Next()
		}
		tokenStr, ok := bearer(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
		}
		claims, err := auth.ParseJWT(secret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}
		c.Locals(CtxSubjectID, claims.SubjectID)
		c.Locals(CtxRole, claims.Role)
		return c.Next()
	}
}

// RequireRole must run after AuthMiddleware.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if GetRole(c) != role {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": role + " access required"})
		}
		return c.Next()
	}
}

// GetSubjectID returns uuid.Nil for guests.
func GetSubjectID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(CtxSubjectID).(uuid.UUID)
	return id
}

func GetRole(c *fiber.Ctx) string {
	role, _ := c.Locals(CtxRole).(string)
	return role
}
