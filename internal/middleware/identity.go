package middleware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/smartlms/submission-core/internal/utils"
)

// Caller roles recognised by the core. Authentication itself happens at the
// gateway; this service only trusts the identity headers it injects.
const (
	RoleStudent  = "student"
	RoleLecturer = "lecturer"
	RoleAdmin    = "admin"
)

// CallerIdentity extracts the gateway-injected caller identity headers and
// binds them to the request locals. No ambient auth state lives in the core.
func CallerIdentity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if raw := strings.TrimSpace(c.Get("X-User-ID")); raw != "" {
			if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
				c.Locals("user_id", uint(id))
			}
		}
		if role := strings.ToLower(strings.TrimSpace(c.Get("X-User-Role"))); role != "" {
			c.Locals("user_role", role)
		}
		return c.Next()
	}
}

// RequireRole guards a route group: the caller must be identified and carry
// one of the allowed roles.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[strings.ToLower(role)] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		userID, _ := c.Locals("user_id").(uint)
		if userID == 0 {
			return utils.SendErrorCode(c, fiber.StatusUnauthorized, utils.CodeUnauthenticated, "caller identity required")
		}

		if len(allowed) == 0 {
			return c.Next()
		}

		role, _ := c.Locals("user_role").(string)
		if _, ok := allowed[role]; !ok {
			return utils.SendErrorCode(c, fiber.StatusForbidden, utils.CodeForbidden, "insufficient permissions")
		}

		return c.Next()
	}
}
