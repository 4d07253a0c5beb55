package middlewares

import (
	"strings"

	"github.com/corpusworks/corpus/internal/domain"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

// UserIDKey is the fiber locals key the authenticated user id is stored
// under.
const UserIDKey = "userID"

// APIKeyProvider resolves a workspace-scoped static API key to the user it
// acts as. This is the alternative credential for workflow-driven calls
// that carry no browser session.
type APIKeyProvider interface {
	ResolveAPIKey(key string) (userID string, ok bool)
}

// SessionMiddleware authenticates every request with either a session
// bearer token or a workspace API key and stores the resolved user id in
// the request locals.
func SessionMiddleware(sessions domain.SessionStore, apiKeys APIKeyProvider) fiber.Handler {
	return func(c fiber.Ctx) error {
		if apiKey := c.Get("X-API-Key"); apiKey != "" && apiKeys != nil {
			if userID, ok := apiKeys.ResolveAPIKey(apiKey); ok {
				c.Locals(UserIDKey, userID)
				return c.Next()
			}

			log.Warn().Str("path", c.Path()).Msg("Rejected request with unknown API key")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid API key",
			})
		}

		token := sessionToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		session, err := sessions.GetSession(c.RequestCtx(), token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired session",
			})
		}

		c.Locals(UserIDKey, session.UserID)

		return c.Next()
	}
}

func sessionToken(c fiber.Ctx) string {
	if header := c.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}

	return c.Get("X-Session-Token")
}

// UserID returns the authenticated user id set by SessionMiddleware.
func UserID(c fiber.Ctx) string {
	userID, _ := c.Locals(UserIDKey).(string)
	return userID
}
