package handler

import (
	"crypto/subtle"
	"database/sql"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/CipherVault/CipherVault/backend/internal/models"
	"github.com/CipherVault/CipherVault/backend/internal/repository"
	"github.com/CipherVault/CipherVault/backend/internal/service"
	"github.com/CipherVault/CipherVault/backend/pkg/response"
)

const refreshCookieName = "refresh_token"

// SecurityHeadersMiddleware adds security-related headers to all responses
func SecurityHeadersMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Prevent MIME type sniffing
		c.Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		c.Set("X-Frame-Options", "DENY")

		// Control referrer information
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// Content Security Policy - restrictive for API
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Decrypted file contents must never land in shared caches
		c.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
		c.Set("Pragma", "no-cache")

		return c.Next()
	}
}

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set("X-Request-ID", requestID)
		c.Locals("request_id", requestID)

		return c.Next()
	}
}

// RequireAuth validates the access token and loads the requesting user
// into the request context. Any malformed header, missing token, or
// validation failure evaluates to 401; nothing in here panics or leaks
// parse errors to the client.
func RequireAuth(authSvc *service.AuthService, users *repository.UserRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		if authHeader == "" {
			return response.Unauthorized(c, "missing authorization token")
		}
		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
			return response.Unauthorized(c, "invalid authorization header format")
		}

		claims, err := authSvc.ValidateToken(parts[1], service.TokenTypeAccess)
		if err != nil {
			RecordAuthFailure("invalid_token")
			return response.Unauthorized(c, "invalid or expired token")
		}

		user, err := users.GetByID(claims.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				RecordAuthFailure("user_not_found")
				return response.Unauthorized(c, "invalid or expired token")
			}
			return response.InternalError(c, "authentication failed")
		}
		if !user.IsActive {
			RecordAuthFailure("user_inactive")
			return response.Unauthorized(c, "account is inactive")
		}

		c.Locals("user", user)
		c.Locals("user_id", user.ID)
		c.Locals("is_verified", claims.IsVerified)

		return c.Next()
	}
}

// RequireVerified rejects sessions that have not passed the second
// factor. Must be chained after RequireAuth.
func RequireVerified() fiber.Handler {
	return func(c *fiber.Ctx) error {
		verified, ok := c.Locals("is_verified").(bool)
		if !ok {
			return response.Unauthorized(c, "authentication required")
		}
		if !verified {
			RecordAuthFailure("unverified_session")
			return response.Forbidden(c, "second-factor verification required")
		}
		return c.Next()
	}
}

// currentUser returns the user loaded by RequireAuth.
func currentUser(c *fiber.Ctx) (*models.User, bool) {
	user, ok := c.Locals("user").(*models.User)
	return user, ok && user != nil
}

// BearerTokenMiddleware guards an endpoint with a static bearer token.
// Used for the metrics endpoint in production.
func BearerTokenMiddleware(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := strings.TrimSpace(c.Get("Authorization"))
		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return response.Unauthorized(c, "authentication required")
		}
		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(token)) != 1 {
			return response.Unauthorized(c, "authentication required")
		}
		return c.Next()
	}
}

// BodyLimitMiddleware enforces a per-route body size limit.
func BodyLimitMiddleware(maxBytes int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(c.Body()) > maxBytes {
			return response.Error(c, fiber.StatusRequestEntityTooLarge, "request body too large")
		}
		return c.Next()
	}
}
