package handler

import (
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/CipherVault/CipherVault/backend/internal/repository"
	"github.com/CipherVault/CipherVault/backend/internal/service"
	"github.com/CipherVault/CipherVault/backend/pkg/logger"
	"github.com/CipherVault/CipherVault/backend/pkg/response"
)

const autocompleteLimit = 5

type AuthHandler struct {
	authSvc *service.AuthService
	totpSvc *service.TOTPService
	users   *repository.UserRepository
	secure  bool
}

func NewAuthHandler(authSvc *service.AuthService, totpSvc *service.TOTPService, users *repository.UserRepository, secureCookies bool) *AuthHandler {
	return &AuthHandler{authSvc: authSvc, totpSvc: totpSvc, users: users, secure: secureCookies}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isValidEmail(email string) bool {
	if len(email) > 254 {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}

// setRefreshCookie delivers the refresh token as an HTTP-only cookie so
// it never transits through response bodies or client-side storage.
func (h *AuthHandler) setRefreshCookie(c *fiber.Ctx, token string, expiresAt time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		HTTPOnly: true,
		Secure:   h.secure,
		SameSite: "Strict",
		Path:     "/api/v1/auth",
		Expires:  expiresAt,
	})
}

func (h *AuthHandler) clearRefreshCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		HTTPOnly: true,
		Secure:   h.secure,
		SameSite: "Strict",
		Path:     "/api/v1/auth",
		Expires:  time.Now().Add(-time.Hour),
	})
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type CodeRequest struct {
	Code string `json:"code"`
}

// AuthResponse carries the access token; the refresh token travels only
// in the cookie.
type AuthResponse struct {
	AccessToken string      `json:"access_token"`
	IsVerified  bool        `json:"is_verified"`
	User        interface{} `json:"user,omitempty"`
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	req.Email = normalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" || strings.TrimSpace(req.Name) == "" {
		return response.BadRequest(c, "email, name and password are required")
	}
	if !isValidEmail(req.Email) {
		return response.BadRequest(c, "invalid email format")
	}
	if len(req.Password) > 128 {
		return response.BadRequest(c, "password is too long")
	}

	user, err := h.authSvc.Register(req.Email, req.Name, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmailTaken):
			return response.BadRequest(c, "email is already registered")
		case errors.Is(err, service.ErrWeakPassword):
			return response.BadRequest(c, err.Error())
		default:
			logger.Error().Err(err).Msg("registration failed")
			return response.InternalError(c, "registration failed")
		}
	}

	pair, err := h.authSvc.IssueTokenPair(user, false)
	if err != nil {
		logger.Error().Err(err).Msg("token issue failed after registration")
		return response.InternalError(c, "registration failed")
	}
	h.setRefreshCookie(c, pair.RefreshToken, pair.RefreshExpiresAt)

	logger.Audit("user_registered", user.ID, map[string]string{"email": user.Email})

	return response.Created(c, "registered", AuthResponse{
		AccessToken: pair.AccessToken,
		User:        user,
	})
}

// Login handles POST /auth/login. The session starts unverified; the
// second factor upgrades it.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	req.Email = normalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		return response.BadRequest(c, "email and password are required")
	}
	if len(req.Password) > 128 {
		return response.BadRequest(c, "password is too long")
	}

	user, err := h.authSvc.Login(req.Email, req.Password)
	if err != nil {
		RecordAuthFailure("invalid_credentials")
		logger.Audit("login_failed", "", map[string]string{"ip": c.IP()})
		return response.Unauthorized(c, "invalid credentials")
	}

	pair, err := h.authSvc.IssueTokenPair(user, false)
	if err != nil {
		logger.Error().Err(err).Msg("token issue failed after login")
		return response.InternalError(c, "login failed")
	}
	h.setRefreshCookie(c, pair.RefreshToken, pair.RefreshExpiresAt)

	hasDevice, err := h.totpSvc.HasConfirmedDevice(user.ID)
	if err != nil {
		logger.Warn().Err(err).Str("user_id", user.ID).Msg("device lookup failed at login")
	}

	logger.Audit("login_success", user.ID, map[string]string{"email": user.Email})

	return response.Success(c, fiber.Map{
		"access_token":  pair.AccessToken,
		"is_verified":   false,
		"totp_enrolled": hasDevice,
		"user":          user,
	})
}

// Refresh handles GET /auth/refresh using the cookie-delivered refresh
// token. The rotated pair keeps the verification state of the old one.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Cookies(refreshCookieName))
	if token == "" {
		return response.Unauthorized(c, "missing refresh token")
	}

	pair, err := h.authSvc.Refresh(token)
	if err != nil {
		RecordAuthFailure("invalid_refresh")
		h.clearRefreshCookie(c)
		return response.Unauthorized(c, "invalid or expired refresh token")
	}
	h.setRefreshCookie(c, pair.RefreshToken, pair.RefreshExpiresAt)

	claims, err := h.authSvc.ValidateToken(pair.AccessToken, service.TokenTypeAccess)
	if err != nil {
		return response.InternalError(c, "refresh failed")
	}

	return response.Success(c, AuthResponse{
		AccessToken: pair.AccessToken,
		IsVerified:  claims.IsVerified,
		User:        fiber.Map{"email": claims.Email},
	})
}

// Logout handles GET /auth/logout: the refresh token is blacklisted
// until its natural expiry and the cookie is cleared.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Cookies(refreshCookieName))
	if token != "" {
		if err := h.authSvc.Logout(token); err != nil {
			logger.Error().Err(err).Msg("logout failed")
			return response.InternalError(c, "logout failed")
		}
	}
	h.clearRefreshCookie(c)

	if userID, ok := c.Locals("user_id").(string); ok {
		logger.Audit("logout", userID, nil)
	}
	return response.SuccessWithMessage(c, "logged out", nil)
}

// TOTPSetup handles GET /auth/totp/create.
func (h *AuthHandler) TOTPSetup(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	setup, err := h.totpSvc.Setup(user)
	if err != nil {
		if errors.Is(err, service.ErrTOTPAlreadyVerified) {
			return response.BadRequest(c, "second-factor device is already verified")
		}
		logger.Error().Err(err).Str("user_id", user.ID).Msg("totp setup failed")
		return response.InternalError(c, "could not set up second factor")
	}

	return response.Success(c, fiber.Map{
		"provisioning_uri": setup.ProvisioningURI,
		"secret":           setup.Secret,
	})
}

// TOTPQR handles GET /auth/totp/qr, rendering the provisioning URI as a
// PNG for authenticator apps.
func (h *AuthHandler) TOTPQR(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	uri, err := h.totpSvc.ProvisioningURI(user)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTOTPNotConfigured):
			return response.NotFound(c, "no second-factor device is configured")
		case errors.Is(err, service.ErrTOTPAlreadyVerified):
			return response.BadRequest(c, "second-factor device is already verified")
		default:
			logger.Error().Err(err).Str("user_id", user.ID).Msg("qr generation failed")
			return response.InternalError(c, "could not render QR code")
		}
	}

	png, err := qrcode.Encode(uri, qrcode.Medium, 256)
	if err != nil {
		logger.Error().Err(err).Msg("qr encoding failed")
		return response.InternalError(c, "could not render QR code")
	}

	c.Set("Content-Type", "image/png")
	return c.Send(png)
}

// TOTPVerify handles POST /auth/totp/verify. Success upgrades the
// session to verified and confirms the device if this was its first
// successful check.
func (h *AuthHandler) TOTPVerify(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	var req CodeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	if err := h.totpSvc.VerifyCode(user.ID, strings.TrimSpace(req.Code)); err != nil {
		switch {
		case errors.Is(err, service.ErrTOTPNotConfigured):
			return response.BadRequest(c, "no second-factor device is configured")
		case errors.Is(err, service.ErrInvalidCode):
			RecordAuthFailure("invalid_totp")
			return response.Unauthorized(c, "invalid verification code")
		default:
			logger.Error().Err(err).Str("user_id", user.ID).Msg("totp verification failed")
			return response.InternalError(c, "verification failed")
		}
	}

	return h.issueVerifiedPair(c, user.ID, "totp")
}

// BackupCodes handles POST /auth/backup-codes. The raw codes are
// returned exactly once; only hashes are stored.
func (h *AuthHandler) BackupCodes(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	codes, err := h.totpSvc.GenerateBackupCodes(user.ID)
	if err != nil {
		if errors.Is(err, service.ErrTOTPNotConfigured) {
			return response.BadRequest(c, "a verified second-factor device is required")
		}
		logger.Error().Err(err).Str("user_id", user.ID).Msg("backup code generation failed")
		return response.InternalError(c, "could not generate backup codes")
	}

	logger.Audit("backup_codes_generated", user.ID, nil)

	return response.Success(c, fiber.Map{"backup_codes": codes})
}

// BackupCodeVerify handles POST /auth/backup-codes/verify. A valid code
// counts as a second-factor success and is consumed.
func (h *AuthHandler) BackupCodeVerify(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	var req CodeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	if err := h.totpSvc.VerifyBackupCode(user.ID, strings.TrimSpace(req.Code)); err != nil {
		switch {
		case errors.Is(err, service.ErrBackupCodesExhausted):
			return response.BadRequest(c, "no unused backup codes remain")
		case errors.Is(err, service.ErrInvalidCode):
			RecordAuthFailure("invalid_backup_code")
			return response.Unauthorized(c, "invalid backup code")
		default:
			logger.Error().Err(err).Str("user_id", user.ID).Msg("backup code verification failed")
			return response.InternalError(c, "verification failed")
		}
	}

	return h.issueVerifiedPair(c, user.ID, "backup_code")
}

func (h *AuthHandler) issueVerifiedPair(c *fiber.Ctx, userID, factor string) error {
	user, err := h.users.GetByID(userID)
	if err != nil {
		return response.InternalError(c, "verification failed")
	}

	pair, err := h.authSvc.IssueTokenPair(user, true)
	if err != nil {
		logger.Error().Err(err).Msg("token issue failed after verification")
		return response.InternalError(c, "verification failed")
	}
	h.setRefreshCookie(c, pair.RefreshToken, pair.RefreshExpiresAt)

	logger.Audit("second_factor_verified", user.ID, map[string]string{"factor": factor})

	return response.Success(c, AuthResponse{
		AccessToken: pair.AccessToken,
		IsVerified:  true,
	})
}

// Autocomplete handles GET /users/autocomplete?email= for the share-with
// picker. Admins and the requester are excluded from results.
func (h *AuthHandler) Autocomplete(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	query := strings.TrimSpace(c.Query("email"))
	if query == "" {
		return response.Success(c, []interface{}{})
	}

	matches, err := h.users.SearchByEmail(query, user.ID, autocompleteLimit)
	if err != nil {
		logger.Error().Err(err).Msg("autocomplete search failed")
		return response.InternalError(c, "search failed")
	}

	results := make([]fiber.Map, 0, len(matches))
	for _, match := range matches {
		results = append(results, fiber.Map{"id": match.ID, "email": match.Email, "name": match.Name})
	}
	return response.Success(c, results)
}
