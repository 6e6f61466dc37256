package handler

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/CipherVault/CipherVault/backend/internal/models"
	"github.com/CipherVault/CipherVault/backend/internal/service"
	"github.com/CipherVault/CipherVault/backend/pkg/logger"
	"github.com/CipherVault/CipherVault/backend/pkg/response"
)

// brokenLinkMessage is deliberately opaque: a missing link, a deleted
// file and a mistyped ID all look the same to the caller.
const brokenLinkMessage = "this link is broken or no longer exists"

type ShareHandler struct {
	linkSvc *service.LinkService
	fileSvc *service.FileService
}

func NewShareHandler(linkSvc *service.LinkService, fileSvc *service.FileService) *ShareHandler {
	return &ShareHandler{linkSvc: linkSvc, fileSvc: fileSvc}
}

type CreateLinkRequest struct {
	FileID         string     `json:"file"`
	ExpiresAt      *time.Time `json:"expires_at"`
	ViewCountLimit int        `json:"view_count_limit"`
}

// Create handles POST /shares. Only the file owner or an admin may mint
// links.
func (h *ShareHandler) Create(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	var req CreateLinkRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if req.FileID == "" {
		return response.BadRequest(c, "file is required")
	}

	file, err := h.fileSvc.Get(req.FileID)
	if err != nil {
		if errors.Is(err, service.ErrFileNotFound) {
			return response.NotFound(c, "file not found")
		}
		return response.InternalError(c, "failed to load file")
	}
	if user.ID != file.OwnerID && !user.IsAdmin {
		return response.Forbidden(c, "only the owner or an admin may share a file")
	}

	link, err := h.linkSvc.Create(file, user.ID, req.ExpiresAt, req.ViewCountLimit)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidExpiry):
			return response.BadRequest(c, "expires_at must be in the future")
		case errors.Is(err, service.ErrInvalidLimit):
			return response.BadRequest(c, "view_count_limit must not be negative")
		default:
			logger.Error().Err(err).Msg("link creation failed")
			return response.InternalError(c, "could not create link")
		}
	}

	RecordLinkCreated()
	logger.Audit("link_created", user.ID, map[string]string{
		"file_id": file.ID,
		"link_id": link.ID,
	})

	return response.Created(c, "link created", link)
}

// View handles GET /shares/:id: the link-based decrypt path. Admission
// is checked and counted only after the blob decrypts, so corrupted
// files never burn views; the conditional update keeps concurrent
// requests from over-admitting.
func (h *ShareHandler) View(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	link, err := h.linkSvc.Resolve(c.Params("id"))
	if err != nil {
		if errors.Is(err, service.ErrLinkNotFound) {
			return response.NotFound(c, brokenLinkMessage)
		}
		return response.InternalError(c, "failed to load link")
	}

	if !link.CanBeViewed(time.Now()) {
		return response.BadRequest(c, linkStateMessage(link))
	}

	file, err := h.fileSvc.Get(link.FileID)
	if err != nil {
		if errors.Is(err, service.ErrFileNotFound) {
			return response.NotFound(c, brokenLinkMessage)
		}
		return response.InternalError(c, "failed to load file")
	}

	result, err := h.fileSvc.Open(c.Context(), file, user, true)
	if err != nil {
		if errors.Is(err, service.ErrAccessDenied) {
			return response.Forbidden(c, "access denied")
		}
		return openError(c, err)
	}

	if _, err := h.linkSvc.Admit(link.ID); err != nil {
		switch {
		case errors.Is(err, service.ErrLinkExpired), errors.Is(err, service.ErrLinkExhausted):
			return response.BadRequest(c, linkStateMessage(link))
		case errors.Is(err, service.ErrLinkNotFound):
			return response.NotFound(c, brokenLinkMessage)
		default:
			logger.Error().Err(err).Str("link_id", link.ID).Msg("admission failed")
			return response.InternalError(c, "failed to open link")
		}
	}

	return sendPlaintext(c, result)
}

func linkStateMessage(link *models.ShareableLink) string {
	if link.IsExpired(time.Now()) {
		return "this link has expired"
	}
	return "this link has reached its view limit"
}

// ListByFile handles GET /files/:id/shares.
func (h *ShareHandler) ListByFile(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	file, err := h.fileSvc.Get(c.Params("id"))
	if err != nil {
		if errors.Is(err, service.ErrFileNotFound) {
			return response.NotFound(c, "file not found")
		}
		return response.InternalError(c, "failed to load file")
	}
	if user.ID != file.OwnerID && !user.IsAdmin {
		return response.Forbidden(c, "only the owner or an admin may list links")
	}

	links, err := h.linkSvc.ListByFile(file.ID)
	if err != nil {
		logger.Error().Err(err).Msg("link listing failed")
		return response.InternalError(c, "failed to list links")
	}
	return response.Success(c, links)
}

// Deactivate handles DELETE /shares/:id. The link creator, the file
// owner and admins may remove a link.
func (h *ShareHandler) Deactivate(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	link, err := h.linkSvc.Resolve(c.Params("id"))
	if err != nil {
		if errors.Is(err, service.ErrLinkNotFound) {
			return response.NotFound(c, brokenLinkMessage)
		}
		return response.InternalError(c, "failed to load link")
	}

	file, err := h.fileSvc.Get(link.FileID)
	if err != nil {
		if errors.Is(err, service.ErrFileNotFound) {
			return response.NotFound(c, brokenLinkMessage)
		}
		return response.InternalError(c, "failed to load file")
	}

	if user.ID != link.CreatedBy && user.ID != file.OwnerID && !user.IsAdmin {
		return response.Forbidden(c, "not permitted to remove this link")
	}

	if err := h.linkSvc.Deactivate(link.ID); err != nil {
		if errors.Is(err, service.ErrLinkNotFound) {
			return response.NotFound(c, brokenLinkMessage)
		}
		logger.Error().Err(err).Msg("link removal failed")
		return response.InternalError(c, "could not remove link")
	}

	logger.Audit("link_deactivated", user.ID, map[string]string{"link_id": link.ID})
	return response.SuccessWithMessage(c, "link removed", nil)
}

type GrantRequest struct {
	FileID         string `json:"file"`
	UserEmail      string `json:"user"`
	PermissionType string `json:"permission_type"`
}

type RevokeRequest struct {
	FileID string `json:"file"`
	UserID string `json:"user"`
}

// UpsertPermissions handles PUT /permissions with a batch of grants.
func (h *ShareHandler) UpsertPermissions(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	var reqs []GrantRequest
	if err := c.BodyParser(&reqs); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if len(reqs) == 0 {
		return response.BadRequest(c, "at least one grant is required")
	}

	grants := make([]service.Grant, 0, len(reqs))
	for _, req := range reqs {
		grants = append(grants, service.Grant{
			FileID:         req.FileID,
			UserEmail:      req.UserEmail,
			PermissionType: models.PermissionType(strings.TrimSpace(req.PermissionType)),
		})
	}

	if err := h.fileSvc.UpsertGrants(user, grants); err != nil {
		switch {
		case errors.Is(err, service.ErrFileNotFound):
			return response.NotFound(c, "file not found")
		case errors.Is(err, service.ErrAccessDenied):
			return response.Forbidden(c, "only the owner or an admin may grant permissions")
		case errors.Is(err, service.ErrInvalidGrant):
			return response.BadRequest(c, err.Error())
		default:
			logger.Error().Err(err).Msg("grant upsert failed")
			return response.InternalError(c, "could not apply grants")
		}
	}

	logger.Audit("permissions_granted", user.ID, map[string]string{"count": strconv.Itoa(len(grants))})
	return response.SuccessWithMessage(c, "permissions updated", nil)
}

// RevokePermission handles DELETE /permissions.
func (h *ShareHandler) RevokePermission(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	var req RevokeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if req.FileID == "" || req.UserID == "" {
		return response.BadRequest(c, "file and user are required")
	}

	if err := h.fileSvc.RevokeGrant(user, req.FileID, req.UserID); err != nil {
		switch {
		case errors.Is(err, service.ErrFileNotFound):
			return response.NotFound(c, "file not found")
		case errors.Is(err, service.ErrAccessDenied):
			return response.Forbidden(c, "only the owner or an admin may revoke permissions")
		case errors.Is(err, service.ErrInvalidGrant):
			return response.NotFound(c, "no such grant")
		default:
			logger.Error().Err(err).Msg("grant revocation failed")
			return response.InternalError(c, "could not revoke grant")
		}
	}

	logger.Audit("permission_revoked", user.ID, map[string]string{
		"file_id": req.FileID,
		"user_id": req.UserID,
	})
	return response.SuccessWithMessage(c, "permission revoked", nil)
}

// ListPermissions handles GET /permissions/:file_id.
func (h *ShareHandler) ListPermissions(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	grants, err := h.fileSvc.ListGrants(user, c.Params("file_id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrFileNotFound):
			return response.NotFound(c, "file not found")
		case errors.Is(err, service.ErrAccessDenied):
			return response.Forbidden(c, "only the owner or an admin may list permissions")
		default:
			logger.Error().Err(err).Msg("grant listing failed")
			return response.InternalError(c, "could not list permissions")
		}
	}

	return response.Success(c, grants)
}
