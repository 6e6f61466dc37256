package handler

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gofiber/fiber/v2"

	"github.com/CipherVault/CipherVault/backend/internal/keywrap"
	"github.com/CipherVault/CipherVault/backend/internal/models"
	"github.com/CipherVault/CipherVault/backend/internal/service"
	"github.com/CipherVault/CipherVault/backend/pkg/filecrypt"
	"github.com/CipherVault/CipherVault/backend/pkg/logger"
	"github.com/CipherVault/CipherVault/backend/pkg/response"
	"github.com/CipherVault/CipherVault/backend/pkg/sanitize"
)

type FileHandler struct {
	fileSvc *service.FileService
}

func NewFileHandler(fileSvc *service.FileService) *FileHandler {
	return &FileHandler{fileSvc: fileSvc}
}

// Upload handles POST /files. The blob arrives already encrypted; the
// raw data key rides alongside and is re-wrapped under the master key
// before anything is persisted.
func (h *FileHandler) Upload(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return response.BadRequest(c, "file is required")
	}

	keyBase64 := c.FormValue("encrypted_key")
	if keyBase64 == "" {
		return response.BadRequest(c, "encrypted_key is required")
	}
	dataKey, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return response.BadRequest(c, "encrypted_key must be valid base64")
	}

	fileName := c.FormValue("file_name", fileHeader.Filename)
	if strings.TrimSpace(fileName) == "" {
		return response.BadRequest(c, "file_name is required")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return response.InternalError(c, "failed to read upload")
	}
	defer src.Close()

	blob := make([]byte, fileHeader.Size)
	if _, err := io.ReadFull(src, blob); err != nil {
		return response.InternalError(c, "failed to read upload")
	}

	file, err := h.fileSvc.Upload(c.Context(), user, fileName, dataKey, blob)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidDataKey):
			return response.BadRequest(c, fmt.Sprintf("encrypted_key must decode to %d bytes", filecrypt.KeySize))
		case errors.Is(err, service.ErrInvalidBlob):
			return response.BadRequest(c, "uploaded payload is not a valid encrypted blob")
		case errors.Is(err, keywrap.ErrKeyService):
			RecordKeyServiceFailure()
			logger.Error().Err(err).Msg("key service unavailable during upload")
			return response.BadGateway(c, "key service unavailable")
		default:
			logger.Error().Err(err).Msg("upload failed")
			return response.InternalError(c, "upload failed")
		}
	}

	RecordFileUpload(float64(fileHeader.Size))

	return response.Created(c, "file uploaded", file)
}

// BulkUpload handles POST /files/bulk: several blobs in one multipart
// request, with parallel encrypted_key and file_name fields. Each file
// carries its own data key.
func (h *FileHandler) BulkUpload(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	form, err := c.MultipartForm()
	if err != nil {
		return response.BadRequest(c, "invalid multipart form")
	}

	fileHeaders := form.File["file"]
	keyFields := form.Value["encrypted_key"]
	nameFields := form.Value["file_name"]

	if len(fileHeaders) == 0 {
		return response.BadRequest(c, "at least one file is required")
	}
	if len(fileHeaders) != len(keyFields) || len(fileHeaders) != len(nameFields) {
		return response.BadRequest(c, "number of files, encrypted keys and file names must be equal")
	}

	uploaded := make([]*models.File, 0, len(fileHeaders))
	for i, fileHeader := range fileHeaders {
		dataKey, err := base64.StdEncoding.DecodeString(keyFields[i])
		if err != nil {
			return response.BadRequest(c, "encrypted_key must be valid base64")
		}
		if strings.TrimSpace(nameFields[i]) == "" {
			return response.BadRequest(c, "file_name is required")
		}

		src, err := fileHeader.Open()
		if err != nil {
			return response.InternalError(c, "failed to read upload")
		}
		blob := make([]byte, fileHeader.Size)
		_, err = io.ReadFull(src, blob)
		src.Close()
		if err != nil {
			return response.InternalError(c, "failed to read upload")
		}

		file, err := h.fileSvc.Upload(c.Context(), user, nameFields[i], dataKey, blob)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrInvalidDataKey):
				return response.BadRequest(c, fmt.Sprintf("encrypted_key must decode to %d bytes", filecrypt.KeySize))
			case errors.Is(err, service.ErrInvalidBlob):
				return response.BadRequest(c, "uploaded payload is not a valid encrypted blob")
			case errors.Is(err, keywrap.ErrKeyService):
				RecordKeyServiceFailure()
				logger.Error().Err(err).Msg("key service unavailable during upload")
				return response.BadGateway(c, "key service unavailable")
			default:
				logger.Error().Err(err).Msg("upload failed")
				return response.InternalError(c, "upload failed")
			}
		}

		RecordFileUpload(float64(fileHeader.Size))
		uploaded = append(uploaded, file)
	}

	return response.Created(c, "files uploaded", uploaded)
}

// List handles GET /files with fixed-size pages and an optional
// case-insensitive name filter.
func (h *FileHandler) List(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	page, err := strconv.Atoi(c.Query("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}

	result, err := h.fileSvc.List(user.ID, strings.TrimSpace(c.Query("search")), page)
	if err != nil {
		logger.Error().Err(err).Msg("file listing failed")
		return response.InternalError(c, "failed to list files")
	}

	return response.Success(c, fiber.Map{
		"files":       result.Files,
		"total":       result.Total,
		"page":        result.Page,
		"total_pages": result.TotalPages,
	})
}

// Fetch handles GET /files/:id: the direct (non-link) decrypt path. The
// resolver decides admission; the capability decides the disposition.
func (h *FileHandler) Fetch(c *fiber.Ctx) error {
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

	result, err := h.fileSvc.Open(c.Context(), file, user, false)
	if err != nil {
		return openError(c, err)
	}

	return sendPlaintext(c, result)
}

// Delete handles DELETE /files/:id.
func (h *FileHandler) Delete(c *fiber.Ctx) error {
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

	if err := h.fileSvc.Delete(file, user); err != nil {
		if errors.Is(err, service.ErrAccessDenied) {
			return response.Forbidden(c, "only the owner or an admin may delete a file")
		}
		logger.Error().Err(err).Str("file_id", file.ID).Msg("delete failed")
		return response.InternalError(c, "delete failed")
	}

	return response.SuccessWithMessage(c, "file deleted", nil)
}

type GlobalPermissionRequest struct {
	PermissionType string `json:"permission_type"`
}

// SetGlobal handles PATCH /files/:id/global, changing the permission a
// shareable link falls back to.
func (h *FileHandler) SetGlobal(c *fiber.Ctx) error {
	user, ok := currentUser(c)
	if !ok {
		return response.Unauthorized(c, "authentication required")
	}

	var req GlobalPermissionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	file, err := h.fileSvc.Get(c.Params("id"))
	if err != nil {
		if errors.Is(err, service.ErrFileNotFound) {
			return response.NotFound(c, "file not found")
		}
		return response.InternalError(c, "failed to load file")
	}

	permType := models.PermissionType(strings.TrimSpace(req.PermissionType))
	if err := h.fileSvc.SetGlobalPermission(file, user, permType); err != nil {
		switch {
		case errors.Is(err, service.ErrAccessDenied):
			return response.Forbidden(c, "only the owner may change the global permission")
		case errors.Is(err, service.ErrInvalidGrant):
			return response.BadRequest(c, "permission_type must be read, download or all")
		default:
			logger.Error().Err(err).Msg("global permission update failed")
			return response.InternalError(c, "update failed")
		}
	}

	return response.SuccessWithMessage(c, "global permission updated", nil)
}

// openError maps decrypt-path failures onto the envelope without leaking
// cipher or key-service internals.
func openError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrAccessDenied):
		return response.Forbidden(c, "access denied")
	case errors.Is(err, keywrap.ErrKeyService):
		RecordKeyServiceFailure()
		logger.Error().Err(err).Msg("key service unavailable during fetch")
		return response.BadGateway(c, "key service unavailable")
	case errors.Is(err, filecrypt.ErrDecryption):
		logger.Error().Err(err).Msg("blob failed authentication")
		return response.InternalError(c, "file could not be decrypted")
	default:
		logger.Error().Err(err).Msg("fetch failed")
		return response.InternalError(c, "fetch failed")
	}
}

// sendPlaintext streams decrypted bytes with a disposition decided by
// the capability: read renders images inline; everything else downloads.
func sendPlaintext(c *fiber.Ctx, result *service.OpenResult) error {
	detected := mimetype.Detect(result.Plaintext)
	name := sanitize.ForHeader(result.File.FileName)

	disposition := "attachment"
	if !result.Capability.CanDownload() && strings.HasPrefix(detected.String(), "image/") {
		disposition = "inline"
	}

	c.Set("Content-Type", detected.String())
	c.Set("Content-Disposition", fmt.Sprintf(`%s; filename="%s"`, disposition, name))
	return c.Send(result.Plaintext)
}
