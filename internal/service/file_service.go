package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CipherVault/CipherVault/backend/internal/keywrap"
	"github.com/CipherVault/CipherVault/backend/internal/models"
	"github.com/CipherVault/CipherVault/backend/internal/repository"
	"github.com/CipherVault/CipherVault/backend/pkg/filecrypt"
	"github.com/CipherVault/CipherVault/backend/pkg/logger"
	"github.com/CipherVault/CipherVault/backend/pkg/sanitize"
)

var (
	ErrFileNotFound   = errors.New("file not found")
	ErrInvalidDataKey = errors.New("data key must be 32 bytes")
	ErrInvalidBlob    = errors.New("encrypted payload is malformed")
	ErrInvalidGrant   = errors.New("invalid permission grant")
)

// ListPageSize is the fixed page size for file listings.
const ListPageSize = 10

// FileService handles the encrypted blob lifecycle: upload (re-wrap the
// client's data key under the master key, persist ciphertext), gated
// decryption, listing, deletion and permission management.
type FileService struct {
	files       *repository.FileRepository
	users       *repository.UserRepository
	keys        *keywrap.Service
	access      *AccessService
	storagePath string
}

func NewFileService(files *repository.FileRepository, users *repository.UserRepository, keys *keywrap.Service, access *AccessService, storagePath string) *FileService {
	return &FileService{files: files, users: users, keys: keys, access: access, storagePath: storagePath}
}

// Upload stores a client-encrypted blob. The raw data key arrives with
// the request, is wrapped under the master key and discarded; only the
// wrapped form is persisted. The file record and the implicit owner and
// admin grants are created in one transaction.
func (s *FileService) Upload(ctx context.Context, owner *models.User, fileName string, dataKey, blob []byte) (*models.File, error) {
	if len(dataKey) != filecrypt.KeySize {
		return nil, ErrInvalidDataKey
	}
	if len(blob) < filecrypt.NonceSize+filecrypt.TagSize {
		return nil, ErrInvalidBlob
	}

	wrapped, err := s.keys.Wrap(ctx, dataKey)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.storagePath, 0o700); err != nil {
		return nil, fmt.Errorf("prepare storage: %w", err)
	}

	blobName := uuid.New().String() + ".enc"
	blobPath := filepath.Join(s.storagePath, blobName)
	if err := os.WriteFile(blobPath, blob, 0o600); err != nil {
		return nil, fmt.Errorf("write blob: %w", err)
	}

	admins, err := s.users.GetAdmins()
	if err != nil {
		os.Remove(blobPath)
		return nil, fmt.Errorf("list admins: %w", err)
	}
	adminIDs := make([]string, 0, len(admins))
	for _, admin := range admins {
		adminIDs = append(adminIDs, admin.ID)
	}

	now := time.Now()
	file := &models.File{
		ID:                   uuid.New().String(),
		OwnerID:              owner.ID,
		FileName:             sanitize.Filename(fileName),
		BlobPath:             blobName,
		WrappedKey:           wrapped,
		GlobalPermissionType: models.PermissionRead,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.files.CreateWithGrants(file, adminIDs); err != nil {
		os.Remove(blobPath)
		return nil, fmt.Errorf("create file record: %w", err)
	}

	logger.Audit("file_uploaded", owner.ID, map[string]string{"file_id": file.ID})
	return file, nil
}

// Get looks up a file record by ID.
func (s *FileService) Get(id string) (*models.File, error) {
	file, err := s.files.GetByID(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("look up file: %w", err)
	}
	return file, nil
}

// OpenResult carries a decrypted file and the capability that admitted
// the requester, which decides the response disposition.
type OpenResult struct {
	File       *models.File
	Plaintext  []byte
	Capability models.PermissionType
}

// Open resolves the requester's capability on the file and, if admitted,
// unwraps the data key and decrypts the blob. The unwrapped key is used
// once and discarded.
func (s *FileService) Open(ctx context.Context, file *models.File, requester *models.User, viaLink bool) (*OpenResult, error) {
	capability, err := s.access.Resolve(file, requester, viaLink)
	if err != nil {
		return nil, err
	}

	blob, err := os.ReadFile(filepath.Join(s.storagePath, file.BlobPath))
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}

	dataKey, err := s.keys.Unwrap(ctx, file.WrappedKey)
	if err != nil {
		return nil, err
	}

	plaintext, err := filecrypt.Decrypt(dataKey, blob)
	if err != nil {
		return nil, err
	}

	return &OpenResult{File: file, Plaintext: plaintext, Capability: capability}, nil
}

// ListPage is one page of a user's files.
type ListPage struct {
	Files      []*models.File
	Total      int
	Page       int
	TotalPages int
}

// List returns one page of the owner's files, optionally filtered by a
// case-insensitive name substring.
func (s *FileService) List(ownerID, search string, page int) (*ListPage, error) {
	if page < 1 {
		page = 1
	}

	total, err := s.files.CountByOwner(ownerID, search)
	if err != nil {
		return nil, fmt.Errorf("count files: %w", err)
	}

	files, err := s.files.ListByOwner(ownerID, search, ListPageSize, (page-1)*ListPageSize)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	totalPages := (total + ListPageSize - 1) / ListPageSize
	if totalPages == 0 {
		totalPages = 1
	}
	return &ListPage{Files: files, Total: total, Page: page, TotalPages: totalPages}, nil
}

// Delete removes the file record, its grants and links, and the blob on
// disk. Only the owner or an admin may delete.
func (s *FileService) Delete(file *models.File, requester *models.User) error {
	if requester.ID != file.OwnerID && !requester.IsAdmin {
		return ErrAccessDenied
	}

	if err := s.files.Delete(file.ID); err != nil {
		return fmt.Errorf("delete file record: %w", err)
	}

	// The record is authoritative; a leftover blob is garbage, not a leak
	// of plaintext, so a failed unlink is logged rather than surfaced.
	if err := os.Remove(filepath.Join(s.storagePath, file.BlobPath)); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Str("file_id", file.ID).Msg("failed to remove blob after delete")
	}

	logger.Audit("file_deleted", requester.ID, map[string]string{"file_id": file.ID})
	return nil
}

// SetGlobalPermission changes the file's link-fallback permission.
// Owner only.
func (s *FileService) SetGlobalPermission(file *models.File, requester *models.User, permType models.PermissionType) error {
	if requester.ID != file.OwnerID {
		return ErrAccessDenied
	}
	if !permType.Valid() {
		return ErrInvalidGrant
	}
	return s.files.SetGlobalPermission(file.ID, permType)
}

// Grant is one permission assignment in a bulk upsert request.
type Grant struct {
	FileID         string
	UserEmail      string
	PermissionType models.PermissionType
}

// UpsertGrants applies a batch of permission grants. The actor must be
// the owner or an admin of every named file. Grants targeting the file
// owner are rejected; the owner's capability is implicit and immutable.
func (s *FileService) UpsertGrants(actor *models.User, grants []Grant) error {
	for _, grant := range grants {
		if !grant.PermissionType.Valid() {
			return ErrInvalidGrant
		}

		file, err := s.Get(grant.FileID)
		if err != nil {
			return err
		}
		if actor.ID != file.OwnerID && !actor.IsAdmin {
			return ErrAccessDenied
		}

		target, err := s.users.GetByEmail(strings.TrimSpace(grant.UserEmail))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: no user with email %s", ErrInvalidGrant, grant.UserEmail)
			}
			return fmt.Errorf("look up grantee: %w", err)
		}
		if target.ID == file.OwnerID {
			return fmt.Errorf("%w: cannot modify the owner's permission", ErrInvalidGrant)
		}

		now := time.Now()
		if err := s.files.UpsertPermission(&models.FilePermission{
			ID:             uuid.New().String(),
			FileID:         file.ID,
			UserID:         target.ID,
			PermissionType: grant.PermissionType,
			CreatedAt:      now,
			UpdatedAt:      now,
		}); err != nil {
			return fmt.Errorf("upsert grant: %w", err)
		}
	}
	return nil
}

// RevokeGrant removes a user's grant on a file. Owner or admin only.
func (s *FileService) RevokeGrant(actor *models.User, fileID, userID string) error {
	file, err := s.Get(fileID)
	if err != nil {
		return err
	}
	if actor.ID != file.OwnerID && !actor.IsAdmin {
		return ErrAccessDenied
	}

	removed, err := s.files.DeletePermission(fileID, userID)
	if err != nil {
		return fmt.Errorf("revoke grant: %w", err)
	}
	if !removed {
		return fmt.Errorf("%w: no such grant", ErrInvalidGrant)
	}
	return nil
}

// ListGrants returns the file's explicit grants, hiding the implicit
// owner and admin rows. Owner or admin only.
func (s *FileService) ListGrants(actor *models.User, fileID string) ([]*models.FilePermission, error) {
	file, err := s.Get(fileID)
	if err != nil {
		return nil, err
	}
	if actor.ID != file.OwnerID && !actor.IsAdmin {
		return nil, ErrAccessDenied
	}

	admins, err := s.users.GetAdmins()
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	exclude := make([]string, 0, len(admins)+1)
	exclude = append(exclude, file.OwnerID)
	for _, admin := range admins {
		exclude = append(exclude, admin.ID)
	}

	return s.files.ListPermissionsExcluding(fileID, exclude)
}
