package service

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/CipherVault/CipherVault/backend/internal/models"
	"github.com/CipherVault/CipherVault/backend/internal/repository"
)

// ErrAccessDenied reports that the requester holds no capability on the
// file. Handlers map it to a 403 without detail.
var ErrAccessDenied = errors.New("access denied")

// AccessService resolves the capability a requester holds on a file.
type AccessService struct {
	files *repository.FileRepository
	users *repository.UserRepository
}

func NewAccessService(files *repository.FileRepository, users *repository.UserRepository) *AccessService {
	return &AccessService{files: files, users: users}
}

// Resolve walks permission precedence and returns the granted capability:
//
//  1. file owner or admin: all
//  2. explicit (file, requester) grant: the grant's type
//  3. via a shareable link, when the file has no fine-grained grants
//     beyond owner and admins: the file's global permission
//  4. otherwise denied
//
// viaLink reports whether the request arrived through a shareable link
// that has already passed admission.
func (s *AccessService) Resolve(file *models.File, requester *models.User, viaLink bool) (models.PermissionType, error) {
	if requester.ID == file.OwnerID || requester.IsAdmin {
		return models.PermissionAll, nil
	}

	perm, err := s.files.GetPermission(file.ID, requester.ID)
	if err == nil {
		return perm.PermissionType, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("look up permission: %w", err)
	}

	if viaLink {
		open, err := s.globalPermissionApplies(file)
		if err != nil {
			return "", err
		}
		if open {
			return file.GlobalPermissionType, nil
		}
	}

	return "", ErrAccessDenied
}

// globalPermissionApplies reports whether link access falls back to the
// file's global permission. It does so only while nobody outside the
// owner and the admins holds a fine-grained grant: the first explicit
// share closes the file to anonymous-style link access.
func (s *AccessService) globalPermissionApplies(file *models.File) (bool, error) {
	admins, err := s.users.GetAdmins()
	if err != nil {
		return false, fmt.Errorf("list admins: %w", err)
	}

	exclude := make([]string, 0, len(admins)+1)
	exclude = append(exclude, file.OwnerID)
	for _, admin := range admins {
		exclude = append(exclude, admin.ID)
	}

	count, err := s.files.CountExternalPermissions(file.ID, exclude)
	if err != nil {
		return false, fmt.Errorf("count grants: %w", err)
	}
	return count == 0, nil
}
