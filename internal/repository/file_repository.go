package repository

import (
	"database/sql"
	"time"

	"github.com/CipherVault/CipherVault/backend/internal/models"
	"github.com/google/uuid"
)

type FileRepository struct {
	db *sql.DB
}

func NewFileRepository(db *sql.DB) *FileRepository {
	return &FileRepository{db: db}
}

const fileColumns = `id, owner_id, file_name, blob_path, wrapped_key, global_permission_type, created_at, updated_at`

func scanFile(row interface{ Scan(...interface{}) error }) (*models.File, error) {
	file := &models.File{}
	err := row.Scan(&file.ID, &file.OwnerID, &file.FileName, &file.BlobPath, &file.WrappedKey, &file.GlobalPermissionType, &file.CreatedAt, &file.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return file, nil
}

// CreateWithGrants inserts the file record together with the implicit
// 'all' permission for the owner and every admin, in one transaction.
// A file row must never exist without these grants.
func (r *FileRepository) CreateWithGrants(file *models.File, adminIDs []string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO files (id, owner_id, file_name, blob_path, wrapped_key, global_permission_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, file.ID, file.OwnerID, file.FileName, file.BlobPath, file.WrappedKey, file.GlobalPermissionType, file.CreatedAt, file.UpdatedAt)
	if err != nil {
		return err
	}

	grantees := map[string]bool{file.OwnerID: true}
	for _, adminID := range adminIDs {
		grantees[adminID] = true
	}

	stmt, err := tx.Prepare(`
		INSERT INTO file_permissions (id, file_id, user_id, permission_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id, user_id) DO UPDATE SET
			permission_type = excluded.permission_type,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for grantee := range grantees {
		if _, err := stmt.Exec(uuid.New().String(), file.ID, grantee, models.PermissionAll, now, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *FileRepository) GetByID(id string) (*models.File, error) {
	return scanFile(r.db.QueryRow(`SELECT `+fileColumns+` FROM files WHERE id = ?`, id))
}

// ListByOwner returns one page of the owner's files, optionally filtered
// by a case-insensitive name substring, newest first.
func (r *FileRepository) ListByOwner(ownerID, search string, limit, offset int) ([]*models.File, error) {
	rows, err := r.db.Query(`
		SELECT `+fileColumns+` FROM files
		WHERE owner_id = ? AND file_name LIKE '%' || ? || '%' COLLATE NOCASE
		ORDER BY created_at DESC, id
		LIMIT ? OFFSET ?
	`, ownerID, search, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []*models.File
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

func (r *FileRepository) CountByOwner(ownerID, search string) (int, error) {
	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM files
		WHERE owner_id = ? AND file_name LIKE '%' || ? || '%' COLLATE NOCASE
	`, ownerID, search).Scan(&count)
	return count, err
}

// Delete removes the file row; permissions and links cascade.
func (r *FileRepository) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM files WHERE id = ?`, id)
	return err
}

func (r *FileRepository) SetGlobalPermission(id string, permissionType models.PermissionType) error {
	_, err := r.db.Exec(`
		UPDATE files SET global_permission_type = ?, updated_at = ? WHERE id = ?
	`, permissionType, time.Now(), id)
	return err
}

// UpsertPermission inserts a (file, user) grant or updates the type of an
// existing one; at most one row per pair.
func (r *FileRepository) UpsertPermission(perm *models.FilePermission) error {
	_, err := r.db.Exec(`
		INSERT INTO file_permissions (id, file_id, user_id, permission_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id, user_id) DO UPDATE SET
			permission_type = excluded.permission_type,
			updated_at = excluded.updated_at
	`, perm.ID, perm.FileID, perm.UserID, perm.PermissionType, perm.CreatedAt, perm.UpdatedAt)
	return err
}

func (r *FileRepository) GetPermission(fileID, userID string) (*models.FilePermission, error) {
	perm := &models.FilePermission{}
	err := r.db.QueryRow(`
		SELECT id, file_id, user_id, permission_type, created_at, updated_at
		FROM file_permissions WHERE file_id = ? AND user_id = ?
	`, fileID, userID).Scan(&perm.ID, &perm.FileID, &perm.UserID, &perm.PermissionType, &perm.CreatedAt, &perm.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return perm, nil
}

// DeletePermission revokes a grant. Returns false if no grant existed.
func (r *FileRepository) DeletePermission(fileID, userID string) (bool, error) {
	result, err := r.db.Exec(`DELETE FROM file_permissions WHERE file_id = ? AND user_id = ?`, fileID, userID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ListPermissionsExcluding returns the file's grants excluding the given
// user IDs (the owner and admins, whose implicit grants are not shown).
func (r *FileRepository) ListPermissionsExcluding(fileID string, excludeIDs []string) ([]*models.FilePermission, error) {
	query := `
		SELECT p.id, p.file_id, p.user_id, p.permission_type, p.created_at, p.updated_at
		FROM file_permissions p
		WHERE p.file_id = ?`
	args := []interface{}{fileID}
	for _, id := range excludeIDs {
		query += ` AND p.user_id != ?`
		args = append(args, id)
	}
	query += ` ORDER BY p.created_at`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []*models.FilePermission
	for rows.Next() {
		perm := &models.FilePermission{}
		if err := rows.Scan(&perm.ID, &perm.FileID, &perm.UserID, &perm.PermissionType, &perm.CreatedAt, &perm.UpdatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// CountExternalPermissions counts grants on the file held by anyone other
// than the excluded users (link creator, file owner, admins). A zero count
// means the file has no fine-grained grants and a shareable link falls
// back to the file's global permission.
func (r *FileRepository) CountExternalPermissions(fileID string, excludeIDs []string) (int, error) {
	query := `SELECT COUNT(*) FROM file_permissions WHERE file_id = ?`
	args := []interface{}{fileID}
	for _, id := range excludeIDs {
		query += ` AND user_id != ?`
		args = append(args, id)
	}

	var count int
	err := r.db.QueryRow(query, args...).Scan(&count)
	return count, err
}
