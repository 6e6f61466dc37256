package repository

import (
	"database/sql"
	"time"

	"github.com/CipherVault/CipherVault/backend/internal/models"
)

type LinkRepository struct {
	db *sql.DB
}

func NewLinkRepository(db *sql.DB) *LinkRepository {
	return &LinkRepository{db: db}
}

func (r *LinkRepository) Create(link *models.ShareableLink) error {
	_, err := r.db.Exec(`
		INSERT INTO shareable_links (id, file_id, created_by, expires_at, view_count_limit, view_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, link.ID, link.FileID, link.CreatedBy, utcOrNil(link.ExpiresAt), link.ViewCountLimit, link.ViewCount, link.CreatedAt.UTC())
	return err
}

// utcOrNil normalizes an optional timestamp to UTC before binding.
// expires_at is stored as TEXT and compared lexicographically, so every
// bound value must carry the same offset.
func utcOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func (r *LinkRepository) GetByID(id string) (*models.ShareableLink, error) {
	link := &models.ShareableLink{}
	err := r.db.QueryRow(`
		SELECT id, file_id, created_by, expires_at, view_count_limit, view_count, created_at
		FROM shareable_links WHERE id = ?
	`, id).Scan(&link.ID, &link.FileID, &link.CreatedBy, &link.ExpiresAt, &link.ViewCountLimit, &link.ViewCount, &link.CreatedAt)
	if err != nil {
		return nil, err
	}
	return link, nil
}

// AdmitAndIncrement atomically checks admission and increments the view
// count in a single conditional update. Returns true if the view was
// admitted. Concurrent requests near the limit cannot both pass: the
// predicate and the increment execute as one statement against the store.
func (r *LinkRepository) AdmitAndIncrement(id string, now time.Time) (bool, error) {
	result, err := r.db.Exec(`
		UPDATE shareable_links SET view_count = view_count + 1
		WHERE id = ?
		AND (expires_at IS NULL OR expires_at > ?)
		AND (view_count_limit = 0 OR view_count < view_count_limit)
	`, id, now.UTC())
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *LinkRepository) GetByFileID(fileID string) ([]*models.ShareableLink, error) {
	rows, err := r.db.Query(`
		SELECT id, file_id, created_by, expires_at, view_count_limit, view_count, created_at
		FROM shareable_links WHERE file_id = ? ORDER BY created_at DESC
	`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*models.ShareableLink
	for rows.Next() {
		link := &models.ShareableLink{}
		if err := rows.Scan(&link.ID, &link.FileID, &link.CreatedBy, &link.ExpiresAt, &link.ViewCountLimit, &link.ViewCount, &link.CreatedAt); err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func (r *LinkRepository) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM shareable_links WHERE id = ?`, id)
	return err
}

// DeleteExpired removes links whose absolute expiry has passed. Called by
// the periodic cleanup job.
func (r *LinkRepository) DeleteExpired(now time.Time) error {
	_, err := r.db.Exec(`DELETE FROM shareable_links WHERE expires_at IS NOT NULL AND expires_at < ?`, now.UTC())
	return err
}
