package repository

import (
	"database/sql"

	"github.com/CipherVault/CipherVault/backend/internal/models"
)

// TOTPRepository persists second-factor devices and backup codes.
type TOTPRepository struct {
	db *sql.DB
}

func NewTOTPRepository(db *sql.DB) *TOTPRepository {
	return &TOTPRepository{db: db}
}

func (r *TOTPRepository) CreateDevice(device *models.TOTPDevice) error {
	var confirmed int
	if device.Confirmed {
		confirmed = 1
	}
	_, err := r.db.Exec(`
		INSERT INTO totp_devices (id, user_id, secret, confirmed, last_code, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, device.ID, device.UserID, device.Secret, confirmed, device.LastCode, device.CreatedAt)
	return err
}

// GetDeviceByUserID returns the user's device, or sql.ErrNoRows if none
// exists. The schema enforces at most one device per user.
func (r *TOTPRepository) GetDeviceByUserID(userID string) (*models.TOTPDevice, error) {
	device := &models.TOTPDevice{}
	var confirmed int
	err := r.db.QueryRow(`
		SELECT id, user_id, secret, confirmed, last_code, created_at
		FROM totp_devices WHERE user_id = ?
	`, userID).Scan(&device.ID, &device.UserID, &device.Secret, &confirmed, &device.LastCode, &device.CreatedAt)
	if err != nil {
		return nil, err
	}
	device.Confirmed = confirmed == 1
	return device, nil
}

// ConfirmDevice marks a device confirmed and records the accepted code so
// an immediate replay of the same code is rejected.
func (r *TOTPRepository) ConfirmDevice(id, lastCode string) error {
	_, err := r.db.Exec(`UPDATE totp_devices SET confirmed = 1, last_code = ? WHERE id = ?`, lastCode, id)
	return err
}

// RecordLastCode stores the most recently accepted code for replay
// rejection within the same time window.
func (r *TOTPRepository) RecordLastCode(id, lastCode string) error {
	_, err := r.db.Exec(`UPDATE totp_devices SET last_code = ? WHERE id = ?`, lastCode, id)
	return err
}

func (r *TOTPRepository) CreateBackupCodes(codes []*models.BackupCode) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO backup_codes (id, user_id, code_hash, is_used, created_at)
		VALUES (?, ?, ?, 0, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, code := range codes {
		if _, err := stmt.Exec(code.ID, code.UserID, code.CodeHash, code.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// DeleteUnusedBackupCodes removes the user's remaining unused codes, so a
// regeneration replaces the old batch instead of accumulating.
func (r *TOTPRepository) DeleteUnusedBackupCodes(userID string) error {
	_, err := r.db.Exec(`DELETE FROM backup_codes WHERE user_id = ? AND is_used = 0`, userID)
	return err
}

func (r *TOTPRepository) GetUnusedBackupCodes(userID string) ([]*models.BackupCode, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, code_hash, is_used, created_at
		FROM backup_codes WHERE user_id = ? AND is_used = 0
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []*models.BackupCode
	for rows.Next() {
		code := &models.BackupCode{}
		var isUsed int
		if err := rows.Scan(&code.ID, &code.UserID, &code.CodeHash, &isUsed, &code.CreatedAt); err != nil {
			return nil, err
		}
		code.IsUsed = isUsed == 1
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// MarkBackupCodeUsed flips is_used only if the code is currently unused.
// The conditional update makes consumption atomic: two concurrent
// submissions of the same code cannot both succeed.
func (r *TOTPRepository) MarkBackupCodeUsed(id string) (bool, error) {
	result, err := r.db.Exec(`UPDATE backup_codes SET is_used = 1 WHERE id = ? AND is_used = 0`, id)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
