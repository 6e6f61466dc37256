package repository

import (
	"database/sql"
	"time"
)

// TokenRepository tracks revoked refresh tokens by JTI. Entries live until
// the token's natural expiry, after which the cleanup job drops them.
type TokenRepository struct {
	db *sql.DB
}

func NewTokenRepository(db *sql.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

func (r *TokenRepository) Revoke(jti string, expiresAt time.Time) error {
	_, err := r.db.Exec(`
		INSERT OR IGNORE INTO revoked_tokens (jti, expires_at) VALUES (?, ?)
	`, jti, expiresAt)
	return err
}

func (r *TokenRepository) IsRevoked(jti string) (bool, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM revoked_tokens WHERE jti = ?`, jti).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *TokenRepository) DeleteExpired(now time.Time) error {
	_, err := r.db.Exec(`DELETE FROM revoked_tokens WHERE expires_at < ?`, now)
	return err
}
