package repository

import (
	"database/sql"

	"github.com/CipherVault/CipherVault/backend/internal/models"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, name, password_hash, is_active, is_admin, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	user := &models.User{}
	var isActive, isAdmin int
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &isActive, &isAdmin, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	user.IsActive = isActive == 1
	user.IsAdmin = isAdmin == 1
	return user, nil
}

func (r *UserRepository) Create(user *models.User) error {
	var isActive, isAdmin int
	if user.IsActive {
		isActive = 1
	}
	if user.IsAdmin {
		isAdmin = 1
	}
	_, err := r.db.Exec(`
		INSERT INTO users (id, email, name, password_hash, is_active, is_admin, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, user.ID, user.Email, user.Name, user.PasswordHash, isActive, isAdmin, user.CreatedAt, user.UpdatedAt)
	return err
}

func (r *UserRepository) GetByID(id string) (*models.User, error) {
	return scanUser(r.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// GetByEmail looks up a user by email. The email column is declared
// COLLATE NOCASE so lookups are case-insensitive.
func (r *UserRepository) GetByEmail(email string) (*models.User, error) {
	return scanUser(r.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

// GetAdmins returns every admin user. Used for the implicit all-permission
// grant at file creation.
func (r *UserRepository) GetAdmins() ([]*models.User, error) {
	rows, err := r.db.Query(`SELECT ` + userColumns + ` FROM users WHERE is_admin = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// SearchByEmail returns up to limit non-admin users whose email contains
// the query, excluding the requesting user. Backs the share-with
// autocomplete.
func (r *UserRepository) SearchByEmail(query, excludeUserID string, limit int) ([]*models.User, error) {
	rows, err := r.db.Query(`
		SELECT `+userColumns+` FROM users
		WHERE is_admin = 0 AND id != ? AND email LIKE '%' || ? || '%'
		ORDER BY email LIMIT ?
	`, excludeUserID, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}
