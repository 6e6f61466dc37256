package models

import "time"

// PermissionType is the capability granted for a (file, user) pair.
type PermissionType string

const (
	PermissionRead     PermissionType = "read"
	PermissionDownload PermissionType = "download"
	PermissionAll      PermissionType = "all"
)

// Valid reports whether the value is one of the known permission types.
func (p PermissionType) Valid() bool {
	switch p {
	case PermissionRead, PermissionDownload, PermissionAll:
		return true
	}
	return false
}

// CanDownload reports whether this capability allows a byte stream with
// attachment disposition.
func (p PermissionType) CanDownload() bool {
	return p == PermissionDownload || p == PermissionAll
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TOTPDevice holds a user's one-time-password device. A device starts
// unconfirmed and transitions to confirmed on the first successful code
// check; it is never destroyed by verification failures.
type TOTPDevice struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Secret    string    `json:"-"`
	Confirmed bool      `json:"confirmed"`
	LastCode  string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// BackupCode is a single-use second-factor fallback. Only the hash is
// stored; the raw code is returned to the user exactly once at
// provisioning time.
type BackupCode struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CodeHash  string    `json:"-"`
	IsUsed    bool      `json:"is_used"`
	CreatedAt time.Time `json:"created_at"`
}

type File struct {
	ID                   string         `json:"id"`
	OwnerID              string         `json:"owner_id"`
	FileName             string         `json:"file_name"`
	BlobPath             string         `json:"-"`
	WrappedKey           string         `json:"-"`
	GlobalPermissionType PermissionType `json:"global_permission_type"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

type FilePermission struct {
	ID             string         `json:"id"`
	FileID         string         `json:"file_id"`
	UserID         string         `json:"user_id"`
	PermissionType PermissionType `json:"permission_type"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ShareableLink grants link-based access to a file. Immutable except for
// ViewCount. A ViewCountLimit of zero means unlimited views.
type ShareableLink struct {
	ID             string     `json:"id"`
	FileID         string     `json:"file_id"`
	CreatedBy      string     `json:"created_by"`
	ExpiresAt      *time.Time `json:"expires_at"`
	ViewCountLimit int        `json:"view_count_limit"`
	ViewCount      int        `json:"view_count"`
	CreatedAt      time.Time  `json:"created_at"`
}

// IsExpired reports whether the link's absolute expiry has passed.
func (l *ShareableLink) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// CanBeViewed reports whether the link admits another view based on
// expiry and the view-count limit.
func (l *ShareableLink) CanBeViewed(now time.Time) bool {
	if l.IsExpired(now) {
		return false
	}
	if l.ViewCountLimit != 0 && l.ViewCount >= l.ViewCountLimit {
		return false
	}
	return true
}
