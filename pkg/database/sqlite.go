package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func Initialize(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	// SQLite handles concurrency differently, but we still set reasonable limits
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	const maxPingAttempts = 5
	pingDelay := 200 * time.Millisecond
	var pingErr error
	for attempt := 1; attempt <= maxPingAttempts; attempt++ {
		pingErr = db.Ping()
		if pingErr == nil {
			break
		}
		if attempt < maxPingAttempts {
			time.Sleep(pingDelay)
			if pingDelay < 2*time.Second {
				pingDelay *= 2
			}
		}
	}
	if pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database after %d attempts: %w", maxPingAttempts, pingErr)
	}

	// Enable foreign key enforcement (SQLite has this off by default)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait up to 5 seconds when the database is locked by another writer
	// instead of failing immediately with SQLITE_BUSY.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy_timeout: %w", err)
	}

	return db, nil
}

// InitSchema creates all tables and indexes. Safe to call on every startup
// because every statement uses IF NOT EXISTS.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL COLLATE NOCASE,
			name TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			is_active INTEGER DEFAULT 1,
			is_admin INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS totp_devices (
			id TEXT PRIMARY KEY,
			user_id TEXT UNIQUE NOT NULL,
			secret TEXT NOT NULL,
			confirmed INTEGER DEFAULT 0,
			last_code TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS backup_codes (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			code_hash TEXT NOT NULL,
			is_used INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			file_name TEXT NOT NULL,
			blob_path TEXT NOT NULL,
			wrapped_key TEXT NOT NULL,
			global_permission_type TEXT NOT NULL DEFAULT 'all',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (owner_id) REFERENCES users(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS file_permissions (
			id TEXT PRIMARY KEY,
			file_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			permission_type TEXT NOT NULL DEFAULT 'all',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (file_id, user_id),
			FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS shareable_links (
			id TEXT PRIMARY KEY,
			file_id TEXT NOT NULL,
			created_by TEXT NOT NULL,
			expires_at DATETIME,
			view_count_limit INTEGER DEFAULT 0,
			view_count INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE,
			FOREIGN KEY (created_by) REFERENCES users(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS revoked_tokens (
			jti TEXT PRIMARY KEY,
			expires_at DATETIME NOT NULL,
			revoked_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS rate_limit_counters (
			scope_key TEXT PRIMARY KEY,
			count INTEGER NOT NULL,
			window_end DATETIME NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_files_owner_id ON files(owner_id);
		CREATE INDEX IF NOT EXISTS idx_file_permissions_file_id ON file_permissions(file_id);
		CREATE INDEX IF NOT EXISTS idx_file_permissions_user_id ON file_permissions(user_id);
		CREATE INDEX IF NOT EXISTS idx_shareable_links_file_id ON shareable_links(file_id);
		CREATE INDEX IF NOT EXISTS idx_backup_codes_user_id ON backup_codes(user_id);
		CREATE INDEX IF NOT EXISTS idx_revoked_tokens_expires_at ON revoked_tokens(expires_at);
		CREATE INDEX IF NOT EXISTS idx_rate_limit_counters_window_end ON rate_limit_counters(window_end);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}
