package repository

import (
	"testing"
	"time"

	"github.com/CipherVault/CipherVault/backend/pkg/testutil"
)

func TestTokenRepository_RevokeAndCheck(t *testing.T) {
	db, _, cleanup := testutil.SetupTest(t)
	defer cleanup()

	repo := NewTokenRepository(db)

	revoked, err := repo.IsRevoked("jti-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if revoked {
		t.Error("unknown jti reported revoked")
	}

	expiry := time.Now().Add(time.Hour)
	if err := repo.Revoke("jti-1", expiry); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	// Revoking the same token again is a no-op, not an error.
	if err := repo.Revoke("jti-1", expiry); err != nil {
		t.Fatalf("repeat revoke: %v", err)
	}

	revoked, err = repo.IsRevoked("jti-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !revoked {
		t.Error("revoked jti not reported revoked")
	}
}

func TestTokenRepository_DeleteExpired(t *testing.T) {
	db, _, cleanup := testutil.SetupTest(t)
	defer cleanup()

	repo := NewTokenRepository(db)

	if err := repo.Revoke("stale", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("revoke stale: %v", err)
	}
	if err := repo.Revoke("fresh", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("revoke fresh: %v", err)
	}

	if err := repo.DeleteExpired(time.Now()); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	revoked, err := repo.IsRevoked("stale")
	if err != nil {
		t.Fatalf("check stale: %v", err)
	}
	if revoked {
		t.Error("stale entry survived cleanup")
	}

	revoked, err = repo.IsRevoked("fresh")
	if err != nil {
		t.Fatalf("check fresh: %v", err)
	}
	if !revoked {
		t.Error("fresh entry removed by cleanup")
	}
}
