package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/CipherVault/CipherVault/backend/internal/keywrap"
	"github.com/CipherVault/CipherVault/backend/internal/models"
	"github.com/CipherVault/CipherVault/backend/internal/repository"
	"github.com/CipherVault/CipherVault/backend/pkg/filecrypt"
	"github.com/CipherVault/CipherVault/backend/pkg/testutil"
)

// stubOracle wraps keys with a recognizable prefix instead of calling a
// real key-management service.
type stubOracle struct{}

func (stubOracle) Encrypt(_ context.Context, _ string, plaintext []byte) ([]byte, error) {
	return append([]byte("wrapped:"), plaintext...), nil
}

func (stubOracle) Decrypt(_ context.Context, blob []byte) ([]byte, error) {
	if !bytes.HasPrefix(blob, []byte("wrapped:")) {
		return nil, errors.New("not a wrapped key")
	}
	return blob[len("wrapped:"):], nil
}

type fileFixture struct {
	svc      *FileService
	users    *repository.UserRepository
	owner    *models.User
	admin    *models.User
	stranger *models.User
	storage  string
}

func newFileFixture(t *testing.T) (*fileFixture, func()) {
	t.Helper()
	db, cfg, cleanup := testutil.SetupTest(t)

	users := repository.NewUserRepository(db)
	files := repository.NewFileRepository(db)
	keys := keywrap.NewService(stubOracle{}, "test-key-id")
	access := NewAccessService(files, users)

	f := &fileFixture{
		svc:      NewFileService(files, users, keys, access, cfg.StoragePath),
		users:    users,
		owner:    seedUser(t, users, "owner@example.com", false),
		admin:    seedUser(t, users, "admin@example.com", true),
		stranger: seedUser(t, users, "stranger@example.com", false),
		storage:  cfg.StoragePath,
	}
	return f, cleanup
}

func encryptTestBlob(t *testing.T, plaintext []byte) (dataKey, blob []byte) {
	t.Helper()
	dataKey = make([]byte, filecrypt.KeySize)
	nonce := make([]byte, filecrypt.NonceSize)
	if _, err := rand.Read(dataKey); err != nil {
		t.Fatalf("random key: %v", err)
	}
	if _, err := rand.Read(nonce); err != nil {
		t.Fatalf("random nonce: %v", err)
	}
	blob, err := filecrypt.Encrypt(dataKey, nonce, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	return dataKey, blob
}

func TestFileService_UploadAndOpen(t *testing.T) {
	f, cleanup := newFileFixture(t)
	defer cleanup()

	plaintext := []byte("top secret contents")
	dataKey, blob := encryptTestBlob(t, plaintext)

	file, err := f.svc.Upload(context.Background(), f.owner, "secret.txt", dataKey, blob)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if file.WrappedKey == string(dataKey) {
		t.Error("wrapped key equals raw data key")
	}

	stored, err := os.ReadFile(filepath.Join(f.storage, file.BlobPath))
	if err != nil {
		t.Fatalf("read stored blob: %v", err)
	}
	if !bytes.Equal(stored, blob) {
		t.Error("stored blob differs from upload")
	}
	if bytes.Contains(stored, plaintext) {
		t.Error("stored blob contains plaintext")
	}

	result, err := f.svc.Open(context.Background(), file, f.owner, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(result.Plaintext, plaintext) {
		t.Error("decrypted contents differ from original")
	}
	if result.Capability != models.PermissionAll {
		t.Errorf("owner capability = %s, want all", result.Capability)
	}

	if _, err := f.svc.Open(context.Background(), file, f.stranger, false); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("stranger open err = %v, want ErrAccessDenied", err)
	}
}

func TestFileService_UploadValidation(t *testing.T) {
	f, cleanup := newFileFixture(t)
	defer cleanup()

	_, blob := encryptTestBlob(t, []byte("data"))

	if _, err := f.svc.Upload(context.Background(), f.owner, "a.txt", []byte("short-key"), blob); !errors.Is(err, ErrInvalidDataKey) {
		t.Errorf("short key err = %v, want ErrInvalidDataKey", err)
	}

	dataKey := make([]byte, filecrypt.KeySize)
	if _, err := f.svc.Upload(context.Background(), f.owner, "a.txt", dataKey, []byte("tiny")); !errors.Is(err, ErrInvalidBlob) {
		t.Errorf("short blob err = %v, want ErrInvalidBlob", err)
	}
}

func TestFileService_OpenFailsClosedOnTamperedBlob(t *testing.T) {
	f, cleanup := newFileFixture(t)
	defer cleanup()

	dataKey, blob := encryptTestBlob(t, []byte("contents"))
	file, err := f.svc.Upload(context.Background(), f.owner, "a.txt", dataKey, blob)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	path := filepath.Join(f.storage, file.BlobPath)
	tampered := make([]byte, len(blob))
	copy(tampered, blob)
	tampered[len(tampered)-1] ^= 0x01
	if err := os.WriteFile(path, tampered, 0o600); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	if _, err := f.svc.Open(context.Background(), file, f.owner, false); !errors.Is(err, filecrypt.ErrDecryption) {
		t.Errorf("tampered open err = %v, want ErrDecryption", err)
	}
}

func TestFileService_DeleteRemovesBlobAndRecord(t *testing.T) {
	f, cleanup := newFileFixture(t)
	defer cleanup()

	dataKey, blob := encryptTestBlob(t, []byte("contents"))
	file, err := f.svc.Upload(context.Background(), f.owner, "a.txt", dataKey, blob)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if err := f.svc.Delete(file, f.stranger); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("stranger delete err = %v, want ErrAccessDenied", err)
	}

	if err := f.svc.Delete(file, f.owner); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.Get(file.ID); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("get after delete err = %v, want ErrFileNotFound", err)
	}
	if _, err := os.Stat(filepath.Join(f.storage, file.BlobPath)); !os.IsNotExist(err) {
		t.Error("blob survived delete")
	}
}

func TestFileService_ListPagination(t *testing.T) {
	f, cleanup := newFileFixture(t)
	defer cleanup()

	for i := 0; i < ListPageSize+3; i++ {
		dataKey, blob := encryptTestBlob(t, []byte("contents"))
		if _, err := f.svc.Upload(context.Background(), f.owner, fmt.Sprintf("file-%02d.txt", i), dataKey, blob); err != nil {
			t.Fatalf("upload %d: %v", i, err)
		}
	}

	page, err := f.svc.List(f.owner.ID, "", 1)
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if len(page.Files) != ListPageSize {
		t.Errorf("page 1 size = %d, want %d", len(page.Files), ListPageSize)
	}
	if page.Total != ListPageSize+3 || page.TotalPages != 2 {
		t.Errorf("total = %d, pages = %d; want %d and 2", page.Total, page.TotalPages, ListPageSize+3)
	}

	page, err = f.svc.List(f.owner.ID, "", 2)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page.Files) != 3 {
		t.Errorf("page 2 size = %d, want 3", len(page.Files))
	}
}

func TestFileService_GrantManagement(t *testing.T) {
	f, cleanup := newFileFixture(t)
	defer cleanup()

	dataKey, blob := encryptTestBlob(t, []byte("contents"))
	file, err := f.svc.Upload(context.Background(), f.owner, "a.txt", dataKey, blob)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	grant := []Grant{{FileID: file.ID, UserEmail: f.stranger.Email, PermissionType: models.PermissionRead}}

	if err := f.svc.UpsertGrants(f.stranger, grant); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("non-owner grant err = %v, want ErrAccessDenied", err)
	}
	if err := f.svc.UpsertGrants(f.owner, grant); err != nil {
		t.Fatalf("grant: %v", err)
	}

	grants, err := f.svc.ListGrants(f.owner, file.ID)
	if err != nil {
		t.Fatalf("list grants: %v", err)
	}
	if len(grants) != 1 || grants[0].UserID != f.stranger.ID {
		t.Fatalf("grants = %+v, want single grant for stranger", grants)
	}

	ownerGrant := []Grant{{FileID: file.ID, UserEmail: f.owner.Email, PermissionType: models.PermissionRead}}
	if err := f.svc.UpsertGrants(f.owner, ownerGrant); !errors.Is(err, ErrInvalidGrant) {
		t.Errorf("granting the owner err = %v, want ErrInvalidGrant", err)
	}

	unknown := []Grant{{FileID: file.ID, UserEmail: "ghost@example.com", PermissionType: models.PermissionRead}}
	if err := f.svc.UpsertGrants(f.owner, unknown); !errors.Is(err, ErrInvalidGrant) {
		t.Errorf("unknown grantee err = %v, want ErrInvalidGrant", err)
	}

	if err := f.svc.RevokeGrant(f.owner, file.ID, f.stranger.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := f.svc.RevokeGrant(f.owner, file.ID, f.stranger.ID); !errors.Is(err, ErrInvalidGrant) {
		t.Errorf("repeat revoke err = %v, want ErrInvalidGrant", err)
	}
}

func TestFileService_SetGlobalPermission(t *testing.T) {
	f, cleanup := newFileFixture(t)
	defer cleanup()

	dataKey, blob := encryptTestBlob(t, []byte("contents"))
	file, err := f.svc.Upload(context.Background(), f.owner, "a.txt", dataKey, blob)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	// Global permission is owner-only; even admins may not change it.
	if err := f.svc.SetGlobalPermission(file, f.admin, models.PermissionAll); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("admin set err = %v, want ErrAccessDenied", err)
	}
	if err := f.svc.SetGlobalPermission(file, f.owner, "sideways"); !errors.Is(err, ErrInvalidGrant) {
		t.Errorf("bad type err = %v, want ErrInvalidGrant", err)
	}
	if err := f.svc.SetGlobalPermission(file, f.owner, models.PermissionAll); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := f.svc.Get(file.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.GlobalPermissionType != models.PermissionAll {
		t.Errorf("global type = %s, want all", got.GlobalPermissionType)
	}
}
