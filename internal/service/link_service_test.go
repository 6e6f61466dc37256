package service

import (
	"errors"
	"testing"
	"time"

	"github.com/CipherVault/CipherVault/backend/internal/repository"
)

func TestLinkService_CreateValidation(t *testing.T) {
	f, cleanup := newAccessFixture(t)
	defer cleanup()

	svc := NewLinkService(repository.NewLinkRepository(f.db))

	past := time.Now().Add(-time.Minute)
	if _, err := svc.Create(f.file, f.owner.ID, &past, 0); !errors.Is(err, ErrInvalidExpiry) {
		t.Errorf("past expiry err = %v, want ErrInvalidExpiry", err)
	}
	if _, err := svc.Create(f.file, f.owner.ID, nil, -1); !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("negative limit err = %v, want ErrInvalidLimit", err)
	}

	link, err := svc.Create(f.file, f.owner.ID, nil, 5)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if link.ViewCount != 0 {
		t.Errorf("new link view_count = %d, want 0", link.ViewCount)
	}
}

func TestLinkService_AdmitDistinguishesExpiryAndExhaustion(t *testing.T) {
	f, cleanup := newAccessFixture(t)
	defer cleanup()

	svc := NewLinkService(repository.NewLinkRepository(f.db))

	limited, err := svc.Create(f.file, f.owner.ID, nil, 1)
	if err != nil {
		t.Fatalf("create limited: %v", err)
	}
	if _, err := svc.Admit(limited.ID); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	if _, err := svc.Admit(limited.ID); !errors.Is(err, ErrLinkExhausted) {
		t.Errorf("exhausted admit err = %v, want ErrLinkExhausted", err)
	}

	future := time.Now().Add(time.Minute)
	expiring, err := svc.Create(f.file, f.owner.ID, &future, 0)
	if err != nil {
		t.Fatalf("create expiring: %v", err)
	}
	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := svc.Admit(expiring.ID); !errors.Is(err, ErrLinkExpired) {
		t.Errorf("expired admit err = %v, want ErrLinkExpired", err)
	}
	svc.now = time.Now

	if _, err := svc.Admit("no-such-link"); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("unknown link err = %v, want ErrLinkNotFound", err)
	}
}

func TestLinkService_Deactivate(t *testing.T) {
	f, cleanup := newAccessFixture(t)
	defer cleanup()

	svc := NewLinkService(repository.NewLinkRepository(f.db))

	link, err := svc.Create(f.file, f.owner.ID, nil, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Deactivate(link.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := svc.Resolve(link.ID); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("resolve after deactivate err = %v, want ErrLinkNotFound", err)
	}
	if err := svc.Deactivate(link.ID); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("repeat deactivate err = %v, want ErrLinkNotFound", err)
	}
}

func TestLinkService_PurgeExpired(t *testing.T) {
	f, cleanup := newAccessFixture(t)
	defer cleanup()

	svc := NewLinkService(repository.NewLinkRepository(f.db))

	soon := time.Now().Add(time.Second)
	doomed, err := svc.Create(f.file, f.owner.ID, &soon, 0)
	if err != nil {
		t.Fatalf("create doomed: %v", err)
	}
	eternal, err := svc.Create(f.file, f.owner.ID, nil, 0)
	if err != nil {
		t.Fatalf("create eternal: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	if err := svc.PurgeExpired(); err != nil {
		t.Fatalf("purge: %v", err)
	}
	svc.now = time.Now

	if _, err := svc.Resolve(doomed.ID); !errors.Is(err, ErrLinkNotFound) {
		t.Errorf("doomed link survived purge: %v", err)
	}
	if _, err := svc.Resolve(eternal.ID); err != nil {
		t.Errorf("eternal link removed by purge: %v", err)
	}
}
