package service

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/CipherVault/CipherVault/backend/internal/models"
	"github.com/CipherVault/CipherVault/backend/internal/repository"
)

var (
	ErrLinkNotFound  = errors.New("shareable link not found")
	ErrLinkExpired   = errors.New("shareable link has expired")
	ErrLinkExhausted = errors.New("shareable link view limit reached")
	ErrInvalidExpiry = errors.New("expiry must be in the future")
	ErrInvalidLimit  = errors.New("view count limit must not be negative")
)

// LinkService manages shareable links. Links are immutable after creation
// except for the view counter; enforcement happens at admission time.
type LinkService struct {
	links *repository.LinkRepository
	now   func() time.Time
}

func NewLinkService(links *repository.LinkRepository) *LinkService {
	return &LinkService{links: links, now: time.Now}
}

// Create mints a link on the file. The caller is responsible for checking
// that the creator is the file owner or an admin. A viewLimit of zero
// means unlimited views; a nil expiresAt means no absolute expiry.
func (s *LinkService) Create(file *models.File, creatorID string, expiresAt *time.Time, viewLimit int) (*models.ShareableLink, error) {
	if viewLimit < 0 {
		return nil, ErrInvalidLimit
	}
	if expiresAt != nil {
		if !expiresAt.After(s.now()) {
			return nil, ErrInvalidExpiry
		}
		// Client-supplied expiries may carry any offset; store UTC so the
		// text-comparison admission gate sees a uniform representation.
		utc := expiresAt.UTC()
		expiresAt = &utc
	}

	link := &models.ShareableLink{
		ID:             uuid.New().String(),
		FileID:         file.ID,
		CreatedBy:      creatorID,
		ExpiresAt:      expiresAt,
		ViewCountLimit: viewLimit,
		CreatedAt:      s.now(),
	}
	if err := s.links.Create(link); err != nil {
		return nil, fmt.Errorf("create link: %w", err)
	}
	return link, nil
}

// Resolve looks up a link by its opaque identifier.
func (s *LinkService) Resolve(linkID string) (*models.ShareableLink, error) {
	link, err := s.links.GetByID(linkID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("look up link: %w", err)
	}
	return link, nil
}

// Admit consumes one view of the link. The check-and-increment is a
// single conditional update, so concurrent requests at the limit cannot
// over-admit. On rejection the link is re-read to report whether expiry
// or exhaustion was the cause.
func (s *LinkService) Admit(linkID string) (*models.ShareableLink, error) {
	admitted, err := s.links.AdmitAndIncrement(linkID, s.now())
	if err != nil {
		return nil, fmt.Errorf("admit view: %w", err)
	}

	link, err := s.Resolve(linkID)
	if err != nil {
		return nil, err
	}
	if admitted {
		return link, nil
	}

	if link.IsExpired(s.now()) {
		return nil, ErrLinkExpired
	}
	return nil, ErrLinkExhausted
}

// ListByFile returns the file's links, newest first.
func (s *LinkService) ListByFile(fileID string) ([]*models.ShareableLink, error) {
	links, err := s.links.GetByFileID(fileID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return links, nil
}

// Deactivate removes a link. The caller checks authorization.
func (s *LinkService) Deactivate(linkID string) error {
	if _, err := s.Resolve(linkID); err != nil {
		return err
	}
	return s.links.Delete(linkID)
}

// PurgeExpired removes links past their absolute expiry. Called from the
// periodic cleanup job.
func (s *LinkService) PurgeExpired() error {
	return s.links.DeleteExpired(s.now())
}
