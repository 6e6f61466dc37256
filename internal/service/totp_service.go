package service

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/CipherVault/CipherVault/backend/internal/models"
	"github.com/CipherVault/CipherVault/backend/internal/repository"
)

var (
	ErrTOTPNotConfigured    = errors.New("no second-factor device is configured")
	ErrTOTPAlreadyVerified  = errors.New("second-factor device is already verified")
	ErrInvalidCode          = errors.New("invalid verification code")
	ErrBackupCodesExhausted = errors.New("no unused backup codes remain")
)

const (
	backupCodeCount  = 10
	backupCodeLength = 12
	// No ambiguous characters (0/O, 1/I/l) so codes survive being read
	// aloud or written down.
	backupCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

// TOTPService manages the second-factor device lifecycle and backup codes.
// A device starts unconfirmed at setup; the first successful code check
// confirms it. Failed checks never destroy the device.
type TOTPService struct {
	devices *repository.TOTPRepository
	issuer  string
	now     func() time.Time
}

func NewTOTPService(devices *repository.TOTPRepository, issuer string) *TOTPService {
	return &TOTPService{devices: devices, issuer: issuer, now: time.Now}
}

// SetupResult is returned from Setup; the secret and URI are shown to the
// user once so they can enroll an authenticator app.
type SetupResult struct {
	Secret          string
	ProvisioningURI string
}

// Setup provisions a second-factor device for the user. Repeating setup
// before the device is confirmed returns the same secret rather than
// minting a new one; setup after confirmation is rejected.
func (s *TOTPService) Setup(user *models.User) (*SetupResult, error) {
	existing, err := s.devices.GetDeviceByUserID(user.ID)
	if err == nil {
		if existing.Confirmed {
			return nil, ErrTOTPAlreadyVerified
		}
		return &SetupResult{
			Secret:          existing.Secret,
			ProvisioningURI: s.provisioningURI(user.Email, existing.Secret),
		}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("look up device: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: user.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	device := &models.TOTPDevice{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Secret:    key.Secret(),
		CreatedAt: s.now(),
	}
	if err := s.devices.CreateDevice(device); err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}

	return &SetupResult{Secret: device.Secret, ProvisioningURI: key.URL()}, nil
}

// ProvisioningURI rebuilds the otpauth URI for the user's unconfirmed
// device, for rendering as a QR code.
func (s *TOTPService) ProvisioningURI(user *models.User) (string, error) {
	device, err := s.devices.GetDeviceByUserID(user.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrTOTPNotConfigured
		}
		return "", fmt.Errorf("look up device: %w", err)
	}
	if device.Confirmed {
		return "", ErrTOTPAlreadyVerified
	}
	return s.provisioningURI(user.Email, device.Secret), nil
}

func (s *TOTPService) provisioningURI(accountName, secret string) string {
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", s.issuer)
	return fmt.Sprintf("otpauth://totp/%s:%s?%s",
		url.PathEscape(s.issuer), url.PathEscape(accountName), v.Encode())
}

// VerifyCode checks a time-based code against the user's device. The
// first success confirms an unconfirmed device. A code equal to the last
// accepted one is rejected as a replay even while it is still within its
// validity window.
func (s *TOTPService) VerifyCode(userID, code string) error {
	device, err := s.devices.GetDeviceByUserID(userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrTOTPNotConfigured
		}
		return fmt.Errorf("look up device: %w", err)
	}

	if code == "" || !totp.Validate(code, device.Secret) {
		return ErrInvalidCode
	}
	if device.LastCode != "" && code == device.LastCode {
		return ErrInvalidCode
	}

	if !device.Confirmed {
		if err := s.devices.ConfirmDevice(device.ID, code); err != nil {
			return fmt.Errorf("confirm device: %w", err)
		}
		return nil
	}
	if err := s.devices.RecordLastCode(device.ID, code); err != nil {
		return fmt.Errorf("record code: %w", err)
	}
	return nil
}

// HasConfirmedDevice reports whether the user has completed second-factor
// enrollment. Login uses this to decide the initial is_verified claim.
func (s *TOTPService) HasConfirmedDevice(userID string) (bool, error) {
	device, err := s.devices.GetDeviceByUserID(userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("look up device: %w", err)
	}
	return device.Confirmed, nil
}

// GenerateBackupCodes replaces the user's unused backup codes with a
// fresh batch and returns the raw codes. Only bcrypt hashes are stored;
// this is the single time the raw codes are available.
func (s *TOTPService) GenerateBackupCodes(userID string) ([]string, error) {
	device, err := s.devices.GetDeviceByUserID(userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTOTPNotConfigured
		}
		return nil, fmt.Errorf("look up device: %w", err)
	}
	if !device.Confirmed {
		return nil, ErrTOTPNotConfigured
	}

	if err := s.devices.DeleteUnusedBackupCodes(userID); err != nil {
		return nil, fmt.Errorf("drop old codes: %w", err)
	}

	raw := make([]string, 0, backupCodeCount)
	records := make([]*models.BackupCode, 0, backupCodeCount)
	now := s.now()
	for i := 0; i < backupCodeCount; i++ {
		code, err := randomBackupCode()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash code: %w", err)
		}
		raw = append(raw, code)
		records = append(records, &models.BackupCode{
			ID:        uuid.New().String(),
			UserID:    userID,
			CodeHash:  string(hash),
			CreatedAt: now,
		})
	}

	if err := s.devices.CreateBackupCodes(records); err != nil {
		return nil, fmt.Errorf("store codes: %w", err)
	}
	return raw, nil
}

// VerifyBackupCode consumes a single-use backup code. The spend is
// atomic: if two requests race on the same code, exactly one succeeds.
func (s *TOTPService) VerifyBackupCode(userID, code string) error {
	if code == "" {
		return ErrInvalidCode
	}

	codes, err := s.devices.GetUnusedBackupCodes(userID)
	if err != nil {
		return fmt.Errorf("load codes: %w", err)
	}
	if len(codes) == 0 {
		return ErrBackupCodesExhausted
	}

	for _, candidate := range codes {
		if bcrypt.CompareHashAndPassword([]byte(candidate.CodeHash), []byte(code)) != nil {
			continue
		}
		spent, err := s.devices.MarkBackupCodeUsed(candidate.ID)
		if err != nil {
			return fmt.Errorf("spend code: %w", err)
		}
		if !spent {
			// Lost the race to a concurrent submission of the same code.
			return ErrInvalidCode
		}
		return nil
	}
	return ErrInvalidCode
}

func randomBackupCode() (string, error) {
	buf := make([]byte, backupCodeLength)
	max := big.NewInt(int64(len(backupCodeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = backupCodeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
