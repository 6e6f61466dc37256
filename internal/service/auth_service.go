package service

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/CipherVault/CipherVault/backend/internal/config"
	"github.com/CipherVault/CipherVault/backend/internal/models"
	"github.com/CipherVault/CipherVault/backend/internal/repository"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrWeakPassword       = errors.New("password must be at least 5 characters with an upper-case letter, a lower-case letter and a digit")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrUserInactive       = errors.New("user account is inactive")
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Claims is the JWT payload for both access and refresh tokens. IsVerified
// records whether the session has passed the second factor; it is carried
// unchanged through refreshes so a verified session stays verified.
type Claims struct {
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	IsVerified bool   `json:"is_verified"`
	TokenType  string `json:"token_type"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// AuthService handles registration, password login and the JWT session
// lifecycle. Second-factor verification lives in TOTPService; this service
// only carries the resulting is_verified claim.
type AuthService struct {
	users  *repository.UserRepository
	tokens *repository.TokenRepository
	cfg    config.AuthConfig
	now    func() time.Time
}

func NewAuthService(users *repository.UserRepository, tokens *repository.TokenRepository, cfg config.AuthConfig) *AuthService {
	return &AuthService{users: users, tokens: tokens, cfg: cfg, now: time.Now}
}

// Register creates a new user with a bcrypt-hashed password. Email
// uniqueness is case-insensitive.
func (s *AuthService) Register(email, name, password string) (*models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	name = strings.TrimSpace(name)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("valid email is required")
	}
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if !passwordStrongEnough(password) {
		return nil, ErrWeakPassword
	}

	if _, err := s.users.GetByEmail(email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check existing user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	user := &models.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login checks the password and returns the user. It does not issue
// tokens; the handler decides the is_verified claim based on whether the
// user has a confirmed second-factor device.
func (s *AuthService) Login(email, password string) (*models.User, error) {
	user, err := s.users.GetByEmail(strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Equalize timing between unknown-user and wrong-password paths.
			bcrypt.CompareHashAndPassword([]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"), []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	return user, nil
}

// IssueTokenPair mints an access/refresh pair carrying the given
// verification state.
func (s *AuthService) IssueTokenPair(user *models.User, isVerified bool) (*TokenPair, error) {
	now := s.now()

	access, err := s.signToken(user, isVerified, TokenTypeAccess, now, now.Add(s.cfg.AccessTokenTTL))
	if err != nil {
		return nil, err
	}

	refreshExpiry := now.Add(s.cfg.RefreshTokenTTL)
	refresh, err := s.signToken(user, isVerified, TokenTypeRefresh, now, refreshExpiry)
	if err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: access, RefreshToken: refresh, RefreshExpiresAt: refreshExpiry}, nil
}

func (s *AuthService) signToken(user *models.User, isVerified bool, tokenType string, issuedAt, expiresAt time.Time) (string, error) {
	claims := &Claims{
		UserID:     user.ID,
		Email:      user.Email,
		IsVerified: isVerified,
		TokenType:  tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a token and checks it is of the
// expected type. Refresh tokens are additionally checked against the
// revocation list.
func (s *AuthService) ValidateToken(tokenString, wantType string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return nil, ErrInvalidToken
	}

	if wantType == TokenTypeRefresh {
		revoked, err := s.tokens.IsRevoked(claims.ID)
		if err != nil {
			return nil, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}
	return claims, nil
}

// Refresh rotates a refresh token: the old token is revoked and a new pair
// is issued. The is_verified claim is carried over from the old token, so
// a second-factor-verified session does not lose verification on refresh.
func (s *AuthService) Refresh(refreshToken string) (*TokenPair, error) {
	claims, err := s.ValidateToken(refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	if err := s.tokens.Revoke(claims.ID, claims.ExpiresAt.Time); err != nil {
		return nil, fmt.Errorf("revoke old token: %w", err)
	}

	return s.IssueTokenPair(user, claims.IsVerified)
}

// Logout revokes the refresh token. An already-invalid token is not an
// error; logout is idempotent.
func (s *AuthService) Logout(refreshToken string) error {
	claims, err := s.ValidateToken(refreshToken, TokenTypeRefresh)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenRevoked) {
			return nil
		}
		return err
	}
	return s.tokens.Revoke(claims.ID, claims.ExpiresAt.Time)
}

func passwordStrongEnough(password string) bool {
	if len(password) < 5 {
		return false
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasUpper && hasLower && hasDigit
}
