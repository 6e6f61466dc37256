package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/CipherVault/CipherVault/backend/internal/config"
	"github.com/CipherVault/CipherVault/backend/internal/models"
	"github.com/CipherVault/CipherVault/backend/internal/repository"
	"github.com/CipherVault/CipherVault/backend/pkg/testutil"
)

func testAuthConfig() config.AuthConfig {
	return config.AuthConfig{
		JWTSecret:       "test-secret-not-for-production-use",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 14 * 24 * time.Hour,
		TOTPIssuer:      "CipherVault",
	}
}

func newTestAuthService(t *testing.T) (*AuthService, func()) {
	t.Helper()
	db, _, cleanup := testutil.SetupTest(t)
	users := repository.NewUserRepository(db)
	tokens := repository.NewTokenRepository(db)
	return NewAuthService(users, tokens, testAuthConfig()), cleanup
}

func TestAuthService_RegisterAndLogin(t *testing.T) {
	svc, cleanup := newTestAuthService(t)
	defer cleanup()

	user, err := svc.Register("Alice@Example.com", "Alice", "Passw0rd")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("email = %q, want lowered", user.Email)
	}
	if user.PasswordHash == "Passw0rd" {
		t.Error("password stored in plaintext")
	}

	got, err := svc.Login("alice@example.com", "Passw0rd")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("login returned user %s, want %s", got.ID, user.ID)
	}

	if _, err := svc.Login("alice@example.com", "WrongPass1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Login("nobody@example.com", "Passw0rd"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown user: err = %v, want ErrInvalidCredentials", err)
	}
}

func TestAuthService_RegisterDuplicateEmail(t *testing.T) {
	svc, cleanup := newTestAuthService(t)
	defer cleanup()

	if _, err := svc.Register("alice@example.com", "Alice", "Passw0rd"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register("ALICE@example.com", "Alice Again", "Passw0rd"); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("duplicate register err = %v, want ErrEmailTaken", err)
	}
}

func TestAuthService_PasswordPolicy(t *testing.T) {
	svc, cleanup := newTestAuthService(t)
	defer cleanup()

	cases := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"too short", "Ab1", true},
		{"no digit", "Abcdef", true},
		{"no upper", "abcde1", true},
		{"no lower", "ABCDE1", true},
		{"minimal valid", "Abcd1", false},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			email := string(rune('a'+i)) + "@example.com"
			_, err := svc.Register(email, "User", tc.password)
			if tc.wantErr && !errors.Is(err, ErrWeakPassword) {
				t.Errorf("err = %v, want ErrWeakPassword", err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected err: %v", err)
			}
		})
	}
}

func TestAuthService_TokenPairClaims(t *testing.T) {
	svc, cleanup := newTestAuthService(t)
	defer cleanup()

	user, err := svc.Register("alice@example.com", "Alice", "Passw0rd")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	pair, err := svc.IssueTokenPair(user, false)
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}

	access, err := svc.ValidateToken(pair.AccessToken, TokenTypeAccess)
	if err != nil {
		t.Fatalf("validate access: %v", err)
	}
	if access.UserID != user.ID || access.Email != user.Email {
		t.Error("access token identity claims do not match user")
	}
	if access.IsVerified {
		t.Error("fresh login token is verified, want unverified")
	}

	// Cross-type use is rejected.
	if _, err := svc.ValidateToken(pair.AccessToken, TokenTypeRefresh); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("access-as-refresh err = %v, want ErrInvalidToken", err)
	}
	if _, err := svc.ValidateToken(pair.RefreshToken, TokenTypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("refresh-as-access err = %v, want ErrInvalidToken", err)
	}
}

func TestAuthService_ValidateToken_RejectsForgedSignature(t *testing.T) {
	svc, cleanup := newTestAuthService(t)
	defer cleanup()

	claims := &Claims{
		UserID:    "attacker",
		TokenType: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := svc.ValidateToken(forged, TokenTypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("forged token err = %v, want ErrInvalidToken", err)
	}
}

func TestAuthService_ValidateToken_RejectsExpired(t *testing.T) {
	svc, cleanup := newTestAuthService(t)
	defer cleanup()

	user := &models.User{ID: "u1", Email: "u@example.com", IsActive: true}

	svc.now = func() time.Time { return time.Now().Add(-time.Hour) }
	pair, err := svc.IssueTokenPair(user, false)
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}
	svc.now = time.Now

	if _, err := svc.ValidateToken(pair.AccessToken, TokenTypeAccess); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token err = %v, want ErrInvalidToken", err)
	}
}

func TestAuthService_Refresh_PreservesVerifiedClaim(t *testing.T) {
	svc, cleanup := newTestAuthService(t)
	defer cleanup()

	user, err := svc.Register("alice@example.com", "Alice", "Passw0rd")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	verified, err := svc.IssueTokenPair(user, true)
	if err != nil {
		t.Fatalf("issue verified pair: %v", err)
	}

	rotated, err := svc.Refresh(verified.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	claims, err := svc.ValidateToken(rotated.AccessToken, TokenTypeAccess)
	if err != nil {
		t.Fatalf("validate rotated access: %v", err)
	}
	if !claims.IsVerified {
		t.Error("refresh dropped the verified claim")
	}

	unverified, err := svc.IssueTokenPair(user, false)
	if err != nil {
		t.Fatalf("issue unverified pair: %v", err)
	}
	rotated, err = svc.Refresh(unverified.RefreshToken)
	if err != nil {
		t.Fatalf("refresh unverified: %v", err)
	}
	claims, err = svc.ValidateToken(rotated.AccessToken, TokenTypeAccess)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.IsVerified {
		t.Error("refresh escalated an unverified session to verified")
	}
}

func TestAuthService_Refresh_RotatesAndRevokesOldToken(t *testing.T) {
	svc, cleanup := newTestAuthService(t)
	defer cleanup()

	user, err := svc.Register("alice@example.com", "Alice", "Passw0rd")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	pair, err := svc.IssueTokenPair(user, false)
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}

	if _, err := svc.Refresh(pair.RefreshToken); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	// The spent refresh token cannot be replayed.
	if _, err := svc.Refresh(pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("replayed refresh err = %v, want ErrTokenRevoked", err)
	}
}

func TestAuthService_LogoutIsIdempotent(t *testing.T) {
	svc, cleanup := newTestAuthService(t)
	defer cleanup()

	user, err := svc.Register("alice@example.com", "Alice", "Passw0rd")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	pair, err := svc.IssueTokenPair(user, false)
	if err != nil {
		t.Fatalf("issue pair: %v", err)
	}

	if err := svc.Logout(pair.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := svc.Logout(pair.RefreshToken); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if err := svc.Logout("garbage"); err != nil {
		t.Fatalf("logout with garbage token: %v", err)
	}

	if _, err := svc.Refresh(pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Errorf("refresh after logout err = %v, want ErrTokenRevoked", err)
	}
}
