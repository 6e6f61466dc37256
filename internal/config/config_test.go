package config

import (
	"strings"
	"testing"
	"time"
)

func baseProdConfig() *Config {
	return &Config{
		IsProduction: true,
		Server: ServerConfig{
			BindAddress:  "127.0.0.1",
			Port:         "8080",
			AllowOrigins: "https://vault.example.com",
		},
		Auth: AuthConfig{
			JWTSecret:       strings.Repeat("x", 32),
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 14 * 24 * time.Hour,
		},
		KMS: KMSConfig{
			KeyID:  "alias/vault-master",
			Region: "us-east-1",
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: false,
		},
	}
}

func TestValidate_ProductionRequiresJWTSecret(t *testing.T) {
	cfg := baseProdConfig()
	cfg.Auth.JWTSecret = ""

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("expected JWT_SECRET validation error, got: %v", err)
	}
}

func TestValidate_ProductionRequiresMasterKeyID(t *testing.T) {
	cfg := baseProdConfig()
	cfg.KMS.KeyID = ""

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "KMS_MASTER_KEY_ID") {
		t.Fatalf("expected KMS_MASTER_KEY_ID validation error, got: %v", err)
	}
}

func TestValidate_ProductionMetricsRequireTokenWhenEnabled(t *testing.T) {
	cfg := baseProdConfig()
	cfg.Observability.MetricsEnabled = true
	cfg.Observability.MetricsToken = ""

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "METRICS_TOKEN") {
		t.Fatalf("expected METRICS_TOKEN validation error, got: %v", err)
	}
}

func TestValidate_RejectsAccessTTLLongerThanRefresh(t *testing.T) {
	cfg := baseProdConfig()
	cfg.Auth.AccessTokenTTL = 30 * 24 * time.Hour

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "ACCESS_TOKEN_TTL") {
		t.Fatalf("expected token TTL validation error, got: %v", err)
	}
}

func TestValidate_RejectsEmptyBindAddress(t *testing.T) {
	cfg := baseProdConfig()
	cfg.Server.BindAddress = ""

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SERVER_BIND_ADDRESS") {
		t.Fatalf("expected SERVER_BIND_ADDRESS validation error, got: %v", err)
	}
}

func TestLoad_DevelopmentDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")

	cfg := Load()
	if cfg.IsProduction {
		t.Fatal("expected development config")
	}
	if cfg.Auth.JWTSecret == "" {
		t.Error("expected development fallback JWT secret")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("development defaults should validate: %v", err)
	}
}
