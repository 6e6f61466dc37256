package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Storage       StorageConfig
	Auth          AuthConfig
	KMS           KMSConfig
	Observability ObservabilityConfig
	IsProduction  bool
}

type ServerConfig struct {
	BindAddress    string
	Port           string
	AllowOrigins   string
	TrustedProxies []string
}

type DatabaseConfig struct {
	Path string
}

type StorageConfig struct {
	Path string
}

type AuthConfig struct {
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	TOTPIssuer      string
}

type KMSConfig struct {
	KeyID        string
	Region       string
	AccessKey    string
	SecretKey    string
	BaseEndpoint string
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsToken   string
}

func Load() *Config {
	isProd := getEnv("ENVIRONMENT", "development") == "production"
	defaultSecret := ""
	if !isProd {
		defaultSecret = "dev-secret-change-in-production"
	}
	defaultBindAddress := "0.0.0.0"
	if isProd {
		// In production we default to loopback and rely on a reverse proxy.
		defaultBindAddress = "127.0.0.1"
	}
	defaultTrustedProxies := "127.0.0.1,::1"
	defaultMetricsEnabled := !isProd

	return &Config{
		IsProduction: isProd,
		Server: ServerConfig{
			BindAddress:    getEnv("SERVER_BIND_ADDRESS", defaultBindAddress),
			Port:           getEnv("SERVER_PORT", "8080"),
			AllowOrigins:   getEnv("ALLOW_ORIGINS", "http://localhost:5173"),
			TrustedProxies: splitCSV(getEnv("TRUSTED_PROXIES", defaultTrustedProxies)),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "./storage/vault.db"),
		},
		Storage: StorageConfig{
			Path: getEnv("STORAGE_PATH", "./storage/blobs"),
		},
		Auth: AuthConfig{
			JWTSecret:       strings.TrimSpace(getEnv("JWT_SECRET", defaultSecret)),
			AccessTokenTTL:  getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTokenTTL: getEnvDuration("REFRESH_TOKEN_TTL", 14*24*time.Hour),
			TOTPIssuer:      getEnv("TOTP_ISSUER", "CipherVault"),
		},
		KMS: KMSConfig{
			KeyID:        strings.TrimSpace(getEnv("KMS_MASTER_KEY_ID", "")),
			Region:       getEnv("KMS_REGION", "us-east-1"),
			AccessKey:    getEnv("KMS_ACCESS_KEY", ""),
			SecretKey:    getEnv("KMS_SECRET_KEY", ""),
			BaseEndpoint: getEnv("KMS_BASE_ENDPOINT", ""),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvBool("METRICS_ENABLED", defaultMetricsEnabled),
			MetricsToken:   strings.TrimSpace(getEnv("METRICS_TOKEN", "")),
		},
	}
}

// Validate checks that the configuration is valid for the current environment.
// In production, it enforces stricter requirements.
func (c *Config) Validate() error {
	if c.IsProduction {
		if c.Auth.JWTSecret == "" {
			return errors.New("JWT_SECRET environment variable is required in production")
		}
		if len(c.Auth.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.KMS.KeyID == "" {
			return errors.New("KMS_MASTER_KEY_ID environment variable is required in production")
		}
		if c.Server.AllowOrigins == "http://localhost:5173" {
			return errors.New("ALLOW_ORIGINS must be configured for production (localhost not allowed)")
		}
		if c.Server.AllowOrigins == "*" {
			return errors.New("ALLOW_ORIGINS must not be wildcard (*) in production")
		}
		if c.Observability.MetricsEnabled && c.Observability.MetricsToken == "" {
			return errors.New("METRICS_TOKEN is required in production when METRICS_ENABLED=true")
		}
	}

	if strings.TrimSpace(c.Server.BindAddress) == "" {
		return errors.New("SERVER_BIND_ADDRESS must not be empty")
	}

	port, err := strconv.Atoi(c.Server.Port)
	if err != nil || port < 1 || port > 65535 {
		return errors.New("SERVER_PORT must be a valid port number (1-65535)")
	}

	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		return errors.New("token TTLs must be positive durations")
	}
	if c.Auth.AccessTokenTTL >= c.Auth.RefreshTokenTTL {
		return errors.New("ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}

	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

func splitCSV(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}

	parts := strings.Split(trimmed, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		v := strings.TrimSpace(part)
		if v == "" {
			continue
		}
		out = append(out, v)
	}

	if len(out) == 0 {
		return nil
	}
	return out
}
