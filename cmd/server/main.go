package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/CipherVault/CipherVault/backend/internal/config"
	"github.com/CipherVault/CipherVault/backend/internal/handler"
	"github.com/CipherVault/CipherVault/backend/internal/keywrap"
	"github.com/CipherVault/CipherVault/backend/internal/repository"
	"github.com/CipherVault/CipherVault/backend/internal/service"
	"github.com/CipherVault/CipherVault/backend/pkg/database"
	"github.com/CipherVault/CipherVault/backend/pkg/logger"
)

func main() {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = "json"
	}
	logger.Init(logger.Config{
		Level:  logLevel,
		Format: logFormat,
		Output: os.Stdout,
	})

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Configuration error")
	}

	logger.Info().
		Str("bind_address", cfg.Server.BindAddress).
		Str("port", cfg.Server.Port).
		Str("log_level", logLevel).
		Msg("Starting CipherVault server")

	db, err := database.Initialize(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	if err := database.InitSchema(db); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize schema")
	}
	logger.Info().Str("path", cfg.Database.Path).Msg("Database ready")

	// Key-management oracle. BaseEndpoint supports a local
	// KMS-compatible service during development.
	oracle, err := keywrap.NewKMSOracle(context.Background(), keywrap.KMSConfig{
		Region:       cfg.KMS.Region,
		AccessKey:    cfg.KMS.AccessKey,
		SecretKey:    cfg.KMS.SecretKey,
		BaseEndpoint: cfg.KMS.BaseEndpoint,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize key service client")
	}
	keys := keywrap.NewService(oracle, cfg.KMS.KeyID)

	// Repositories
	userRepo := repository.NewUserRepository(db)
	totpRepo := repository.NewTOTPRepository(db)
	fileRepo := repository.NewFileRepository(db)
	linkRepo := repository.NewLinkRepository(db)
	tokenRepo := repository.NewTokenRepository(db)

	// Services
	authSvc := service.NewAuthService(userRepo, tokenRepo, cfg.Auth)
	totpSvc := service.NewTOTPService(totpRepo, cfg.Auth.TOTPIssuer)
	accessSvc := service.NewAccessService(fileRepo, userRepo)
	fileSvc := service.NewFileService(fileRepo, userRepo, keys, accessSvc, cfg.Storage.Path)
	linkSvc := service.NewLinkService(linkRepo)

	// Handlers
	authHandler := handler.NewAuthHandler(authSvc, totpSvc, userRepo, cfg.IsProduction)
	fileHandler := handler.NewFileHandler(fileSvc)
	shareHandler := handler.NewShareHandler(linkSvc, fileSvc)
	healthHandler := handler.NewHealthHandler(db, cfg.Storage.Path)
	metricsHandler := handler.NewMetricsHandler()

	app := fiber.New(fiber.Config{
		BodyLimit:               100 * 1024 * 1024,
		ReadTimeout:             10 * time.Second,
		WriteTimeout:            30 * time.Second,
		IdleTimeout:             60 * time.Second,
		ProxyHeader:             fiber.HeaderXForwardedFor,
		EnableTrustedProxyCheck: true,
		TrustedProxies:          cfg.Server.TrustedProxies,
		EnableIPValidation:      true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(compress.New(compress.Config{
		Level: compress.LevelDefault,
	}))
	app.Use(handler.SecurityHeadersMiddleware())
	app.Use(handler.RequestIDMiddleware())
	app.Use(handler.MetricsMiddleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods:     "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		AllowCredentials: true,
		MaxAge:           3600,
	}))
	app.Use(logger.Middleware())

	api := app.Group("/api/v1")

	// Rate limiters: auth routes key by IP (they run before auth); file
	// routes key by IP+user. Counters live in the shared database.
	authRateLimiter := handler.NewPersistentRateLimiter(db, "auth", 10, 1*time.Minute)
	fileRateLimiter := handler.NewPersistentRateLimiterWithKey(db, "file", 30, 1*time.Minute, handler.IPAndUserKey)

	jsonBodyLimit := handler.BodyLimitMiddleware(1 * 1024 * 1024)

	requireAuth := handler.RequireAuth(authSvc, userRepo)
	requireVerified := handler.RequireVerified()

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/register", jsonBodyLimit, authRateLimiter.Middleware(), authHandler.Register)
	auth.Post("/login", jsonBodyLimit, authRateLimiter.Middleware(), authHandler.Login)
	auth.Get("/refresh", authRateLimiter.Middleware(), authHandler.Refresh)
	auth.Get("/logout", requireAuth, authHandler.Logout)
	auth.Get("/totp/create", requireAuth, authHandler.TOTPSetup)
	auth.Get("/totp/qr", requireAuth, authHandler.TOTPQR)
	auth.Post("/totp/verify", jsonBodyLimit, requireAuth, authRateLimiter.Middleware(), authHandler.TOTPVerify)
	auth.Post("/backup-codes", requireAuth, requireVerified, authHandler.BackupCodes)
	auth.Post("/backup-codes/verify", jsonBodyLimit, requireAuth, authRateLimiter.Middleware(), authHandler.BackupCodeVerify)

	// User search for the share-with picker
	api.Get("/users/autocomplete", requireAuth, requireVerified, authHandler.Autocomplete)

	// File routes; every decrypting operation needs a verified session
	files := api.Group("/files", requireAuth)
	files.Post("/", requireVerified, fileRateLimiter.Middleware(), fileHandler.Upload)
	files.Post("/bulk", requireVerified, fileRateLimiter.Middleware(), fileHandler.BulkUpload)
	files.Get("/", fileHandler.List)
	files.Get("/:id", requireVerified, fileRateLimiter.Middleware(), fileHandler.Fetch)
	files.Delete("/:id", fileHandler.Delete)
	files.Patch("/:id/global", jsonBodyLimit, fileHandler.SetGlobal)
	files.Get("/:id/shares", shareHandler.ListByFile)

	// Permission routes
	api.Get("/permissions/:file_id", requireAuth, shareHandler.ListPermissions)
	api.Put("/permissions", jsonBodyLimit, requireAuth, shareHandler.UpsertPermissions)
	api.Delete("/permissions", jsonBodyLimit, requireAuth, shareHandler.RevokePermission)

	// Shareable link routes
	shares := api.Group("/shares", requireAuth)
	shares.Post("/", jsonBodyLimit, shareHandler.Create)
	shares.Get("/:id", requireVerified, fileRateLimiter.Middleware(), shareHandler.View)
	shares.Delete("/:id", shareHandler.Deactivate)

	// Ops endpoints
	app.Get("/health", healthHandler.Liveness)
	app.Get("/health/ready", healthHandler.Readiness)
	if cfg.Observability.MetricsEnabled {
		if cfg.IsProduction {
			app.Get("/metrics", handler.BearerTokenMiddleware(cfg.Observability.MetricsToken), metricsHandler.Handler())
		} else {
			app.Get("/metrics", metricsHandler.Handler())
		}
	} else {
		logger.Info().Msg("Metrics endpoint disabled")
	}

	// Background cleanup: expired links and stale revocation entries.
	cleanupStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				if err := linkSvc.PurgeExpired(); err != nil {
					logger.Error().Err(err).Msg("Failed to purge expired links")
				}
				if err := tokenRepo.DeleteExpired(now); err != nil {
					logger.Error().Err(err).Msg("Failed to purge expired token revocations")
				}
			case <-cleanupStop:
				return
			}
		}
	}()

	go func() {
		addr := net.JoinHostPort(cfg.Server.BindAddress, cfg.Server.Port)
		logger.Info().
			Str("address", addr).
			Bool("metrics_enabled", cfg.Observability.MetricsEnabled).
			Msg("HTTP server listening")
		if err := app.Listen(addr); err != nil {
			logger.Error().Err(err).Msg("Server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	close(cleanupStop)
	authRateLimiter.Stop()
	fileRateLimiter.Stop()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
	}

	if err := db.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing database")
	}

	logger.Info().Msg("Server stopped gracefully")
}
