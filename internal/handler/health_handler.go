package handler

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
)

var errDatabaseNotInitialized = errors.New("database not initialized")

// HealthHandler handles liveness and readiness probes.
type HealthHandler struct {
	db          *sql.DB
	storagePath string
}

func NewHealthHandler(db *sql.DB, storagePath string) *HealthHandler {
	return &HealthHandler{db: db, storagePath: storagePath}
}

// Liveness reports that the process is up.
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness reports whether the server can serve traffic: the database
// answers and the blob directory is writable.
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	checks := make(map[string]interface{})
	healthy := true

	if err := h.checkDatabase(); err != nil {
		checks["database"] = fiber.Map{"status": "unhealthy", "error": err.Error()}
		healthy = false
	} else {
		checks["database"] = fiber.Map{"status": "healthy"}
	}

	if err := h.checkStorage(); err != nil {
		checks["storage"] = fiber.Map{"status": "unhealthy", "error": err.Error()}
		healthy = false
	} else {
		checks["storage"] = fiber.Map{"status": "healthy"}
	}

	status := "ok"
	statusCode := fiber.StatusOK
	if !healthy {
		status = "degraded"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status": status,
		"checks": checks,
	})
}

func (h *HealthHandler) checkDatabase() error {
	if h.db == nil {
		return errDatabaseNotInitialized
	}
	return h.db.Ping()
}

func (h *HealthHandler) checkStorage() error {
	if err := os.MkdirAll(h.storagePath, 0o700); err != nil {
		return err
	}

	probe := filepath.Join(h.storagePath, ".healthcheck")
	f, err := os.Create(probe)
	if err != nil {
		return err
	}
	f.Close()
	os.Remove(probe)
	return nil
}
