package response

import (
	"github.com/gofiber/fiber/v2"
)

// APIResponse is the envelope every JSON endpoint returns. Success is
// derived from the status class, never set per-endpoint.
type APIResponse struct {
	Success    bool        `json:"success"`
	Message    string      `json:"message"`
	Data       interface{} `json:"data,omitempty"`
	StatusCode int         `json:"status_code"`
}

func send(c *fiber.Ctx, status int, message string, data interface{}) error {
	if message == "" {
		if status >= 200 && status < 400 {
			message = "OK"
		} else {
			message = "request failed"
		}
	}
	return c.Status(status).JSON(APIResponse{
		Success:    status >= 200 && status < 400,
		Message:    message,
		Data:       data,
		StatusCode: status,
	})
}

func Success(c *fiber.Ctx, data interface{}) error {
	return send(c, fiber.StatusOK, "", data)
}

func SuccessWithMessage(c *fiber.Ctx, message string, data interface{}) error {
	return send(c, fiber.StatusOK, message, data)
}

func Created(c *fiber.Ctx, message string, data interface{}) error {
	return send(c, fiber.StatusCreated, message, data)
}

func Error(c *fiber.Ctx, status int, message string) error {
	return send(c, status, message, nil)
}

func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, message)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, message)
}

func Forbidden(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusForbidden, message)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, message)
}

func InternalError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, message)
}

// BadGateway is used when an upstream dependency (the key-management
// service) fails in a way the client cannot correct.
func BadGateway(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadGateway, message)
}
