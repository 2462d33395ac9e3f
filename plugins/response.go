package plugins

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/linht/nrf-remote/nrf24"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// SendSuccess sends a successful response
func SendSuccess(c *fiber.Ctx, data interface{}, message string) error {
	return c.JSON(APIResponse{
		Success: true,
		Data:    data,
		Message: message,
	})
}

// SendError sends an error response
func SendError(c *fiber.Ctx, status int, err error) error {
	return SendErrorMessage(c, status, err.Error())
}

// SendErrorMessage sends an error response with a custom message
func SendErrorMessage(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(APIResponse{
		Success: false,
		Error:   message,
	})
}

// StatusFor maps driver errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, nrf24.ErrUnknownRegister), errors.Is(err, nrf24.ErrUnknownField):
		return fiber.StatusNotFound
	case errors.Is(err, nrf24.ErrReadOnlyField):
		return fiber.StatusForbidden
	case errors.Is(err, nrf24.ErrInvalidConfiguration):
		return fiber.StatusBadRequest
	case errors.Is(err, nrf24.ErrWrongState), errors.Is(err, nrf24.ErrIllegalStateTransition):
		return fiber.StatusConflict
	case errors.Is(err, nrf24.ErrClosed):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}
