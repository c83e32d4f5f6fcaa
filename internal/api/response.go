// Package api exposes event ingestion and incident management over HTTP.
package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"opsassist/internal/domain"
)

// APIResponse wraps every response body.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeConflict         = "CONFLICT"
	ErrCodeUnavailable      = "SERVICE_UNAVAILABLE"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// errorMapping ties a domain error category to its HTTP rendering. An empty
// message means the error text itself is shown to the client.
type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var errorMappings = []errorMapping{
	{domain.ErrValidation, fiber.StatusBadRequest, ErrCodeValidationFailed, ""},
	{domain.ErrNotFound, fiber.StatusNotFound, ErrCodeNotFound, ""},
	{domain.ErrConflict, fiber.StatusConflict, ErrCodeConflict, ""},
	{domain.ErrUnavailable, fiber.StatusServiceUnavailable, ErrCodeUnavailable, "storage temporarily unavailable"},
}

// Success sends a 200 with data.
func Success(c *fiber.Ctx, data interface{}) error {
	return c.JSON(APIResponse{Success: true, Data: data})
}

// Created sends a 201 with data.
func Created(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(APIResponse{Success: true, Data: data})
}

// Error sends a failure envelope.
func Error(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(APIResponse{
		Error: &APIError{Code: code, Message: message},
	})
}

// BadRequest reports a body or parameter that could not be read.
func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, ErrCodeBadRequest, message)
}

// ValidationError reports a readable request with invalid content.
func ValidationError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, ErrCodeValidationFailed, message)
}

// NotFound sends a 404.
func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, ErrCodeNotFound, message)
}

// InternalError sends a 500.
func InternalError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, ErrCodeInternalError, message)
}

// FromError renders err by its domain category. Errors outside every
// category become a 500 whose text is not shown.
func FromError(c *fiber.Ctx, err error) error {
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		msg := m.message
		if msg == "" {
			msg = err.Error()
		}
		return Error(c, m.status, m.code, msg)
	}
	return InternalError(c, "internal error")
}
