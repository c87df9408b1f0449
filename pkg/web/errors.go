package web

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-weedbot/pkg/control"
)

// AppError is an error with the HTTP status and message sent to the client.
type AppError struct {
	Code    int
	Message string
	Kind    string // control error code, e.g. "invalid_input"
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

func badRequest(message string, err error) *AppError {
	return &AppError{Code: fiber.StatusBadRequest, Message: message, Kind: control.CodeInvalidInput, Err: err}
}

// fromControl maps an actuation error to an AppError.
func fromControl(err error, invalidMessage string) *AppError {
	switch code := control.ErrorCode(err); code {
	case control.CodeInvalidInput:
		return badRequest(invalidMessage, err)
	case control.CodeTankEmpty:
		return &AppError{Code: fiber.StatusBadRequest, Message: "Tank is empty. Cannot run pump test.", Kind: code, Err: err}
	default:
		return &AppError{Code: fiber.StatusInternalServerError, Message: "Internal error.", Kind: control.CodeInternal, Err: err}
	}
}

// errorHandler renders every error as {"status":"error","message":...}.
func errorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var appErr *AppError
		if errors.As(err, &appErr) {
			if appErr.Code >= fiber.StatusInternalServerError {
				logger.Error("request failed", "path", c.Path(), "error", err)
			} else {
				logger.Debug("request rejected", "path", c.Path(), "error", err)
			}
			return c.Status(appErr.Code).JSON(fiber.Map{
				"status":  "error",
				"message": appErr.Message,
				"code":    appErr.Kind,
			})
		}

		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		if code >= fiber.StatusInternalServerError {
			logger.Error("unhandled error", "path", c.Path(), "error_type", fmt.Sprintf("%T", err), "error", err)
		}
		message := err.Error()
		if fe == nil {
			message = "An unexpected internal error occurred."
		}
		return c.Status(code).JSON(fiber.Map{"status": "error", "message": message})
	}
}
