package models

import (
	"errors"
	"fmt"
	"strings"
)

// Common error types
var (
	ErrNotFound    = errors.New("resource not found")
	ErrConflict    = errors.New("operation conflicts with current state")
	ErrRateLimited = errors.New("rate limit exceeded")
)

// AppError represents an application-level error with context
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// ErrInvalidInput creates a validation error
func ErrInvalidInput(message string) error {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
	}
}

// ErrNotFoundWithMsg creates a not found error with custom message
func ErrNotFoundWithMsg(message string) error {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: message,
		Err:     ErrNotFound,
	}
}

// ErrConflictWithMsg creates a conflict error with custom message
func ErrConflictWithMsg(message string) error {
	return &AppError{
		Code:    "CONFLICT",
		Message: message,
		Err:     ErrConflict,
	}
}

// ErrRateLimitedWithMsg creates a rate-limit error with custom message
func ErrRateLimitedWithMsg(message string) error {
	return &AppError{
		Code:    "RATE_LIMITED",
		Message: message,
		Err:     ErrRateLimited,
	}
}

// MissingVariableError is a render failure naming every unresolved
// placeholder. It is a per-recipient terminal failure, never retried.
type MissingVariableError struct {
	Variables []string
}

func (e *MissingVariableError) Error() string {
	return "missing required variables: " + strings.Join(e.Variables, ", ")
}

// UnsupportedChannelError marks a channel kind with no delivery adapter
// or an inactive channel. A hard failure, never a silent no-op.
type UnsupportedChannelError struct {
	Kind string
}

func (e *UnsupportedChannelError) Error() string {
	return "unsupported channel kind: " + e.Kind
}
