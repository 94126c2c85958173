// Package mcp implements the tool-call surface over cruxe's retrieval core.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalridge/cruxe/internal/cruxeerr"
)

// Sentinel errors for conditions not already carrying a *cruxeerr.Error.
var (
	ErrToolNotFound     = errors.New("tool not found")
	ErrInvalidParams    = errors.New("invalid parameters")
	ErrResourceNotFound = errors.New("resource not found")
)

// ToolError is the canonical tool-call error envelope from spec §6: a
// stable code, a human-readable message, and remediation hints. It is
// identical across transports — only the outer envelope (stdio/HTTP)
// varies, and that framing lives outside this package.
type ToolError struct {
	Code                 string            `json:"code"`
	Message              string            `json:"message"`
	Details              map[string]string `json:"details,omitempty"`
	SuggestedNextActions []string          `json:"suggested_next_actions,omitempty"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// MapError converts any error into the canonical ToolError envelope.
func MapError(err error) *ToolError {
	if err == nil {
		return nil
	}

	var ce *cruxeerr.Error
	if errors.As(err, &ce) {
		env := cruxeerr.ToEnvelope(ce)
		return &ToolError{
			Code:                 env.Code,
			Message:              env.Message,
			Details:              env.Details,
			SuggestedNextActions: env.SuggestedNextActions,
		}
	}

	switch {
	case errors.Is(err, ErrToolNotFound):
		return &ToolError{Code: "invalid_input", Message: "tool not found"}
	case errors.Is(err, ErrInvalidParams):
		return &ToolError{Code: cruxeerr.CodeInvalidInput, Message: err.Error()}
	case errors.Is(err, ErrResourceNotFound):
		return &ToolError{Code: "invalid_input", Message: "resource not found"}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &ToolError{Code: cruxeerr.CodeInternalError, Message: "request timed out or was canceled"}
	default:
		return &ToolError{Code: cruxeerr.CodeInternalError, Message: err.Error()}
	}
}

// NewInvalidParamsError builds a ToolError for a malformed tool call.
func NewInvalidParamsError(msg string) *ToolError {
	return &ToolError{Code: cruxeerr.CodeInvalidInput, Message: msg}
}

// NewMethodNotFoundError builds a ToolError for an unregistered tool name.
func NewMethodNotFoundError(name string) *ToolError {
	return &ToolError{Code: cruxeerr.CodeInvalidInput, Message: fmt.Sprintf("tool %q not found", name)}
}
