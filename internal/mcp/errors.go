// Package mcp implements the cindex MCP server: tool registration, input
// validation, dispatch into the retrieval engine and indexing pipeline, and
// the mapping from structured errors to JSON-RPC error responses.
package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/cindex-dev/cindex/internal/cerrors"
)

// Custom JSON-RPC error codes. Everything below -32000 is reserved for
// server-defined errors; these five are part of the tool contract.
const (
	// ErrCodeNotFound covers repositories, workspaces, services, files,
	// and documentation sets that are not in the index.
	ErrCodeNotFound = -32001

	// ErrCodeEmbeddingFailed indicates the query embedding could not be
	// generated.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeFileNotFound indicates a file path that is not on disk.
	ErrCodeFileNotFound = -32004

	// ErrCodeFileTooLarge indicates a file over the indexing size gate.
	ErrCodeFileTooLarge = -32005
)

// Standard JSON-RPC error codes.
const (
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is a JSON-RPC error with the structured-error context preserved
// in the data payload so clients can act on suggestions and retryability.
type MCPError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to JSON-RPC errors. Structured errors
// map by code first, then by category; everything else is internal.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var cerr *cerrors.Error
	if errors.As(err, &cerr) {
		return mapStructuredError(cerr)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: err.Error()}
	}
}

// mapStructuredError picks the JSON-RPC code for one structured error and
// carries its code, suggestion, and retryable flag in the data payload.
func mapStructuredError(cerr *cerrors.Error) *MCPError {
	code := ErrCodeInternalError

	switch cerr.Code {
	case cerrors.ErrCodeFileNotFound:
		code = ErrCodeFileNotFound
	case cerrors.ErrCodeFileTooLarge:
		code = ErrCodeFileTooLarge
	case cerrors.ErrCodeStoreNotFound:
		code = ErrCodeNotFound
	case cerrors.ErrCodeEmbeddingFailed:
		code = ErrCodeEmbeddingFailed
	case cerrors.ErrCodeBackendTimeout:
		code = ErrCodeTimeout
	default:
		if cerr.Category == cerrors.CategoryValidation {
			code = ErrCodeInvalidParams
		}
	}

	data := map[string]any{
		"code":     cerr.Code,
		"category": string(cerr.Category),
	}
	if cerr.Suggestion != "" {
		data["suggestion"] = cerr.Suggestion
	}
	if cerr.Retryable {
		data["retryable"] = true
	}

	return &MCPError{Code: code, Message: cerr.UserMessage(), Data: data}
}

// NewInvalidParamsError builds an invalid-params error with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError builds an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool %q not found.", name),
	}
}
