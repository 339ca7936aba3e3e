// Package mcp serves the index over the Model Context Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"

	serrors "github.com/Aman-CERP/searchme/internal/errors"
	"github.com/Aman-CERP/searchme/internal/query"
)

// JSON-RPC error codes. The -3200x range is application defined.
const (
	ErrCodeIndexNotFound = -32001 // nothing indexed, or nothing relevant
	ErrCodeBackendFailed = -32002 // embedder or language model
	ErrCodeTimeout       = -32003
	ErrCodeIndexCorrupt  = -32004 // rebuild needed
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// MCPError is the error a tool call reports to the client.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var me *MCPError
	if errors.As(err, &me) {
		return me
	}

	switch {
	case errors.Is(err, query.ErrNoRelevantContent):
		return &MCPError{
			Code:    ErrCodeIndexNotFound,
			Message: "No relevant content found. Run 'searchme index' to build or refresh the index.",
		}
	case errors.Is(err, query.ErrEmptyQuery):
		return NewInvalidParamsError("query parameter is required")
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	}

	var se *serrors.SearchError
	if errors.As(err, &se) {
		return mapSearchError(se)
	}

	return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
}

func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

var codeByCategory = map[serrors.Category]int{
	serrors.CategoryBackend:     ErrCodeBackendFailed,
	serrors.CategoryConsistency: ErrCodeIndexCorrupt,
	serrors.CategoryConfig:      ErrCodeInvalidParams,
}

// mapSearchError keeps the message and suggestion and picks the code by
// category.
func mapSearchError(se *serrors.SearchError) *MCPError {
	msg := se.Message
	if se.Suggestion != "" {
		msg += ". " + se.Suggestion
	}
	code, ok := codeByCategory[se.Category]
	switch {
	case se.Code == serrors.ErrCodeQueryTimeout:
		code = ErrCodeTimeout
	case !ok:
		code = ErrCodeInternalError
	}
	return &MCPError{Code: code, Message: msg}
}
