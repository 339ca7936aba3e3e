package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/Aman-CERP/searchme/internal/errors"
	"github.com/Aman-CERP/searchme/internal/query"
)

func TestMapError_NilError(t *testing.T) {
	assert.Nil(t, MapError(nil))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		contains string
	}{
		{
			name:     "no relevant content",
			err:      fmt.Errorf("retrieve: %w", query.ErrNoRelevantContent),
			wantCode: ErrCodeIndexNotFound,
			contains: "searchme index",
		},
		{
			name:     "empty query",
			err:      query.ErrEmptyQuery,
			wantCode: ErrCodeInvalidParams,
			contains: "query",
		},
		{
			name:     "deadline",
			err:      context.DeadlineExceeded,
			wantCode: ErrCodeTimeout,
			contains: "timed out",
		},
		{
			name:     "canceled",
			err:      context.Canceled,
			wantCode: ErrCodeTimeout,
			contains: "canceled",
		},
		{
			name:     "query timeout code",
			err:      serrors.New(serrors.ErrCodeQueryTimeout, "query timed out", nil),
			wantCode: ErrCodeTimeout,
			contains: "query timed out",
		},
		{
			name: "search unavailable with suggestion",
			err: serrors.New(serrors.ErrCodeSearchUnavailable, "vector search failed", nil).
				WithSuggestion("Rebuild with: searchme index --force"),
			wantCode: ErrCodeBackendFailed,
			contains: "index --force",
		},
		{
			name:     "schema mismatch",
			err:      serrors.New(serrors.ErrCodeSchemaMismatch, "schema mismatch", nil),
			wantCode: ErrCodeIndexCorrupt,
			contains: "schema mismatch",
		},
		{
			name:     "unknown",
			err:      errors.New("boom"),
			wantCode: ErrCodeInternalError,
			contains: "Internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantCode, got.Code)
			assert.Contains(t, got.Message, tt.contains)
		})
	}
}

func TestMapError_PassesThroughMCPError(t *testing.T) {
	// Given: an error that is already an MCP error
	in := NewInvalidParamsError("limit must be positive")

	// When: mapping it
	got := MapError(fmt.Errorf("wrapped: %w", in))

	// Then: it is returned unchanged
	assert.Same(t, in, got)
}

func TestMCPError_Error(t *testing.T) {
	err := &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	assert.Equal(t, "MCP error -32003: Request timed out.", err.Error())
}
