package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS01: Wrapping preserves the original error
func TestSearchError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("permission denied")

	// When: wrapping it as an extraction error
	se := ExtractionError("/tmp/a.pdf", "cannot read file", originalErr)

	// Then: the chain reaches the original
	require.NotNil(t, se)
	assert.Equal(t, originalErr, errors.Unwrap(se))
	assert.True(t, errors.Is(se, originalErr))
	assert.Equal(t, "/tmp/a.pdf", se.Details["path"])
}

func TestSearchError_CategoryFromCode(t *testing.T) {
	tests := []struct {
		code     string
		category Category
		severity Severity
	}{
		{ErrCodeInvalidRoot, CategoryConfig, SeverityFatal},
		{ErrCodeConflictingRules, CategoryConfig, SeverityFatal},
		{ErrCodeExtraction, CategoryExtraction, SeverityWarning},
		{ErrCodeUnsupportedType, CategoryExtraction, SeverityWarning},
		{ErrCodeEmbedBackend, CategoryBackend, SeverityWarning},
		{ErrCodeQueryTimeout, CategoryBackend, SeverityError},
		{ErrCodeIndexInconsistent, CategoryConsistency, SeverityWarning},
		{ErrCodeSchemaMismatch, CategoryConsistency, SeverityFatal},
		{ErrCodeInternal, CategoryInternal, SeverityError},
		{"bad", CategoryInternal, SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
		})
	}
}

func TestSearchError_Error_Format(t *testing.T) {
	err := New(ErrCodeInvalidRoot, "root does not exist", nil)
	assert.Equal(t, "[ERR_102_INVALID_ROOT] root does not exist", err.Error())
	assert.Equal(t, "[ERR_303_SEARCH_UNAVAILABLE]", ErrSearchUnavailable.Error())
}

func TestSearchError_Is_MatchesSentinelThroughWrapping(t *testing.T) {
	// Given: a search unavailable error wrapped twice
	inner := New(ErrCodeSearchUnavailable, "embedding backend down", errors.New("dial tcp"))
	wrapped := fmt.Errorf("query: %w", inner)

	// Then: errors.Is matches the sentinel by code
	assert.True(t, errors.Is(wrapped, ErrSearchUnavailable))
	assert.False(t, errors.Is(wrapped, ErrQueryTimeout))

	// And: helpers see through the wrapping
	assert.Equal(t, ErrCodeSearchUnavailable, GetCode(wrapped))
	assert.True(t, IsBackend(wrapped))
	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsFatal(wrapped))
}

func TestHelpers_NonSearchError(t *testing.T) {
	plain := errors.New("plain")
	assert.Empty(t, GetCode(plain))
	assert.Empty(t, GetCategory(plain))
	assert.False(t, IsRetryable(plain))
	assert.False(t, IsFatal(plain))
	assert.False(t, IsExtraction(nil))
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestConstructors_Categories(t *testing.T) {
	assert.True(t, IsConfiguration(ConfigurationError("bad", nil)))
	assert.True(t, IsFatal(ConfigurationError("bad", nil)))
	assert.True(t, IsExtraction(ExtractionError("p", "bad", nil)))
	assert.True(t, IsBackend(BackendError("bad", nil)))
	assert.True(t, IsConsistency(ConsistencyError("bad", nil)))
	assert.Equal(t, CategoryInternal, InternalError("bad", nil).Category)
}

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	err := New(ErrCodeSchemaMismatch, "index schema v1, expected v2", nil).
		WithSuggestion("run 'searchme index --force' to rebuild")

	out := FormatForCLI(err)

	assert.Contains(t, out, "Error: index schema v1, expected v2")
	assert.Contains(t, out, "Hint: run 'searchme index --force' to rebuild")
	assert.Contains(t, out, "Code: ERR_403_SCHEMA_MISMATCH")
	assert.Contains(t, FormatForCLI(errors.New("boom")), ErrCodeInternal)
	assert.Empty(t, FormatForCLI(nil))
}

func TestFormatForUser_DebugShowsCause(t *testing.T) {
	err := New(ErrCodeLLMUnavailable, "LLM backend unreachable", errors.New("connection refused"))

	assert.NotContains(t, FormatForUser(err, false), "connection refused")
	assert.Contains(t, FormatForUser(err, true), "Cause: connection refused")
	assert.Equal(t, "plain", FormatForUser(errors.New("plain"), true))
}

func TestFormatJSON_RoundTripsFields(t *testing.T) {
	err := New(ErrCodeExtraction, "corrupt pdf", errors.New("xref")).WithDetail("path", "a.pdf")

	data, jerr := FormatJSON(err)
	require.NoError(t, jerr)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, ErrCodeExtraction, got["code"])
	assert.Equal(t, "EXTRACTION", got["category"])
	assert.Equal(t, "xref", got["cause"])
	assert.Equal(t, "a.pdf", got["details"].(map[string]any)["path"])
}

func TestFormatForLog_Attributes(t *testing.T) {
	attrs := FormatForLog(New(ErrCodeEmbedBackend, "timeout", nil))
	require.NotEmpty(t, attrs)
	assert.Equal(t, "error_code", attrs[0])
	assert.Equal(t, ErrCodeEmbedBackend, attrs[1])

	assert.Equal(t, []any{"error", "x"}, FormatForLog(errors.New("x")))
	assert.Nil(t, FormatForLog(nil))
}
