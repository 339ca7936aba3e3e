package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// asSearchError treats a foreign error as an internal one.
func asSearchError(err error) *SearchError {
	if se, ok := As(err); ok {
		return se
	}
	return Wrap(ErrCodeInternal, err)
}

// FormatForUser renders err for a person reading stderr. debug adds the
// underlying cause. Errors outside the taxonomy are printed as they are.
func FormatForUser(err error, debug bool) string {
	se, ok := As(err)
	if !ok {
		if err == nil {
			return ""
		}
		return err.Error()
	}

	parts := []string{"Error: " + se.Message}
	if se.Suggestion != "" {
		parts = append(parts, "Suggestion: "+se.Suggestion)
	}
	if debug && se.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", se.Cause))
	}
	parts = append(parts, "["+se.Code+"]")
	return strings.Join(parts, "\n\n")
}

// FormatForCLI is the compact form used by commands that keep running after
// an error.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}
	se := asSearchError(err)

	var b strings.Builder
	fmt.Fprintf(&b, "Error: %s\n", se.Message)
	if se.Suggestion != "" {
		fmt.Fprintf(&b, "  Hint: %s\n", se.Suggestion)
	}
	fmt.Fprintf(&b, "  Code: %s\n", se.Code)
	return b.String()
}

// FormatJSON encodes err for MCP clients.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return []byte("null"), nil
	}
	se := asSearchError(err)

	out := struct {
		Code       string            `json:"code"`
		Message    string            `json:"message"`
		Category   Category          `json:"category"`
		Severity   Severity          `json:"severity"`
		Details    map[string]string `json:"details,omitempty"`
		Suggestion string            `json:"suggestion,omitempty"`
		Cause      string            `json:"cause,omitempty"`
		Retryable  bool              `json:"retryable"`
	}{
		Code:       se.Code,
		Message:    se.Message,
		Category:   se.Category,
		Severity:   se.Severity,
		Details:    se.Details,
		Suggestion: se.Suggestion,
		Retryable:  se.Retryable,
	}
	if se.Cause != nil {
		out.Cause = se.Cause.Error()
	}
	return json.Marshal(out)
}

// FormatForLog returns slog key-value pairs, error_code first.
func FormatForLog(err error) []any {
	if err == nil {
		return nil
	}
	se, ok := As(err)
	if !ok {
		return []any{"error", err.Error()}
	}

	attrs := []any{"error_code", se.Code, "error", se.Message, "category", string(se.Category), "retryable", se.Retryable}
	if se.Cause != nil {
		attrs = append(attrs, "cause", se.Cause.Error())
	}
	for k, v := range se.Details {
		attrs = append(attrs, "detail_"+k, v)
	}
	return attrs
}
