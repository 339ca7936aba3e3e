package errors

import (
	stderrors "errors"
	"fmt"
)

// SearchError carries a code from the taxonomy plus what a user or log
// reader needs to act on it. Category, Severity and Retryable follow from
// Code.
type SearchError struct {
	Code       string
	Message    string
	Category   Category
	Severity   Severity
	Details    map[string]string
	Cause      error
	Retryable  bool
	Suggestion string
}

func (e *SearchError) Error() string {
	if e.Message == "" {
		return "[" + e.Code + "]"
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SearchError) Unwrap() error { return e.Cause }

// Is matches any SearchError with the same code.
func (e *SearchError) Is(target error) bool {
	t, ok := target.(*SearchError)
	return ok && t.Code == e.Code
}

func (e *SearchError) WithDetail(key, value string) *SearchError {
	if e.Details == nil {
		e.Details = make(map[string]string, 1)
	}
	e.Details[key] = value
	return e
}

func (e *SearchError) WithSuggestion(suggestion string) *SearchError {
	e.Suggestion = suggestion
	return e
}

func New(code, message string, cause error) *SearchError {
	c := classify(code)
	return &SearchError{
		Code:      code,
		Message:   message,
		Category:  c.category,
		Severity:  c.severity,
		Retryable: c.retryable,
		Cause:     cause,
	}
}

// Wrap returns nil for a nil err.
func Wrap(code string, err error) *SearchError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

func ConfigurationError(message string, cause error) *SearchError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ExtractionError records which file could not be read.
func ExtractionError(path, message string, cause error) *SearchError {
	return New(ErrCodeExtraction, message, cause).WithDetail("path", path)
}

func BackendError(message string, cause error) *SearchError {
	return New(ErrCodeEmbedBackend, message, cause)
}

func ConsistencyError(message string, cause error) *SearchError {
	return New(ErrCodeIndexInconsistent, message, cause)
}

func InternalError(message string, cause error) *SearchError {
	return New(ErrCodeInternal, message, cause)
}

// As returns the first SearchError in err's chain.
func As(err error) (*SearchError, bool) {
	var se *SearchError
	ok := stderrors.As(err, &se)
	return se, ok
}

func field[T any](err error, get func(*SearchError) T) T {
	var zero T
	if se, ok := As(err); ok {
		return get(se)
	}
	return zero
}

func IsRetryable(err error) bool {
	return field(err, func(se *SearchError) bool { return se.Retryable })
}

func IsFatal(err error) bool {
	return field(err, func(se *SearchError) bool { return se.Severity == SeverityFatal })
}

// GetCode returns "" when err carries no SearchError.
func GetCode(err error) string {
	return field(err, func(se *SearchError) string { return se.Code })
}

func GetCategory(err error) Category {
	return field(err, func(se *SearchError) Category { return se.Category })
}

func IsExtraction(err error) bool    { return GetCategory(err) == CategoryExtraction }
func IsBackend(err error) bool       { return GetCategory(err) == CategoryBackend }
func IsConsistency(err error) bool   { return GetCategory(err) == CategoryConsistency }
func IsConfiguration(err error) bool { return GetCategory(err) == CategoryConfig }
