// Package errors is the error taxonomy shared by every searchme command.
//
// Codes read ERR_<NNN>_<NAME>. The hundreds digit selects the category:
//
//	1xx configuration     fatal at startup
//	2xx extraction        per file, skipped and recorded
//	3xx backend           embedding model or LLM, usually retried
//	4xx index consistency
//	5xx internal
package errors

type Category string

const (
	CategoryConfig      Category = "CONFIGURATION"
	CategoryExtraction  Category = "EXTRACTION"
	CategoryBackend     Category = "BACKEND"
	CategoryConsistency Category = "INDEX_CONSISTENCY"
	CategoryInternal    Category = "INTERNAL"
)

type Severity string

const (
	SeverityFatal   Severity = "FATAL"   // abort
	SeverityError   Severity = "ERROR"   // this operation failed
	SeverityWarning Severity = "WARNING" // degraded, carrying on
)

const (
	ErrCodeConfigInvalid    = "ERR_101_CONFIG_INVALID"
	ErrCodeInvalidRoot      = "ERR_102_INVALID_ROOT"
	ErrCodeConflictingRules = "ERR_103_CONFLICTING_RULES"
	ErrCodeConfigParse      = "ERR_104_CONFIG_PARSE"
	ErrCodeIndexLocked      = "ERR_105_INDEX_LOCKED"

	ErrCodeExtraction      = "ERR_201_EXTRACTION"
	ErrCodeUnsupportedType = "ERR_202_UNSUPPORTED_TYPE"
	ErrCodeFileTooLarge    = "ERR_203_FILE_TOO_LARGE"
	ErrCodePermission      = "ERR_204_PERMISSION"

	ErrCodeEmbedBackend      = "ERR_301_EMBED_BACKEND"
	ErrCodeLLMUnavailable    = "ERR_302_LLM_UNAVAILABLE"
	ErrCodeSearchUnavailable = "ERR_303_SEARCH_UNAVAILABLE"
	ErrCodeQueryTimeout      = "ERR_304_QUERY_TIMEOUT"

	ErrCodeIndexInconsistent = "ERR_401_INDEX_INCONSISTENT"
	ErrCodeIndexCorrupt      = "ERR_402_INDEX_CORRUPT"
	ErrCodeSchemaMismatch    = "ERR_403_SCHEMA_MISMATCH"

	ErrCodeInternal = "ERR_501_INTERNAL"
)

// Sentinels for errors.Is. Any SearchError with the same code matches.
var (
	ErrSearchUnavailable = &SearchError{Code: ErrCodeSearchUnavailable}
	ErrQueryTimeout      = &SearchError{Code: ErrCodeQueryTimeout}
	ErrLLMUnavailable    = &SearchError{Code: ErrCodeLLMUnavailable}
	ErrSchemaMismatch    = &SearchError{Code: ErrCodeSchemaMismatch}
	ErrIndexLocked       = &SearchError{Code: ErrCodeIndexLocked}
	ErrUnsupportedType   = &SearchError{Code: ErrCodeUnsupportedType}
)

type class struct {
	category  Category
	severity  Severity
	retryable bool
}

var classByDigit = map[byte]class{
	'1': {CategoryConfig, SeverityFatal, false},
	'2': {CategoryExtraction, SeverityWarning, false},
	'3': {CategoryBackend, SeverityError, false},
	'4': {CategoryConsistency, SeverityFatal, false},
}

// Codes that differ from their category's default.
var classOverrides = map[string]class{
	ErrCodeEmbedBackend:      {CategoryBackend, SeverityWarning, true},
	ErrCodeLLMUnavailable:    {CategoryBackend, SeverityWarning, true},
	ErrCodeSearchUnavailable: {CategoryBackend, SeverityWarning, true},
	ErrCodeIndexInconsistent: {CategoryConsistency, SeverityWarning, false},
}

func classify(code string) class {
	if c, ok := classOverrides[code]; ok {
		return c
	}
	if len(code) >= 7 {
		if c, ok := classByDigit[code[4]]; ok {
			return c
		}
	}
	return class{CategoryInternal, SeverityError, false}
}
