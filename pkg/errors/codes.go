package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.  The
// prefix before the underscore names the module that owns the code.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeUnauthorized       ErrorCode = "COMMON_003"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeNotImplemented     ErrorCode = "COMMON_016"
)

// Molecule Module Error Codes
const (
	ErrCodeMoleculeInvalidSMILES    ErrorCode = "MOL_001"
	ErrCodeMoleculeInvalidInChI     ErrorCode = "MOL_002"
	ErrCodeMoleculeInvalidFormat    ErrorCode = "MOL_003"
	ErrCodeMoleculeNotFound         ErrorCode = "MOL_004"
	ErrCodeMoleculeParsingFailed    ErrorCode = "MOL_006"
	ErrCodeMoleculeConversionFailed ErrorCode = "MOL_011"
	ErrCodeSubstructureSearchFailed ErrorCode = "MOL_012"
	ErrCodeMoleculeEmpty            ErrorCode = "MOL_016"
)

// MMP Module Error Codes
const (
	ErrCodeMMPUnparsableFragment ErrorCode = "MMP_001"
	ErrCodeMMPInvalidTripleCut   ErrorCode = "MMP_002"
	ErrCodeMMPTooManyCutBonds    ErrorCode = "MMP_003"
	ErrCodeMMPMoleculeTimeout    ErrorCode = "MMP_004"
	ErrCodeMMPInvalidCutSet      ErrorCode = "MMP_005"
	ErrCodeMMPSinkFailed         ErrorCode = "MMP_006"
	ErrCodeMMPInputUnreadable    ErrorCode = "MMP_007"
)

// Infrastructure Error Codes
const (
	ErrCodeDBConnectionError ErrorCode = "INFRA_001"
	ErrCodeDBQueryError      ErrorCode = "INFRA_002"
	ErrCodeMessageQueueError ErrorCode = "INFRA_003"
	ErrCodeStorageError      ErrorCode = "INFRA_004"
	ErrCodeSearchError       ErrorCode = "INFRA_005"
	ErrCodeGraphError        ErrorCode = "INFRA_006"
)

// Aliases
const (
	CodeOK                    = ErrorCode("OK")
	CodeUnknown               = ErrorCode("UNKNOWN")
	CodeInternal              = ErrCodeInternal
	CodeInvalidParam          = ErrCodeBadRequest
	CodeNotFound              = ErrCodeNotFound
	CodeConflict              = ErrCodeConflict
	CodeNotImplemented        = ErrCodeNotImplemented
	CodeMoleculeInvalidSMILES = ErrCodeMoleculeInvalidSMILES
	CodeMoleculeNotFound      = ErrCodeMoleculeNotFound
	CodeDBConnectionError     = ErrCodeDBConnectionError
	CodeDBQueryError          = ErrCodeDBQueryError
	CodeCacheError            = ErrCodeCacheError
	CodeSerialization         = ErrCodeSerialization
	CodeMessageQueueError     = ErrCodeMessageQueueError
	CodeStorageError          = ErrCodeStorageError
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeMoleculeInvalidSMILES:    http.StatusBadRequest,
	ErrCodeMoleculeInvalidInChI:     http.StatusBadRequest,
	ErrCodeMoleculeInvalidFormat:    http.StatusBadRequest,
	ErrCodeMoleculeNotFound:         http.StatusNotFound,
	ErrCodeMoleculeParsingFailed:    http.StatusBadRequest,
	ErrCodeMoleculeConversionFailed: http.StatusInternalServerError,
	ErrCodeSubstructureSearchFailed: http.StatusInternalServerError,
	ErrCodeMoleculeEmpty:            http.StatusBadRequest,

	ErrCodeMMPUnparsableFragment: http.StatusUnprocessableEntity,
	ErrCodeMMPInvalidTripleCut:   http.StatusUnprocessableEntity,
	ErrCodeMMPTooManyCutBonds:    http.StatusUnprocessableEntity,
	ErrCodeMMPMoleculeTimeout:    http.StatusGatewayTimeout,
	ErrCodeMMPInvalidCutSet:      http.StatusBadRequest,
	ErrCodeMMPSinkFailed:         http.StatusBadGateway,
	ErrCodeMMPInputUnreadable:    http.StatusBadRequest,

	ErrCodeDBConnectionError: http.StatusServiceUnavailable,
	ErrCodeDBQueryError:      http.StatusInternalServerError,
	ErrCodeMessageQueueError: http.StatusBadGateway,
	ErrCodeStorageError:      http.StatusBadGateway,
	ErrCodeSearchError:       http.StatusBadGateway,
	ErrCodeGraphError:        http.StatusBadGateway,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeUnauthorized:       "unauthorized",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeNotImplemented:     "not implemented",

	ErrCodeMoleculeInvalidSMILES:    "invalid SMILES",
	ErrCodeMoleculeInvalidInChI:     "InChI input is not supported",
	ErrCodeMoleculeInvalidFormat:    "unsupported molecule encoding",
	ErrCodeMoleculeNotFound:         "molecule not found",
	ErrCodeMoleculeParsingFailed:    "failed to parse molecule",
	ErrCodeMoleculeConversionFailed: "molecule serialization failed",
	ErrCodeSubstructureSearchFailed: "substructure match failed",
	ErrCodeMoleculeEmpty:            "molecule has no atoms",

	ErrCodeMMPUnparsableFragment: "fragment could not be parsed",
	ErrCodeMMPInvalidTripleCut:   "triple cut has no three-point core",
	ErrCodeMMPTooManyCutBonds:    "too many cuttable bonds",
	ErrCodeMMPMoleculeTimeout:    "fragmentation time budget exceeded",
	ErrCodeMMPInvalidCutSet:      "invalid cut set",
	ErrCodeMMPSinkFailed:         "record sink failed",
	ErrCodeMMPInputUnreadable:    "input stream could not be read",

	ErrCodeDBConnectionError: "database connection error",
	ErrCodeDBQueryError:      "database query error",
	ErrCodeMessageQueueError: "message queue error",
	ErrCodeStorageError:      "object storage error",
	ErrCodeSearchError:       "search engine error",
	ErrCodeGraphError:        "graph database error",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 1 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
