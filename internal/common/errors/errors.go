// Package errors provides the error taxonomy shared by the HTTP surface and
// the workflow workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Kinds and Codes
// ==========================

// Kind is the machine-readable failure class every caller sees.
type Kind string

const (
	KindNoMatch               Kind = "no_match"
	KindBlocked               Kind = "blocked"
	KindAccessDenied          Kind = "access_denied"
	KindValidation            Kind = "validation_error"
	KindBusinessRuleRejection Kind = "business_rule_rejection"
	KindConflict              Kind = "conflict"
	KindInternal              Kind = "internal_error"
)

// ErrorCode is the finer-grained code logged and thrown to BPMN.
type ErrorCode string

const (
	ErrCodeNoMatch       ErrorCode = "NO_MATCH"
	ErrCodeUnknownAction ErrorCode = "UNKNOWN_ACTION"
	ErrCodeRouteNotFound ErrorCode = "ROUTE_NOT_FOUND"

	ErrCodeQueryBlocked ErrorCode = "QUERY_BLOCKED"
	ErrCodeRateLimited  ErrorCode = "RATE_LIMITED"

	ErrCodeAccessDenied   ErrorCode = "ACCESS_DENIED"
	ErrCodeRoleNotAllowed ErrorCode = "ROLE_NOT_ALLOWED"
	ErrCodeTenantMismatch ErrorCode = "TENANT_MISMATCH"

	ErrCodeMissingFields    ErrorCode = "MISSING_REQUIRED_FIELDS"
	ErrCodeInvalidPayload   ErrorCode = "INVALID_PAYLOAD"
	ErrCodeBadRequest       ErrorCode = "BAD_REQUEST"
	ErrCodeMethodNotAllowed ErrorCode = "METHOD_NOT_ALLOWED"

	ErrCodeBusinessRule         ErrorCode = "BUSINESS_RULE_REJECTION"
	ErrCodeConfirmationExpired  ErrorCode = "CONFIRMATION_EXPIRED"
	ErrCodeConcurrentCommit     ErrorCode = "CONCURRENT_COMMIT"
	ErrCodeConfirmationClaimed  ErrorCode = "CONFIRMATION_ALREADY_CLAIMED"
	ErrCodeDatabaseFailed       ErrorCode = "DATABASE_FAILED"
	ErrCodeSearchQueryFailed    ErrorCode = "SEARCH_QUERY_FAILED"
	ErrCodeExternalServiceError ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeInternal             ErrorCode = "INTERNAL_ERROR"
)

var codeKinds = map[ErrorCode]Kind{
	ErrCodeNoMatch:              KindNoMatch,
	ErrCodeUnknownAction:        KindNoMatch,
	ErrCodeRouteNotFound:        KindNoMatch,
	ErrCodeQueryBlocked:         KindBlocked,
	ErrCodeRateLimited:          KindBlocked,
	ErrCodeAccessDenied:         KindAccessDenied,
	ErrCodeRoleNotAllowed:       KindAccessDenied,
	ErrCodeTenantMismatch:       KindAccessDenied,
	ErrCodeMissingFields:        KindValidation,
	ErrCodeInvalidPayload:       KindValidation,
	ErrCodeBadRequest:           KindValidation,
	ErrCodeMethodNotAllowed:     KindValidation,
	ErrCodeBusinessRule:         KindBusinessRuleRejection,
	ErrCodeConfirmationExpired:  KindBusinessRuleRejection,
	ErrCodeConcurrentCommit:     KindConflict,
	ErrCodeConfirmationClaimed:  KindConflict,
	ErrCodeDatabaseFailed:       KindInternal,
	ErrCodeSearchQueryFailed:    KindInternal,
	ErrCodeExternalServiceError: KindInternal,
	ErrCodeInternal:             KindInternal,
}

// KindForCode returns the taxonomy kind of a code. Unknown codes are internal.
func KindForCode(code ErrorCode) Kind {
	if k, ok := codeKinds[code]; ok {
		return k
	}
	return KindInternal
}

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Kind      Kind                   `json:"kind"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s/%s]: %s", e.Kind, e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Kind:      KindForCode(code),
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// WithMetadata attaches a key to the error and returns it.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. Error Constructors
// ==========================

func NewNoMatchError(details string) *StandardError {
	return newError(ErrCodeNoMatch, "No routing pattern matched the query", details, false)
}

func NewUnknownActionError(actionID string) *StandardError {
	return newError(ErrCodeUnknownAction, "Unknown action", fmt.Sprintf("action: %s", actionID), false).
		WithMetadata("action", actionID)
}

func NewBlockedError(reason, details string) *StandardError {
	return newError(ErrCodeQueryBlocked, "Query was blocked", details, false).
		WithMetadata("reason", reason)
}

func NewRateLimitedError() *StandardError {
	return newError(ErrCodeRateLimited, "Too many requests", "request rate exceeded for credential", false)
}

func NewAccessDeniedError(details string) *StandardError {
	return newError(ErrCodeAccessDenied, "Access denied", details, false)
}

func NewRoleNotAllowedError(actionID, role string) *StandardError {
	return newError(ErrCodeRoleNotAllowed, "Role is not allowed to perform this action",
		fmt.Sprintf("action: %s, role: %s", actionID, role), false)
}

func NewTenantMismatchError() *StandardError {
	return newError(ErrCodeTenantMismatch, "Access denied", "requested tenant does not match credential", false)
}

func NewMissingFieldsError(actionID string, fields []string) *StandardError {
	return newError(ErrCodeMissingFields, "Required fields are missing",
		fmt.Sprintf("action: %s, missing: %s", actionID, strings.Join(fields, ",")), false).
		WithMetadata("missing_fields", fields)
}

func NewInvalidPayloadError(actionID string, problems []string) *StandardError {
	return newError(ErrCodeInvalidPayload, "Payload failed validation",
		fmt.Sprintf("action: %s, errors: %s", actionID, strings.Join(problems, "; ")), false).
		WithMetadata("field_errors", problems)
}

func NewBadRequestError(details string) *StandardError {
	return newError(ErrCodeBadRequest, "Request is malformed", details, false)
}

func NewRouteNotFoundError(method, path string) *StandardError {
	return newError(ErrCodeRouteNotFound, "No such endpoint", method+" "+path, false)
}

func NewMethodNotAllowedError(method, path string) *StandardError {
	return newError(ErrCodeMethodNotAllowed, "Method not allowed on this endpoint", method+" "+path, false)
}

func NewBusinessRuleError(message, details string) *StandardError {
	return newError(ErrCodeBusinessRule, message, details, false)
}

func NewConfirmationExpiredError(mutationID string) *StandardError {
	return newError(ErrCodeConfirmationExpired, "Confirmation window has expired",
		fmt.Sprintf("mutation: %s", mutationID), false)
}

func NewConflictError(target, details string) *StandardError {
	return newError(ErrCodeConcurrentCommit, "Concurrent modification of the same record",
		details, true).WithMetadata("target", target)
}

func NewConfirmationClaimedError(mutationID string) *StandardError {
	return newError(ErrCodeConfirmationClaimed, "Mutation is already being committed",
		fmt.Sprintf("mutation: %s", mutationID), false)
}

func NewDatabaseError(operation string, err error) *StandardError {
	e := newError(ErrCodeDatabaseFailed, "Database operation failed",
		fmt.Sprintf("operation: %s, error: %s", operation, err.Error()), true)
	e.cause = err
	return e
}

func NewSearchQueryFailedError(source string, err error) *StandardError {
	e := newError(ErrCodeSearchQueryFailed, "Search source query failed",
		fmt.Sprintf("source: %s, error: %s", source, err.Error()), true)
	e.cause = err
	return e
}

func NewExternalServiceError(service string, err error) *StandardError {
	e := newError(ErrCodeExternalServiceError, fmt.Sprintf("External service '%s' error", service), err.Error(), true)
	e.cause = err
	return e
}

func NewInternalError(err error) *StandardError {
	e := newError(ErrCodeInternal, "Unexpected error", err.Error(), false)
	e.cause = err
	return e
}

// ==========================
// 3. Classification helpers
// ==========================

// AsStandard returns the StandardError in err's chain, or wraps err as an
// internal error.
func AsStandard(err error) *StandardError {
	if err == nil {
		return nil
	}
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError(err)
}

// KindOf returns the taxonomy kind of err.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return AsStandard(err).Kind
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind onto a response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNoMatch:
		return http.StatusNotFound
	case KindBlocked, KindBusinessRuleRejection:
		return http.StatusUnprocessableEntity
	case KindAccessDenied:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ==========================
// 4. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// GetRetryCount is the number of job retries a code is worth.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseFailed,
		ErrCodeSearchQueryFailed,
		ErrCodeExternalServiceError:
		return 3
	case ErrCodeConcurrentCommit:
		return 1
	default:
		return 0
	}
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory groups codes for logging.
func GetErrorCategory(code ErrorCode) string {
	switch KindForCode(code) {
	case KindAccessDenied:
		return "AUTH"
	case KindValidation:
		return "VALIDATION"
	case KindNoMatch, KindBlocked:
		return "ROUTING"
	case KindBusinessRuleRejection, KindConflict:
		return "BUSINESS"
	default:
		if strings.Contains(string(code), "SEARCH") {
			return "SEARCH"
		}
		if strings.Contains(string(code), "DATABASE") {
			return "DATABASE"
		}
		return "OTHER"
	}
}

// ConvertToBPMNError maps a StandardError onto a BPMN error whose code is
// the upper-cased kind, so process models catch on the taxonomy.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"errorKind":         string(stdErr.Kind),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           strings.ToUpper(string(stdErr.Kind)),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}
