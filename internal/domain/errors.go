package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Transaction Errors (TXN_*)
	ErrorCodeTxnDuplicateOrderRef ErrorCode = "TXN_DUPLICATE_ORDER_REF"
	ErrorCodeTxnInvalidTransition ErrorCode = "TXN_INVALID_TRANSITION"
	ErrorCodeTxnAlreadyResolved   ErrorCode = "TXN_ALREADY_RESOLVED"
	ErrorCodeTxnInvalidState      ErrorCode = "TXN_INVALID_STATE"
	ErrorCodeTxnNotFound          ErrorCode = "TXN_NOT_FOUND"

	// Callback Errors (CALLBACK_*)
	ErrorCodeCallbackInvalidSignature ErrorCode = "CALLBACK_INVALID_SIGNATURE"
	ErrorCodeCallbackUnknownTxn       ErrorCode = "CALLBACK_UNKNOWN_TXN"

	// 3DS Session Errors (THREEDS_*)
	ErrorCodeSessionExpired  ErrorCode = "THREEDS_SESSION_EXPIRED"
	ErrorCodeSessionConsumed ErrorCode = "THREEDS_SESSION_CONSUMED"

	// Refund Errors (REFUND_*)
	ErrorCodeRefundExceedsCaptured ErrorCode = "REFUND_EXCEEDS_CAPTURED"

	// Payment Gateway Errors (GATEWAY_*)
	ErrorCodeGatewayTimeout  ErrorCode = "GATEWAY_TIMEOUT"
	ErrorCodeGatewayRejected ErrorCode = "GATEWAY_REJECTED"

	// Validation Errors (VALIDATION_*)
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// Internal Errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail field to a copy of the error, so the shared
// sentinel instances stay immutable.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &DomainError{Err: e.Err, Details: details, Code: e.Code, Message: e.Message}
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsSoftError reports whether the error is a deliberate no-op: a duplicate
// resolution or a second 3DS consume. Callers treat these as success.
func IsSoftError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeTxnAlreadyResolved || code == ErrorCodeSessionConsumed
}

// IsGatewayError checks if an error came from the payment gateway boundary
func IsGatewayError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeGatewayTimeout || code == ErrorCodeGatewayRejected
}

// Structured error instances
var (
	ErrDuplicateOrderReference = NewDomainError(ErrorCodeTxnDuplicateOrderRef, "an open transaction already exists for this order reference")
	ErrInvalidTransition       = NewDomainError(ErrorCodeTxnInvalidTransition, "transaction state does not permit this transition")
	ErrAlreadyResolved         = NewDomainError(ErrorCodeTxnAlreadyResolved, "transaction was already resolved by a concurrent caller")
	ErrInvalidState            = NewDomainError(ErrorCodeTxnInvalidState, "transaction is in invalid state for this operation")
	ErrTransactionNotFound     = NewDomainError(ErrorCodeTxnNotFound, "transaction not found")

	ErrInvalidSignature   = NewDomainError(ErrorCodeCallbackInvalidSignature, "callback signature verification failed")
	ErrUnknownTransaction = NewDomainError(ErrorCodeCallbackUnknownTxn, "callback conversation id does not match any transaction")

	ErrSessionExpired         = NewDomainError(ErrorCodeSessionExpired, "3DS session has expired")
	ErrSessionAlreadyConsumed = NewDomainError(ErrorCodeSessionConsumed, "3DS session was already consumed")

	ErrExceedsCapturedAmount = NewDomainError(ErrorCodeRefundExceedsCaptured, "refund amount exceeds remaining captured amount")

	ErrGatewayTimeout  = NewDomainError(ErrorCodeGatewayTimeout, "payment gateway timed out")
	ErrGatewayRejected = NewDomainError(ErrorCodeGatewayRejected, "payment gateway rejected the request")

	ErrValidationFailed = NewDomainError(ErrorCodeValidationFailed, "validation failed")
	ErrInternalError    = NewDomainError(ErrorCodeInternalError, "internal server error")
	ErrDatabaseError    = NewDomainError(ErrorCodeDatabaseError, "database error")
)
