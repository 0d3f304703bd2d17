package splitpay

import (
	"errors"
	"fmt"
)

// PaymentError represents a payment-specific error
type PaymentError struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Retryable bool                   `json:"retryable"`
	Details   map[string]interface{} `json:"details,omitempty"`

	cause error
}

func (e *PaymentError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.cause
}

// Is reports whether target is a PaymentError with the same code, so that
// errors.Is(err, ErrProofNotFound) matches any proof_not_found error.
func (e *PaymentError) Is(target error) bool {
	var t *PaymentError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Error codes
const (
	ErrCodeInvalidShares     = "invalid_shares"
	ErrCodeSplitterNotReady  = "splitter_not_ready"
	ErrCodeSplitterNotFound  = "splitter_not_found"
	ErrCodeInvalidAddress    = "invalid_address"
	ErrCodeInvalidRequest    = "invalid_request"
	ErrCodeProofNotFound     = "proof_not_found"
	ErrCodePaymentFailed     = "payment_failed"
	ErrCodeLedgerUnavailable = "ledger_unavailable"
	ErrCodeChallengeLoop     = "challenge_loop"
)

var retryableCodes = map[string]bool{
	ErrCodeProofNotFound:     true,
	ErrCodeLedgerUnavailable: true,
}

// Sentinel values for errors.Is comparisons.
var (
	ErrInvalidShares     = &PaymentError{Code: ErrCodeInvalidShares}
	ErrSplitterNotReady  = &PaymentError{Code: ErrCodeSplitterNotReady}
	ErrSplitterNotFound  = &PaymentError{Code: ErrCodeSplitterNotFound}
	ErrInvalidAddress    = &PaymentError{Code: ErrCodeInvalidAddress}
	ErrInvalidRequest    = &PaymentError{Code: ErrCodeInvalidRequest}
	ErrProofNotFound     = &PaymentError{Code: ErrCodeProofNotFound, Retryable: true}
	ErrPaymentFailed     = &PaymentError{Code: ErrCodePaymentFailed}
	ErrLedgerUnavailable = &PaymentError{Code: ErrCodeLedgerUnavailable, Retryable: true}
	ErrChallengeLoop     = &PaymentError{Code: ErrCodeChallengeLoop}
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:      code,
		Message:   message,
		Retryable: retryableCodes[code],
		Details:   details,
	}
}

// WrapPaymentError creates a payment error that carries an underlying cause.
func WrapPaymentError(code, message string, cause error) *PaymentError {
	e := NewPaymentError(code, message, nil)
	e.cause = cause
	return e
}

// IsRetryable reports whether err is a payment error the caller may retry
// after a delay without changing its input.
func IsRetryable(err error) bool {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// ErrorCode returns the payment error code carried by err, or "" if err is
// not a payment error.
func ErrorCode(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
