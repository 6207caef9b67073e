package broker

import (
	"errors"
	"fmt"
)

// ErrorKind classifies broker failures for the retry policy.
type ErrorKind int

const (
	// KindTransport covers network and HTTP-level failures. Retryable.
	KindTransport ErrorKind = iota
	// KindTokenExpired means the session token was rejected. The caller
	// re-authenticates once and retries.
	KindTokenExpired
	// KindProvider is an error reported by the brokerage itself (rejected
	// order, unknown code). Not retryable; the message is surfaced as-is.
	KindProvider
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTokenExpired:
		return "token_expired"
	case KindProvider:
		return "provider"
	default:
		return "unknown"
	}
}

// APIError is a classified broker failure.
type APIError struct {
	Kind    ErrorKind
	Code    string // provider message code when available
	Message string
	Err     error // underlying cause, if any
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker %s error [%s]: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("broker %s error: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps a network-level failure.
func NewTransportError(err error) *APIError {
	return &APIError{Kind: KindTransport, Message: err.Error(), Err: err}
}

// NewTokenExpiredError marks a rejected session token.
func NewTokenExpiredError(code, message string) *APIError {
	return &APIError{Kind: KindTokenExpired, Code: code, Message: message}
}

// NewProviderError wraps a failure reported by the brokerage.
func NewProviderError(code, message string) *APIError {
	return &APIError{Kind: KindProvider, Code: code, Message: message}
}

// IsRetryable reports whether the error is a transport failure worth retrying.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == KindTransport
	}
	return false
}

// IsTokenExpired reports whether the error indicates an expired session token.
func IsTokenExpired(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == KindTokenExpired
	}
	return false
}
