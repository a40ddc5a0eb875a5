package providers

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode classifies adapter failures.
type ErrorCode string

const (
	CodeUnavailable    ErrorCode = "UNAVAILABLE"
	CodeRateLimit      ErrorCode = "RATE_LIMIT"
	CodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	CodeTimeout        ErrorCode = "TIMEOUT"
	CodeAuth           ErrorCode = "AUTH_ERROR"
	CodeUnknown        ErrorCode = "UNKNOWN"
)

// Sentinel errors adapters may return directly.
var (
	ErrUnavailable    = errors.New("providers: provider unavailable")
	ErrRateLimited    = errors.New("providers: rate limited")
	ErrInvalidRequest = errors.New("providers: invalid request")
	ErrAuthFailed     = errors.New("providers: authentication failed")
	ErrNotFound       = errors.New("providers: provider not found")
)

// Error wraps an adapter failure with its provider and code.
type Error struct {
	Code       ErrorCode
	ProviderID string
	Message    string
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("provider %s: %s: %s", e.ProviderID, e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error with the default retryability for its code.
func NewError(providerID string, code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:       code,
		ProviderID: providerID,
		Message:    message,
		Retryable:  retryableCode(code),
		Err:        err,
	}
}

func retryableCode(code ErrorCode) bool {
	switch code {
	case CodeUnavailable, CodeRateLimit, CodeTimeout:
		return true
	default:
		return false
	}
}

// Classify converts any adapter error into an *Error for providerID.
func Classify(providerID string, err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		if pe.ProviderID == "" {
			cp := *pe
			cp.ProviderID = providerID
			return &cp
		}
		return pe
	}

	code := CodeUnknown
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = CodeTimeout
	case errors.Is(err, context.Canceled):
		code = CodeTimeout
	case errors.Is(err, ErrRateLimited):
		code = CodeRateLimit
	case errors.Is(err, ErrUnavailable):
		code = CodeUnavailable
	case errors.Is(err, ErrInvalidRequest):
		code = CodeInvalidRequest
	case errors.Is(err, ErrAuthFailed):
		code = CodeAuth
	}
	return NewError(providerID, code, err.Error(), err)
}

// IsRetryable reports whether a later poll of the same provider may succeed.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}
