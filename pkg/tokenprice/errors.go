package tokenprice

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode classifies token price failures.
type ErrorCode string

const (
	CodeRateLimit    ErrorCode = "RATE_LIMIT"
	CodeNetwork      ErrorCode = "NETWORK"
	CodeInvalidToken ErrorCode = "INVALID_TOKEN"
	CodeCacheStale   ErrorCode = "CACHE_STALE"
)

// Error is returned by price sources and used in service logs.
type Error struct {
	Code       ErrorCode
	Symbol     string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("tokenprice %s: %s: %s", e.Symbol, e.Code, e.Message)
	}
	return fmt.Sprintf("tokenprice: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
func (e *Error) Retryable() bool {
	return e.Code == CodeRateLimit || e.Code == CodeNetwork
}

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Retryable()
}

func retryAfter(err error) time.Duration {
	var te *Error
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}
