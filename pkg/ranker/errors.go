package ranker

import (
	"errors"
	"fmt"
)

// ErrNoEligibleProviders is returned alongside a full Result when every
// provider was rejected.
var ErrNoEligibleProviders = errors.New("ranker: no eligible providers")

// ValidationError reports a malformed ranking request. It is the only
// error class that aborts a ranking before any provider is contacted.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("ranker: invalid request: %v", e.Err)
	}
	return fmt.Sprintf("ranker: invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
