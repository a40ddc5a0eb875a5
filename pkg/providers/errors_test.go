package providers_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/providers"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      providers.ErrorCode
		retryable bool
	}{
		{"deadline", context.DeadlineExceeded, providers.CodeTimeout, true},
		{"rate limit", fmt.Errorf("call: %w", providers.ErrRateLimited), providers.CodeRateLimit, true},
		{"auth", providers.ErrAuthFailed, providers.CodeAuth, false},
		{"invalid", providers.ErrInvalidRequest, providers.CodeInvalidRequest, false},
		{"unknown", errors.New("boom"), providers.CodeUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := providers.Classify("p1", tt.err)
			assert.Equal(t, tt.code, pe.Code)
			assert.Equal(t, "p1", pe.ProviderID)
			assert.Equal(t, tt.retryable, pe.Retryable)
			assert.ErrorIs(t, pe, tt.err)
		})
	}
}

func TestClassify_KeepsTypedError(t *testing.T) {
	orig := providers.NewError("", providers.CodeRateLimit, "slow down", nil)
	pe := providers.Classify("p2", fmt.Errorf("wrapped: %w", orig))
	assert.Equal(t, providers.CodeRateLimit, pe.Code)
	assert.Equal(t, "p2", pe.ProviderID)
	assert.Contains(t, pe.Error(), "slow down")
}

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, providers.Classify("p", nil))
}
