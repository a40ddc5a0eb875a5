package gpu_test

import (
	"testing"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeToA100_H100(t *testing.T) {
	price, ok := gpu.NormalizeToA100(3.00, "H100")
	assert.True(t, ok)
	assert.InDelta(t, 2.00, price, 1e-9)
}

func TestNormalizeToA100_UnknownFallsBack(t *testing.T) {
	price, ok := gpu.NormalizeToA100(2.50, "Quantum-9000")
	assert.False(t, ok)
	assert.InDelta(t, 2.50, price, 1e-9)

	r, ok := gpu.Ratio("Quantum-9000")
	assert.False(t, ok)
	assert.Equal(t, 1.0, r)
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"NVIDIA H100 80GB", "H100-80GB"},
		{"nvidia_a100_80gb", "A100-80GB"},
		{"Tesla T4", "T4"},
		{" rtx 4090 ", "RTX-4090"},
		{"AMD MI300X", "MI300X"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, gpu.Canonical(tt.in))
		})
	}
}

func TestRatio_Baseline(t *testing.T) {
	r, ok := gpu.Ratio(gpu.Baseline)
	assert.True(t, ok)
	assert.Equal(t, 1.0, r)
}

func TestSame(t *testing.T) {
	assert.True(t, gpu.Same("NVIDIA A100 80GB", "a100-80gb"))
	assert.False(t, gpu.Same("A100", "H100"))
	assert.True(t, gpu.Same("A100", "NVIDIA A100 80GB"))
	assert.True(t, gpu.Same("h100", "H100-80GB"))
	assert.True(t, gpu.Same("A6000", "RTX A6000"))
	assert.False(t, gpu.Same("A100", "A100-40GB"))
	assert.False(t, gpu.Same("H100", "H100-SXM"))
}

func TestAliasesShareRatio(t *testing.T) {
	for _, pair := range [][2]string{{"A100", "A100-80GB"}, {"H100", "H100-80GB"}, {"A6000", "RTX-A6000"}} {
		a, okA := gpu.Ratio(pair[0])
		b, okB := gpu.Ratio(pair[1])
		require.True(t, okA)
		require.True(t, okB)
		assert.Equal(t, a, b, pair[0])
	}
}

func TestKnown_Sorted(t *testing.T) {
	known := gpu.Known()
	assert.Contains(t, known, "H100")
	assert.IsNonDecreasing(t, known)
}
