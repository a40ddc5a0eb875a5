package providers_test

import (
	"testing"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const akashYAML = `
provider: akash
currency: TOKEN
token_symbol: AKT
regions: [us-west]
gpus:
  - type: A100
    price_per_hour: 0.5
`

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := providers.NewRegistry()
	err := r.Register(newTestStatic(t, lambdaYAML))
	require.NoError(t, err)

	got, err := r.Get("lambda")
	require.NoError(t, err)
	assert.Equal(t, "lambda", got.ID())
}

func TestRegistry_DuplicateRegister(t *testing.T) {
	r := providers.NewRegistry()
	a := newTestStatic(t, lambdaYAML)

	require.NoError(t, r.Register(a))
	err := r.Register(a)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_GetNotFound(t *testing.T) {
	r := providers.NewRegistry()
	_, err := r.Get("nonexistent")
	assert.ErrorIs(t, err, providers.ErrNotFound)
}

func TestRegistry_ListSorted(t *testing.T) {
	r := providers.NewRegistry()
	_ = r.Register(newTestStatic(t, lambdaYAML))
	_ = r.Register(newTestStatic(t, akashYAML))

	assert.Equal(t, []string{"akash", "lambda"}, r.List())
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_Unregister(t *testing.T) {
	r := providers.NewRegistry()
	_ = r.Register(newTestStatic(t, lambdaYAML))
	r.Unregister("lambda")
	r.Unregister("missing")
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Snapshot(t *testing.T) {
	r := providers.NewRegistry()
	_ = r.Register(newTestStatic(t, lambdaYAML))
	_ = r.Register(newTestStatic(t, akashYAML))

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "akash", snap[0].ID())

	// Later registrations do not affect an existing snapshot.
	r.Unregister("akash")
	assert.Len(t, snap, 2)

	only := r.Snapshot("lambda", "unknown", "lambda")
	require.Len(t, only, 1)
	assert.Equal(t, "lambda", only[0].ID())
}

func TestRegistry_FindByGPU(t *testing.T) {
	r := providers.NewRegistry()
	_ = r.Register(newTestStatic(t, lambdaYAML))
	_ = r.Register(newTestStatic(t, akashYAML))

	found := r.FindByGPU("NVIDIA H100")
	require.Len(t, found, 1)
	assert.Equal(t, "lambda", found[0].ID())

	assert.Empty(t, r.FindByGPU("T4"))
}
