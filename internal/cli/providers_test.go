package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/providers"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/providers/mock"
)

func TestPrintGPUTable(t *testing.T) {
	registry := providers.NewRegistry()
	require.NoError(t, registry.Register(mock.New(
		mock.WithID("lambda"),
		mock.WithQuotes(model.PriceQuote{GPUType: "H100", Region: "us-east", PricePerHour: 3, Currency: model.CurrencyUSD}),
	)))

	var buf bytes.Buffer
	printGPUTable(&buf, registry)

	var h100, t4 string
	for _, line := range strings.Split(buf.String(), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "H100":
			h100 = line
		case "T4":
			t4 = line
		}
	}
	assert.Contains(t, h100, "1.50")
	assert.Contains(t, h100, "lambda")
	assert.Contains(t, t4, "0.15")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(t4), "-"))
}
