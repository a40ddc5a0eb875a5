package settlement_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/settlement"
)

func TestSlackNotifier_Name(t *testing.T) {
	n := settlement.NewSlackNotifier("https://hooks.slack.com/test", "#test")
	assert.Equal(t, "slack", n.Name())
}

func TestSlackNotifier_Send(t *testing.T) {
	var received struct {
		Channel     string `json:"channel"`
		Attachments []struct {
			Color  string `json:"color"`
			Title  string `json:"title"`
			Fields []struct {
				Title string `json:"title"`
				Value string `json:"value"`
			} `json:"fields"`
		} `json:"attachments"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, http.MethodPost, r.Method)

		err := json.NewDecoder(r.Body).Decode(&received)
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := settlement.NewSlackNotifier(server.URL, "#gpu-broker")
	err := n.Send(context.Background(), sampleHandoff())
	require.NoError(t, err)

	assert.Equal(t, "#gpu-broker", received.Channel)
	require.Len(t, received.Attachments, 1)
	att := received.Attachments[0]
	assert.Equal(t, "GPU Broker: lambda selected", att.Title)
	assert.Equal(t, "#ff9900", att.Color)

	values := map[string]string{}
	for _, f := range att.Fields {
		values[f.Title] = f.Value
	}
	assert.Equal(t, "1 x A100-80GB", values["GPU"])
	assert.Equal(t, "$6.17", values["Estimated Total"])
}

func TestSlackNotifier_Send_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := settlement.NewSlackNotifier(server.URL, "#test")
	err := n.Send(context.Background(), sampleHandoff())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
