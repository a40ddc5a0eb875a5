package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SlackNotifier announces handoffs in a Slack channel.
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackNotifier creates a Slack webhook notifier.
func NewSlackNotifier(webhookURL, channel string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Send(ctx context.Context, h Handoff) error {
	color := "#36a64f" // green
	if h.Signature == "" {
		color = "#ff9900" // orange, unsigned
	}

	trace := h.TraceHash
	if trace == "" {
		trace = "not stored"
	}

	payload := slackPayload{
		Channel: s.channel,
		Attachments: []slackAttachment{
			{
				Color: color,
				Title: fmt.Sprintf("GPU Broker: %s selected", h.ProviderID),
				Fields: []slackField{
					{Title: "GPU", Value: fmt.Sprintf("%d x %s", h.GPUCount, h.GPUType), Short: true},
					{Title: "Region", Value: h.Region, Short: true},
					{Title: "Duration", Value: fmt.Sprintf("%gh", h.DurationHours), Short: true},
					{Title: "Effective Price", Value: fmt.Sprintf("$%.4f/A100-hr", h.EffectiveUSDPerA100Hour), Short: true},
					{Title: "Estimated Total", Value: fmt.Sprintf("$%.2f", h.EstimatedTotalUSD), Short: true},
					{Title: "Trace", Value: trace, Short: false},
				},
				Footer: "GPU Broker run " + h.RunID,
				Ts:     time.Now().Unix(),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack handoff: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}
