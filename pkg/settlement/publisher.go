package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Publisher signs handoffs and fans them out to notifiers.
type Publisher struct {
	signer    *Signer
	notifiers []Notifier
	logger    *slog.Logger
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithSigner signs every handoff before delivery.
func WithSigner(s *Signer) PublisherOption {
	return func(p *Publisher) { p.signer = s }
}

// WithPublisherLogger sets the logger.
func WithPublisherLogger(l *slog.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = l }
}

// NewPublisher creates a Publisher delivering to notifiers.
func NewPublisher(notifiers []Notifier, opts ...PublisherOption) *Publisher {
	p := &Publisher{notifiers: notifiers, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Notifiers returns the configured notifier names.
func (p *Publisher) Notifiers() []string {
	names := make([]string, len(p.notifiers))
	for i, n := range p.notifiers {
		names[i] = n.Name()
	}
	return names
}

// Publish signs h when a signer is configured and sends it to every
// notifier concurrently. All notifiers are attempted; the first failure is
// returned.
func (p *Publisher) Publish(ctx context.Context, h *Handoff) error {
	if p.signer != nil {
		if err := p.signer.Sign(h); err != nil {
			return err
		}
	}

	snapshot := *h
	var g errgroup.Group
	for _, n := range p.notifiers {
		g.Go(func() error {
			if err := n.Send(ctx, snapshot); err != nil {
				p.logger.Warn("settlement handoff failed", "notifier", n.Name(), "run_id", snapshot.RunID, "error", err)
				return fmt.Errorf("%s: %w", n.Name(), err)
			}
			p.logger.Info("settlement handoff sent", "notifier", n.Name(), "run_id", snapshot.RunID, "provider", snapshot.ProviderID)
			return nil
		})
	}
	return g.Wait()
}
