package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/gpu"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
)

// GPUOffer is one priced GPU type in a static provider file.
type GPUOffer struct {
	Type            string  `yaml:"type"`
	PricePerHour    float64 `yaml:"price_per_hour"`
	SpotDiscountPct float64 `yaml:"spot_discount_pct,omitempty"`
}

// StaticConfig holds a YAML-defined provider and its price list.
type StaticConfig struct {
	Provider    string            `yaml:"provider"`
	Name        string            `yaml:"name"`
	Updated     string            `yaml:"updated"`
	Reputation  float64           `yaml:"reputation"`
	LatencyMs   int64             `yaml:"latency_ms"`
	Currency    model.Currency    `yaml:"currency"`
	TokenSymbol string            `yaml:"token_symbol,omitempty"`
	Regions     []string          `yaml:"regions"`
	SpotOnly    bool              `yaml:"spot_only,omitempty"`
	Unavailable bool              `yaml:"unavailable,omitempty"`
	Metadata    map[string]string `yaml:"metadata,omitempty"`
	GPUs        []GPUOffer        `yaml:"gpus"`
}

// Validate checks required fields and fills defaults.
func (c *StaticConfig) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("missing provider id")
	}
	if len(c.GPUs) == 0 {
		return fmt.Errorf("provider %s: no gpus defined", c.Provider)
	}
	if c.Currency == "" {
		c.Currency = model.CurrencyUSD
	}
	c.Currency = model.Currency(strings.ToUpper(string(c.Currency)))
	switch c.Currency {
	case model.CurrencyUSD:
	case model.CurrencyToken:
		if c.TokenSymbol == "" {
			return fmt.Errorf("provider %s: token currency requires token_symbol", c.Provider)
		}
	default:
		return fmt.Errorf("provider %s: unknown currency %q", c.Provider, c.Currency)
	}
	if c.Reputation < 0 || c.Reputation > 100 {
		return fmt.Errorf("provider %s: reputation must be within 0..100", c.Provider)
	}
	for _, g := range c.GPUs {
		if g.Type == "" {
			return fmt.Errorf("provider %s: gpu entry without type", c.Provider)
		}
		if g.PricePerHour < 0 {
			return fmt.Errorf("provider %s: negative price for %s", c.Provider, g.Type)
		}
	}
	if c.Name == "" {
		c.Name = c.Provider
	}
	return nil
}

// LoadStatic reads a YAML provider file.
func LoadStatic(path string) (*StaticConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider file %s: %w", path, err)
	}

	cfg, err := LoadStaticFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("provider file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadStaticFromBytes parses and validates YAML provider data.
func LoadStaticFromBytes(data []byte) (*StaticConfig, error) {
	var cfg StaticConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse provider data: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDir loads every *.yaml and *.yml file in dir as a static adapter.
func LoadDir(dir string) ([]*Static, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read providers dir %s: %w", dir, err)
	}

	var out []*Static
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		cfg, err := LoadStatic(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, NewStatic(cfg))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

// Static is an Adapter answering from a fixed price list.
type Static struct {
	cfg StaticConfig
	now func() time.Time
}

var _ Adapter = (*Static)(nil)

// StaticOption configures a Static adapter.
type StaticOption func(*Static)

// WithNow overrides the clock used for FetchedAt.
func WithNow(now func() time.Time) StaticOption {
	return func(s *Static) { s.now = now }
}

// NewStatic creates an adapter from a validated config.
func NewStatic(cfg *StaticConfig, opts ...StaticOption) *Static {
	s := &Static{cfg: *cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Static) ID() string { return s.cfg.Provider }

func (s *Static) Info() ProviderInfo {
	types := make([]string, 0, len(s.cfg.GPUs))
	hasDiscount := false
	for _, g := range s.cfg.GPUs {
		types = append(types, gpu.Canonical(g.Type))
		if g.SpotDiscountPct > 0 {
			hasDiscount = true
		}
	}

	var models []model.PricingModel
	if !s.cfg.SpotOnly {
		models = append(models, model.PricingFixed)
	}
	if s.cfg.SpotOnly || hasDiscount {
		models = append(models, model.PricingSpot)
	}
	if s.cfg.Currency == model.CurrencyToken {
		models = append(models, model.PricingToken)
	}

	info := ProviderInfo{
		ID:              s.cfg.Provider,
		Name:            s.cfg.Name,
		GPUTypes:        types,
		Regions:         append([]string(nil), s.cfg.Regions...),
		PricingModels:   models,
		ReputationScore: s.cfg.Reputation,
		TokenSymbol:     s.cfg.TokenSymbol,
	}
	if len(s.cfg.Metadata) > 0 {
		info.Metadata = make(map[string]string, len(s.cfg.Metadata))
		for k, v := range s.cfg.Metadata {
			info.Metadata[k] = v
		}
	}
	return info
}

func (s *Static) IsAvailable(ctx context.Context) bool {
	return !s.cfg.Unavailable && ctx.Err() == nil
}

// GetQuotes returns one quote per matching GPU and region. A spot quote is
// added when the offer carries a discount and the request accepts spot.
func (s *Static) GetQuotes(ctx context.Context, req QuoteRequest) (*QuoteResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.cfg.Unavailable {
		return nil, NewError(s.cfg.Provider, CodeUnavailable, "provider marked unavailable", ErrUnavailable)
	}
	if req.GPUCount < 1 {
		return nil, NewError(s.cfg.Provider, CodeInvalidRequest, "gpu count must be positive", ErrInvalidRequest)
	}

	regions := s.cfg.Regions
	if req.Region != "" {
		for _, r := range s.cfg.Regions {
			if strings.EqualFold(r, req.Region) {
				regions = []string{r}
				break
			}
		}
	}
	if len(regions) == 0 {
		regions = []string{""}
	}

	resp := &QuoteResponse{
		ProviderID: s.cfg.Provider,
		LatencyMs:  s.cfg.LatencyMs,
		FetchedAt:  s.now(),
	}
	for _, g := range s.cfg.GPUs {
		if req.GPUType != "" && !gpu.Same(g.Type, req.GPUType) {
			continue
		}
		for _, region := range regions {
			base := model.PriceQuote{
				ProviderID:   s.cfg.Provider,
				GPUType:      gpu.Canonical(g.Type),
				PricePerHour: g.PricePerHour,
				Currency:     s.cfg.Currency,
				TokenSymbol:  s.cfg.TokenSymbol,
				Region:       region,
			}
			if !s.cfg.SpotOnly {
				resp.Quotes = append(resp.Quotes, base)
			}
			if s.cfg.SpotOnly || (req.UseSpot && g.SpotDiscountPct > 0) {
				spot := base
				spot.IsSpot = true
				spot.SpotDiscountPercent = g.SpotDiscountPct
				resp.Quotes = append(resp.Quotes, spot)
			}
		}
	}
	return resp, nil
}
