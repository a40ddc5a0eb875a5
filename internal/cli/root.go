package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ogulcanaydogan/GPU-Broker/internal/config"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/normalize"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/providers"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/ranker"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/settlement"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/storage"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/storage/postgres"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/tokenprice"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/tokenprice/rediscache"
)

// Version is set at build time via ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gpb",
	Short: "GPU Broker - rank GPU compute providers by normalized price",
	Long: `GPU Broker polls GPU compute providers, normalizes their quotes to USD per
A100-equivalent hour including hidden costs, filters them against job
constraints and ranks the survivors. Every ranking leaves a hashed,
auditable reasoning trace.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.gpb/config.yaml)")
}

// loadConfig loads the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger creates a structured logger from config.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// initRegistry creates a provider registry from the YAML definitions.
func initRegistry(cfg *config.Config) (*providers.Registry, error) {
	registry := providers.NewRegistry()
	dir := cfg.Providers.Dir

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		// Try relative to executable
		exePath, _ := os.Executable()
		if exePath != "" {
			altDir := filepath.Join(filepath.Dir(exePath), "providers")
			if _, altErr := os.Stat(altDir); altErr == nil {
				dir = altDir
			}
		}
	}

	adapters, err := providers.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, a := range adapters {
		if err := registry.Register(a); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// initTokenPrices creates the token price service, backed by Redis when configured.
func initTokenPrices(cfg *config.Config, logger *slog.Logger) *tokenprice.Service {
	tp := cfg.TokenPrice
	source := tokenprice.NewHTTPSource(
		tokenprice.WithBaseURL(tp.BaseURL),
		tokenprice.WithAPIKey(tp.APIKey),
		tokenprice.WithSymbolIDs(tp.SymbolIDs),
	)

	opts := []tokenprice.Option{
		tokenprice.WithCacheTTL(tp.CacheTTL),
		tokenprice.WithRateLimit(tp.RateLimit, tp.RateWindow),
		tokenprice.WithRetry(tp.MaxAttempts, tp.Backoff),
		tokenprice.WithLogger(logger),
	}
	if tp.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     tp.Redis.Addr,
			Password: tp.Redis.Password,
			DB:       tp.Redis.DB,
		})
		opts = append(opts, tokenprice.WithCache(rediscache.New(client, rediscache.WithKeyPrefix(tp.Redis.KeyPrefix))))
	}
	return tokenprice.New(source, opts...)
}

// initStorage opens the configured trace store. It returns nil for driver "none".
func initStorage(ctx context.Context, cfg *config.Config) (storage.TraceStore, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.Storage.DSN)
	case config.DriverHTTP:
		var opts []storage.HTTPOption
		if cfg.Storage.Token != "" {
			opts = append(opts, storage.WithBearerToken(cfg.Storage.Token))
		}
		return storage.NewHTTPStore(cfg.Storage.URL, opts...), nil
	case config.DriverNone:
		return nil, nil
	default:
		return storage.NewSQLite(cfg.Storage.Path)
	}
}

// initNotifiers creates settlement notifiers from config.
func initNotifiers(cfg *config.Config) []settlement.Notifier {
	var notifiers []settlement.Notifier

	if cfg.Settlement.Slack.Enabled && cfg.Settlement.Slack.WebhookURL != "" {
		notifiers = append(notifiers, settlement.NewSlackNotifier(
			cfg.Settlement.Slack.WebhookURL,
			cfg.Settlement.Slack.Channel,
		))
	}

	if cfg.Settlement.Webhook.Enabled && cfg.Settlement.Webhook.URL != "" {
		notifiers = append(notifiers, settlement.NewWebhookNotifier(
			cfg.Settlement.Webhook.URL,
			cfg.Settlement.Webhook.Secret,
		))
	}

	return notifiers
}

// initPublisher returns nil when no notifier is configured.
func initPublisher(cfg *config.Config, logger *slog.Logger) (*settlement.Publisher, error) {
	notifiers := initNotifiers(cfg)
	if len(notifiers) == 0 {
		return nil, nil
	}
	opts := []settlement.PublisherOption{settlement.WithPublisherLogger(logger)}
	if cfg.Settlement.SigningKey != "" {
		signer, err := settlement.NewSigner(cfg.Settlement.SigningKey)
		if err != nil {
			return nil, err
		}
		opts = append(opts, settlement.WithSigner(signer))
	}
	return settlement.NewPublisher(notifiers, opts...), nil
}

// engine bundles everything a ranking command needs.
type engine struct {
	registry *providers.Registry
	ranker   *ranker.Ranker
	store    storage.TraceStore
}

func (e *engine) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// initEngine wires registry, token prices, normalizer, store and ranker.
func initEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, meter ranker.Meter) (*engine, error) {
	registry, err := initRegistry(cfg)
	if err != nil {
		return nil, err
	}

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open trace store: %w", err)
	}

	tokens := initTokenPrices(cfg, logger)
	opts := []ranker.Option{
		ranker.WithLogger(logger),
		ranker.WithTokenPrefetcher(tokens),
		ranker.WithWeights(cfg.Ranking.Weights),
		ranker.WithTopK(cfg.Ranking.TopK),
		ranker.WithTopN(cfg.Ranking.TopN),
		ranker.WithConcurrency(cfg.Ranking.Concurrency),
		ranker.WithProviderTimeout(cfg.Ranking.ProviderTimeout),
		ranker.WithAggregateTimeout(cfg.Ranking.AggregateTimeout),
	}
	if meter != nil {
		opts = append(opts, ranker.WithMeter(meter))
	}
	if store != nil {
		opts = append(opts, ranker.WithTraceStore(store))
	}

	r := ranker.New(registry, normalize.New(tokens), opts...)
	return &engine{registry: registry, ranker: r, store: store}, nil
}
