package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"avgx-index/internal/alerting"
	"avgx-index/internal/basket"
	"avgx-index/internal/config"
	"avgx-index/internal/feed"
	"avgx-index/internal/index"
	"avgx-index/internal/onchain"
	"avgx-index/internal/scheduler"
	"avgx-index/internal/service"
	"avgx-index/internal/store"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// pipeline bundles the constructed calculation components.
type pipeline struct {
	calc   *index.Calculator
	state  *store.State
	locker store.AdvisoryLocker
	close  func()
}

// openKV selects the state backing: Postgres when a DSN is configured, the
// in-memory store otherwise.
func (a *App) openKV(ctx context.Context) (store.KV, store.AdvisoryLocker, func(), error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; state is in-memory only")
		mem := store.NewMemory()
		return mem, mem, func() {}, nil
	}

	pool, err := store.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, nil, err
	}

	pg := store.NewPostgres(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pg.Close()
		return nil, nil, nil, err
	}
	return pg, pg, pg.Close, nil
}

func (a *App) retryPolicy() feed.RetryPolicy {
	return feed.RetryPolicy{
		MaxAttempts: a.Config.Feeds.MaxAttempts,
		BackoffBase: a.Config.Feeds.BackoffBase,
		BackoffCap:  a.Config.Feeds.BackoffCap,
	}
}

func assetWeights(entries []config.AssetWeight) []basket.AssetWeight {
	return lo.Map(entries, func(entry config.AssetWeight, _ int) basket.AssetWeight {
		return basket.AssetWeight{
			Code:   entry.Code,
			Name:   entry.Name,
			Weight: decimal.NewFromFloat(entry.Weight),
		}
	})
}

// newProviders builds the fiat and crypto basket providers against live feeds.
func (a *App) newProviders(state *store.State) (*basket.Provider, *basket.Provider) {
	fiatWeights := assetWeights(a.Config.Baskets.Fiat)
	cryptoWeights := assetWeights(a.Config.Baskets.Crypto)

	fiatCodes := lo.Map(fiatWeights, func(w basket.AssetWeight, _ int) string { return w.Code })
	cryptoIDs := lo.Map(cryptoWeights, func(w basket.AssetWeight, _ int) string { return w.Code })

	fiatFeed := feed.NewFiat(feed.FiatOptions{
		BaseURL:   a.Config.Feeds.Fiat.BaseURL,
		Timeout:   a.Config.Feeds.Fiat.RequestTimeout,
		UserAgent: a.Config.Feeds.Fiat.UserAgent,
	}, a.Logger)

	cryptoFeed := feed.NewCrypto(feed.CryptoOptions{
		BaseURL:   a.Config.Feeds.Crypto.BaseURL,
		Timeout:   a.Config.Feeds.Crypto.RequestTimeout,
		UserAgent: a.Config.Feeds.Crypto.UserAgent,
	}, a.Logger)

	var secondary basket.SecondaryFunc
	if a.Config.Ethereum.RPCURL != "" && len(a.Config.Ethereum.Aggregators) > 0 {
		ref := onchain.New(onchain.Options{
			RPCURL:      a.Config.Ethereum.RPCURL,
			Aggregators: a.Config.Ethereum.Aggregators,
			Timeout:     a.Config.Ethereum.RequestTimeout,
		}, a.Logger)
		logger := a.Logger
		secondary = func(ctx context.Context, code string) (decimal.Decimal, bool) {
			if !ref.Covers(code) {
				return decimal.Decimal{}, false
			}
			value, err := ref.LatestPrice(ctx, code)
			if err != nil {
				logger.Warn().Err(err).Str("asset", code).Msg("onchain reference lookup failed")
				return decimal.Decimal{}, false
			}
			return value, true
		}
	}

	fiatProvider := basket.NewProvider(basket.Options{
		Name:      store.BasketFiat,
		Invert:    true,
		Freshness: a.Config.Feeds.Freshness,
		Retry:     a.retryPolicy(),
		Fetch: func(ctx context.Context) (map[string]decimal.Decimal, error) {
			return fiatFeed.FetchRates(ctx, "USD", fiatCodes)
		},
		Baseline: state,
	}, a.Logger)
	fiatProvider.Initialize(fiatWeights)

	cryptoProvider := basket.NewProvider(basket.Options{
		Name:         store.BasketCrypto,
		DefaultValue: decimal.NewFromInt(1),
		Freshness:    a.Config.Feeds.Freshness,
		Retry:        a.retryPolicy(),
		Fetch: func(ctx context.Context) (map[string]decimal.Decimal, error) {
			quotes, err := cryptoFeed.FetchPrices(ctx, cryptoIDs)
			if err != nil {
				return nil, err
			}
			values := make(map[string]decimal.Decimal, len(quotes))
			for id, quote := range quotes {
				values[id] = quote.USD
			}
			return values, nil
		},
		Secondary: secondary,
		Baseline:  state,
	}, a.Logger)
	cryptoProvider.Initialize(cryptoWeights)

	return fiatProvider, cryptoProvider
}

func (a *App) stabilityParams() index.Params {
	return index.Params{
		AlphaFiat:        a.Config.Stability.AlphaFiat,
		AlphaCrypto:      a.Config.Stability.AlphaCrypto,
		VolatilityWindow: a.Config.Stability.VolatilityWindow,
		VolatilityTarget: a.Config.Stability.VolatilityTarget,
		ClampPct:         a.Config.Stability.ClampPct,
	}
}

// buildPipeline assembles store, providers, and calculator.
func (a *App) buildPipeline(ctx context.Context) (*pipeline, error) {
	kv, locker, closeKV, err := a.openKV(ctx)
	if err != nil {
		return nil, err
	}

	state := store.NewState(kv, a.Config.Stability.SmoothedHistoryCap, a.Config.Stability.IndexHistoryCap, a.Logger)
	fiat, crypto := a.newProviders(state)
	calc := index.NewCalculator(fiat, crypto, state, a.stabilityParams(), a.Logger)

	return &pipeline{calc: calc, state: state, locker: locker, close: closeKV}, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

// Run executes the long-running index daemon.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pipe, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer pipe.close()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := service.New(a.Config, sched, pipe.calc, pipe.locker, a.newNotifier(), a.Logger)

	a.Logger.Info().Msg("starting index daemon")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("daemon terminated with error")
		return err
	}

	a.Logger.Info().Msg("index daemon stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SimulateOptions configure the simulate command.
type SimulateOptions struct {
	WFRaw float64
	WCRaw float64
	// Last seeds a previous published value so the clamp stage engages.
	Last float64
}
