package index

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"avgx-index/internal/basket"
	"avgx-index/internal/store"
)

// Basket is the provider surface the calculator consumes. basket.Provider
// implements it; tests substitute static baskets.
type Basket interface {
	Ensure(ctx context.Context) error
	WeightedAverage() (decimal.Decimal, error)
	Assets() []basket.PricedAsset
	MissingAssets() []string
}

// Calculator runs the full calculation cycle: concurrent basket refresh,
// smoothing, volatility discount, geometric-mean composition, daily clamp,
// and state write-back.
type Calculator struct {
	fiat   Basket
	crypto Basket
	state  *store.State
	params Params
	logger zerolog.Logger
	now    func() time.Time
}

// NewCalculator wires baskets, state store, and pipeline parameters.
func NewCalculator(fiat, crypto Basket, state *store.State, params Params, logger zerolog.Logger) *Calculator {
	return &Calculator{
		fiat:   fiat,
		crypto: crypto,
		state:  state,
		params: params.normalized(),
		logger: logger.With().Str("component", "calculator").Logger(),
		now:    time.Now,
	}
}

// CycleResult carries one cycle's published value and every intermediate.
type CycleResult struct {
	Timestamp       time.Time `json:"timestamp"`
	AvgxUSD         float64   `json:"avgx_usd"`
	AvgxRaw         float64   `json:"avgx_raw"`
	WFRaw           float64   `json:"wf_raw"`
	WFSmoothed      float64   `json:"wf_smoothed"`
	WCRaw           float64   `json:"wc_raw"`
	WCSmoothed      float64   `json:"wc_smoothed"`
	VolatilityIndex float64   `json:"volatility_index"`
	WCAdjusted      float64   `json:"wc_adjusted"`
	Clamped         bool      `json:"clamped"`
}

// RunCycle executes one full calculation cycle and persists its output. Only
// basket emptiness, invalid weights, and domain errors propagate; feed and
// persistence failures are recovered below this level.
func (c *Calculator) RunCycle(ctx context.Context) (CycleResult, error) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return c.fiat.Ensure(groupCtx) })
	group.Go(func() error { return c.crypto.Ensure(groupCtx) })
	if err := group.Wait(); err != nil {
		return CycleResult{}, fmt.Errorf("refresh baskets: %w", err)
	}

	wfRawDec, err := c.fiat.WeightedAverage()
	if err != nil {
		return CycleResult{}, fmt.Errorf("fiat basket: %w", err)
	}
	wcRawDec, err := c.crypto.WeightedAverage()
	if err != nil {
		return CycleResult{}, fmt.Errorf("crypto basket: %w", err)
	}

	wfRaw := wfRawDec.InexactFloat64()
	wcRaw := wcRawDec.InexactFloat64()

	smoothed := c.params.Step(wfRaw, wcRaw, c.state.SmoothedHistory(ctx))
	if smoothed.Degraded {
		c.logger.Warn().Msg("smoothing degraded to raw pass-through")
	}

	avgxRaw, err := Compose(smoothed.WFSmoothed, smoothed.WCAdjusted)
	if err != nil {
		return CycleResult{}, err
	}

	var lastValue *float64
	if last, ok := c.state.LatestIndexSample(ctx); ok {
		lastValue = &last.AvgxUSD
	}
	avgx := Clamp(avgxRaw, lastValue, c.params.ClampPct)
	clamped := false
	if lastValue != nil {
		clamped = math.Abs(avgxRaw-*lastValue) > *lastValue*c.params.ClampPct
	}

	now := c.now().UTC()
	result := CycleResult{
		Timestamp:       now,
		AvgxUSD:         avgx,
		AvgxRaw:         avgxRaw,
		WFRaw:           wfRaw,
		WFSmoothed:      smoothed.WFSmoothed,
		WCRaw:           wcRaw,
		WCSmoothed:      smoothed.WCSmoothed,
		VolatilityIndex: smoothed.VolatilityIndex,
		WCAdjusted:      smoothed.WCAdjusted,
		Clamped:         clamped,
	}

	c.state.AppendSmoothedSample(ctx, store.SmoothedSample{
		Timestamp:       now,
		WFSmoothed:      smoothed.WFSmoothed,
		WCSmoothed:      smoothed.WCSmoothed,
		VolatilityIndex: smoothed.VolatilityIndex,
		WCAdjusted:      smoothed.WCAdjusted,
	})
	c.state.AppendIndexSample(ctx, store.IndexSample{
		Timestamp: now,
		AvgxUSD:   avgx,
		WFValue:   smoothed.WFSmoothed,
		WCValue:   smoothed.WCAdjusted,
	})
	c.state.MergeBaseline(ctx, store.BaselinePatch{
		AvgxValue: &result.AvgxUSD,
		WFValue:   &result.WFSmoothed,
		WCValue:   &result.WCAdjusted,
		Timestamp: now,
	})

	c.logger.Info().
		Float64("avgx_usd", avgx).
		Float64("volatility", smoothed.VolatilityIndex).
		Bool("clamped", result.Clamped).
		Msg("index computed")

	return result, nil
}

// IndexQuote is the published index value with its 24h change.
type IndexQuote struct {
	AvgxUSD   float64   `json:"avgx_usd"`
	WFValue   float64   `json:"wf_value"`
	WCValue   float64   `json:"wc_value"`
	Change24h float64   `json:"change_24h"`
	Timestamp time.Time `json:"timestamp"`
}

// ComputeCurrentIndex runs a calculation cycle and reports the published
// value with its change against the trailing 24h window.
func (c *Calculator) ComputeCurrentIndex(ctx context.Context) (IndexQuote, error) {
	result, err := c.RunCycle(ctx)
	if err != nil {
		return IndexQuote{}, err
	}

	return IndexQuote{
		AvgxUSD:   result.AvgxUSD,
		WFValue:   result.WFSmoothed,
		WCValue:   result.WCAdjusted,
		Change24h: c.change24h(ctx, result),
		Timestamp: result.Timestamp,
	}, nil
}

// change24h compares the current value against the oldest sample within the
// trailing 24h window; 0 when no prior sample exists.
func (c *Calculator) change24h(ctx context.Context, result CycleResult) float64 {
	samples := c.state.IndexHistory(ctx, result.Timestamp.Add(-24*time.Hour))
	// The current cycle's own sample is already appended; ignore it when it
	// is the only one.
	for _, sample := range samples {
		if sample.Timestamp.Before(result.Timestamp) && sample.AvgxUSD > 0 {
			return (result.AvgxUSD - sample.AvgxUSD) / sample.AvgxUSD * 100
		}
	}
	return 0
}

// Breakdown is the index value with both baskets' per-asset detail.
type Breakdown struct {
	Avgx          IndexQuote           `json:"avgx"`
	FiatBasket    []basket.PricedAsset `json:"fiat_basket"`
	CryptoBasket  []basket.PricedAsset `json:"crypto_basket"`
	FiatMissing   []string             `json:"fiat_missing,omitempty"`
	CryptoMissing []string             `json:"crypto_missing,omitempty"`
}

// DetailedBreakdown reports the index value together with the priced baskets.
func (c *Calculator) DetailedBreakdown(ctx context.Context) (Breakdown, error) {
	quote, err := c.ComputeCurrentIndex(ctx)
	if err != nil {
		return Breakdown{}, err
	}

	return Breakdown{
		Avgx:          quote,
		FiatBasket:    c.fiat.Assets(),
		CryptoBasket:  c.crypto.Assets(),
		FiatMissing:   c.fiat.MissingAssets(),
		CryptoMissing: c.crypto.MissingAssets(),
	}, nil
}

// HistoricalData returns index samples within the requested timeframe
// ("24h", "7d", or "30d"), ascending.
func (c *Calculator) HistoricalData(ctx context.Context, timeframe string) ([]store.IndexSample, error) {
	var window time.Duration
	switch timeframe {
	case "24h":
		window = 24 * time.Hour
	case "7d":
		window = 7 * 24 * time.Hour
	case "30d":
		window = 30 * 24 * time.Hour
	default:
		return nil, fmt.Errorf("unknown timeframe %q (want 24h, 7d, or 30d)", timeframe)
	}
	return c.state.IndexHistory(ctx, c.now().UTC().Add(-window)), nil
}

// DebugInfo exposes one cycle's raw, smoothed, and adjusted values together
// with the pipeline parameters.
type DebugInfo struct {
	CycleResult
	Params Params `json:"config"`
}

// DebugInfo runs a cycle and reports every intermediate for diagnostics.
func (c *Calculator) DebugInfo(ctx context.Context) (DebugInfo, error) {
	result, err := c.RunCycle(ctx)
	if err != nil {
		return DebugInfo{}, err
	}
	return DebugInfo{CycleResult: result, Params: c.params}, nil
}

// CurrencyRate is the index value expressed in one fiat currency.
type CurrencyRate struct {
	Currency string          `json:"currency"`
	Name     string          `json:"name"`
	Rate     decimal.Decimal `json:"rate"`
	AvgxRate decimal.Decimal `json:"avgx_rate"`
}

// ConvertToAllCurrencies expresses the current index value in every
// configured fiat currency using the basket's cached rates.
func (c *Calculator) ConvertToAllCurrencies(ctx context.Context) ([]CurrencyRate, error) {
	quote, err := c.ComputeCurrentIndex(ctx)
	if err != nil {
		return nil, err
	}

	avgx := decimal.NewFromFloat(quote.AvgxUSD)
	assets := c.fiat.Assets()

	rates := make([]CurrencyRate, 0, len(assets))
	for _, asset := range assets {
		rates = append(rates, CurrencyRate{
			Currency: asset.Code,
			Name:     asset.Name,
			Rate:     asset.Value,
			AvgxRate: avgx.Mul(asset.Value),
		})
	}
	return rates, nil
}
