package basket

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"avgx-index/internal/feed"
)

var one = decimal.NewFromInt(1)

// Options parameterise a basket provider.
type Options struct {
	// Name keys the basket in the baseline store ("fiat" or "crypto").
	Name string
	// Invert divides contributions by the asset value before weighting.
	// Fiat rates are quoted as units per 1 USD, so the weighted average must
	// invert them to stay USD-denominated like the crypto basket.
	Invert bool
	// DefaultValue prices assets that neither the feed, the baseline, nor the
	// secondary source covered during total feed failure. Zero disables the
	// default and leaves such assets missing.
	DefaultValue decimal.Decimal
	Freshness    time.Duration
	Retry        feed.RetryPolicy
	Fetch        FetchFunc
	Secondary    SecondaryFunc
	Baseline     BaselineSource
}

// Provider maintains one weighted basket: it refreshes values from its feed,
// substitutes baseline data per asset on gaps, and reduces the basket to a
// weighted average.
type Provider struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time

	mux     sync.Mutex
	weights []AssetWeight
	cell    cacheCell
}

// NewProvider constructs a basket provider. Asset weights are loaded via
// Initialize.
func NewProvider(opts Options, logger zerolog.Logger) *Provider {
	if opts.Freshness <= 0 {
		opts.Freshness = time.Minute
	}
	return &Provider{
		opts:   opts,
		logger: logger.With().Str("component", "basket").Str("basket", opts.Name).Logger(),
		now:    time.Now,
	}
}

// Name returns the basket's baseline key.
func (p *Provider) Name() string {
	return p.opts.Name
}

// Initialize loads the asset-weight configuration. Calling it again is a
// no-op and does not reset cached prices. An empty list is valid and leaves
// the basket degenerate.
func (p *Provider) Initialize(weights []AssetWeight) {
	p.mux.Lock()
	defer p.mux.Unlock()

	if p.weights != nil {
		return
	}
	p.weights = make([]AssetWeight, len(weights))
	copy(p.weights, weights)
}

// Ensure refreshes the basket when the cache is stale. It never fails hard:
// total feed failure degrades to baseline data.
func (p *Provider) Ensure(ctx context.Context) error {
	p.mux.Lock()
	defer p.mux.Unlock()

	if p.cell.isFresh(p.now(), p.opts.Freshness) {
		return nil
	}
	return p.refreshLocked(ctx)
}

// WeightedPrices returns the cached priced assets, refreshing first when the
// cache age exceeds the freshness window.
func (p *Provider) WeightedPrices(ctx context.Context) ([]PricedAsset, error) {
	if err := p.Ensure(ctx); err != nil {
		return nil, err
	}
	return p.Assets(), nil
}

// Refresh forces a fetch cycle regardless of cache age.
func (p *Provider) Refresh(ctx context.Context) error {
	p.mux.Lock()
	defer p.mux.Unlock()
	return p.refreshLocked(ctx)
}

func (p *Provider) refreshLocked(ctx context.Context) error {
	var fetched map[string]decimal.Decimal
	fetchErr := p.opts.Retry.Do(ctx, p.logger, func(ctx context.Context) error {
		values, err := p.opts.Fetch(ctx)
		if err != nil {
			return err
		}
		fetched = values
		return nil
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}

	baseline := map[string]decimal.Decimal{}
	if p.opts.Baseline != nil {
		baseline = p.opts.Baseline.AssetValues(ctx, p.opts.Name)
	}

	cell := cacheCell{fetchedAt: p.now(), degraded: fetchErr != nil}
	for _, weight := range p.weights {
		asset, ok := p.priceAsset(ctx, weight, fetched, baseline, fetchErr != nil)
		if !ok {
			cell.missing = append(cell.missing, weight.Code)
			continue
		}
		cell.assets = append(cell.assets, asset)
	}

	if fetchErr != nil {
		p.logger.Warn().Err(fetchErr).
			Int("priced", len(cell.assets)).
			Strs("missing", cell.missing).
			Msg("feed unavailable, basket degraded to baseline")
	} else if p.opts.Baseline != nil && len(fetched) > 0 {
		p.opts.Baseline.MergeAssetValues(ctx, p.opts.Name, fetched)
	}

	p.cell = cell
	return nil
}

// priceAsset resolves one asset through the fallback chain: live feed value →
// baseline → missing. On total feed failure the chain extends through the
// secondary source and the configured default before giving up.
func (p *Provider) priceAsset(ctx context.Context, weight AssetWeight, fetched, baseline map[string]decimal.Decimal, totalFailure bool) (PricedAsset, bool) {
	if value, ok := fetched[weight.Code]; ok && value.IsPositive() {
		return PricedAsset{AssetWeight: weight, Value: value}, true
	}

	if value, ok := baseline[weight.Code]; ok && value.IsPositive() {
		p.logger.Debug().Str("asset", weight.Code).Msg("substituting baseline value")
		return PricedAsset{AssetWeight: weight, Value: value, FromBaseline: true}, true
	}

	if !totalFailure {
		return PricedAsset{}, false
	}

	if p.opts.Secondary != nil {
		if value, ok := p.opts.Secondary(ctx, weight.Code); ok && value.IsPositive() {
			p.logger.Debug().Str("asset", weight.Code).Msg("substituting secondary source value")
			return PricedAsset{AssetWeight: weight, Value: value, FromBaseline: true}, true
		}
	}

	if p.opts.DefaultValue.IsPositive() {
		p.logger.Warn().Str("asset", weight.Code).Str("default", p.opts.DefaultValue.String()).
			Msg("no value available, using hardcoded default")
		return PricedAsset{AssetWeight: weight, Value: p.opts.DefaultValue, FromBaseline: true}, true
	}

	return PricedAsset{}, false
}

// WeightedAverage reduces the cached basket to Σ(value_i·weight_i)/Σ(weight_i),
// inverting values first when the basket is rate-quoted.
func (p *Provider) WeightedAverage() (decimal.Decimal, error) {
	p.mux.Lock()
	assets := p.cell.assets
	p.mux.Unlock()

	if len(assets) == 0 {
		return decimal.Decimal{}, ErrEmptyBasket
	}

	totalWeight := decimal.Zero
	weightedSum := decimal.Zero
	for _, asset := range assets {
		contribution := asset.Value
		if p.opts.Invert {
			contribution = one.Div(asset.Value)
		}
		weightedSum = weightedSum.Add(contribution.Mul(asset.Weight))
		totalWeight = totalWeight.Add(asset.Weight)
	}

	if totalWeight.IsZero() {
		return decimal.Decimal{}, ErrInvalidWeights
	}

	return weightedSum.Div(totalWeight), nil
}

// Assets returns a copy of the cached priced assets.
func (p *Provider) Assets() []PricedAsset {
	p.mux.Lock()
	defer p.mux.Unlock()

	out := make([]PricedAsset, len(p.cell.assets))
	copy(out, p.cell.assets)
	return out
}

// MissingAssets returns configured codes absent from the current cache.
func (p *Provider) MissingAssets() []string {
	p.mux.Lock()
	defer p.mux.Unlock()

	out := make([]string, len(p.cell.missing))
	copy(out, p.cell.missing)
	return out
}

// Degraded reports whether the last refresh fell back to baseline data.
func (p *Provider) Degraded() bool {
	p.mux.Lock()
	defer p.mux.Unlock()
	return p.cell.degraded
}
