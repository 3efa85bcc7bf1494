package basket

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyBasket indicates no usable priced assets are cached.
	ErrEmptyBasket = errors.New("basket: no priced assets cached")
	// ErrInvalidWeights indicates the cached assets carry zero total weight.
	ErrInvalidWeights = errors.New("basket: total weight is zero")
)

// AssetWeight is one configured basket member.
type AssetWeight struct {
	Code   string
	Name   string
	Weight decimal.Decimal
}

// PricedAsset is a configured asset with its value for the current fetch
// cycle. FromBaseline flags a baseline or secondary-source substitution.
type PricedAsset struct {
	AssetWeight
	Value        decimal.Decimal
	FromBaseline bool
}

// FetchFunc retrieves current values for all configured assets, keyed by
// asset code. A returned error means total feed failure.
type FetchFunc func(ctx context.Context) (map[string]decimal.Decimal, error)

// SecondaryFunc retrieves a single asset's value from a secondary source
// (e.g. an on-chain reference). ok=false means the source does not cover the
// asset.
type SecondaryFunc func(ctx context.Context, code string) (decimal.Decimal, bool)

// BaselineSource provides last-known asset values and accepts write-backs of
// freshly fetched ones.
type BaselineSource interface {
	AssetValues(ctx context.Context, basket string) map[string]decimal.Decimal
	MergeAssetValues(ctx context.Context, basket string, values map[string]decimal.Decimal)
}

// cacheCell holds one refresh cycle's output together with its fetch time.
type cacheCell struct {
	assets    []PricedAsset
	missing   []string
	degraded  bool
	fetchedAt time.Time
}

func (c cacheCell) isFresh(now time.Time, window time.Duration) bool {
	if c.fetchedAt.IsZero() {
		return false
	}
	return now.Sub(c.fetchedAt) < window
}
