package feed

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrUnavailable marks a feed that failed after exhausting retries. Callers
// are expected to fall back to baseline data rather than surface it.
var ErrUnavailable = errors.New("feed: upstream unavailable")

// FiatRateFeed retrieves latest fiat rates quoted as units of currency per 1
// unit of the base currency.
type FiatRateFeed interface {
	FetchRates(ctx context.Context, base string, symbols []string) (map[string]decimal.Decimal, error)
}

// CryptoQuote is a single asset quote from the crypto feed.
type CryptoQuote struct {
	USD          decimal.Decimal  `json:"usd"`
	MarketCapUSD *decimal.Decimal `json:"usd_market_cap,omitempty"`
	Change24h    *decimal.Decimal `json:"usd_24h_change,omitempty"`
}

// CryptoPriceFeed retrieves USD spot prices for configured asset ids.
type CryptoPriceFeed interface {
	FetchPrices(ctx context.Context, ids []string) (map[string]CryptoQuote, error)
}

// RetryPolicy bounds repeated fetch attempts with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = time.Second
	}
	if p.BackoffCap <= 0 {
		p.BackoffCap = 10 * time.Second
	}
	return p
}

// Do runs op up to MaxAttempts times, doubling the delay between attempts up
// to BackoffCap. The last error is wrapped with ErrUnavailable.
func (p RetryPolicy) Do(ctx context.Context, logger zerolog.Logger, op func(ctx context.Context) error) error {
	p = p.normalized()

	var lastErr error
	delay := p.BackoffBase
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := op(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == p.MaxAttempts {
			break
		}

		logger.Warn().Err(lastErr).Int("attempt", attempt).Dur("backoff", delay).Msg("feed fetch failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > p.BackoffCap {
			delay = p.BackoffCap
		}
	}

	return errors.Join(ErrUnavailable, lastErr)
}
