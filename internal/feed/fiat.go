package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const latestRatesPath = "/latest"

// FiatOptions parameterise the fiat rate fetcher.
type FiatOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Fiat fetches exchange rates from an exchangerate.host compatible API.
type Fiat struct {
	opts    FiatOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewFiat constructs a fiat rate fetcher.
func NewFiat(opts FiatOptions, logger zerolog.Logger) *Fiat {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.exchangerate.host"
	}

	return &Fiat{
		opts:    opts,
		logger:  logger.With().Str("component", "fiat_feed").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type ratesResponse struct {
	Rates map[string]decimal.Decimal `json:"rates"`
}

// FetchRates retrieves the latest rates for the requested symbols against base.
func (f *Fiat) FetchRates(ctx context.Context, base string, symbols []string) (map[string]decimal.Decimal, error) {
	if len(symbols) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	query := url.Values{}
	query.Set("base", base)
	query.Set("symbols", strings.Join(symbols, ","))

	endpoint := f.baseURL + latestRatesPath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "avgxd/1.0")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError("fiat", resp.StatusCode, payload)
	}

	var parsed ratesResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("parse rates body: %w", err)
	}
	if len(parsed.Rates) == 0 {
		return nil, fmt.Errorf("rates response contained no rates")
	}

	return parsed.Rates, nil
}

var _ FiatRateFeed = (*Fiat)(nil)
