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
)

const simplePricePath = "/simple/price"

// CryptoOptions parameterise the crypto price fetcher.
type CryptoOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Crypto fetches spot prices from a CoinGecko compatible API.
type Crypto struct {
	opts    CryptoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCrypto constructs a crypto price fetcher.
func NewCrypto(opts CryptoOptions, logger zerolog.Logger) *Crypto {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}

	return &Crypto{
		opts:    opts,
		logger:  logger.With().Str("component", "crypto_feed").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchPrices retrieves USD quotes for the requested ids.
func (c *Crypto) FetchPrices(ctx context.Context, ids []string) (map[string]CryptoQuote, error) {
	if len(ids) == 0 {
		return map[string]CryptoQuote{}, nil
	}

	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", "usd")
	query.Set("include_market_cap", "true")
	query.Set("include_24hr_change", "true")

	endpoint := c.baseURL + simplePricePath + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "avgxd/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError("crypto", resp.StatusCode, payload)
	}

	var parsed map[string]CryptoQuote
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("parse simple price body: %w", err)
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("simple price response contained no assets")
	}

	return parsed, nil
}

type errorResponse struct {
	Error       string `json:"error"`
	Status      string `json:"status"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(source string, status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error != "" {
			return fmt.Errorf("%s api error (%d): %s", source, status, apiErr.Error)
		}
		if apiErr.Description != "" {
			return fmt.Errorf("%s api error (%d): %s", source, status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("%s api error (%d): %s", source, status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%s api error (%d): %s", source, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%s api error (%d)", source, status)
}

var _ CryptoPriceFeed = (*Crypto)(nil)
