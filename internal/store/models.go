package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// Document keys. The exact backing is hidden behind the KV interface; these
// are the only documents the pipeline reads and writes.
const (
	KeyBaseline        = "baseline"
	KeyIndexHistory    = "history"
	KeySmoothedHistory = "smoothed_history"
)

// SmoothedSample is one step of the smoothing series. The last element is the
// previous state consumed by the next smoothing step.
type SmoothedSample struct {
	Timestamp       time.Time `json:"timestamp"`
	WFSmoothed      float64   `json:"wf_smoothed"`
	WCSmoothed      float64   `json:"wc_smoothed"`
	VolatilityIndex float64   `json:"volatility_index"`
	WCAdjusted      float64   `json:"wc_adjusted"`
}

// IndexSample is one published index value.
type IndexSample struct {
	Timestamp time.Time `json:"timestamp"`
	AvgxUSD   float64   `json:"avgx_usd"`
	WFValue   float64   `json:"wf_value"`
	WCValue   float64   `json:"wc_value"`
}

// Baseline is the last-known-good snapshot used for disaster recovery. It is
// merged on every successful calculation, never replaced wholesale.
type Baseline struct {
	AvgxValue    float64                    `json:"avgx_value"`
	WFValue      float64                    `json:"wf_value"`
	WCValue      float64                    `json:"wc_value"`
	FiatRates    map[string]decimal.Decimal `json:"fiat_rates"`
	CryptoPrices map[string]decimal.Decimal `json:"crypto_prices"`
	Timestamp    time.Time                  `json:"timestamp"`
}

// BaselinePatch is a partial baseline write. Only non-nil fields reach the
// stored document, which keeps the merge shallow and field-preserving.
type BaselinePatch struct {
	AvgxValue    *float64                   `json:"avgx_value,omitempty"`
	WFValue      *float64                   `json:"wf_value,omitempty"`
	WCValue      *float64                   `json:"wc_value,omitempty"`
	FiatRates    map[string]decimal.Decimal `json:"fiat_rates,omitempty"`
	CryptoPrices map[string]decimal.Decimal `json:"crypto_prices,omitempty"`
	Timestamp    time.Time                  `json:"timestamp"`
}
