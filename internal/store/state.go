package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Basket names used to key baseline asset values.
const (
	BasketFiat   = "fiat"
	BasketCrypto = "crypto"
)

// State is the typed layer over the KV document store. Read and write
// failures are logged and mapped to absent data; the calculation pipeline
// already defines behaviour for missing history.
type State struct {
	kv          KV
	logger      zerolog.Logger
	smoothedCap int
	indexCap    int
}

// NewState wires a KV backing into the typed state store.
func NewState(kv KV, smoothedCap, indexCap int, logger zerolog.Logger) *State {
	if smoothedCap <= 0 {
		smoothedCap = 100
	}
	if indexCap <= 0 {
		indexCap = 720
	}
	return &State{
		kv:          kv,
		logger:      logger.With().Str("component", "state_store").Logger(),
		smoothedCap: smoothedCap,
		indexCap:    indexCap,
	}
}

// AppendSmoothedSample appends to the smoothing series, truncated to its cap.
func (s *State) AppendSmoothedSample(ctx context.Context, sample SmoothedSample) {
	s.appendDoc(ctx, KeySmoothedHistory, sample, s.smoothedCap)
}

// AppendIndexSample appends to the published index series, truncated to its cap.
func (s *State) AppendIndexSample(ctx context.Context, sample IndexSample) {
	s.appendDoc(ctx, KeyIndexHistory, sample, s.indexCap)
}

func (s *State) appendDoc(ctx context.Context, key string, sample any, cap int) {
	doc, err := json.Marshal(sample)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to marshal sample")
		return
	}
	if err := s.kv.AppendCapped(ctx, key, doc, cap); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to append sample")
	}
}

// SmoothedHistory returns the smoothing series in ascending timestamp order.
func (s *State) SmoothedHistory(ctx context.Context) []SmoothedSample {
	var samples []SmoothedSample
	if !s.getDoc(ctx, KeySmoothedHistory, &samples) {
		return nil
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Timestamp.Before(samples[j].Timestamp) })
	return samples
}

// IndexHistory returns index samples with timestamp >= since, ascending.
// Repeated calls are side-effect free.
func (s *State) IndexHistory(ctx context.Context, since time.Time) []IndexSample {
	var samples []IndexSample
	if !s.getDoc(ctx, KeyIndexHistory, &samples) {
		return nil
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].Timestamp.Before(samples[j].Timestamp) })

	filtered := make([]IndexSample, 0, len(samples))
	for _, sample := range samples {
		if !sample.Timestamp.Before(since) {
			filtered = append(filtered, sample)
		}
	}
	return filtered
}

// LatestIndexSample returns the most recent published sample, if any.
func (s *State) LatestIndexSample(ctx context.Context) (IndexSample, bool) {
	samples := s.IndexHistory(ctx, time.Time{})
	if len(samples) == 0 {
		return IndexSample{}, false
	}
	return samples[len(samples)-1], true
}

// Baseline returns the last-known-good snapshot, if one was ever written.
func (s *State) Baseline(ctx context.Context) (Baseline, bool) {
	var baseline Baseline
	if !s.getDoc(ctx, KeyBaseline, &baseline) {
		return Baseline{}, false
	}
	if baseline.Timestamp.IsZero() && len(baseline.FiatRates) == 0 && len(baseline.CryptoPrices) == 0 {
		return Baseline{}, false
	}
	return baseline, true
}

// MergeBaseline applies a partial baseline write, preserving untouched fields.
func (s *State) MergeBaseline(ctx context.Context, patch BaselinePatch) {
	if patch.Timestamp.IsZero() {
		patch.Timestamp = time.Now().UTC()
	}
	doc, err := json.Marshal(patch)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal baseline patch")
		return
	}
	if err := s.kv.PutMerged(ctx, KeyBaseline, doc); err != nil {
		s.logger.Error().Err(err).Msg("failed to merge baseline")
	}
}

// AssetValues returns the baseline's last-known values for one basket.
func (s *State) AssetValues(ctx context.Context, basket string) map[string]decimal.Decimal {
	baseline, ok := s.Baseline(ctx)
	if !ok {
		return map[string]decimal.Decimal{}
	}
	var values map[string]decimal.Decimal
	switch basket {
	case BasketFiat:
		values = baseline.FiatRates
	case BasketCrypto:
		values = baseline.CryptoPrices
	}
	if values == nil {
		return map[string]decimal.Decimal{}
	}
	out := make(map[string]decimal.Decimal, len(values))
	for code, value := range values {
		out[code] = value
	}
	return out
}

// MergeAssetValues merges freshly fetched values into the baseline's map for
// one basket. Values already present but absent from this fetch are kept.
func (s *State) MergeAssetValues(ctx context.Context, basket string, values map[string]decimal.Decimal) {
	if len(values) == 0 {
		return
	}

	merged := s.AssetValues(ctx, basket)
	for code, value := range values {
		merged[code] = value
	}

	patch := BaselinePatch{Timestamp: time.Now().UTC()}
	switch basket {
	case BasketFiat:
		patch.FiatRates = merged
	case BasketCrypto:
		patch.CryptoPrices = merged
	default:
		s.logger.Error().Str("basket", basket).Msg("unknown basket for baseline merge")
		return
	}

	doc, err := json.Marshal(patch)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to marshal asset values patch")
		return
	}
	if err := s.kv.PutMerged(ctx, KeyBaseline, doc); err != nil {
		s.logger.Error().Err(err).Str("basket", basket).Msg("failed to merge asset values")
	}
}

// getDoc reads and decodes a document; false means absent or unreadable.
func (s *State) getDoc(ctx context.Context, key string, out any) bool {
	doc, err := s.kv.Get(ctx, key)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to read document")
		return false
	}
	if doc == nil {
		return false
	}
	if err := json.Unmarshal(doc, out); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to decode document")
		return false
	}
	return true
}
