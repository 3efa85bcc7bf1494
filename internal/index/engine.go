package index

import (
	"errors"
	"math"

	"avgx-index/internal/store"
)

// ErrDomain indicates a negative operand reached the geometric mean. It
// signals corrupted upstream inputs and must not be clamped away.
var ErrDomain = errors.New("index: negative operand to geometric mean")

const annualizationFactor = 365

// Params tune the smoothing, volatility, and clamp pipeline.
type Params struct {
	AlphaFiat        float64
	AlphaCrypto      float64
	VolatilityWindow int
	VolatilityTarget float64
	ClampPct         float64
}

func (p Params) normalized() Params {
	if p.AlphaFiat <= 0 || p.AlphaFiat > 1 {
		p.AlphaFiat = 0.2
	}
	if p.AlphaCrypto <= 0 || p.AlphaCrypto > 1 {
		p.AlphaCrypto = 0.1
	}
	if p.VolatilityWindow < 2 {
		p.VolatilityWindow = 30
	}
	if p.VolatilityTarget <= 0 {
		p.VolatilityTarget = 0.10
	}
	if p.ClampPct <= 0 {
		p.ClampPct = 0.015
	}
	return p
}

// SmoothResult carries one smoothing step's intermediate values. The
// invariant WCAdjusted == WCSmoothed * (1 - VolatilityIndex) holds for every
// result.
type SmoothResult struct {
	WFSmoothed      float64
	WCSmoothed      float64
	VolatilityIndex float64
	WCAdjusted      float64
	// Degraded marks a pass-through of the raw inputs after a non-finite
	// intermediate value was detected.
	Degraded bool
}

// Step applies exponential smoothing against the last history entry, derives
// the rolling volatility index, and discounts the crypto value. On any
// non-finite intermediate it degrades to passing the raw inputs through so
// the index stays computable over corrupt history.
func (p Params) Step(wfRaw, wcRaw float64, history []store.SmoothedSample) SmoothResult {
	p = p.normalized()

	wfSmoothed := wfRaw
	wcSmoothed := wcRaw
	if len(history) > 0 {
		prev := history[len(history)-1]
		wfSmoothed = ewma(p.AlphaFiat, wfRaw, prev.WFSmoothed)
		wcSmoothed = ewma(p.AlphaCrypto, wcRaw, prev.WCSmoothed)
	}

	window := recentCryptoValues(history, p.VolatilityWindow)
	window = append(window, wcSmoothed)
	volatility := volatilityIndex(window, p.VolatilityTarget)

	result := SmoothResult{
		WFSmoothed:      wfSmoothed,
		WCSmoothed:      wcSmoothed,
		VolatilityIndex: volatility,
		WCAdjusted:      wcSmoothed * (1 - volatility),
	}

	if !isFinite(result.WFSmoothed) || !isFinite(result.WCSmoothed) ||
		!isFinite(result.VolatilityIndex) || !isFinite(result.WCAdjusted) {
		return SmoothResult{
			WFSmoothed:      wfRaw,
			WCSmoothed:      wcRaw,
			VolatilityIndex: 0,
			WCAdjusted:      wcRaw,
			Degraded:        true,
		}
	}

	return result
}

func ewma(alpha, raw, prev float64) float64 {
	return alpha*raw + (1-alpha)*prev
}

// recentCryptoValues returns up to the last n smoothed crypto values.
func recentCryptoValues(history []store.SmoothedSample, n int) []float64 {
	start := 0
	if len(history) > n {
		start = len(history) - n
	}
	values := make([]float64, 0, len(history)-start+1)
	for _, sample := range history[start:] {
		values = append(values, sample.WCSmoothed)
	}
	return values
}

// volatilityIndex computes the annualized population standard deviation of
// consecutive log-returns, normalized by the target and capped to [0,1].
func volatilityIndex(values []float64, target float64) float64 {
	if len(values) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		returns = append(returns, math.Log(values[i]/values[i-1]))
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))

	annualized := math.Sqrt(variance) * math.Sqrt(annualizationFactor)
	normalized := annualized / target

	if math.IsNaN(normalized) || normalized < 0 {
		return 0
	}
	return math.Min(1, normalized)
}

// Compose combines the smoothed fiat value and the volatility-adjusted crypto
// value via geometric mean.
func Compose(wfSmoothed, wcAdjusted float64) (float64, error) {
	if wfSmoothed < 0 || wcAdjusted < 0 {
		return 0, ErrDomain
	}
	return math.Sqrt(wfSmoothed * wcAdjusted), nil
}

// Clamp bounds the change against the previous published value to
// ±clampPct. With no previous value it is a no-op.
func Clamp(raw float64, last *float64, clampPct float64) float64 {
	if last == nil {
		return raw
	}
	maxChange := *last * clampPct
	delta := raw - *last
	if delta > maxChange {
		delta = maxChange
	}
	if delta < -maxChange {
		delta = -maxChange
	}
	return *last + delta
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
