package estimator

import (
	"math"
)

const two64 = 1 << 64

// CIResult contains confidence interval metadata.
type CIResult struct {
	Estimate        float64 `json:"estimate"`
	StdError        float64 `json:"std_error"`
	ConfidenceLevel float64 `json:"confidence_level"`
	Lower           float64 `json:"ci_low"`
	Upper           float64 `json:"ci_high"`
	RelativeError   float64 `json:"relative_error"`
}

// FrequencyBound is the additive Count-Min guarantee for a stream of Total updates.
type FrequencyBound struct {
	Epsilon    float64 `json:"epsilon"`
	Confidence float64 `json:"confidence"`
	Total      uint64  `json:"total"`
	MaxOver    float64 `json:"max_overestimate"`
}

// ZScore returns z for a two-sided confidence level (e.g., 0.95 -> ~1.96),
// the standard normal quantile at (1+confidence)/2.
func ZScore(confidence float64) float64 {
	switch {
	case confidence <= 0:
		return 0
	case confidence >= 1:
		return math.Inf(1)
	}
	return math.Sqrt2 * math.Erfinv(confidence)
}

// HLLStandardError is the relative standard error 1.04/sqrt(m) of a HyperLogLog with m registers.
func HLLStandardError(m uint32) float64 {
	if m == 0 {
		return math.Inf(1)
	}
	return 1.04 / math.Sqrt(float64(m))
}

// RegistersFor returns the smallest register count m with 1.04/sqrt(m) <= relErr,
// before any power-of-two rounding.
func RegistersFor(relErr float64) float64 {
	r := 1.04 / relErr
	// absorb float noise so exact squares (e.g. 104^2) do not round up
	return math.Ceil(r*r - 1e-9)
}

// CardinalityCI computes a normal-approximation interval around a HyperLogLog estimate.
func CardinalityCI(estimate float64, m uint32, confidence float64) CIResult {
	rel := HLLStandardError(m)
	se := rel * estimate
	z := ZScore(confidence)
	low := math.Max(0, estimate-z*se)
	return CIResult{
		Estimate:        estimate,
		StdError:        se,
		ConfidenceLevel: confidence,
		Lower:           low,
		Upper:           estimate + z*se,
		RelativeError:   rel,
	}
}

// CountMinBound returns the overestimate bound eps*total, holding with probability 1-delta.
func CountMinBound(epsilon, delta float64, total uint64) FrequencyBound {
	return FrequencyBound{
		Epsilon:    epsilon,
		Confidence: 1 - delta,
		Total:      total,
		MaxOver:    epsilon * float64(total),
	}
}

// OptimalBloom returns the bit count m = ceil(-n ln p / ln2^2) and hash count
// k = round(m/n ln2), with k at least 1.
func OptimalBloom(n int, p float64) (m uint64, k uint64) {
	mf := math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	kf := math.Round(mf / float64(n) * math.Ln2)
	return saturate(mf), max(saturate(kf), 1)
}

// saturate converts f to uint64, mapping values past the range (and NaN)
// to math.MaxUint64 so size checks reject them.
func saturate(f float64) uint64 {
	if f < 0 {
		return 0
	}
	if !(f < two64) {
		return math.MaxUint64
	}
	return uint64(f)
}

// BloomFalsePositiveRate is (1 - e^{-kn/m})^k.
func BloomFalsePositiveRate(k uint64, n float64, m uint64) float64 {
	if m == 0 {
		return 1
	}
	return math.Pow(1-math.Exp(-float64(k)*n/float64(m)), float64(k))
}
