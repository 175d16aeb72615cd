package significance

import (
	"fmt"
	"math"

	"github.com/payerwatch/payerwatch/internal/config"
	"github.com/payerwatch/payerwatch/internal/domain"
)

// Result is one hypothesis-test outcome for a (baseline, current sample) pair.
type Result struct {
	Significant bool
	PValue      float64
	Confidence  float64
	Ratio       float64
	Severity    domain.Severity
	Trend       domain.Trend
}

// Engine decides whether a current-period deviation from baseline is
// statistically significant and assigns a severity. Pure computation, no I/O.
type Engine struct {
	cfg config.DetectionConfig
}

// NewEngine creates a significance engine with the given thresholds.
func NewEngine(cfg config.DetectionConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate scores a current sample against its baseline for one signal type.
// Decisions are deterministic for identical inputs.
func (e *Engine) Evaluate(b *domain.Baseline, s domain.CurrentSample, signal domain.SignalType) (Result, error) {
	if b == nil {
		return Result{}, fmt.Errorf("baseline is required")
	}
	switch signal {
	case domain.SignalDenialRate:
		return e.evaluateDenialRate(b, s), nil
	case domain.SignalPaymentTiming:
		return e.evaluatePaymentTiming(b, s), nil
	default:
		return Result{}, fmt.Errorf("unknown signal type: %s", signal)
	}
}

// evaluateDenialRate runs a two-proportion test of the pooled baseline denial
// rate against the current period's rate.
func (e *Engine) evaluateDenialRate(b *domain.Baseline, s domain.CurrentSample) Result {
	// Thin current-period data produces false alarms; gate before testing.
	if s.TotalClaims < e.cfg.MinCurrentSample {
		return Result{PValue: 1}
	}

	// A zero or empty baseline rate makes the relative deviation undefined.
	// Treat as no detectable drift, never as infinite severity.
	if b.PooledRate <= 0 || b.SampleSize <= 0 {
		return Result{PValue: 1}
	}

	// The pooled rate is the window's denied over total claims, so it pairs
	// with the pooled SampleSize in the test. The mean of per-period
	// proportions diverges from it when period volumes are uneven.
	currentRate := s.DenialRate()
	ratio := currentRate / b.PooledRate

	p := twoProportionPValue(b.PooledRate, b.SampleSize, currentRate, s.TotalClaims)

	res := Result{
		PValue:     p,
		Confidence: 1 - p,
		Ratio:      ratio,
	}

	if p >= e.cfg.SignificanceLevel {
		return res
	}
	res.Severity = e.severityForRatio(ratio)
	res.Significant = res.Severity != domain.SeverityNone
	return res
}

// evaluatePaymentTiming checks the two trend conditions: a monotonic
// worsening streak across the recent periods, and an absolute slowdown of the
// latest median past the configured ratio. Either alone triggers; both
// together still emit one result, tagged WORSENING.
func (e *Engine) evaluatePaymentTiming(b *domain.Baseline, s domain.CurrentSample) Result {
	if b.Median <= 0 {
		return Result{PValue: 1}
	}

	ratio := s.MedianPaymentDays / b.Median
	worsening := isMonotonicWorsening(s.RecentMedians, e.cfg.TrendDayThreshold)
	slowdown := ratio > e.cfg.SlowdownRatio

	res := Result{
		PValue: 1,
		Ratio:  ratio,
	}
	if !worsening && !slowdown {
		return res
	}

	res.Significant = true
	switch {
	case worsening:
		res.Trend = domain.TrendWorsening
	default:
		res.Trend = domain.TrendSlowdown
	}

	// Trend checks carry no p-value; confidence reflects how many independent
	// conditions fired.
	switch {
	case worsening && slowdown:
		res.Confidence = 0.90
	case slowdown:
		res.Confidence = 0.80
	default:
		res.Confidence = 0.70
	}
	res.PValue = 1 - res.Confidence

	sev := e.severityForRatio(ratio)
	if sev == domain.SeverityNone {
		// A worsening streak below the ratio thresholds still warrants a
		// low-severity finding.
		sev = domain.SeverityLow
	}
	res.Severity = sev
	return res
}

// severityForRatio maps relative deviation to a severity tier. Monotone:
// larger ratios never map to a lower tier.
func (e *Engine) severityForRatio(ratio float64) domain.Severity {
	switch {
	case ratio >= e.cfg.HighSeverityRatio:
		return domain.SeverityHigh
	case ratio >= e.cfg.MediumSeverityRatio:
		return domain.SeverityMedium
	default:
		return domain.SeverityNone
	}
}

// isMonotonicWorsening reports whether each period is strictly worse than the
// previous and the total degradation across the streak exceeds the day
// threshold. Requires at least 3 observations.
func isMonotonicWorsening(medians []float64, dayThreshold float64) bool {
	if len(medians) < 3 {
		return false
	}
	window := medians[len(medians)-3:]
	for i := 1; i < len(window); i++ {
		if window[i] <= window[i-1] {
			return false
		}
	}
	return window[len(window)-1]-window[0] > dayThreshold
}

// twoProportionPValue computes the two-sided p-value of a two-proportion
// z-test (equivalent to a 1-df chi-square) with pooled variance.
func twoProportionPValue(p1 float64, n1 int, p2 float64, n2 int) float64 {
	f1, f2 := float64(n1), float64(n2)
	pooled := (p1*f1 + p2*f2) / (f1 + f2)
	variance := pooled * (1 - pooled) * (1/f1 + 1/f2)
	if variance <= 0 {
		return 1
	}
	z := (p2 - p1) / math.Sqrt(variance)
	return 2 * (1 - normalCDF(math.Abs(z)))
}

// normalCDF is the standard normal cumulative distribution function.
func normalCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}
