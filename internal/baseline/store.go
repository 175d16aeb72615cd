package baseline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/payerwatch/payerwatch/internal/config"
	"github.com/payerwatch/payerwatch/internal/domain"
	"github.com/payerwatch/payerwatch/internal/persistence"
)

// Store computes rolling per-(customer, payer, cpt-group) baselines over the
// trailing window of closed periods. Baselines are recomputed fresh on every
// call: past-period aggregates can be corrected retroactively by late-arriving
// claims, so stale caching is not permitted. Each computed baseline is also
// persisted insert-only for audit.
type Store struct {
	claims    persistence.ClaimsRepo
	baselines persistence.BaselinesRepo
	cfg       config.DetectionConfig
	now       func() time.Time
}

// NewStore creates a baseline store. The baselines repo may be nil, in which
// case audit persistence is skipped (tests).
func NewStore(claims persistence.ClaimsRepo, baselines persistence.BaselinesRepo, cfg config.DetectionConfig) *Store {
	return &Store{
		claims:    claims,
		baselines: baselines,
		cfg:       cfg,
		now:       time.Now,
	}
}

// GetBaseline computes the trailing-window baseline for one key and signal,
// excluding the current (in-progress) period. Returns
// domain.ErrInsufficientData when fewer than the configured minimum number of
// closed periods exist; callers skip significance testing rather than guess.
func (s *Store) GetBaseline(ctx context.Context, customerID, payer, cptGroup string, signal domain.SignalType, asOf time.Time) (*domain.Baseline, error) {
	if customerID == "" {
		return nil, domain.ErrMissingCustomer
	}

	currentPeriod := domain.PeriodStart(asOf)
	periods, err := s.claims.ListPeriods(ctx, customerID, payer, cptGroup, currentPeriod, s.cfg.BaselinePeriods)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "baseline period read", Err: err}
	}

	if len(periods) < s.cfg.MinBaselinePeriods {
		return nil, fmt.Errorf("%s/%s has %d of %d required periods: %w",
			payer, cptGroup, len(periods), s.cfg.MinBaselinePeriods, domain.ErrInsufficientData)
	}

	b := &domain.Baseline{
		CustomerID: customerID,
		Payer:      payer,
		CPTGroup:   cptGroup,
		Signal:     signal,
		Periods:    len(periods),
		ComputedAt: s.now().UTC(),
	}

	values := make([]float64, 0, len(periods))
	switch signal {
	case domain.SignalDenialRate:
		var denied int
		for _, p := range periods {
			values = append(values, p.DenialRate())
			denied += p.DeniedClaims
			b.SampleSize += p.TotalClaims
		}
		if b.SampleSize > 0 {
			b.PooledRate = float64(denied) / float64(b.SampleSize)
		}
	case domain.SignalPaymentTiming:
		for _, p := range periods {
			values = append(values, p.MedianPaymentDays)
			b.SampleSize += p.PaidClaims
		}
	default:
		return nil, fmt.Errorf("unknown signal type: %s", signal)
	}

	b.Mean = mean(values)
	b.StdDev = stdDev(values, b.Mean)
	b.Median = percentile(values, 0.50)
	b.P90 = percentile(values, 0.90)

	if s.baselines != nil {
		// Audit-trail write; failure here does not invalidate the computed
		// baseline or the run.
		if err := s.baselines.Insert(ctx, *b); err != nil {
			log.Warn().Err(err).
				Str("customer_id", customerID).
				Str("payer", payer).
				Str("cpt_group", cptGroup).
				Msg("baseline audit insert failed")
		}
	}
	return b, nil
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64, m float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var ss float64
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

// percentile computes the q-th percentile with linear interpolation between
// the two nearest ranks.
func percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	pos := q * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}
