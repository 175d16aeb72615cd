package drift

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/payerwatch/payerwatch/internal/baseline"
	"github.com/payerwatch/payerwatch/internal/config"
	"github.com/payerwatch/payerwatch/internal/domain"
	"github.com/payerwatch/payerwatch/internal/persistence"
	"github.com/payerwatch/payerwatch/internal/significance"
)

// recentTrendPeriods is how many trailing period medians feed the
// payment-timing worsening check, current period included.
const recentTrendPeriods = 3

// Computer orchestrates baseline construction and significance testing across
// all (payer, cpt-group) pairs for one customer and one run. It writes
// nothing; findings are returned to the coordinator, which owns the commit
// boundary. Decisions are deterministic for identical input aggregates.
type Computer struct {
	claims    persistence.ClaimsRepo
	baselines *baseline.Store
	engine    *significance.Engine
	cfg       config.DetectionConfig
	now       func() time.Time
}

// NewComputer creates a drift computer.
func NewComputer(claims persistence.ClaimsRepo, baselines *baseline.Store, engine *significance.Engine, cfg config.DetectionConfig) *Computer {
	return &Computer{
		claims:    claims,
		baselines: baselines,
		engine:    engine,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Run evaluates every eligible pair for both signal families as of the given
// time and returns the significant findings tied to runID. A malformed
// aggregate rejects only its own pair; cancellation is honored between pairs
// and aborts the whole run.
func (c *Computer) Run(ctx context.Context, customerID, runID string, asOf time.Time) ([]domain.DriftFinding, error) {
	if customerID == "" {
		return nil, domain.ErrMissingCustomer
	}

	currentPeriod := domain.PeriodStart(asOf)
	pairs, err := c.claims.ListActivePairs(ctx, customerID, currentPeriod, c.cfg.MinPairVolume)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "active pair listing", Err: err}
	}

	// Repos already order deterministically; sort again so determinism does
	// not depend on the storage implementation.
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Payer != pairs[j].Payer {
			return pairs[i].Payer < pairs[j].Payer
		}
		return pairs[i].CPTGroup < pairs[j].CPTGroup
	})

	var findings []domain.DriftFinding
	for _, pair := range pairs {
		// Safe cancellation point between pairs.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pairFindings, err := c.evaluatePair(ctx, customerID, runID, pair, currentPeriod, asOf)
		if err != nil {
			var vErr *domain.ValidationError
			if errors.As(err, &vErr) {
				// Isolate the blast radius: one bad aggregate does not abort
				// the customer run.
				log.Warn().Err(err).
					Str("customer_id", customerID).
					Str("payer", pair.Payer).
					Str("cpt_group", pair.CPTGroup).
					Msg("skipping pair with malformed aggregate")
				continue
			}
			return nil, err
		}
		findings = append(findings, pairFindings...)
	}
	return findings, nil
}

func (c *Computer) evaluatePair(ctx context.Context, customerID, runID string, pair domain.PairKey, currentPeriod time.Time, asOf time.Time) ([]domain.DriftFinding, error) {
	agg, err := c.claims.GetAggregate(ctx, customerID, pair.Payer, pair.CPTGroup, currentPeriod)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "current aggregate read", Err: err}
	}
	if agg == nil {
		return nil, nil
	}
	if err := agg.Validate(); err != nil {
		return nil, err
	}

	sample := domain.CurrentSample{
		TotalClaims:       agg.TotalClaims,
		DeniedClaims:      agg.DeniedClaims,
		MedianPaymentDays: agg.MedianPaymentDays,
	}

	// Recent medians for the worsening streak, oldest first, current period
	// included.
	recent, err := c.claims.ListPeriods(ctx, customerID, pair.Payer, pair.CPTGroup,
		currentPeriod.AddDate(0, 0, 7), recentTrendPeriods)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "recent period read", Err: err}
	}
	for _, p := range recent {
		sample.RecentMedians = append(sample.RecentMedians, p.MedianPaymentDays)
	}

	var findings []domain.DriftFinding
	for _, signal := range []domain.SignalType{domain.SignalDenialRate, domain.SignalPaymentTiming} {
		b, err := c.baselines.GetBaseline(ctx, customerID, pair.Payer, pair.CPTGroup, signal, asOf)
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientData) {
				log.Debug().
					Str("customer_id", customerID).
					Str("payer", pair.Payer).
					Str("cpt_group", pair.CPTGroup).
					Str("signal", string(signal)).
					Msg("insufficient baseline periods, skipping")
				continue
			}
			return nil, err
		}

		res, err := c.engine.Evaluate(b, sample, signal)
		if err != nil {
			return nil, err
		}
		if !res.Significant {
			continue
		}
		findings = append(findings, c.buildFinding(customerID, runID, pair, signal, b, sample, res, agg))
	}
	return findings, nil
}

func (c *Computer) buildFinding(customerID, runID string, pair domain.PairKey, signal domain.SignalType, b *domain.Baseline, sample domain.CurrentSample, res significance.Result, agg *domain.ClaimAggregate) domain.DriftFinding {
	f := domain.DriftFinding{
		ID:          uuid.NewString(),
		RunID:       runID,
		CustomerID:  customerID,
		Payer:       pair.Payer,
		CPTGroup:    pair.CPTGroup,
		Signal:      signal,
		PValue:      res.PValue,
		Confidence:  res.Confidence,
		Severity:    res.Severity,
		Trend:       res.Trend,
		TopCPTCodes: agg.TopCPTCodes,
		CreatedAt:   c.now().UTC(),
	}

	switch signal {
	case domain.SignalDenialRate:
		f.BaselineValue = b.PooledRate
		f.CurrentValue = sample.DenialRate()
		f.Delta = f.CurrentValue - f.BaselineValue
		// Excess denied dollars over what the baseline rate predicts.
		f.ImpactCents = int64(f.Delta * float64(agg.TotalBilledCents))
	case domain.SignalPaymentTiming:
		f.BaselineValue = b.Median
		f.CurrentValue = sample.MedianPaymentDays
		f.Delta = f.CurrentValue - f.BaselineValue
		// Dollars whose collection is now delayed past the baseline timeline.
		f.ImpactCents = agg.TotalBilledCents - agg.DeniedCents
	}
	if f.ImpactCents < 0 {
		f.ImpactCents = 0
	}
	return f
}
