package alerting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/payerwatch/payerwatch/internal/cache"
	"github.com/payerwatch/payerwatch/internal/config"
	"github.com/payerwatch/payerwatch/internal/domain"
	"github.com/payerwatch/payerwatch/internal/metrics"
	"github.com/payerwatch/payerwatch/internal/persistence"
)

const (
	suppressReasonNoise = "noise_judgments"

	// CategoryDenialReview and CategoryPaymentFollowup are the action
	// categories the two signal families map to.
	CategoryDenialReview    = "denial_review"
	CategoryPaymentFollowup = "payment_followup"
)

// Factory turns drift findings into alert event candidates, applying
// fingerprint deduplication against the cooldown window and noise suppression
// learned from operator judgments. Candidates it returns are persisted by the
// run coordinator inside the commit transaction, where the
// (fingerprint, cooldown_bucket) unique index settles any race this pre-check
// cannot see.
type Factory struct {
	judgments persistence.JudgmentsRepo
	alerts    persistence.AlertsRepo
	cooldown  *cache.Cooldown
	breaker   *gobreaker.CircuitBreaker
	cfg       config.DetectionConfig
	metrics   *metrics.Registry
	now       func() time.Time
}

// NewFactory creates an alert factory. The cooldown cache and metrics may be
// nil. Judgment lookups run through a circuit breaker so a struggling
// judgment store degrades to fail-open suppression instead of stalling runs.
func NewFactory(judgments persistence.JudgmentsRepo, alerts persistence.AlertsRepo, cooldown *cache.Cooldown, cfg config.DetectionConfig, m *metrics.Registry) *Factory {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "judgment-lookup",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return &Factory{
		judgments: judgments,
		alerts:    alerts,
		cooldown:  cooldown,
		breaker:   breaker,
		cfg:       cfg,
		metrics:   m,
		now:       time.Now,
	}
}

// Materialize groups findings into alert candidates by
// (customer, signal, entity label) and applies dedup and suppression.
// Suppressed candidates are still returned (state=suppressed) so they persist
// for audit; cooldown duplicates are dropped entirely.
func (f *Factory) Materialize(ctx context.Context, findings []domain.DriftFinding) ([]domain.AlertEvent, error) {
	groups := groupFindings(findings)

	now := f.now().UTC()
	cooldownStart := now.Add(-f.cfg.CooldownWindow())

	var events []domain.AlertEvent
	for _, g := range groups {
		fp := domain.Fingerprint(g.customerID, g.signal, g.entityLabel)

		dup, err := f.alreadyAlerted(ctx, g.customerID, fp, cooldownStart)
		if err != nil {
			return nil, err
		}
		if dup {
			log.Debug().
				Str("customer_id", g.customerID).
				Str("fingerprint", fp).
				Msg("candidate within cooldown window, dropped")
			continue
		}

		event := domain.AlertEvent{
			ID:             uuid.NewString(),
			RunID:          g.runID,
			CustomerID:     g.customerID,
			Signal:         g.signal,
			EntityLabel:    g.entityLabel,
			Fingerprint:    fp,
			Severity:       g.maxSeverity,
			Confidence:     g.maxConfidence,
			ImpactCents:    g.totalImpact,
			Category:       categoryForSignal(g.signal),
			State:          domain.AlertPending,
			CooldownBucket: domain.CooldownBucket(now, f.cfg.CooldownWindow()),
			CreatedAt:      now,
		}

		if f.isNoise(ctx, g.customerID, fp, now) {
			event.State = domain.AlertSuppressed
			event.SuppressReason = suppressReasonNoise
			log.Info().
				Str("customer_id", g.customerID).
				Str("entity", g.entityLabel).
				Str("fingerprint", fp).
				Msg("alert suppressed by operator noise judgments")
		}
		events = append(events, event)
	}
	return events, nil
}

// alreadyAlerted checks the cooldown fast-path cache, then the alert store,
// for a recent non-suppressed alert on the fingerprint.
func (f *Factory) alreadyAlerted(ctx context.Context, customerID, fingerprint string, since time.Time) (bool, error) {
	if f.cooldown.Seen(ctx, fingerprint) {
		return true, nil
	}
	exists, err := f.alerts.RecentNonSuppressed(ctx, customerID, fingerprint, since)
	if err != nil {
		return false, &domain.PersistenceError{Op: "cooldown duplicate check", Err: err}
	}
	return exists, nil
}

// isNoise queries judgment history through the circuit breaker. Any failure
// fails OPEN toward alerting: silently suppressing a real drift is the worse
// failure for a financial safety system.
func (f *Factory) isNoise(ctx context.Context, customerID, fingerprint string, now time.Time) bool {
	since := now.Add(-f.cfg.JudgmentLookback())
	result, err := f.breaker.Execute(func() (interface{}, error) {
		return f.judgments.CountNoise(ctx, customerID, fingerprint, since)
	})
	if err != nil {
		log.Error().Err(err).
			Str("customer_id", customerID).
			Str("fingerprint", fingerprint).
			Msg("judgment lookup failed, failing open (not suppressing)")
		if f.metrics != nil {
			f.metrics.SuppressionLookupFailures.Inc()
		}
		return false
	}
	return result.(int) >= f.cfg.NoiseThreshold
}

func categoryForSignal(signal domain.SignalType) string {
	if signal == domain.SignalPaymentTiming {
		return CategoryPaymentFollowup
	}
	return CategoryDenialReview
}

type candidateGroup struct {
	customerID    string
	runID         string
	signal        domain.SignalType
	entityLabel   string
	maxSeverity   domain.Severity
	maxConfidence float64
	totalImpact   int64
}

// groupFindings folds findings into one candidate per
// (customer, signal, entity label), in deterministic order.
func groupFindings(findings []domain.DriftFinding) []candidateGroup {
	byKey := make(map[string]*candidateGroup)
	var keys []string

	for _, fd := range findings {
		key := fmt.Sprintf("%s|%s|%s", fd.CustomerID, fd.Signal, fd.EntityLabel())
		g, ok := byKey[key]
		if !ok {
			g = &candidateGroup{
				customerID:  fd.CustomerID,
				runID:       fd.RunID,
				signal:      fd.Signal,
				entityLabel: fd.EntityLabel(),
			}
			byKey[key] = g
			keys = append(keys, key)
		}
		if fd.Severity.Rank() > g.maxSeverity.Rank() {
			g.maxSeverity = fd.Severity
		}
		if fd.Confidence > g.maxConfidence {
			g.maxConfidence = fd.Confidence
		}
		g.totalImpact += fd.ImpactCents
	}

	sort.Strings(keys)
	groups := make([]candidateGroup, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, *byKey[k])
	}
	return groups
}
