package persistence

import (
	"context"
	"time"

	"github.com/payerwatch/payerwatch/internal/domain"
)

// ClaimsRepo reads claim aggregates produced by the external ingestion
// pipeline. The core never mutates claim data.
type ClaimsRepo interface {
	// ListPeriods retrieves up to n closed-period aggregates for a key with
	// period_start strictly before the given boundary, oldest first.
	ListPeriods(ctx context.Context, customerID, payer, cptGroup string, before time.Time, n int) ([]domain.ClaimAggregate, error)

	// GetAggregate retrieves the aggregate for one exact period, nil when the
	// bucket has no claims.
	GetAggregate(ctx context.Context, customerID, payer, cptGroup string, period time.Time) (*domain.ClaimAggregate, error)

	// ListActivePairs enumerates (payer, cpt-group) pairs whose current-period
	// volume meets the minimum, in deterministic (payer, cpt_group) order.
	ListActivePairs(ctx context.Context, customerID string, period time.Time, minVolume int) ([]domain.PairKey, error)
}

// BaselinesRepo persists computed baselines insert-only so superseded
// baselines remain auditable. Lookups always recompute; this is audit trail,
// not cache.
type BaselinesRepo interface {
	Insert(ctx context.Context, b domain.Baseline) error
}

// RunsRepo owns the run lifecycle, the per-customer single-flight claim, and
// the atomic commit of a run's findings and alerts.
type RunsRepo interface {
	// Acquire inserts the run in running state. It returns
	// domain.ErrConcurrencyConflict when another run for the customer already
	// holds the running slot.
	Acquire(ctx context.Context, run domain.RunRecord) error

	// CommitSuccess atomically persists findings and alert candidates and
	// transitions the run to success, all in one transaction. Alert inserts
	// that lose the (fingerprint, cooldown_bucket) uniqueness race are
	// silently dropped; the returned slice contains only the alerts that were
	// actually persisted.
	CommitSuccess(ctx context.Context, runID string, findings []domain.DriftFinding, alerts []domain.AlertEvent) ([]domain.AlertEvent, error)

	// MarkFailed transitions the run to failed with the error text. Findings
	// from the failed run are never visible because they only land in
	// CommitSuccess.
	MarkFailed(ctx context.Context, runID string, cause string) error

	// Get returns one run record.
	Get(ctx context.Context, runID string) (*domain.RunRecord, error)

	// ListByCustomer returns recent runs for observability, newest first.
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.RunRecord, error)
}

// AlertsRepo queries and updates alert events outside the commit boundary.
type AlertsRepo interface {
	// RecentNonSuppressed reports whether a non-suppressed alert with the
	// fingerprint was created at or after the given time by any run.
	RecentNonSuppressed(ctx context.Context, customerID, fingerprint string, since time.Time) (bool, error)

	// UpdateRouting records the routing decision on a pending alert.
	UpdateRouting(ctx context.Context, alertID string, tier domain.Tier, recipients []string) error

	// UpdateDelivery records the delivery outcome reported by the notifier.
	UpdateDelivery(ctx context.Context, alertID string, delivered bool, providerRef string) error

	// Get returns one alert by ID, nil when it does not exist.
	Get(ctx context.Context, alertID string) (*domain.AlertEvent, error)

	// ListByRun returns all alerts the run produced.
	ListByRun(ctx context.Context, runID string) ([]domain.AlertEvent, error)

	// CountByState returns alert counts per state for one customer, a
	// read-only projection for dashboards.
	CountByState(ctx context.Context, customerID string) (map[domain.AlertState]int, error)
}

// JudgmentsRepo stores operator feedback append-only. Judgments are never
// updated or deleted.
type JudgmentsRepo interface {
	Insert(ctx context.Context, j domain.OperatorJudgment) error

	// CountNoise counts noise verdicts on the fingerprint since the given
	// time. Used by suppression; failures here must fail open at the caller.
	CountNoise(ctx context.Context, customerID, fingerprint string, since time.Time) (int, error)

	// ListByFingerprint returns judgment history newest first.
	ListByFingerprint(ctx context.Context, customerID, fingerprint string, limit int) ([]domain.OperatorJudgment, error)
}

// Repository aggregates all persistence interfaces.
type Repository struct {
	Claims    ClaimsRepo
	Baselines BaselinesRepo
	Runs      RunsRepo
	Alerts    AlertsRepo
	Judgments JudgmentsRepo
}
