package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/payerwatch/payerwatch/internal/domain"
	"github.com/payerwatch/payerwatch/internal/persistence"
)

// alertsRepo implements AlertsRepo for queries and state transitions outside
// the run commit boundary. Inserts happen only inside RunsRepo.CommitSuccess.
type alertsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAlertsRepo creates a PostgreSQL alerts repository.
func NewAlertsRepo(db *sqlx.DB, timeout time.Duration) persistence.AlertsRepo {
	return &alertsRepo{db: db, timeout: timeout}
}

func (r *alertsRepo) RecentNonSuppressed(ctx context.Context, customerID, fingerprint string, since time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT EXISTS (
			SELECT 1 FROM alert_events
			WHERE customer_id = $1 AND fingerprint = $2
			  AND state <> 'suppressed' AND created_at >= $3
		)`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, customerID, fingerprint, since); err != nil {
		return false, fmt.Errorf("failed to check recent alerts: %w", err)
	}
	return exists, nil
}

func (r *alertsRepo) UpdateRouting(ctx context.Context, alertID string, tier domain.Tier, recipients []string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE alert_events
		SET state = $2, tier = $3, recipients = $4
		WHERE id = $1 AND state = $5`

	res, err := r.db.ExecContext(ctx, query, alertID, domain.AlertRouted, tier, pq.Array(recipients), domain.AlertPending)
	if err != nil {
		return fmt.Errorf("failed to update alert routing: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("alert %s is not pending", alertID)
	}
	return nil
}

func (r *alertsRepo) UpdateDelivery(ctx context.Context, alertID string, delivered bool, providerRef string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	state := domain.AlertDelivered
	if !delivered {
		state = domain.AlertFailed
	}

	query := `
		UPDATE alert_events
		SET state = $2, delivered_at = $3, provider_ref = $4
		WHERE id = $1 AND state = $5`

	res, err := r.db.ExecContext(ctx, query, alertID, state, time.Now().UTC(), providerRef, domain.AlertRouted)
	if err != nil {
		return fmt.Errorf("failed to update alert delivery: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("alert %s is not routed", alertID)
	}
	return nil
}

func (r *alertsRepo) Get(ctx context.Context, alertID string) (*domain.AlertEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, run_id, customer_id, signal, entity_label, fingerprint,
		       severity, confidence, impact_cents, category, state,
		       COALESCE(suppress_reason, '') AS suppress_reason,
		       COALESCE(tier, '') AS tier, cooldown_bucket, created_at,
		       delivered_at, COALESCE(provider_ref, '') AS provider_ref
		FROM alert_events
		WHERE id = $1`

	var a domain.AlertEvent
	if err := r.db.GetContext(ctx, &a, query, alertID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get alert event: %w", err)
	}
	return &a, nil
}

func (r *alertsRepo) ListByRun(ctx context.Context, runID string) ([]domain.AlertEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, run_id, customer_id, signal, entity_label, fingerprint,
		       severity, confidence, impact_cents, category, state,
		       COALESCE(suppress_reason, '') AS suppress_reason,
		       COALESCE(tier, '') AS tier, cooldown_bucket, created_at,
		       delivered_at, COALESCE(provider_ref, '') AS provider_ref
		FROM alert_events
		WHERE run_id = $1
		ORDER BY created_at, id`

	rows, err := r.db.QueryxContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts by run: %w", err)
	}
	defer rows.Close()

	var alerts []domain.AlertEvent
	for rows.Next() {
		var a domain.AlertEvent
		if err := rows.StructScan(&a); err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (r *alertsRepo) CountByState(ctx context.Context, customerID string) (map[domain.AlertState]int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT state, COUNT(*) AS n
		FROM alert_events
		WHERE customer_id = $1
		GROUP BY state`

	rows, err := r.db.QueryxContext(ctx, query, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.AlertState]int)
	for rows.Next() {
		var state domain.AlertState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan alert counts: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}
