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

// runsRepo implements RunsRepo. The single-flight invariant rides on the
// partial unique index uq_run_records_running on (customer_id) WHERE
// status = 'running': the insert IS the exclusive claim, held until the run
// leaves the running state.
type runsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRunsRepo creates a PostgreSQL runs repository.
func NewRunsRepo(db *sqlx.DB, timeout time.Duration) persistence.RunsRepo {
	return &runsRepo{db: db, timeout: timeout}
}

func (r *runsRepo) Acquire(ctx context.Context, run domain.RunRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO run_records (id, customer_id, status, started_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.ExecContext(ctx, query, run.ID, run.CustomerID, run.Status, run.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConcurrencyConflict
		}
		return fmt.Errorf("failed to acquire run slot: %w", err)
	}
	return nil
}

// CommitSuccess persists findings and alerts and transitions the run to
// success inside one transaction. Alert inserts that hit the
// (fingerprint, cooldown_bucket) unique index lost the race to a concurrent
// run; they are dropped silently, which is the invariant working as intended.
func (r *runsRepo) CommitSuccess(ctx context.Context, runID string, findings []domain.DriftFinding, alerts []domain.AlertEvent) ([]domain.AlertEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin commit transaction: %w", err)
	}
	defer tx.Rollback()

	for _, f := range findings {
		if err := insertFinding(ctx, tx, f); err != nil {
			return nil, err
		}
	}

	var persisted []domain.AlertEvent
	for _, a := range alerts {
		inserted, err := insertAlert(ctx, tx, a)
		if err != nil {
			return nil, err
		}
		if inserted {
			persisted = append(persisted, a)
		}
	}

	finishQuery := `
		UPDATE run_records
		SET status = $2, finished_at = $3, findings_count = $4, alerts_count = $5
		WHERE id = $1 AND status = $6`

	res, err := tx.ExecContext(ctx, finishQuery,
		runID, domain.RunSuccess, time.Now().UTC(), len(findings), len(persisted), domain.RunRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("run %s is not in running state", runID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit run: %w", err)
	}
	return persisted, nil
}

func insertFinding(ctx context.Context, tx *sqlx.Tx, f domain.DriftFinding) error {
	query := `
		INSERT INTO drift_findings
		(id, run_id, customer_id, payer, cpt_group, signal, baseline_value,
		 current_value, delta, p_value, confidence, severity, trend,
		 impact_cents, top_cpt_codes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := tx.ExecContext(ctx, query,
		f.ID, f.RunID, f.CustomerID, f.Payer, f.CPTGroup, f.Signal,
		f.BaselineValue, f.CurrentValue, f.Delta, f.PValue, f.Confidence,
		f.Severity, f.Trend, f.ImpactCents, pq.Array(f.TopCPTCodes), f.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert finding: %w", err)
	}
	return nil
}

// insertAlert reports whether the row was actually inserted. The ON CONFLICT
// target matches the partial unique index that excludes suppressed rows, so
// suppressed audit copies never block real alerts.
func insertAlert(ctx context.Context, tx *sqlx.Tx, a domain.AlertEvent) (bool, error) {
	query := `
		INSERT INTO alert_events
		(id, run_id, customer_id, signal, entity_label, fingerprint, severity,
		 confidence, impact_cents, category, state, suppress_reason,
		 cooldown_bucket, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (fingerprint, cooldown_bucket) WHERE state <> 'suppressed'
		DO NOTHING
		RETURNING id`

	var id string
	err := tx.QueryRowxContext(ctx, query,
		a.ID, a.RunID, a.CustomerID, a.Signal, a.EntityLabel, a.Fingerprint,
		a.Severity, a.Confidence, a.ImpactCents, a.Category, a.State,
		a.SuppressReason, a.CooldownBucket, a.CreatedAt).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			// Someone else already alerted within the window.
			return false, nil
		}
		return false, fmt.Errorf("failed to insert alert event: %w", err)
	}
	return true, nil
}

func (r *runsRepo) MarkFailed(ctx context.Context, runID string, cause string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE run_records
		SET status = $2, finished_at = $3, error = $4
		WHERE id = $1 AND status = $5`

	_, err := r.db.ExecContext(ctx, query, runID, domain.RunFailed, time.Now().UTC(), cause, domain.RunRunning)
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	return nil
}

func (r *runsRepo) Get(ctx context.Context, runID string) (*domain.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, customer_id, status, started_at, finished_at,
		       findings_count, alerts_count, COALESCE(error, '') AS error
		FROM run_records
		WHERE id = $1`

	var run domain.RunRecord
	if err := r.db.GetContext(ctx, &run, query, runID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

func (r *runsRepo) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.RunRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, customer_id, status, started_at, finished_at,
		       findings_count, alerts_count, COALESCE(error, '') AS error
		FROM run_records
		WHERE customer_id = $1
		ORDER BY started_at DESC
		LIMIT $2`

	var runs []domain.RunRecord
	if err := r.db.SelectContext(ctx, &runs, query, customerID, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}
