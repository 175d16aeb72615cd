package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/payerwatch/payerwatch/internal/domain"
	"github.com/payerwatch/payerwatch/internal/persistence"
)

// judgmentsRepo implements the append-only operator judgment log. There are
// deliberately no update or delete methods.
type judgmentsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewJudgmentsRepo creates a PostgreSQL judgments repository.
func NewJudgmentsRepo(db *sqlx.DB, timeout time.Duration) persistence.JudgmentsRepo {
	return &judgmentsRepo{db: db, timeout: timeout}
}

func (r *judgmentsRepo) Insert(ctx context.Context, j domain.OperatorJudgment) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if j.Verdict != domain.VerdictReal && j.Verdict != domain.VerdictNoise {
		return fmt.Errorf("invalid verdict: %s", j.Verdict)
	}

	query := `
		INSERT INTO operator_judgments
		(id, alert_event_id, customer_id, fingerprint, verdict, notes, judged_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		j.ID, j.AlertEventID, j.CustomerID, j.Fingerprint, j.Verdict,
		j.Notes, j.JudgedBy, j.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert judgment: %w", err)
	}
	return nil
}

func (r *judgmentsRepo) CountNoise(ctx context.Context, customerID, fingerprint string, since time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT COUNT(*)
		FROM operator_judgments
		WHERE customer_id = $1 AND fingerprint = $2
		  AND verdict = 'noise' AND created_at >= $3`

	var n int
	if err := r.db.GetContext(ctx, &n, query, customerID, fingerprint, since); err != nil {
		return 0, fmt.Errorf("failed to count noise judgments: %w", err)
	}
	return n, nil
}

func (r *judgmentsRepo) ListByFingerprint(ctx context.Context, customerID, fingerprint string, limit int) ([]domain.OperatorJudgment, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, alert_event_id, customer_id, fingerprint, verdict, notes,
		       judged_by, created_at
		FROM operator_judgments
		WHERE customer_id = $1 AND fingerprint = $2
		ORDER BY created_at DESC
		LIMIT $3`

	var judgments []domain.OperatorJudgment
	if err := r.db.SelectContext(ctx, &judgments, query, customerID, fingerprint, limit); err != nil {
		return nil, fmt.Errorf("failed to list judgments: %w", err)
	}
	return judgments, nil
}
