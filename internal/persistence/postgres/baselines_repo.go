package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/payerwatch/payerwatch/internal/domain"
	"github.com/payerwatch/payerwatch/internal/persistence"
)

// baselinesRepo persists computed baselines insert-only. Superseded rows are
// never updated or deleted so prior runs remain auditable.
type baselinesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewBaselinesRepo creates a PostgreSQL baselines repository.
func NewBaselinesRepo(db *sqlx.DB, timeout time.Duration) persistence.BaselinesRepo {
	return &baselinesRepo{db: db, timeout: timeout}
}

func (r *baselinesRepo) Insert(ctx context.Context, b domain.Baseline) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO baselines
		(customer_id, payer, cpt_group, signal, mean, pooled_rate, std_dev,
		 median, p90, periods, sample_size, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		b.CustomerID, b.Payer, b.CPTGroup, b.Signal, b.Mean, b.PooledRate,
		b.StdDev, b.Median, b.P90, b.Periods, b.SampleSize, b.ComputedAt)
	if err != nil {
		return fmt.Errorf("failed to insert baseline: %w", err)
	}
	return nil
}
