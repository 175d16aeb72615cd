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

// claimsRepo implements ClaimsRepo over the read-only claim_aggregates view
// maintained by the ingestion pipeline.
type claimsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewClaimsRepo creates a PostgreSQL claims repository.
func NewClaimsRepo(db *sqlx.DB, timeout time.Duration) persistence.ClaimsRepo {
	return &claimsRepo{db: db, timeout: timeout}
}

const aggregateColumns = `customer_id, payer, cpt_group, period_start, total_claims,
	       denied_claims, paid_claims, median_payment_days, p90_payment_days,
	       total_billed_cents, denied_cents, top_cpt_codes`

func (r *claimsRepo) ListPeriods(ctx context.Context, customerID, payer, cptGroup string, before time.Time, n int) ([]domain.ClaimAggregate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + aggregateColumns + `
		FROM claim_aggregates
		WHERE customer_id = $1 AND payer = $2 AND cpt_group = $3 AND period_start < $4
		ORDER BY period_start DESC
		LIMIT $5`

	rows, err := r.db.QueryxContext(ctx, query, customerID, payer, cptGroup, before, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query claim periods: %w", err)
	}
	defer rows.Close()

	var aggregates []domain.ClaimAggregate
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		aggregates = append(aggregates, *agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate claim periods: %w", err)
	}

	// Query returns newest first for the LIMIT; callers want oldest first.
	for i, j := 0, len(aggregates)-1; i < j; i, j = i+1, j-1 {
		aggregates[i], aggregates[j] = aggregates[j], aggregates[i]
	}
	return aggregates, nil
}

func (r *claimsRepo) GetAggregate(ctx context.Context, customerID, payer, cptGroup string, period time.Time) (*domain.ClaimAggregate, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + aggregateColumns + `
		FROM claim_aggregates
		WHERE customer_id = $1 AND payer = $2 AND cpt_group = $3 AND period_start = $4`

	row := r.db.QueryRowxContext(ctx, query, customerID, payer, cptGroup, period)
	agg, err := scanAggregate(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get claim aggregate: %w", err)
	}
	return agg, nil
}

func (r *claimsRepo) ListActivePairs(ctx context.Context, customerID string, period time.Time, minVolume int) ([]domain.PairKey, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT payer, cpt_group
		FROM claim_aggregates
		WHERE customer_id = $1 AND period_start = $2 AND total_claims >= $3
		ORDER BY payer, cpt_group`

	var pairs []domain.PairKey
	if err := r.db.SelectContext(ctx, &pairs, query, customerID, period, minVolume); err != nil {
		return nil, fmt.Errorf("failed to list active pairs: %w", err)
	}
	return pairs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAggregate(row rowScanner) (*domain.ClaimAggregate, error) {
	var agg domain.ClaimAggregate
	var codes pq.StringArray

	err := row.Scan(
		&agg.CustomerID, &agg.Payer, &agg.CPTGroup, &agg.PeriodStart,
		&agg.TotalClaims, &agg.DeniedClaims, &agg.PaidClaims,
		&agg.MedianPaymentDays, &agg.P90PaymentDays,
		&agg.TotalBilledCents, &agg.DeniedCents, &codes,
	)
	if err != nil {
		return nil, err
	}
	agg.TopCPTCodes = codes
	return &agg, nil
}
