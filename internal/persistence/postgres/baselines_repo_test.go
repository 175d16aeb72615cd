package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payerwatch/payerwatch/internal/domain"
)

func TestInsertBaseline(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBaselinesRepo(db, 5*time.Second)
	computed := time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)

	b := domain.Baseline{
		CustomerID: "cust-1",
		Payer:      "acme-health",
		CPTGroup:   "office-visits",
		Signal:     domain.SignalDenialRate,
		Mean:       0.15,
		PooledRate: 0.1006,
		StdDev:     0.02,
		Median:     0.10,
		P90:        0.14,
		Periods:    13,
		SampleSize: 7010,
		ComputedAt: computed,
	}

	mock.ExpectExec("INSERT INTO baselines").
		WithArgs("cust-1", "acme-health", "office-visits", domain.SignalDenialRate,
			0.15, 0.1006, 0.02, 0.10, 0.14, 13, 7010, computed).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.Insert(context.Background(), b)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
