package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAggregate() ClaimAggregate {
	return ClaimAggregate{
		CustomerID:        "cust-1",
		Payer:             "acme-health",
		CPTGroup:          "office-visits",
		PeriodStart:       time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC),
		TotalClaims:       200,
		DeniedClaims:      16,
		PaidClaims:        184,
		MedianPaymentDays: 22,
		TotalBilledCents:  5_000_000,
	}
}

func TestPeriodStart(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "midweek",
			in:   time.Date(2026, 6, 10, 15, 30, 0, 0, time.UTC), // Wednesday
			want: time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "monday maps to itself",
			in:   time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC),
			want: time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "sunday maps to previous monday",
			in:   time.Date(2026, 6, 14, 23, 59, 59, 0, time.UTC),
			want: time.Date(2026, 6, 8, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "non-utc input normalized",
			in:   time.Date(2026, 6, 8, 1, 0, 0, 0, time.FixedZone("CEST", 2*3600)), // Sunday 23:00 UTC
			want: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PeriodStart(tt.in)
			assert.True(t, tt.want.Equal(got), "want %v, got %v", tt.want, got)
			assert.Equal(t, time.Monday, got.Weekday())
		})
	}
}

func TestDenialRate(t *testing.T) {
	agg := validAggregate()
	assert.InDelta(t, 0.08, agg.DenialRate(), 1e-9)

	assert.Zero(t, ClaimAggregate{}.DenialRate(), "empty bucket has rate zero, not NaN")
}

func TestAggregateValidate(t *testing.T) {
	require.NoError(t, validAggregate().Validate())

	corrupt := func(mutate func(*ClaimAggregate)) error {
		agg := validAggregate()
		mutate(&agg)
		return agg.Validate()
	}

	tests := []struct {
		field  string
		mutate func(*ClaimAggregate)
	}{
		{"customer_id", func(a *ClaimAggregate) { a.CustomerID = "" }},
		{"payer", func(a *ClaimAggregate) { a.Payer = "" }},
		{"period_start", func(a *ClaimAggregate) { a.PeriodStart = time.Time{} }},
		{"denied_claims", func(a *ClaimAggregate) { a.DeniedClaims = 300 }},
		{"denied_claims", func(a *ClaimAggregate) { a.DeniedClaims = -1 }},
		{"paid_claims", func(a *ClaimAggregate) { a.PaidClaims = 201 }},
		{"median_payment_days", func(a *ClaimAggregate) { a.MedianPaymentDays = -3 }},
	}
	for _, tt := range tests {
		err := corrupt(tt.mutate)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, tt.field, verr.Field)
	}
}

func TestSeverityRank(t *testing.T) {
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Greater(t, SeverityLow.Rank(), SeverityNone.Rank())
}

func TestEntityLabel(t *testing.T) {
	f := DriftFinding{Payer: "acme-health", CPTGroup: "office-visits"}
	assert.Equal(t, "acme-health/office-visits", f.EntityLabel())
}
