package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payerwatch/payerwatch/internal/config"
	"github.com/payerwatch/payerwatch/internal/domain"
)

type stubJudgments struct {
	noiseCount int
	err        error
}

func (s *stubJudgments) Insert(ctx context.Context, j domain.OperatorJudgment) error { return nil }

func (s *stubJudgments) CountNoise(ctx context.Context, customerID, fingerprint string, since time.Time) (int, error) {
	return s.noiseCount, s.err
}

func (s *stubJudgments) ListByFingerprint(ctx context.Context, customerID, fingerprint string, limit int) ([]domain.OperatorJudgment, error) {
	return nil, nil
}

type stubAlerts struct {
	recentExists bool
	recentErr    error
}

func (s *stubAlerts) RecentNonSuppressed(ctx context.Context, customerID, fingerprint string, since time.Time) (bool, error) {
	return s.recentExists, s.recentErr
}

func (s *stubAlerts) UpdateRouting(ctx context.Context, alertID string, tier domain.Tier, recipients []string) error {
	return nil
}

func (s *stubAlerts) UpdateDelivery(ctx context.Context, alertID string, delivered bool, providerRef string) error {
	return nil
}

func (s *stubAlerts) Get(ctx context.Context, alertID string) (*domain.AlertEvent, error) {
	return nil, nil
}

func (s *stubAlerts) ListByRun(ctx context.Context, runID string) ([]domain.AlertEvent, error) {
	return nil, nil
}

func (s *stubAlerts) CountByState(ctx context.Context, customerID string) (map[domain.AlertState]int, error) {
	return nil, nil
}

func testCfg() config.DetectionConfig {
	return config.DetectionConfig{
		CooldownMinutes:      240,
		JudgmentLookbackDays: 30,
		NoiseThreshold:       2,
	}
}

func sampleFinding(signal domain.SignalType, severity domain.Severity) domain.DriftFinding {
	return domain.DriftFinding{
		ID:          "f-1",
		RunID:       "run-1",
		CustomerID:  "cust-1",
		Payer:       "acme-health",
		CPTGroup:    "office-visits",
		Signal:      signal,
		Severity:    severity,
		Confidence:  0.97,
		ImpactCents: 420_000,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestMaterialize_CreatesPendingAlert(t *testing.T) {
	factory := NewFactory(&stubJudgments{}, &stubAlerts{}, nil, testCfg(), nil)

	events, err := factory.Materialize(context.Background(),
		[]domain.DriftFinding{sampleFinding(domain.SignalDenialRate, domain.SeverityHigh)})
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, domain.AlertPending, e.State)
	assert.Equal(t, domain.SeverityHigh, e.Severity)
	assert.Equal(t, "acme-health/office-visits", e.EntityLabel)
	assert.Equal(t, CategoryDenialReview, e.Category)
	assert.Equal(t, domain.Fingerprint("cust-1", domain.SignalDenialRate, "acme-health/office-visits"), e.Fingerprint)
	assert.False(t, e.CooldownBucket.IsZero())
}

func TestMaterialize_FingerprintStableAcrossReruns(t *testing.T) {
	factory := NewFactory(&stubJudgments{}, &stubAlerts{}, nil, testCfg(), nil)
	finding := sampleFinding(domain.SignalDenialRate, domain.SeverityHigh)

	first, err := factory.Materialize(context.Background(), []domain.DriftFinding{finding})
	require.NoError(t, err)
	second, err := factory.Materialize(context.Background(), []domain.DriftFinding{finding})
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Fingerprint, second[0].Fingerprint)
}

func TestMaterialize_GroupsFindingsPerSignalAndEntity(t *testing.T) {
	factory := NewFactory(&stubJudgments{}, &stubAlerts{}, nil, testCfg(), nil)

	denial := sampleFinding(domain.SignalDenialRate, domain.SeverityMedium)
	timing := sampleFinding(domain.SignalPaymentTiming, domain.SeverityHigh)

	events, err := factory.Materialize(context.Background(), []domain.DriftFinding{denial, timing})
	require.NoError(t, err)

	// Different signals never merge: one alert per (signal, entity).
	require.Len(t, events, 2)
	assert.NotEqual(t, events[0].Fingerprint, events[1].Fingerprint)
}

func TestMaterialize_CooldownDuplicateDropped(t *testing.T) {
	factory := NewFactory(&stubJudgments{}, &stubAlerts{recentExists: true}, nil, testCfg(), nil)

	events, err := factory.Materialize(context.Background(),
		[]domain.DriftFinding{sampleFinding(domain.SignalDenialRate, domain.SeverityHigh)})
	require.NoError(t, err)
	assert.Empty(t, events, "candidate within cooldown must not re-alert")
}

func TestMaterialize_SuppressionConvergence(t *testing.T) {
	cases := []struct {
		noiseCount int
		suppressed bool
	}{
		{0, false},
		{1, false},
		{2, true},
		{5, true},
	}
	for _, tc := range cases {
		factory := NewFactory(&stubJudgments{noiseCount: tc.noiseCount}, &stubAlerts{}, nil, testCfg(), nil)

		events, err := factory.Materialize(context.Background(),
			[]domain.DriftFinding{sampleFinding(domain.SignalDenialRate, domain.SeverityHigh)})
		require.NoError(t, err)
		require.Len(t, events, 1, "suppressed candidates are still persisted for audit")

		if tc.suppressed {
			assert.Equal(t, domain.AlertSuppressed, events[0].State, "noiseCount=%d", tc.noiseCount)
			assert.Equal(t, "noise_judgments", events[0].SuppressReason)
		} else {
			assert.Equal(t, domain.AlertPending, events[0].State, "noiseCount=%d", tc.noiseCount)
		}
	}
}

func TestMaterialize_JudgmentLookupFailureFailsOpen(t *testing.T) {
	judgments := &stubJudgments{noiseCount: 99, err: errors.New("storage unavailable")}
	factory := NewFactory(judgments, &stubAlerts{}, nil, testCfg(), nil)

	events, err := factory.Materialize(context.Background(),
		[]domain.DriftFinding{sampleFinding(domain.SignalDenialRate, domain.SeverityHigh)})
	require.NoError(t, err)
	require.Len(t, events, 1)

	// Silent suppression is the worse failure: alert anyway.
	assert.Equal(t, domain.AlertPending, events[0].State)
}

func TestMaterialize_DuplicateCheckFailureFailsRun(t *testing.T) {
	alerts := &stubAlerts{recentErr: errors.New("storage unavailable")}
	factory := NewFactory(&stubJudgments{}, alerts, nil, testCfg(), nil)

	_, err := factory.Materialize(context.Background(),
		[]domain.DriftFinding{sampleFinding(domain.SignalDenialRate, domain.SeverityHigh)})

	var pErr *domain.PersistenceError
	assert.ErrorAs(t, err, &pErr)
}

func TestMaterialize_NoFindings(t *testing.T) {
	factory := NewFactory(&stubJudgments{}, &stubAlerts{}, nil, testCfg(), nil)
	events, err := factory.Materialize(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, events)
}
