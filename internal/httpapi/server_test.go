package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payerwatch/payerwatch/internal/config"
	"github.com/payerwatch/payerwatch/internal/domain"
	"github.com/payerwatch/payerwatch/internal/metrics"
	"github.com/payerwatch/payerwatch/internal/notify"
	"github.com/payerwatch/payerwatch/internal/persistence"
	"github.com/payerwatch/payerwatch/internal/runner"
)

type stubClaims struct{}

func (stubClaims) ListPeriods(ctx context.Context, customerID, payer, cptGroup string, before time.Time, n int) ([]domain.ClaimAggregate, error) {
	return nil, nil
}

func (stubClaims) GetAggregate(ctx context.Context, customerID, payer, cptGroup string, period time.Time) (*domain.ClaimAggregate, error) {
	return nil, nil
}

func (stubClaims) ListActivePairs(ctx context.Context, customerID string, period time.Time, minVolume int) ([]domain.PairKey, error) {
	return nil, nil
}

type stubBaselines struct{}

func (stubBaselines) Insert(ctx context.Context, b domain.Baseline) error { return nil }

type stubRuns struct {
	acquireErr error
	run        *domain.RunRecord
}

func (s *stubRuns) Acquire(ctx context.Context, run domain.RunRecord) error { return s.acquireErr }

func (s *stubRuns) CommitSuccess(ctx context.Context, runID string, findings []domain.DriftFinding, alerts []domain.AlertEvent) ([]domain.AlertEvent, error) {
	return alerts, nil
}

func (s *stubRuns) MarkFailed(ctx context.Context, runID string, cause string) error { return nil }

func (s *stubRuns) Get(ctx context.Context, runID string) (*domain.RunRecord, error) {
	return s.run, nil
}

func (s *stubRuns) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.RunRecord, error) {
	if s.run == nil {
		return nil, nil
	}
	return []domain.RunRecord{*s.run}, nil
}

type stubAlerts struct {
	counts map[domain.AlertState]int
	alert  *domain.AlertEvent
}

func (s *stubAlerts) RecentNonSuppressed(ctx context.Context, customerID, fingerprint string, since time.Time) (bool, error) {
	return false, nil
}

func (s *stubAlerts) UpdateRouting(ctx context.Context, alertID string, tier domain.Tier, recipients []string) error {
	return nil
}

func (s *stubAlerts) UpdateDelivery(ctx context.Context, alertID string, delivered bool, providerRef string) error {
	return nil
}

func (s *stubAlerts) Get(ctx context.Context, alertID string) (*domain.AlertEvent, error) {
	if s.alert != nil && s.alert.ID == alertID {
		return s.alert, nil
	}
	return nil, nil
}

func (s *stubAlerts) ListByRun(ctx context.Context, runID string) ([]domain.AlertEvent, error) {
	return nil, nil
}

func (s *stubAlerts) CountByState(ctx context.Context, customerID string) (map[domain.AlertState]int, error) {
	return s.counts, nil
}

type stubJudgments struct {
	inserted []domain.OperatorJudgment
}

func (s *stubJudgments) Insert(ctx context.Context, j domain.OperatorJudgment) error {
	s.inserted = append(s.inserted, j)
	return nil
}

func (s *stubJudgments) CountNoise(ctx context.Context, customerID, fingerprint string, since time.Time) (int, error) {
	return 0, nil
}

func (s *stubJudgments) ListByFingerprint(ctx context.Context, customerID, fingerprint string, limit int) ([]domain.OperatorJudgment, error) {
	return nil, nil
}

func newTestServer(runs *stubRuns, alerts *stubAlerts, judgments *stubJudgments) *Server {
	repos := persistence.Repository{
		Claims:    stubClaims{},
		Baselines: stubBaselines{},
		Runs:      runs,
		Alerts:    alerts,
		Judgments: judgments,
	}
	cfg := &config.Config{}
	coord := runner.NewCoordinator(repos, nil, notify.NewLogNotifier(), cfg, nil, nil)
	return NewServer(coord, repos, metrics.NewRegistry(), nil)
}

func doRequest(s *Server, method, path, customerID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if customerID != "" {
		req.Header.Set("X-Customer-ID", customerID)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(&stubRuns{}, &stubAlerts{}, &stubJudgments{})
	rec := doRequest(s, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerRun_MissingCustomerHeader(t *testing.T) {
	s := newTestServer(&stubRuns{}, &stubAlerts{}, &stubJudgments{})
	rec := doRequest(s, http.MethodPost, "/api/v1/runs", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerRun_Conflict(t *testing.T) {
	s := newTestServer(&stubRuns{acquireErr: domain.ErrConcurrencyConflict}, &stubAlerts{}, &stubJudgments{})
	rec := doRequest(s, http.MethodPost, "/api/v1/runs", "cust-1", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already in progress")
}

func TestTriggerRun_Success(t *testing.T) {
	s := newTestServer(&stubRuns{}, &stubAlerts{}, &stubJudgments{})
	rec := doRequest(s, http.MethodPost, "/api/v1/runs", "cust-1", "")

	require.Equal(t, http.StatusCreated, rec.Code)
	var run domain.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, domain.RunSuccess, run.Status)
	assert.Equal(t, "cust-1", run.CustomerID)
}

func TestGetRun_NotFound(t *testing.T) {
	s := newTestServer(&stubRuns{run: nil}, &stubAlerts{}, &stubJudgments{})
	rec := doRequest(s, http.MethodGet, "/api/v1/runs/missing", "cust-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRun_OtherCustomerLooksMissing(t *testing.T) {
	run := &domain.RunRecord{ID: "run-b", CustomerID: "cust-b", Status: domain.RunSuccess}
	s := newTestServer(&stubRuns{run: run}, &stubAlerts{}, &stubJudgments{})

	rec := doRequest(s, http.MethodGet, "/api/v1/runs/run-b", "cust-a", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), "cust-b")

	rec = doRequest(s, http.MethodGet, "/api/v1/runs/run-b", "cust-b", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAlertSummary(t *testing.T) {
	alerts := &stubAlerts{counts: map[domain.AlertState]int{domain.AlertDelivered: 3}}
	s := newTestServer(&stubRuns{}, alerts, &stubJudgments{})
	rec := doRequest(s, http.MethodGet, "/api/v1/alerts/summary", "cust-1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"delivered":3`)
}

func judgeableAlert(customerID string) *domain.AlertEvent {
	return &domain.AlertEvent{
		ID:          "a-1",
		CustomerID:  customerID,
		Fingerprint: "fp-1",
		State:       domain.AlertDelivered,
	}
}

func TestRecordJudgment(t *testing.T) {
	judgments := &stubJudgments{}
	s := newTestServer(&stubRuns{}, &stubAlerts{alert: judgeableAlert("cust-1")}, judgments)

	body := `{"alert_event_id":"a-1","fingerprint":"fp-1","verdict":"noise","judged_by":"ops"}`
	rec := doRequest(s, http.MethodPost, "/api/v1/judgments", "cust-1", body)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, judgments.inserted, 1)
	j := judgments.inserted[0]
	assert.Equal(t, "cust-1", j.CustomerID)
	assert.Equal(t, domain.VerdictNoise, j.Verdict)
	assert.NotEmpty(t, j.ID)
}

func TestRecordJudgment_InvalidVerdict(t *testing.T) {
	s := newTestServer(&stubRuns{}, &stubAlerts{alert: judgeableAlert("cust-1")}, &stubJudgments{})

	body := `{"alert_event_id":"a-1","fingerprint":"fp-1","verdict":"maybe"}`
	rec := doRequest(s, http.MethodPost, "/api/v1/judgments", "cust-1", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordJudgment_OtherCustomersAlertRejected(t *testing.T) {
	judgments := &stubJudgments{}
	s := newTestServer(&stubRuns{}, &stubAlerts{alert: judgeableAlert("cust-b")}, judgments)

	body := `{"alert_event_id":"a-1","fingerprint":"fp-1","verdict":"noise"}`
	rec := doRequest(s, http.MethodPost, "/api/v1/judgments", "cust-a", body)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, judgments.inserted)
}

func TestRecordJudgment_FingerprintMismatch(t *testing.T) {
	judgments := &stubJudgments{}
	s := newTestServer(&stubRuns{}, &stubAlerts{alert: judgeableAlert("cust-1")}, judgments)

	body := `{"alert_event_id":"a-1","fingerprint":"fp-other","verdict":"noise"}`
	rec := doRequest(s, http.MethodPost, "/api/v1/judgments", "cust-1", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, judgments.inserted)
}
