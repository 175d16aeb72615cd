package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payerwatch/payerwatch/internal/domain"
	"github.com/payerwatch/payerwatch/internal/notify"
)

type recordingNotifier struct {
	delivered []string
	err       error
}

func (n *recordingNotifier) Deliver(ctx context.Context, alert domain.AlertEvent, tier domain.Tier, recipients []string) (notify.DeliveryResult, error) {
	if n.err != nil {
		return notify.DeliveryResult{}, n.err
	}
	n.delivered = append(n.delivered, alert.ID)
	return notify.DeliveryResult{Delivered: true, ProviderRef: "ref-" + alert.ID}, nil
}

type recordingAlerts struct {
	routed   []string
	outcomes map[string]bool
}

func (r *recordingAlerts) RecentNonSuppressed(ctx context.Context, customerID, fingerprint string, since time.Time) (bool, error) {
	return false, nil
}

func (r *recordingAlerts) UpdateRouting(ctx context.Context, alertID string, tier domain.Tier, recipients []string) error {
	r.routed = append(r.routed, alertID)
	return nil
}

func (r *recordingAlerts) UpdateDelivery(ctx context.Context, alertID string, delivered bool, providerRef string) error {
	if r.outcomes == nil {
		r.outcomes = make(map[string]bool)
	}
	r.outcomes[alertID] = delivered
	return nil
}

func (r *recordingAlerts) Get(ctx context.Context, alertID string) (*domain.AlertEvent, error) {
	return nil, nil
}

func (r *recordingAlerts) ListByRun(ctx context.Context, runID string) ([]domain.AlertEvent, error) {
	return nil, nil
}

func (r *recordingAlerts) CountByState(ctx context.Context, customerID string) (map[domain.AlertState]int, error) {
	return nil, nil
}

func tier1Alert(id string) domain.AlertEvent {
	a := alert(0.97, 50_000, "denial_review")
	a.ID = id
	return a
}

func TestDispatch_Tier1ThrottleWaitsInsteadOfStranding(t *testing.T) {
	cfg := testRoutingCfg()
	cfg.DigestPerMinute = 6000 // ~10ms between digest sends
	notifier := &recordingNotifier{}
	alerts := &recordingAlerts{}
	r := NewRouter(NewClassifier(), notifier, alerts, cfg, nil)

	// The limiter burst is one, so the second alert must wait for a slot.
	// Both still have to reach a terminal delivery state.
	r.Dispatch(context.Background(), []domain.AlertEvent{tier1Alert("a-1"), tier1Alert("a-2")}, cfg)

	assert.Equal(t, []string{"a-1", "a-2"}, notifier.delivered)
	assert.Equal(t, map[string]bool{"a-1": true, "a-2": true}, alerts.outcomes)
}

func TestDispatch_Tier1WaitAbortedMarksFailed(t *testing.T) {
	cfg := testRoutingCfg()
	cfg.DigestPerMinute = 6
	notifier := &recordingNotifier{}
	alerts := &recordingAlerts{}
	r := NewRouter(NewClassifier(), notifier, alerts, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Dispatch(ctx, []domain.AlertEvent{tier1Alert("a-1")}, cfg)

	assert.Empty(t, notifier.delivered)
	// The routing decision landed, and the aborted wait is a terminal failed
	// state, never a stranded routed alert.
	assert.Equal(t, []string{"a-1"}, alerts.routed)
	assert.Equal(t, map[string]bool{"a-1": false}, alerts.outcomes)
}

func TestDispatch_DeliveryFailureMarksFailed(t *testing.T) {
	cfg := testRoutingCfg()
	cfg.DigestPerMinute = 6
	notifier := &recordingNotifier{err: errors.New("smtp unavailable")}
	alerts := &recordingAlerts{}
	r := NewRouter(NewClassifier(), notifier, alerts, cfg, nil)

	a := alert(0.85, 50_000, "denial_review") // Tier2, no throttle
	r.Dispatch(context.Background(), []domain.AlertEvent{a}, cfg)

	require.Equal(t, []string{"a-1"}, alerts.routed)
	assert.Equal(t, map[string]bool{"a-1": false}, alerts.outcomes)
}

func TestDispatch_SuppressedSkipped(t *testing.T) {
	cfg := testRoutingCfg()
	cfg.DigestPerMinute = 6
	notifier := &recordingNotifier{}
	alerts := &recordingAlerts{}
	r := NewRouter(NewClassifier(), notifier, alerts, cfg, nil)

	a := alert(0.97, 50_000, "denial_review")
	a.State = domain.AlertSuppressed
	r.Dispatch(context.Background(), []domain.AlertEvent{a}, cfg)

	assert.Empty(t, alerts.routed)
	assert.Empty(t, notifier.delivered)
}
