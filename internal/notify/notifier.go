package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/payerwatch/payerwatch/internal/domain"
)

// DeliveryResult is the outcome the notifier reports for one alert. Retry
// policy lives inside notifier implementations; the core records the outcome
// and never retries.
type DeliveryResult struct {
	Delivered   bool
	ProviderRef string
}

// Notifier is the outbound transport collaborator. Email and webhook senders
// live outside this module and implement this interface.
type Notifier interface {
	Deliver(ctx context.Context, alert domain.AlertEvent, tier domain.Tier, recipients []string) (DeliveryResult, error)
}

// LogNotifier writes alerts to the structured log. It is the default sink for
// local runs and the CLI.
type LogNotifier struct{}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Deliver logs the alert payload and reports success.
func (n *LogNotifier) Deliver(ctx context.Context, alert domain.AlertEvent, tier domain.Tier, recipients []string) (DeliveryResult, error) {
	log.Info().
		Str("alert_id", alert.ID).
		Str("customer_id", alert.CustomerID).
		Str("entity", alert.EntityLabel).
		Str("signal", string(alert.Signal)).
		Str("severity", string(alert.Severity)).
		Str("tier", string(tier)).
		Strs("recipients", recipients).
		Int64("impact_cents", alert.ImpactCents).
		Msg("alert delivered")
	return DeliveryResult{Delivered: true, ProviderRef: "log-" + uuid.NewString()}, nil
}
