package routing

import (
	"context"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/payerwatch/payerwatch/internal/config"
	"github.com/payerwatch/payerwatch/internal/domain"
	"github.com/payerwatch/payerwatch/internal/metrics"
	"github.com/payerwatch/payerwatch/internal/notify"
	"github.com/payerwatch/payerwatch/internal/persistence"
)

// Router classifies pending alerts and records delivery bookkeeping. Delivery
// failures mark the alert failed; the core never retries (retry policy lives
// in the notifier).
type Router struct {
	classifier *Classifier
	notifier   notify.Notifier
	alerts     persistence.AlertsRepo
	digest     *rate.Limiter
	metrics    *metrics.Registry
}

// NewRouter creates a router. The digest limiter paces Tier1 auto-acknowledge
// notifications, which only feed a digest and can wait.
func NewRouter(classifier *Classifier, notifier notify.Notifier, alerts persistence.AlertsRepo, cfg config.RoutingConfig, m *metrics.Registry) *Router {
	return &Router{
		classifier: classifier,
		notifier:   notifier,
		alerts:     alerts,
		digest:     rate.NewLimiter(rate.Limit(cfg.DigestPerMinute/60), 1),
		metrics:    m,
	}
}

// Dispatch routes every pending alert: classify, persist the routing
// decision, deliver, and record the outcome. Suppressed alerts are skipped.
// Errors on one alert do not block the rest.
func (r *Router) Dispatch(ctx context.Context, alerts []domain.AlertEvent, cfg config.RoutingConfig) {
	for _, alert := range alerts {
		if alert.State != domain.AlertPending {
			if r.metrics != nil && alert.State == domain.AlertSuppressed {
				r.metrics.RecordAlert(string(domain.AlertSuppressed))
			}
			continue
		}

		decision, err := r.classifier.Classify(alert, cfg)
		if err != nil {
			log.Error().Err(err).Str("alert_id", alert.ID).Msg("classification failed")
			continue
		}

		if err := r.alerts.UpdateRouting(ctx, alert.ID, decision.Tier, decision.Recipients); err != nil {
			log.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to persist routing decision")
			continue
		}

		// Tier1 only feeds a digest, so a saturated limiter blocks until a
		// slot frees rather than sending immediately. Nothing revisits routed
		// alerts, so the only terminal states from here are delivered and
		// failed: a Wait aborted by the context marks the alert failed.
		if decision.Tier == domain.TierAutoAck {
			if err := r.digest.Wait(ctx); err != nil {
				log.Error().Err(err).Str("alert_id", alert.ID).Msg("digest throttle wait aborted")
				if uerr := r.alerts.UpdateDelivery(context.WithoutCancel(ctx), alert.ID, false, ""); uerr != nil {
					log.Error().Err(uerr).Str("alert_id", alert.ID).Msg("failed to record delivery outcome")
				} else if r.metrics != nil {
					r.metrics.RecordAlert(string(domain.AlertFailed))
				}
				continue
			}
		}

		result, err := r.notifier.Deliver(ctx, alert, decision.Tier, decision.Recipients)
		delivered := err == nil && result.Delivered
		if err != nil {
			log.Error().Err(err).Str("alert_id", alert.ID).Msg("notifier delivery failed")
		}

		if err := r.alerts.UpdateDelivery(ctx, alert.ID, delivered, result.ProviderRef); err != nil {
			log.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to record delivery outcome")
			continue
		}

		state := domain.AlertDelivered
		if !delivered {
			state = domain.AlertFailed
		}
		if r.metrics != nil {
			r.metrics.RecordAlert(string(state))
		}
	}
}
