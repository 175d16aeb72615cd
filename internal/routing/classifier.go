package routing

import (
	"fmt"

	"github.com/payerwatch/payerwatch/internal/config"
	"github.com/payerwatch/payerwatch/internal/domain"
)

// complianceSensitive categories always escalate to a human. These are
// deliberately hard-coded: no customer configuration may widen Tier1 to cover
// them.
var complianceSensitive = map[string]bool{
	"appeal":            true,
	"referral":          true,
	"self_referral":     true,
	"stark_sensitive":   true,
	"medical_necessity": true,
}

// Decision is the routing outcome for one alert.
type Decision struct {
	Tier           domain.Tier
	Recipients     []string
	Recommendation string
}

// Classifier assigns each alert a delivery tier by confidence and estimated
// dollar impact. Classification is a pure function of the alert plus the
// customer's routing configuration.
type Classifier struct{}

// NewClassifier creates a routing classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify picks the tier and recipients for one alert under the customer's
// thresholds. Rules, most restrictive first:
//
//	Tier3 escalate: compliance-sensitive category, impact at or above the high
//	threshold, or confidence below the Tier2 floor.
//	Tier1 auto-acknowledge: confidence at or above the Tier1 floor, impact
//	below the Tier1 ceiling, and category on the allow-list.
//	Tier2 queue-for-review: everything between.
func (c *Classifier) Classify(alert domain.AlertEvent, cfg config.RoutingConfig) (Decision, error) {
	if alert.CustomerID == "" {
		return Decision{}, domain.ErrMissingCustomer
	}

	if complianceSensitive[alert.Category] ||
		alert.ImpactCents >= cfg.Tier3MinImpactCents ||
		alert.Confidence < cfg.Tier2MinConfidence {
		return Decision{
			Tier:           domain.TierEscalate,
			Recipients:     cfg.EscalationRecipients,
			Recommendation: recommendation(alert),
		}, nil
	}

	if alert.Confidence >= cfg.Tier1MinConfidence &&
		alert.ImpactCents < cfg.Tier1MaxImpactCents &&
		onAllowList(alert.Category, cfg.AutoAckCategories) {
		return Decision{
			Tier:       domain.TierAutoAck,
			Recipients: cfg.DigestRecipients,
		}, nil
	}

	return Decision{
		Tier:           domain.TierReview,
		Recipients:     cfg.ReviewQueueRecipients,
		Recommendation: recommendation(alert),
	}, nil
}

func onAllowList(category string, allowed []string) bool {
	for _, a := range allowed {
		if a == category {
			return true
		}
	}
	return false
}

// recommendation pre-populates the review queue entry with a suggested next
// action.
func recommendation(alert domain.AlertEvent) string {
	switch alert.Signal {
	case domain.SignalDenialRate:
		return fmt.Sprintf("Review recent denials from %s; severity %s, estimated $%.2f at risk",
			alert.EntityLabel, alert.Severity, float64(alert.ImpactCents)/100)
	case domain.SignalPaymentTiming:
		return fmt.Sprintf("Follow up on payment slowdown from %s; severity %s, $%.2f outstanding",
			alert.EntityLabel, alert.Severity, float64(alert.ImpactCents)/100)
	default:
		return fmt.Sprintf("Investigate drift from %s", alert.EntityLabel)
	}
}
