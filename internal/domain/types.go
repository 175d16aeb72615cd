package domain

import (
	"time"
)

// SignalType identifies which payer-behavior signal a baseline, finding, or
// alert refers to.
type SignalType string

const (
	SignalDenialRate    SignalType = "denial_rate"
	SignalPaymentTiming SignalType = "payment_timing"
)

// Severity classifies how far a current-period metric has drifted from its
// baseline.
type Severity string

const (
	SeverityNone   Severity = ""
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Rank orders severities so callers can compare and take the maximum.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Trend tags a payment-timing finding with which condition fired.
type Trend string

const (
	TrendNone      Trend = ""
	TrendWorsening Trend = "WORSENING"
	TrendSlowdown  Trend = "SIGNIFICANT_SLOWDOWN"
)

// AlertState tracks the alert lifecycle: pending -> routed -> delivered,
// or suppressed/failed terminal states.
type AlertState string

const (
	AlertPending    AlertState = "pending"
	AlertRouted     AlertState = "routed"
	AlertDelivered  AlertState = "delivered"
	AlertSuppressed AlertState = "suppressed"
	AlertFailed     AlertState = "failed"
)

// Tier is the automation level assigned to a routed alert.
type Tier string

const (
	TierAutoAck  Tier = "tier1_auto_ack"
	TierReview   Tier = "tier2_review"
	TierEscalate Tier = "tier3_escalate"
)

// Verdict is an operator's judgment of a past alert.
type Verdict string

const (
	VerdictReal  Verdict = "real"
	VerdictNoise Verdict = "noise"
)

// RunStatus is the lifecycle state of one drift computation run.
type RunStatus string

const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// PairKey identifies one (payer, cpt-group) analysis bucket within a customer.
type PairKey struct {
	Payer    string `json:"payer" db:"payer"`
	CPTGroup string `json:"cpt_group" db:"cpt_group"`
}

// ClaimAggregate is the read-only per-period rollup the ingestion pipeline
// produces for one (customer, payer, cpt-group, period) bucket. The core never
// writes these.
type ClaimAggregate struct {
	CustomerID        string    `json:"customer_id" db:"customer_id"`
	Payer             string    `json:"payer" db:"payer"`
	CPTGroup          string    `json:"cpt_group" db:"cpt_group"`
	PeriodStart       time.Time `json:"period_start" db:"period_start"`
	TotalClaims       int       `json:"total_claims" db:"total_claims"`
	DeniedClaims      int       `json:"denied_claims" db:"denied_claims"`
	PaidClaims        int       `json:"paid_claims" db:"paid_claims"`
	MedianPaymentDays float64   `json:"median_payment_days" db:"median_payment_days"`
	P90PaymentDays    float64   `json:"p90_payment_days" db:"p90_payment_days"`
	TotalBilledCents  int64     `json:"total_billed_cents" db:"total_billed_cents"`
	DeniedCents       int64     `json:"denied_cents" db:"denied_cents"`
	TopCPTCodes       []string  `json:"top_cpt_codes" db:"-"`
}

// DenialRate returns the period's denial proportion, zero when no claims.
func (a ClaimAggregate) DenialRate() float64 {
	if a.TotalClaims == 0 {
		return 0
	}
	return float64(a.DeniedClaims) / float64(a.TotalClaims)
}

// Validate rejects malformed aggregates before they enter the computation.
func (a ClaimAggregate) Validate() error {
	switch {
	case a.CustomerID == "":
		return &ValidationError{Field: "customer_id", Reason: "empty"}
	case a.Payer == "":
		return &ValidationError{Field: "payer", Reason: "empty"}
	case a.CPTGroup == "":
		return &ValidationError{Field: "cpt_group", Reason: "empty"}
	case a.PeriodStart.IsZero():
		return &ValidationError{Field: "period_start", Reason: "zero timestamp"}
	case a.TotalClaims < 0:
		return &ValidationError{Field: "total_claims", Reason: "negative"}
	case a.DeniedClaims < 0 || a.DeniedClaims > a.TotalClaims:
		return &ValidationError{Field: "denied_claims", Reason: "out of range"}
	case a.PaidClaims < 0 || a.PaidClaims > a.TotalClaims:
		return &ValidationError{Field: "paid_claims", Reason: "out of range"}
	case a.MedianPaymentDays < 0:
		return &ValidationError{Field: "median_payment_days", Reason: "negative"}
	}
	return nil
}

// Baseline holds rolling statistics over the trailing window of closed periods
// for one (customer, payer, cpt-group, signal) key. Mean and StdDev describe
// the per-period proportions; PooledRate is total denied over total claims
// across the window and pairs with SampleSize in the proportions test.
// Baselines are recomputed fresh on every lookup and persisted insert-only so
// prior runs stay auditable.
type Baseline struct {
	CustomerID string     `json:"customer_id" db:"customer_id"`
	Payer      string     `json:"payer" db:"payer"`
	CPTGroup   string     `json:"cpt_group" db:"cpt_group"`
	Signal     SignalType `json:"signal" db:"signal"`
	Mean       float64    `json:"mean" db:"mean"`
	PooledRate float64    `json:"pooled_rate" db:"pooled_rate"`
	StdDev     float64    `json:"std_dev" db:"std_dev"`
	Median     float64    `json:"median" db:"median"`
	P90        float64    `json:"p90" db:"p90"`
	Periods    int        `json:"periods" db:"periods"`
	SampleSize int        `json:"sample_size" db:"sample_size"`
	ComputedAt time.Time  `json:"computed_at" db:"computed_at"`
}

// CurrentSample is the current-period observation evaluated against a baseline.
// RecentMedians carries the payment-timing medians of the most recent periods,
// oldest first, including the current period.
type CurrentSample struct {
	TotalClaims       int
	DeniedClaims      int
	MedianPaymentDays float64
	RecentMedians     []float64
}

// DenialRate returns the sample's denial proportion, zero when no claims.
func (s CurrentSample) DenialRate() float64 {
	if s.TotalClaims == 0 {
		return 0
	}
	return float64(s.DeniedClaims) / float64(s.TotalClaims)
}

// DriftFinding is one significant hypothesis-test result for one
// (payer, cpt-group, signal) within a run. Immutable after creation.
type DriftFinding struct {
	ID            string     `json:"id" db:"id"`
	RunID         string     `json:"run_id" db:"run_id"`
	CustomerID    string     `json:"customer_id" db:"customer_id"`
	Payer         string     `json:"payer" db:"payer"`
	CPTGroup      string     `json:"cpt_group" db:"cpt_group"`
	Signal        SignalType `json:"signal" db:"signal"`
	BaselineValue float64    `json:"baseline_value" db:"baseline_value"`
	CurrentValue  float64    `json:"current_value" db:"current_value"`
	Delta         float64    `json:"delta" db:"delta"`
	PValue        float64    `json:"p_value" db:"p_value"`
	Confidence    float64    `json:"confidence" db:"confidence"`
	Severity      Severity   `json:"severity" db:"severity"`
	Trend         Trend      `json:"trend" db:"trend"`
	ImpactCents   int64      `json:"impact_cents" db:"impact_cents"`
	TopCPTCodes   []string   `json:"top_cpt_codes" db:"-"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// EntityLabel is the payer/cpt-group identity used for alert fingerprinting.
func (f DriftFinding) EntityLabel() string {
	return f.Payer + "/" + f.CPTGroup
}

// AlertEvent is the deduplicated, routable unit derived from one or more
// findings sharing a fingerprint.
type AlertEvent struct {
	ID             string     `json:"id" db:"id"`
	RunID          string     `json:"run_id" db:"run_id"`
	CustomerID     string     `json:"customer_id" db:"customer_id"`
	Signal         SignalType `json:"signal" db:"signal"`
	EntityLabel    string     `json:"entity_label" db:"entity_label"`
	Fingerprint    string     `json:"fingerprint" db:"fingerprint"`
	Severity       Severity   `json:"severity" db:"severity"`
	Confidence     float64    `json:"confidence" db:"confidence"`
	ImpactCents    int64      `json:"impact_cents" db:"impact_cents"`
	Category       string     `json:"category" db:"category"`
	State          AlertState `json:"state" db:"state"`
	SuppressReason string     `json:"suppress_reason,omitempty" db:"suppress_reason"`
	Tier           Tier       `json:"tier,omitempty" db:"tier"`
	Recipients     []string   `json:"recipients,omitempty" db:"-"`
	CooldownBucket time.Time  `json:"cooldown_bucket" db:"cooldown_bucket"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	ProviderRef    string     `json:"provider_ref,omitempty" db:"provider_ref"`
}

// OperatorJudgment is append-only human feedback on a past alert. Judgments
// are never updated or deleted.
type OperatorJudgment struct {
	ID           string    `json:"id" db:"id"`
	AlertEventID string    `json:"alert_event_id" db:"alert_event_id"`
	CustomerID   string    `json:"customer_id" db:"customer_id"`
	Fingerprint  string    `json:"fingerprint" db:"fingerprint"`
	Verdict      Verdict   `json:"verdict" db:"verdict"`
	Notes        string    `json:"notes" db:"notes"`
	JudgedBy     string    `json:"judged_by" db:"judged_by"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// RunRecord tracks one drift computation for one customer.
type RunRecord struct {
	ID            string     `json:"id" db:"id"`
	CustomerID    string     `json:"customer_id" db:"customer_id"`
	Status        RunStatus  `json:"status" db:"status"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	FindingsCount int        `json:"findings_count" db:"findings_count"`
	AlertsCount   int        `json:"alerts_count" db:"alerts_count"`
	Error         string     `json:"error,omitempty" db:"error"`
}

// PeriodStart truncates a timestamp to the start of its weekly analysis
// period (Monday 00:00 UTC).
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	days := (int(t.Weekday()) + 6) % 7
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -days)
}
