package runner

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/payerwatch/payerwatch/internal/alerting"
	"github.com/payerwatch/payerwatch/internal/baseline"
	"github.com/payerwatch/payerwatch/internal/cache"
	"github.com/payerwatch/payerwatch/internal/config"
	"github.com/payerwatch/payerwatch/internal/domain"
	"github.com/payerwatch/payerwatch/internal/drift"
	"github.com/payerwatch/payerwatch/internal/metrics"
	"github.com/payerwatch/payerwatch/internal/notify"
	"github.com/payerwatch/payerwatch/internal/persistence"
	"github.com/payerwatch/payerwatch/internal/routing"
	"github.com/payerwatch/payerwatch/internal/significance"
)

// Event is a lifecycle notification for observers (websocket feed, tests).
type Event struct {
	Type       string    `json:"type"`
	CustomerID string    `json:"customer_id"`
	RunID      string    `json:"run_id"`
	At         time.Time `json:"at"`
	Detail     string    `json:"detail,omitempty"`
}

// EventSink receives lifecycle events. Publish must not block.
type EventSink interface {
	Publish(e Event)
}

type noopSink struct{}

func (noopSink) Publish(Event) {}

// pipeline holds the per-customer component chain. Built once per customer so
// stateful pieces (suppression breaker, digest limiter) keep their state
// across runs.
type pipeline struct {
	cfg      config.CustomerConfig
	computer *drift.Computer
	factory  *alerting.Factory
	router   *routing.Router
}

// Coordinator is the concurrency boundary of the engine. It guarantees at
// most one in-flight computation per customer via the running-slot claim in
// RunsRepo, commits a run's findings and alerts in one transaction, and
// records run status for observability and retry.
type Coordinator struct {
	repos    persistence.Repository
	cooldown *cache.Cooldown
	notifier notify.Notifier
	cfg      *config.Config
	metrics  *metrics.Registry
	sink     EventSink
	now      func() time.Time

	mu        sync.Mutex
	pipelines map[string]*pipeline
}

// NewCoordinator wires the run pipeline over the given stores. The cooldown
// cache, metrics registry, and event sink may be nil.
func NewCoordinator(repos persistence.Repository, cooldown *cache.Cooldown, notifier notify.Notifier, cfg *config.Config, m *metrics.Registry, sink EventSink) *Coordinator {
	if sink == nil {
		sink = noopSink{}
	}
	return &Coordinator{
		repos:     repos,
		cooldown:  cooldown,
		notifier:  notifier,
		cfg:       cfg,
		metrics:   m,
		sink:      sink,
		now:       time.Now,
		pipelines: make(map[string]*pipeline),
	}
}

// pipelineFor returns the customer's component chain, building it on first
// use with that customer's effective thresholds.
func (c *Coordinator) pipelineFor(customerID string) *pipeline {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pipelines[customerID]; ok {
		return p
	}

	ccfg := c.cfg.ForCustomer(customerID)
	baselines := baseline.NewStore(c.repos.Claims, c.repos.Baselines, ccfg.Detection)
	engine := significance.NewEngine(ccfg.Detection)

	p := &pipeline{
		cfg:      ccfg,
		computer: drift.NewComputer(c.repos.Claims, baselines, engine, ccfg.Detection),
		factory:  alerting.NewFactory(c.repos.Judgments, c.repos.Alerts, c.cooldown, ccfg.Detection, c.metrics),
		router:   routing.NewRouter(routing.NewClassifier(), c.notifier, c.repos.Alerts, ccfg.Routing, c.metrics),
	}
	c.pipelines[customerID] = p
	return p
}

// Execute runs one drift computation for the customer end to end. It fails
// fast with domain.ErrConcurrencyConflict when another run is already in
// flight. Any computation or commit failure transitions the run to failed and
// is surfaced as a RunFailedError carrying the run ID; nothing from a failed
// run is ever visible.
func (c *Coordinator) Execute(ctx context.Context, customerID string) (*domain.RunRecord, error) {
	if customerID == "" {
		return nil, domain.ErrMissingCustomer
	}
	p := c.pipelineFor(customerID)

	started := c.now().UTC()
	run := domain.RunRecord{
		ID:         uuid.NewString(),
		CustomerID: customerID,
		Status:     domain.RunRunning,
		StartedAt:  started,
	}

	if err := c.repos.Runs.Acquire(ctx, run); err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.ActiveRuns.Inc()
		defer c.metrics.ActiveRuns.Dec()
	}
	c.sink.Publish(Event{Type: "run_started", CustomerID: customerID, RunID: run.ID, At: started})

	log.Info().
		Str("customer_id", customerID).
		Str("run_id", run.ID).
		Msg("drift computation started")

	findings, err := p.computer.Run(ctx, customerID, run.ID, started)
	if err != nil {
		return nil, c.fail(ctx, &run, err)
	}

	alerts, err := p.factory.Materialize(ctx, findings)
	if err != nil {
		return nil, c.fail(ctx, &run, err)
	}

	persisted, err := c.repos.Runs.CommitSuccess(ctx, run.ID, findings, alerts)
	if err != nil {
		return nil, c.fail(ctx, &run, &domain.PersistenceError{Op: "run commit", Err: err})
	}

	finished := c.now().UTC()
	run.Status = domain.RunSuccess
	run.FinishedAt = &finished
	run.FindingsCount = len(findings)
	run.AlertsCount = len(persisted)

	if c.metrics != nil {
		c.metrics.RunsTotal.WithLabelValues(string(domain.RunSuccess)).Inc()
		c.metrics.RunDuration.Observe(finished.Sub(started).Seconds())
		for _, f := range findings {
			c.metrics.FindingsTotal.WithLabelValues(string(f.Signal), string(f.Severity)).Inc()
		}
	}

	// Mark cooldowns only after the commit so a failed run never poisons the
	// fast-path cache.
	for _, a := range persisted {
		if a.State != domain.AlertSuppressed {
			c.cooldown.Mark(ctx, a.Fingerprint, p.cfg.Detection.CooldownWindow())
		}
	}

	// Routing and delivery bookkeeping happen after the commit boundary;
	// delivery failures are per-alert state, not run failures.
	p.router.Dispatch(ctx, persisted, p.cfg.Routing)

	c.sink.Publish(Event{Type: "run_succeeded", CustomerID: customerID, RunID: run.ID, At: finished})
	log.Info().
		Str("customer_id", customerID).
		Str("run_id", run.ID).
		Int("findings", run.FindingsCount).
		Int("alerts", run.AlertsCount).
		Dur("elapsed", finished.Sub(started)).
		Msg("drift computation succeeded")

	return &run, nil
}

// fail transitions the run to failed. Findings from the failed run were never
// committed, so nothing is partially visible.
func (c *Coordinator) fail(ctx context.Context, run *domain.RunRecord, cause error) error {
	finished := c.now().UTC()
	run.Status = domain.RunFailed
	run.FinishedAt = &finished
	run.Error = cause.Error()

	// The most common cause here is the caller's context dying mid-compute.
	// The transition must land anyway or the running-slot claim is never
	// released and the customer can never run again, so record it on a
	// detached context; the repo applies its own timeout.
	if err := c.repos.Runs.MarkFailed(context.WithoutCancel(ctx), run.ID, cause.Error()); err != nil {
		log.Error().Err(err).
			Str("run_id", run.ID).
			Msg("failed to record run failure")
	}
	if c.metrics != nil {
		c.metrics.RunsTotal.WithLabelValues(string(domain.RunFailed)).Inc()
	}
	c.sink.Publish(Event{Type: "run_failed", CustomerID: run.CustomerID, RunID: run.ID, At: finished, Detail: cause.Error()})

	log.Error().Err(cause).
		Str("customer_id", run.CustomerID).
		Str("run_id", run.ID).
		Msg("drift computation failed")

	return &domain.RunFailedError{RunID: run.ID, Err: cause}
}
