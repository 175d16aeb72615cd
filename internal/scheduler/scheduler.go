package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/payerwatch/payerwatch/internal/config"
	"github.com/payerwatch/payerwatch/internal/domain"
	"github.com/payerwatch/payerwatch/internal/runner"
)

// JobResult records the outcome of one scheduled customer computation.
type JobResult struct {
	CustomerID string        `json:"customer_id"`
	RunID      string        `json:"run_id,omitempty"`
	StartTime  time.Time     `json:"start_time"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	Skipped    bool          `json:"skipped"`
	Error      string        `json:"error,omitempty"`
}

// Status is a point-in-time snapshot of the scheduler for observability.
type Status struct {
	Running     bool        `json:"running"`
	Customers   int         `json:"customers"`
	LastTick    time.Time   `json:"last_tick"`
	LastResults []JobResult `json:"last_results"`
}

// Scheduler runs drift computations for all configured customers on an
// interval. Customers run concurrently through a bounded worker pool; the
// per-customer single-flight guarantee comes from the coordinator's run-slot
// claim, so an overlapping tick skips the busy customer instead of
// double-computing.
type Scheduler struct {
	coord *runner.Coordinator
	cfg   config.SchedulerConfig

	mu          sync.Mutex
	running     bool
	lastTick    time.Time
	lastResults []JobResult
}

// New creates a scheduler over the coordinator.
func New(coord *runner.Coordinator, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{coord: coord, cfg: cfg}
}

// Start blocks until the context is cancelled, running every configured
// customer once per interval. The first sweep happens immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	log.Info().
		Int("customers", len(s.cfg.Customers)).
		Dur("interval", s.cfg.Interval()).
		Msg("scheduler started")

	ticker := time.NewTicker(s.cfg.Interval())
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs all customers through the worker pool and records results.
func (s *Scheduler) sweep(ctx context.Context) {
	sem := make(chan struct{}, s.cfg.MaxConcurrent)
	results := make([]JobResult, len(s.cfg.Customers))

	var wg sync.WaitGroup
	for i, customerID := range s.cfg.Customers {
		wg.Add(1)
		go func(i int, customerID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = s.runOne(ctx, customerID)
		}(i, customerID)
	}
	wg.Wait()

	s.mu.Lock()
	s.lastTick = time.Now().UTC()
	s.lastResults = results
	s.mu.Unlock()
}

func (s *Scheduler) runOne(ctx context.Context, customerID string) JobResult {
	result := JobResult{CustomerID: customerID, StartTime: time.Now().UTC()}

	run, err := s.coord.Execute(ctx, customerID)
	result.Duration = time.Since(result.StartTime)
	switch {
	case err == nil:
		result.Success = true
		result.RunID = run.ID
	case errors.Is(err, domain.ErrConcurrencyConflict):
		// Previous run still in flight; skip this tick.
		result.Skipped = true
		log.Debug().Str("customer_id", customerID).Msg("run already in flight, tick skipped")
	default:
		result.Error = err.Error()
		var rfe *domain.RunFailedError
		if errors.As(err, &rfe) {
			result.RunID = rfe.RunID
		}
	}
	return result
}

// Status returns a snapshot for the observability endpoints.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]JobResult, len(s.lastResults))
	copy(results, s.lastResults)
	return Status{
		Running:     s.running,
		Customers:   len(s.cfg.Customers),
		LastTick:    s.lastTick,
		LastResults: results,
	}
}
