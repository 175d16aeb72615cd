package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/payerwatch/payerwatch/internal/cache"
	"github.com/payerwatch/payerwatch/internal/config"
	"github.com/payerwatch/payerwatch/internal/httpapi"
	"github.com/payerwatch/payerwatch/internal/metrics"
	"github.com/payerwatch/payerwatch/internal/notify"
	"github.com/payerwatch/payerwatch/internal/persistence"
	"github.com/payerwatch/payerwatch/internal/persistence/postgres"
	"github.com/payerwatch/payerwatch/internal/runner"
	"github.com/payerwatch/payerwatch/internal/scheduler"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the observability server and the periodic drift scheduler",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	repos, cooldown, err := buildStack(cfg)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	hub := httpapi.NewHub()
	coord := runner.NewCoordinator(repos, cooldown, notify.NewLogNotifier(), cfg, reg, hub)
	server := httpapi.NewServer(coord, repos, reg, hub)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(coord, cfg.Scheduler)
		go func() {
			if err := sched.Start(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("scheduler exited")
			}
		}()
	}

	httpServer := &http.Server{Addr: cfg.HTTP.Addr, Handler: server.Handler()}
	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	log.Info().Str("addr", cfg.HTTP.Addr).Msg("http server listening")
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// buildStack opens the database and optional redis connection and wires the
// repositories.
func buildStack(cfg *config.Config) (persistence.Repository, *cache.Cooldown, error) {
	db, err := postgres.Connect(cfg.Database)
	if err != nil {
		return persistence.Repository{}, nil, err
	}

	timeout := cfg.Database.Timeout()
	repos := persistence.Repository{
		Claims:    postgres.NewClaimsRepo(db, timeout),
		Baselines: postgres.NewBaselinesRepo(db, timeout),
		Runs:      postgres.NewRunsRepo(db, timeout),
		Alerts:    postgres.NewAlertsRepo(db, timeout),
		Judgments: postgres.NewJudgmentsRepo(db, timeout),
	}

	var cooldown *cache.Cooldown
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		cooldown = cache.NewCooldown(client)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("cooldown cache enabled")
	}
	return repos, cooldown, nil
}
