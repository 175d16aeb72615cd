package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/payerwatch/payerwatch/internal/config"
	"github.com/payerwatch/payerwatch/internal/domain"
	"github.com/payerwatch/payerwatch/internal/metrics"
	"github.com/payerwatch/payerwatch/internal/notify"
	"github.com/payerwatch/payerwatch/internal/runner"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one drift computation for a customer",
		RunE:  runOnce,
	}
	cmd.Flags().String("customer", "", "Customer ID to compute (required)")
	cmd.Flags().Duration("timeout", 10*time.Minute, "Overall run timeout")
	cmd.MarkFlagRequired("customer")
	return cmd
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	customerID, _ := cmd.Flags().GetString("customer")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	repos, cooldown, err := buildStack(cfg)
	if err != nil {
		return err
	}

	coord := runner.NewCoordinator(repos, cooldown, notify.NewLogNotifier(), cfg, metrics.NewRegistry(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	run, err := coord.Execute(ctx, customerID)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			return fmt.Errorf("computation already in progress for %s, try again later", customerID)
		}
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(run)
}
