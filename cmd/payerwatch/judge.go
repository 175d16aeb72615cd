package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/payerwatch/payerwatch/internal/config"
	"github.com/payerwatch/payerwatch/internal/domain"
)

func newJudgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "judge",
		Short: "Record an operator judgment (real/noise) on an alert",
		RunE:  runJudge,
	}
	cmd.Flags().String("customer", "", "Customer ID (required)")
	cmd.Flags().String("alert", "", "Alert event ID (required)")
	cmd.Flags().String("fingerprint", "", "Alert fingerprint (required)")
	cmd.Flags().String("verdict", "", "Verdict: real or noise (required)")
	cmd.Flags().String("notes", "", "Free-form notes")
	cmd.Flags().String("by", "cli", "Operator identity")
	cmd.MarkFlagRequired("customer")
	cmd.MarkFlagRequired("alert")
	cmd.MarkFlagRequired("fingerprint")
	cmd.MarkFlagRequired("verdict")
	return cmd
}

func runJudge(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	customerID, _ := cmd.Flags().GetString("customer")
	alertID, _ := cmd.Flags().GetString("alert")
	fingerprint, _ := cmd.Flags().GetString("fingerprint")
	verdict, _ := cmd.Flags().GetString("verdict")
	notes, _ := cmd.Flags().GetString("notes")
	by, _ := cmd.Flags().GetString("by")

	v := domain.Verdict(verdict)
	if v != domain.VerdictReal && v != domain.VerdictNoise {
		return fmt.Errorf("verdict must be 'real' or 'noise', got %q", verdict)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	repos, _, err := buildStack(cfg)
	if err != nil {
		return err
	}

	j := domain.OperatorJudgment{
		ID:           uuid.NewString(),
		AlertEventID: alertID,
		CustomerID:   customerID,
		Fingerprint:  fingerprint,
		Verdict:      v,
		Notes:        notes,
		JudgedBy:     by,
		CreatedAt:    time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := repos.Judgments.Insert(ctx, j); err != nil {
		return err
	}
	fmt.Printf("judgment %s recorded\n", j.ID)
	return nil
}
