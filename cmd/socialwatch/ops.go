package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"socialwatch/internal/app"
)

var opsNow string

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run every schedule due inside the reconcile window once",
	Long:  `Reconcile is the command form of the cron endpoint: it selects the enabled schedules due within [now-lookahead, now+tolerance], runs each once and prints the summary.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		now, err := parseNow(opsNow)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, svc *app.Service) app.Result {
			return svc.Reconcile(ctx, now)
		})
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report stale or failing schedules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		now, err := parseNow(opsNow)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, svc *app.Service) app.Result {
			return svc.CheckHealth(ctx, now)
		})
	},
}

var cleanupLegacyCmd = &cobra.Command{
	Use:   "cleanup-legacy",
	Short: "Disable schedules whose frequency can no longer be interpreted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, svc *app.Service) app.Result {
			return svc.CleanupLegacy(ctx, "cli")
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{reconcileCmd, healthCmd} {
		c.Flags().StringVar(&opsNow, "now", "", "evaluate at this RFC 3339 instant instead of the current time")
	}
	rootCmd.AddCommand(reconcileCmd, healthCmd, cleanupLegacyCmd)
}

func parseNow(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--now: %w", err)
	}
	return t.UTC(), nil
}
