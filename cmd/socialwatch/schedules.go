package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"socialwatch/internal/app"
)

var (
	addReq        app.CreateScheduleRequest
	addAnchor     string
	listFilter    app.ListFilter
	scheduleActor string
)

var schedulesCmd = &cobra.Command{
	Use:     "schedules",
	Aliases: []string{"sched"},
	Short:   "Manage collection schedules",
}

var schedulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a schedule",
	Example: `  socialwatch schedules add --platform twitter --subject golang --frequency daily --time 09:00
  socialwatch schedules add --platform reddit --subject rust --frequency weekly --day mon --time 18:30 --keyword async
  socialwatch schedules add --platform twitter --subject golang --frequency once --anchor 2025-06-01T12:00:00Z`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		req := addReq
		req.Actor = scheduleActor
		if addAnchor != "" {
			at, err := time.Parse(time.RFC3339, addAnchor)
			if err != nil {
				return fmt.Errorf("--anchor: %w", err)
			}
			req.AnchorTime = &at
		}
		return withApp(cmd, func(ctx context.Context, svc *app.Service) app.Result {
			return svc.CreateSchedule(ctx, req)
		})
	},
}

var schedulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, svc *app.Service) app.Result {
			return svc.List(ctx, listFilter)
		})
	},
}

var schedulesDueCmd = &cobra.Command{
	Use:   "due",
	Short: "List enabled schedules whose next run has passed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		now, err := parseNow(opsNow)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, svc *app.Service) app.Result {
			return svc.ListDue(ctx, now)
		})
	},
}

// byIDCommand builds the single-argument commands that act on one schedule.
func byIDCommand(use, short string, fn func(svc *app.Service, ctx context.Context, id int64, actor string) app.Result) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid schedule id %q", args[0])
			}
			return withApp(cmd, func(ctx context.Context, svc *app.Service) app.Result {
				return fn(svc, ctx, id, scheduleActor)
			})
		},
	}
}

func init() {
	f := schedulesAddCmd.Flags()
	f.StringVar(&addReq.Platform, "platform", "", "twitter, x or reddit")
	f.StringVar(&addReq.Subject, "subject", "", "subject to collect")
	f.StringSliceVar(&addReq.Keywords, "keyword", nil, "extra keyword (repeatable)")
	f.StringVar(&addReq.Frequency, "frequency", "daily", "once, daily or weekly")
	f.StringVar(&addReq.Time, "time", "", "HH:MM in UTC")
	f.StringVar(&addReq.Day, "day", "", "weekday for weekly schedules")
	f.StringVar(&addAnchor, "anchor", "", "explicit future first run (RFC 3339), instead of --time/--day")

	lf := schedulesListCmd.Flags()
	lf.BoolVar(&listFilter.EnabledOnly, "enabled", false, "only enabled schedules")
	lf.BoolVar(&listFilter.LegacyOnly, "legacy", false, "only schedules with an uninterpretable frequency")
	lf.StringVar(&listFilter.Platform, "platform", "", "filter by platform")
	lf.IntVar(&listFilter.Limit, "limit", 0, "maximum rows (0 for all)")

	schedulesDueCmd.Flags().StringVar(&opsNow, "now", "", "evaluate at this RFC 3339 instant")

	schedulesCmd.PersistentFlags().StringVar(&scheduleActor, "actor", "cli", "name recorded in the audit log")
	schedulesCmd.AddCommand(
		schedulesAddCmd,
		schedulesListCmd,
		schedulesDueCmd,
		byIDCommand("get", "Show one schedule", func(svc *app.Service, ctx context.Context, id int64, _ string) app.Result {
			return svc.Get(ctx, id)
		}),
		byIDCommand("pause", "Disable a schedule", (*app.Service).Pause),
		byIDCommand("resume", "Re-enable a schedule", (*app.Service).Resume),
		byIDCommand("delete", "Delete a schedule and its run handle", (*app.Service).Delete),
		byIDCommand("run", "Run a schedule now without moving its next run", (*app.Service).RunNow),
	)
	rootCmd.AddCommand(schedulesCmd)
}
