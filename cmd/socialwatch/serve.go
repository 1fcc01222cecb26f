package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"socialwatch/internal/app"
	"socialwatch/internal/httpapi"
)

var serveStopTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler loop and the HTTP API",
	Long:  `Run the long-lived service: the polling loop, the health job, config hot reload and (when http.enabled) the API with the cron reconcile endpoint.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&serveStopTimeout, "stop-timeout", 15*time.Second, "upper bound for graceful shutdown")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.NewApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	a.SetHTTPHandler(httpapi.NewRouter(a.Service(), httpapi.Options{
		CronSecret: a.Secrets().CronSecret,
		Profiler:   a.ProfilingEnabled(),
	}, a.Logger()))

	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), serveStopTimeout)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	reason := app.StopSIGTERM
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), serveStopTimeout)
	defer stopCancel()
	stopErr := a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		return errors.Join(a.Err(), stopErr)
	}
	return stopErr
}
