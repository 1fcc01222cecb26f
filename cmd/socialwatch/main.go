// Command socialwatch runs the social media collection scheduler and its
// operator commands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"socialwatch/internal/app"
	"socialwatch/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "socialwatch",
	Short:         "Scheduled social media collection",
	Long:          "socialwatch collects posts from Twitter/X and Reddit on per-subject schedules, deduplicates them and stores a report per run.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json)")
}

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: .env: %v\n", err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// errStatus is returned when a command ran but its result was not ok; the
// result itself has already been printed.
type errStatus struct{ status app.Status }

func (e errStatus) Error() string { return "command finished with status " + string(e.status) }

// withApp runs fn against a one-shot app and stops it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, svc *app.Service) app.Result) error {
	ctx := cmd.Context()
	a, err := app.NewApp(ctx, cfgPath)
	if err != nil {
		return err
	}
	a.StartOneShot(ctx)

	res := fn(ctx, a.Service())

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, app.StopOneShot)

	if err := printResult(cmd, res); err != nil {
		return err
	}
	if !res.OK() {
		return errStatus{status: res.Status}
	}
	return nil
}

func printResult(cmd *cobra.Command, res app.Result) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
