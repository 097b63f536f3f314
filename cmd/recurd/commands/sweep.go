package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recurd/recurd/config"
	"github.com/recurd/recurd/db"
	"github.com/recurd/recurd/errors"
	"github.com/recurd/recurd/logger"
	"github.com/recurd/recurd/schedule"
)

// SweepCmd represents the sweep command
var SweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one stuck-job sweep and print the report",
	Long: `Scan for jobs stranded in the running state and recover them:
jobs with remaining retries go back to pending, the rest are failed.

Examples:
  recurd sweep
  recurd sweep --json`,
	RunE: runSweep,
}

var sweepJSONFlag bool

func init() {
	SweepCmd.Flags().BoolVar(&sweepJSONFlag, "json", false, "Print the report as JSON")
}

func runSweep(cmd *cobra.Command, args []string) error {
	log := logger.Named("sweep")

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := db.Open(cfg.Database.Path, log)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	if err := db.Migrate(database, log); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}

	sweeper := schedule.NewSweeper(schedule.NewStore(database), schedule.SweeperConfig{
		StuckThreshold: cfg.Sweeper.StuckThreshold(),
		MinInterval:    0, // one-shot invocation, no rate guard
		MaxRetries:     cfg.Sweeper.MaxRetries,
	}, log)

	report, err := sweeper.RunSweep(context.Background())
	if err != nil {
		return errors.Wrap(err, "sweep failed")
	}

	if sweepJSONFlag {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to format report")
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Sweep finished in %dms\n", report.DurationMs)
	fmt.Printf("  processed: %d\n", report.Processed)
	fmt.Printf("  rescued:   %d\n", report.Rescued)
	fmt.Printf("  failed:    %d\n", report.Failed)
	for _, j := range report.StuckJobs {
		fmt.Printf("  - %s %q (owner %s) stuck %d minutes\n", j.ID, j.Name, j.Owner, j.MinutesStuck)
	}
	for _, e := range report.Errors {
		fmt.Printf("  ! %s\n", e)
	}
	return nil
}
