package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/recurd/recurd/cmd/recurd/commands"
	"github.com/recurd/recurd/logger"
)

var rootCmd = &cobra.Command{
	Use:   "recurd",
	Short: "recurd - recurring job scheduler",
	Long: `recurd - recurring job scheduler and stuck-job recovery daemon.

recurd runs jobs on once, daily, weekly, or custom day-interval
schedules, computed in each job's own timezone, and sweeps jobs
stranded in the running state back onto the schedule.

Available commands:
  serve   - Start the scheduler daemon and HTTP API
  sweep   - Run one stuck-job sweep and print the report
  jobs    - Inspect scheduled jobs
  db      - Manage the recurd database
  version - Show version information

Examples:
  recurd serve                 # Start the daemon
  recurd sweep                 # Sweep stuck jobs once
  recurd jobs ls               # List scheduled jobs
  recurd db migrate            # Apply pending schema migrations`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON instead of console output")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.SweepCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
