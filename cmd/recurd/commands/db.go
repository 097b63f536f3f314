package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recurd/recurd/config"
	"github.com/recurd/recurd/db"
	"github.com/recurd/recurd/errors"
	"github.com/recurd/recurd/logger"
	"github.com/recurd/recurd/schedule"
)

// DbCmd represents the db command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the recurd database",
	Long: `Manage the recurd database.

Examples:
  recurd db migrate    # Apply pending schema migrations
  recurd db stats      # Show job and execution counts`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	if err := db.Migrate(database, logger.Logger); err != nil {
		return errors.Wrap(err, "migration failed")
	}
	fmt.Println("Database is up to date")
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	if err := db.Migrate(database, logger.Logger); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}

	store := schedule.NewStore(database)
	counts, err := store.CountJobsByStatus()
	if err != nil {
		return err
	}

	var total int
	for _, n := range counts {
		total += n
	}

	var executions int
	if err := database.QueryRow(`SELECT COUNT(*) FROM executions`).Scan(&executions); err != nil {
		return errors.Wrap(err, "failed to count executions")
	}

	fmt.Printf("Database: %s\n", cfg.Database.Path)
	fmt.Printf("Jobs: %d\n", total)
	for _, status := range []string{
		schedule.StatusPending,
		schedule.StatusRunning,
		schedule.StatusCompleted,
		schedule.StatusFailed,
		schedule.StatusCancelled,
	} {
		if n, ok := counts[status]; ok {
			fmt.Printf("  %-10s %d\n", status, n)
		}
	}
	fmt.Printf("Executions: %d\n", executions)
	return nil
}
