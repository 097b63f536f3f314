package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/recurd/recurd/config"
	"github.com/recurd/recurd/db"
	"github.com/recurd/recurd/errors"
	"github.com/recurd/recurd/logger"
	"github.com/recurd/recurd/schedule"
)

// JobsCmd represents the jobs command
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect scheduled jobs",
	Long: `Inspect the jobs in the schedule store.

Examples:
  recurd jobs ls
  recurd jobs ls --owner alice --status running
  recurd jobs show <id>`,
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List scheduled jobs",
	RunE:  runJobsLs,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one job in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var (
	jobsOwnerFlag  string
	jobsStatusFlag string
	jobsLimitFlag  int
)

func init() {
	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsShowCmd)
	jobsLsCmd.Flags().StringVar(&jobsOwnerFlag, "owner", "", "Filter by owner")
	jobsLsCmd.Flags().StringVar(&jobsStatusFlag, "status", "", "Filter by status")
	jobsLsCmd.Flags().IntVar(&jobsLimitFlag, "limit", 50, "Maximum jobs to list")
}

func openStore() (*schedule.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load configuration")
	}
	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open database")
	}
	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, nil, errors.Wrap(err, "failed to migrate database")
	}
	return schedule.NewStore(database), func() { database.Close() }, nil
}

func runJobsLs(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	if jobsStatusFlag != "" && !schedule.ValidStatus(jobsStatusFlag) {
		return errors.Newf("invalid status: %s", jobsStatusFlag)
	}

	jobs, err := store.ListJobs(jobsOwnerFlag, jobsStatusFlag, jobsLimitFlag)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	for _, j := range jobs {
		next := "-"
		if j.NextRunTime != nil {
			next = j.NextRunTime.Format(time.RFC3339)
		}
		active := " "
		if j.IsActive {
			active = "*"
		}
		fmt.Printf("%s %-36s %-10s %-8s next=%s %s\n",
			active, j.ID, j.Status, j.ScheduleType, next, j.Name)
	}
	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openStore()
	if err != nil {
		return err
	}
	defer closeDB()

	job, err := store.GetJob(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:            %s\n", job.ID)
	fmt.Printf("Name:          %s\n", job.Name)
	fmt.Printf("Owner:         %s\n", job.Owner)
	fmt.Printf("Handler:       %s\n", job.HandlerName)
	fmt.Printf("Status:        %s\n", job.Status)
	fmt.Printf("Active:        %t\n", job.IsActive)
	if job.Scheduled() {
		fmt.Printf("Schedule:      %s", job.ScheduleType)
		if job.ScheduleType == schedule.ScheduleCustom {
			fmt.Printf(" (every %d days)", job.IntervalDays)
		}
		if job.ScheduleType == schedule.ScheduleWeekly {
			fmt.Printf(" (%v)", job.WeeklyDays)
		}
		fmt.Println()
		fmt.Printf("Timezone:      %s\n", job.Timezone)
	}
	if job.NextRunTime != nil {
		fmt.Printf("Next run:      %s\n", job.NextRunTime.Format(time.RFC3339))
	}
	if job.LastRunAt != nil {
		fmt.Printf("Last run:      %s\n", job.LastRunAt.Format(time.RFC3339))
	}
	fmt.Printf("Runs:          %d", job.RunCount)
	if job.MaxRuns != nil {
		fmt.Printf(" of %d", *job.MaxRuns)
	}
	fmt.Println()
	if job.RetryCount > 0 {
		fmt.Printf("Rescues:       %d\n", job.RetryCount)
	}
	if job.Error != "" {
		fmt.Printf("Error:         %s\n", job.Error)
	}
	return nil
}
