package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/recurd/recurd/config"
	"github.com/recurd/recurd/db"
	"github.com/recurd/recurd/errors"
	"github.com/recurd/recurd/logger"
	"github.com/recurd/recurd/schedule"
	"github.com/recurd/recurd/server"
)

// ServeCmd represents the serve command
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler daemon and HTTP API",
	Long: `Start the recurd daemon: the job runner polling for due jobs,
the stuck-job sweeper, and the HTTP API.

The config file (recurd.toml) is watched and reloaded on change.

Examples:
  recurd serve
  recurd serve --port 9000
  recurd serve --db /var/lib/recurd/recurd.db`,
	RunE: runServe,
}

var (
	servePortFlag int
	serveDbFlag   string
)

func init() {
	ServeCmd.Flags().IntVar(&servePortFlag, "port", 0, "HTTP port (overrides config)")
	ServeCmd.Flags().StringVar(&serveDbFlag, "db", "", "Database path (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.Named("serve")

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if servePortFlag != 0 {
		cfg.Server.Port = servePortFlag
	}
	if serveDbFlag != "" {
		cfg.Database.Path = serveDbFlag
	}

	database, err := db.Open(cfg.Database.Path, log)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	if err := db.Migrate(database, log); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}

	registry := schedule.NewHandlerRegistry()
	registerBuiltinHandlers(registry, log)

	srv := server.New(database, cfg, registry, log)

	// Reload worker tuning when the config file changes.
	if path := config.FindConfigFile(); path != "" {
		watcher, err := config.NewWatcher(path)
		if err != nil {
			log.Warnw("Config watcher unavailable", "path", path, "error", err)
		} else {
			watcher.OnReload(srv.ApplyConfig)
			watcher.Start()
			defer watcher.Stop()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Infow("Received signal, shutting down", "signal", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}
