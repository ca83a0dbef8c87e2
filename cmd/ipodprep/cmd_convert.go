package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nlsukhde/ipod-format/internal/database"
	"github.com/nlsukhde/ipod-format/internal/ffmpeg"
	"github.com/nlsukhde/ipod-format/internal/jobs"
	"github.com/nlsukhde/ipod-format/internal/models"
)

var (
	dryRun     bool
	noReplace  bool
	hardDelete bool
	collision  string
	workers    int
	runsDir    string
	noHistory  bool
)

func init() {
	f := rootCmd.Flags()
	f.BoolVar(&dryRun, "dry-run", false, "Show the plan and write a preview manifest without changing files")
	f.BoolVar(&noReplace, "no-replace", false, "Keep source files after conversion")
	f.BoolVar(&hardDelete, "hard-delete", false, "Delete sources permanently instead of moving them to the trash")
	f.StringVar(&collision, "collision", "", "When the target exists: overwrite, skip or version (default from config)")
	f.IntVarP(&workers, "jobs", "j", 0, "Parallel jobs (default from config, else min(4, CPUs))")
	f.StringVar(&runsDir, "runs-dir", "", "Directory for run manifests (default from config)")
	f.BoolVar(&noHistory, "no-history", false, "Do not record the run in the history database")
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if workers < 0 {
		return usageError("--jobs must be >= 0")
	}

	settings := cfg.Settings()
	if noReplace {
		settings = settings.WithReplaceInPlace(false)
	}
	if hardDelete {
		settings = settings.WithDeleteMode(models.DeletePermanent)
	}
	if collision != "" {
		switch p := models.CollisionPolicy(collision); p {
		case models.CollisionOverwrite, models.CollisionSkip, models.CollisionVersion:
			settings = settings.WithCollision(p)
		default:
			return usageError("--collision must be 'overwrite', 'skip' or 'version'")
		}
	}

	dir := cfg.Storage.RunsDir
	if runsDir != "" {
		dir = runsDir
	}
	n := cfg.System.Workers
	if workers > 0 {
		n = workers
	}

	opts := []jobs.Option{jobs.WithObserver(newConsole(os.Stdout, settings))}
	if cfg.Storage.HistoryEnabled && !noHistory {
		if db := openHistory(cfg.Storage.HistoryDB, logger); db != nil {
			defer db.Close()
			opts = append(opts, jobs.WithHistory(db))
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := ffmpeg.New(settings, logger)
	orch := jobs.New(settings, runner, dir, logger, opts...)
	report, err := orch.Run(ctx, args, jobs.Options{DryRun: dryRun, Workers: n})
	if err != nil {
		return err
	}
	if report.Failed() {
		return &exitError{code: exitTrackFailure}
	}
	return nil
}

// openHistory returns nil when the database cannot be opened; the run goes
// ahead without history.
func openHistory(dsn string, logger zerolog.Logger) *database.DB {
	db, err := database.Open(dsn)
	if err != nil {
		logger.Warn().Err(err).Str("db", dsn).Msg("History disabled: failed to open database")
		return nil
	}
	return db
}
