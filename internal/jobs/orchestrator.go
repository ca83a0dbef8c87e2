package jobs

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nlsukhde/ipod-format/internal/artwork"
	"github.com/nlsukhde/ipod-format/internal/ffmpeg"
	"github.com/nlsukhde/ipod-format/internal/fsops"
	"github.com/nlsukhde/ipod-format/internal/metrics"
	"github.com/nlsukhde/ipod-format/internal/models"
	"github.com/nlsukhde/ipod-format/internal/pipeline"
	"github.com/nlsukhde/ipod-format/internal/runlog"
	"github.com/nlsukhde/ipod-format/internal/scanner"
)

// Options select how a run executes.
type Options struct {
	DryRun  bool
	Workers int // 0 means DefaultWorkers
}

// Report is the outcome of a run.
type Report struct {
	RunID        string
	Mode         string
	RunDir       string
	ManifestPath string
	Workers      int
	Summary      runlog.Summary
	Plans        []models.TrackPlan
	Results      []models.RunResult
	Elapsed      time.Duration
}

// Failed reports whether any track failed.
func (r *Report) Failed() bool {
	return r.Summary.Failed > 0
}

type Orchestrator struct {
	settings models.Settings
	runner   ffmpeg.Runner
	runsDir  string
	logger   zerolog.Logger
	history  HistoryStore
	observer Observer
	deps     func(committer *fsops.Committer, logger zerolog.Logger) pipeline.Deps
	now      func() time.Time
}

type Option func(*Orchestrator)

// WithHistory records runs in store.
func WithHistory(store HistoryStore) Option {
	return func(o *Orchestrator) { o.history = store }
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithDeps replaces the pipeline collaborators.
func WithDeps(fn func(committer *fsops.Committer, logger zerolog.Logger) pipeline.Deps) Option {
	return func(o *Orchestrator) { o.deps = fn }
}

func New(settings models.Settings, runner ffmpeg.Runner, runsDir string, logger zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		settings: settings,
		runner:   runner,
		runsDir:  runsDir,
		logger:   logger,
		observer: nopObserver{},
		now:      time.Now,
	}
	o.deps = func(committer *fsops.Committer, logger zerolog.Logger) pipeline.Deps {
		return pipeline.DefaultDeps(o.settings, o.runner, committer, logger)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run plans inputs, resolves their artwork and then either records the
// preview (dry run) or processes every plan on the worker pool. The
// returned error is a PlanError or a run directory failure; track failures
// are reported in the Report.
func (o *Orchestrator) Run(ctx context.Context, inputs []string, opts Options) (*Report, error) {
	started := o.now()
	runID := uuid.New().String()
	logger := o.logger.With().Str("run_id", runID).Logger()

	mode := models.ModeExecute
	if opts.DryRun {
		mode = models.ModeDryRun
	}

	plans, err := scanner.New(o.settings, logger).BuildPlans(inputs)
	if err != nil {
		return nil, err
	}
	logger.Info().Int("tracks", len(plans)).Str("mode", mode).Msg("Planned run")

	resolver := artwork.New(o.runner, o.settings, logger)
	plans = resolver.ResolveAll(ctx, plans)

	runDir, err := runlog.MakeRunDir(o.runsDir, started)
	if err != nil {
		for _, p := range plans {
			resolver.Cleanup(p)
		}
		return nil, err
	}

	pool := NewPool(opts.Workers, logger)
	report := &Report{
		RunID:   runID,
		Mode:    mode,
		RunDir:  runDir,
		Workers: pool.Workers(),
		Plans:   plans,
	}
	o.observer.OnPlanned(plans, opts.DryRun, pool.Workers())

	rec := runlog.NewRecorder(runID, mode, o.settings, inputs, started)
	rec.SetPlanned(plans)
	runMetrics := metrics.New()

	// History writes must land even when the run is interrupted.
	hctx := context.WithoutCancel(ctx)
	run := &models.Run{
		ID:           runID,
		Mode:         mode,
		RunDir:       runDir,
		InputsJSON:   toJSON(inputs),
		SettingsJSON: toJSON(o.settings),
		Status:       models.StatusRunning,
		StartedAt:    started,
		Total:        len(plans),
	}
	o.recordHistory(logger, "create run", func() error { return o.history.CreateRun(hctx, run) })

	if opts.DryRun {
		for _, p := range plans {
			resolver.Cleanup(p)
		}
	} else {
		pipe := pipeline.New(o.settings, o.deps(fsops.NewCommitter(logger), logger), logger)
		cancelled := func(plan models.TrackPlan) models.RunResult {
			resolver.Cleanup(plan)
			return cancelledResult(plan)
		}
		for res := range pool.Run(ctx, plans, pipe.Process, cancelled) {
			report.Results = append(report.Results, res)
			rec.Add(res)
			runMetrics.Observe(res)
			o.recordHistory(logger, "record track", func() error {
				return o.history.CreateTrackResult(hctx, trackRow(runID, res))
			})
			o.observer.OnTrackDone(res)
		}
	}

	finished := o.now()
	report.Elapsed = finished.Sub(started)
	rec.Finish(finished)
	report.Summary = rec.Summary()
	runMetrics.SetRunDuration(report.Elapsed)

	if o.settings.WriteManifest {
		o.writeArtifacts(logger, report, rec, runMetrics)
	}

	run.Status = models.StatusOK
	if report.Failed() {
		run.Status = models.StatusFailed
	}
	run.FinishedAt = sql.NullTime{Time: finished, Valid: true}
	run.ElapsedSec = sql.NullFloat64{Float64: report.Elapsed.Seconds(), Valid: true}
	run.OK, run.Failed, run.Deleted = report.Summary.OK, report.Summary.Failed, report.Summary.Deleted
	if report.ManifestPath != "" {
		run.ManifestPath = sql.NullString{String: report.ManifestPath, Valid: true}
	}
	o.recordHistory(logger, "finish run", func() error { return o.history.FinishRun(hctx, run) })

	logger.Info().
		Int("ok", report.Summary.OK).
		Int("failed", report.Summary.Failed).
		Int("deleted", report.Summary.Deleted).
		Dur("elapsed", report.Elapsed).
		Msg("Run finished")
	o.observer.OnRunDone(report)
	return report, nil
}

// writeArtifacts persists the manifest and, for executed runs, the probe
// archive and metrics. Failures are logged and do not change the outcome.
func (o *Orchestrator) writeArtifacts(logger zerolog.Logger, report *Report, rec *runlog.Recorder, runMetrics *metrics.RunMetrics) {
	path, err := rec.Flush(report.RunDir)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to write manifest")
	} else {
		report.ManifestPath = path
	}

	if report.Mode == models.ModeDryRun {
		return
	}
	if _, err := runlog.SaveProbeArchive(report.RunDir, runlog.NewProbeArchive(report.RunID, report.Results)); err != nil {
		logger.Error().Err(err).Msg("Failed to write probe archive")
	}
	if _, err := runMetrics.WriteTextfile(report.RunDir); err != nil {
		logger.Error().Err(err).Msg("Failed to write metrics")
	}
}

func (o *Orchestrator) recordHistory(logger zerolog.Logger, what string, fn func() error) {
	if o.history == nil {
		return
	}
	if err := fn(); err != nil {
		logger.Warn().Err(err).Msg("History: failed to " + what)
	}
}

func cancelledResult(plan models.TrackPlan) models.RunResult {
	return models.RunResult{
		Plan:      plan,
		Action:    plan.Action(),
		State:     string(pipeline.StateFailed),
		Error:     "cancelled",
		Message:   "✗ cancelled",
		StartedAt: time.Now(),
	}
}
