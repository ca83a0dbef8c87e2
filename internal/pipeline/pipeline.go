// Package pipeline runs one track plan through produce, tag, validate,
// commit, delete and cleanup.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/nlsukhde/ipod-format/internal/analyzer"
	"github.com/nlsukhde/ipod-format/internal/ffmpeg"
	"github.com/nlsukhde/ipod-format/internal/fsops"
	"github.com/nlsukhde/ipod-format/internal/metadata"
	"github.com/nlsukhde/ipod-format/internal/models"
	"github.com/nlsukhde/ipod-format/internal/transcode"
	"github.com/nlsukhde/ipod-format/internal/validate"
)

// State is a pipeline stage reached by a track.
type State string

const (
	StatePlanned       State = "planned"
	StateAudioProduced State = "audio_produced"
	StateTagged        State = "tagged"
	StateValidated     State = "validated"
	StateCommitted     State = "committed"
	StateSourceDeleted State = "source_deleted"
	StateSourceKept    State = "source_kept"
	StateCleaned       State = "cleaned"
	StateFailed        State = "failed"
)

type MediaReader interface {
	ReadTags(ctx context.Context, path string) (models.TagMap, error)
	Snapshot(ctx context.Context, path string) (models.MediaSnapshot, []byte)
}

type AudioProducer interface {
	Produce(ctx context.Context, plan models.TrackPlan) error
}

type TagWriter interface {
	WriteTags(path string, tags models.TagMap, coverPath string) error
}

type Checker interface {
	Check(ctx context.Context, plan models.TrackPlan, path string) error
}

type Committer interface {
	Commit(temp, target string, policy models.CollisionPolicy) (string, bool, error)
}

type SourceRemover interface {
	DeleteSource(src, final string, mode models.DeleteMode) (bool, error)
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Media     MediaReader
	Producer  AudioProducer
	Tags      TagWriter
	Validator Checker
	Committer Committer
	Remover   SourceRemover
}

// DefaultDeps wires the ffmpeg-backed collaborators. committer must be
// shared by every pipeline that can write the same targets.
func DefaultDeps(settings models.Settings, runner ffmpeg.Runner, committer *fsops.Committer, logger zerolog.Logger) Deps {
	return Deps{
		Media:     analyzer.New(runner, logger),
		Producer:  transcode.New(runner, settings, logger),
		Tags:      metadata.New(settings, logger),
		Validator: validate.New(runner, settings, logger),
		Committer: committer,
		Remover:   fsops.NewRemover(logger),
	}
}

// Pipeline is safe for concurrent use when its Deps are.
type Pipeline struct {
	settings models.Settings
	deps     Deps
	logger   zerolog.Logger
}

func New(settings models.Settings, deps Deps, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		settings: settings,
		deps:     deps,
		logger:   logger,
	}
}

// run is the mutable state of one Process call.
type run struct {
	plan   models.TrackPlan
	res    models.RunResult
	jl     *JobLog
	placed bool
}

func (r *run) stage(state State, fn func() error) error {
	start := time.Now()
	err := fn()
	r.res.Stages = append(r.res.Stages, models.StageTiming{
		Stage:      string(state),
		DurationMs: time.Since(start).Milliseconds(),
	})
	if err != nil {
		return err
	}
	r.res.State = string(state)
	r.jl.Info(string(state), "Stage complete")
	return nil
}

func (r *run) note(msg string) {
	r.plan = r.plan.WithNote(msg)
}

// Process executes plan and never panics or returns an error: failures are
// reported in the result.
func (p *Pipeline) Process(ctx context.Context, plan models.TrackPlan) models.RunResult {
	logger := p.logger.With().Str("source", plan.Source).Str("target", plan.Target).Logger()
	r := &run{
		plan: plan,
		jl:   NewJobLog(logger),
		res: models.RunResult{
			Action:    plan.Action(),
			State:     string(StatePlanned),
			StartedAt: time.Now(),
		},
	}
	r.jl.Info(string(StatePlanned), fmt.Sprintf("Processing (%s, art: %s)", plan.Action(), plan.Art.Label()))

	r.res.Before, r.res.RawBefore = p.deps.Media.Snapshot(ctx, plan.Source)

	if err := p.produceAndCommit(ctx, r); err != nil {
		return p.fail(r, err)
	}

	p.replaceSource(r)
	p.cleanup(r)
	r.res.State = string(StateCleaned)

	r.res.After, r.res.RawAfter = p.deps.Media.Snapshot(ctx, r.res.FinalPath)
	r.res.Success = true
	r.res.Message = "✓ " + filepath.Base(r.res.FinalPath)
	return p.finish(r)
}

func (p *Pipeline) produceAndCommit(ctx context.Context, r *run) error {
	plan := r.plan

	if err := r.stage(StateAudioProduced, func() error {
		return p.deps.Producer.Produce(ctx, plan)
	}); err != nil {
		return err
	}

	if err := r.stage(StateTagged, func() error {
		tags, err := p.deps.Media.ReadTags(ctx, plan.Source)
		if err != nil {
			return err
		}
		return p.deps.Tags.WriteTags(plan.TempPath, tags, plan.Art.NormalizedPath)
	}); err != nil {
		return err
	}

	if err := r.stage(StateValidated, func() error {
		err := p.deps.Validator.Check(ctx, plan, plan.TempPath)
		if err == nil || p.settings.RequireChecks {
			return err
		}
		for _, e := range splitJoined(err) {
			r.note("validation (not enforced): " + e.Error())
			r.jl.Warn(string(StateValidated), "Validation failed, continuing", e.Error())
		}
		return nil
	}); err != nil {
		return err
	}

	if ctx.Err() != nil {
		return fmt.Errorf("cancelled before commit: %w", ctx.Err())
	}

	return r.stage(StateCommitted, func() error {
		final, placed, err := p.deps.Committer.Commit(plan.TempPath, plan.Target, plan.Collision)
		if err != nil {
			return err
		}
		r.res.FinalPath = final
		r.placed = placed
		if !placed {
			r.note("target exists, kept existing file")
		}
		return nil
	})
}

// replaceSource deletes the source when replacing in place. A failure here
// is recorded but does not fail the track.
func (p *Pipeline) replaceSource(r *run) {
	plan := r.plan
	if !p.settings.ReplaceInPlace || plan.SourceCodec == models.TargetCodec {
		r.res.State = string(StateSourceKept)
		return
	}

	var deleted bool
	err := r.stage(StateSourceDeleted, func() error {
		var err error
		deleted, err = p.deps.Remover.DeleteSource(plan.Source, r.res.FinalPath, plan.DeleteMode)
		return err
	})
	if err != nil {
		r.note("source not deleted: " + err.Error())
		r.jl.Warn(string(StateSourceDeleted), "Source delete failed", err.Error())
		r.res.State = string(StateSourceKept)
		return
	}
	r.res.SourceDeleted = deleted
	if !deleted {
		r.res.State = string(StateSourceKept)
	}
}

func (p *Pipeline) cleanup(r *run) {
	start := time.Now()
	paths := r.plan.Art.TempFiles()
	if !r.placed {
		paths = append(paths, r.plan.TempPath)
	}
	for _, path := range paths {
		if err := fsops.RemoveIfExists(path); err != nil {
			r.jl.Warn(string(StateCleaned), "Cleanup failed", err.Error())
		}
	}
	r.res.Stages = append(r.res.Stages, models.StageTiming{
		Stage:      string(StateCleaned),
		DurationMs: time.Since(start).Milliseconds(),
	})
	r.jl.Debug(string(StateCleaned), "Temp files removed", fmt.Sprint(len(paths)))
}

func (p *Pipeline) fail(r *run, err error) models.RunResult {
	r.jl.Error(string(StateFailed), "Track failed after "+r.res.State, err.Error())
	r.placed = false
	p.cleanup(r)

	r.res.State = string(StateFailed)
	r.res.Success = false
	r.res.Error = err.Error()
	r.res.Message = "✗ " + err.Error()
	return p.finish(r)
}

func (p *Pipeline) finish(r *run) models.RunResult {
	r.res.Plan = r.plan
	r.res.Elapsed = time.Since(r.res.StartedAt)
	if r.res.Success {
		r.jl.Info(r.res.State, "Track done")
	}
	r.res.Log = r.jl.Entries()
	return r.res
}

// splitJoined unpacks an errors.Join result.
func splitJoined(err error) []error {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		return joined.Unwrap()
	}
	return []error{err}
}
