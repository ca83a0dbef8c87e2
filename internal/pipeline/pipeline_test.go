package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nlsukhde/ipod-format/internal/artwork"
	"github.com/nlsukhde/ipod-format/internal/ffmpeg"
	"github.com/nlsukhde/ipod-format/internal/ffmpeg/ffmpegtest"
	"github.com/nlsukhde/ipod-format/internal/fsops"
	"github.com/nlsukhde/ipod-format/internal/metadata"
	"github.com/nlsukhde/ipod-format/internal/models"
	"github.com/nlsukhde/ipod-format/internal/scanner"
)

func testSettings() models.Settings {
	return models.Settings{
		Bitrate:           models.ProfileCBR320,
		SampleRate:        models.SampleRate44100,
		TargetSampleRate:  44100,
		TagVersion:        3,
		StripFrames:       []string{"TXXX:iTunNORM", "PRIV"},
		ArtTargetPx:       500,
		ArtFormat:         models.ImageJPEG,
		ArtMode:           models.FitCenterCrop,
		ReplaceInPlace:    true,
		DeleteMode:        models.DeletePermanent,
		RequireChecks:     true,
		Collision:         models.CollisionOverwrite,
		MinDurationSec:    10,
		DurationTolerance: 0.5,
		BitrateFloor:      319000,
		VerifyCover:       true,
		VerifyTagVersion:  true,
	}
}

type env struct {
	dir      string
	fake     *ffmpegtest.Fake
	settings models.Settings
}

// newEnv scripts probes: sources come from the table, every produced or
// committed mp3 reports a 200s 320k stream.
func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{dir: t.TempDir(), fake: ffmpegtest.New(), settings: testSettings()}
	e.fake.ProbeFunc = func(path string) (*ffmpeg.ProbeResult, error) {
		if strings.HasSuffix(path, ".tmp") || strings.HasSuffix(path, ".mp3") {
			return ffmpegtest.Audio("mp3", 200, 320000, 44100, 2), nil
		}
		return nil, &models.ProcessError{Tool: "ffprobe", Err: errors.New("unknown file")}
	}
	return e
}

func (e *env) source(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte("source audio"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// folderCover drops a cover.jpg next to the sources so plans resolve art.
func (e *env) folderCover(t *testing.T) {
	t.Helper()
	if err := ffmpegtest.WriteImage(filepath.Join(e.dir, "cover.jpg"), 800, 800); err != nil {
		t.Fatal(err)
	}
}

// plan builds and resolves the plan for src the way a run does.
func (e *env) plan(t *testing.T, src string) models.TrackPlan {
	t.Helper()
	plans, err := scanner.New(e.settings, zerolog.Nop()).BuildPlans([]string{src})
	if err != nil {
		t.Fatal(err)
	}
	return artwork.New(e.fake, e.settings, zerolog.Nop()).Resolve(context.Background(), plans[0])
}

func (e *env) pipeline(mod func(*Deps)) *Pipeline {
	deps := DefaultDeps(e.settings, e.fake, fsops.NewCommitter(zerolog.Nop()), zerolog.Nop())
	if mod != nil {
		mod(&deps)
	}
	return New(e.settings, deps, zerolog.Nop())
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestProcessFlacWithEmbeddedArt(t *testing.T) {
	e := newEnv(t)
	src := e.source(t, "a.flac")
	probe := ffmpegtest.Audio("flac", 200.2, 900000, 96000, 2)
	probe = ffmpegtest.WithPicture(probe, 1, "h264", 640, 360, false)
	probe = ffmpegtest.WithPicture(probe, 2, "mjpeg", 1200, 1000, true)
	ffmpegtest.WithTags(probe, map[string]string{"TITLE": "Song", "ARTIST": "Band", "TRACKNUMBER": "3/12"})
	e.fake.SetProbe(src, probe)

	plan := e.plan(t, src)
	if !plan.NeedsEncode || plan.Art.Kind != models.ArtEmbedded || plan.Art.StreamIndex != 2 {
		t.Fatalf("plan = %+v", plan)
	}

	res := e.pipeline(nil).Process(context.Background(), plan)
	if !res.Success {
		t.Fatalf("Process failed: %s (log %+v)", res.Error, res.Log)
	}
	canonDir := filepath.Dir(plan.Source)
	if res.FinalPath != filepath.Join(canonDir, "a.mp3") || res.Message != "✓ a.mp3" {
		t.Errorf("FinalPath = %q, Message = %q", res.FinalPath, res.Message)
	}
	if !res.SourceDeleted || res.State != string(StateCleaned) || res.Action != models.ActionEncode {
		t.Errorf("result = deleted %v state %s action %s", res.SourceDeleted, res.State, res.Action)
	}
	if res.Before.SampleRate != 96000 || res.After.BitRate != 320000 {
		t.Errorf("snapshots = %+v / %+v", res.Before, res.After)
	}
	if got := strings.Join(listDir(t, e.dir), ","); got != "a.mp3" {
		t.Errorf("dir = %s", got)
	}

	info, err := metadata.Inspect(res.FinalPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Covers) != 1 || info.Covers[0].Width != 500 || info.Covers[0].Format != "jpeg" {
		t.Errorf("covers = %+v", info.Covers)
	}
	if info.Text["TIT2"] != "Song" || info.Text["TRCK"] != "3/12" || info.Version != 3 {
		t.Errorf("tag = %+v", info)
	}

	var stages []string
	for _, s := range res.Stages {
		stages = append(stages, s.Stage)
	}
	if got := strings.Join(stages, ","); got != "audio_produced,tagged,validated,committed,source_deleted,cleaned" {
		t.Errorf("stages = %s", got)
	}
	if len(res.Log) == 0 {
		t.Error("job log empty")
	}
}

func TestProcessKeepsSourceWithoutReplace(t *testing.T) {
	e := newEnv(t)
	e.settings = e.settings.WithReplaceInPlace(false)
	e.folderCover(t)
	src := e.source(t, "a.wav")
	e.fake.SetProbe(src, ffmpegtest.Audio("pcm_s16le", 200, 1411200, 44100, 2))

	res := e.pipeline(nil).Process(context.Background(), e.plan(t, src))
	if !res.Success || res.SourceDeleted {
		t.Fatalf("result = %+v", res)
	}
	if _, err := os.Stat(src); err != nil {
		t.Error("source removed without replace-in-place")
	}
}

func TestProcessCopiesMP3(t *testing.T) {
	e := newEnv(t)
	e.folderCover(t)
	src := e.source(t, "b.mp3")
	plan := e.plan(t, src)
	fake := ffmpegtest.New()
	fake.ProbeFunc = e.fake.ProbeFunc
	e.fake = fake

	res := e.pipeline(nil).Process(context.Background(), plan)
	if !res.Success {
		t.Fatalf("Process: %s", res.Error)
	}
	if res.Action != models.ActionCopy || res.SourceDeleted {
		t.Errorf("result = %+v", res)
	}
	if calls := fake.Calls(); len(calls) != 0 {
		t.Errorf("ffmpeg called for mp3 copy: %v", calls)
	}
	data, _ := os.ReadFile(res.FinalPath)
	if !strings.HasSuffix(string(data), "source audio") {
		t.Error("audio payload not copied verbatim")
	}
}

func TestProcessEncodeFailureLeavesTargetUntouched(t *testing.T) {
	e := newEnv(t)
	src := e.source(t, "c.flac")
	e.fake.SetProbe(src, ffmpegtest.Audio("flac", 200, 900000, 44100, 2))
	target := filepath.Join(e.dir, "c.mp3")
	if err := os.WriteFile(target, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	plan := e.plan(t, src)

	e.fake.RunFunc = func(args []string) error {
		os.WriteFile(ffmpegtest.Output(args), []byte("partial"), 0644)
		return &models.ProcessError{Tool: "ffmpeg", Err: errors.New("exit status 1"), Output: "Invalid data"}
	}
	res := e.pipeline(nil).Process(context.Background(), plan)

	if res.Success || res.State != string(StateFailed) {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Error, "Invalid data") || !strings.HasPrefix(res.Message, "✗ ") {
		t.Errorf("error = %q message = %q", res.Error, res.Message)
	}
	if data, _ := os.ReadFile(target); string(data) != "old" {
		t.Error("existing target modified")
	}
	if got := strings.Join(listDir(t, e.dir), ","); got != "c.flac,c.mp3" {
		t.Errorf("residue left: %s", got)
	}
}

func TestProcessValidationEnforcement(t *testing.T) {
	for _, require := range []bool{true, false} {
		e := newEnv(t)
		e.settings.RequireChecks = require
		src := e.source(t, "d.flac")
		e.fake.SetProbe(src, ffmpegtest.Audio("flac", 240, 900000, 44100, 2))

		res := e.pipeline(nil).Process(context.Background(), e.plan(t, src))
		if res.Success == require {
			t.Fatalf("require=%v: success=%v error=%q", require, res.Success, res.Error)
		}
		if require {
			if !strings.Contains(res.Error, "duration") {
				t.Errorf("error = %q", res.Error)
			}
			if _, err := os.Stat(src); err != nil {
				t.Error("source removed after failed validation")
			}
			continue
		}
		found := false
		for _, n := range res.Plan.Notes {
			if strings.HasPrefix(n, "validation (not enforced)") {
				found = true
			}
		}
		if !found {
			t.Errorf("notes = %v", res.Plan.Notes)
		}
	}
}

type failingRemover struct{}

func (failingRemover) DeleteSource(src, final string, mode models.DeleteMode) (bool, error) {
	return false, errors.New("trash unavailable")
}

func TestProcessDeleteFailureStillSucceeds(t *testing.T) {
	e := newEnv(t)
	e.folderCover(t)
	src := e.source(t, "e.ogg")
	e.fake.SetProbe(src, ffmpegtest.Audio("vorbis", 200, 192000, 44100, 2))

	res := e.pipeline(func(d *Deps) { d.Remover = failingRemover{} }).Process(context.Background(), e.plan(t, src))
	if !res.Success || res.SourceDeleted {
		t.Fatalf("result = %+v", res)
	}
	last := res.Plan.Notes[len(res.Plan.Notes)-1]
	if !strings.Contains(last, "source not deleted") {
		t.Errorf("notes = %v", res.Plan.Notes)
	}
}

func TestProcessSkipCollision(t *testing.T) {
	e := newEnv(t)
	e.settings = e.settings.WithCollision(models.CollisionSkip).WithReplaceInPlace(false)
	e.folderCover(t)
	src := e.source(t, "f.flac")
	e.fake.SetProbe(src, ffmpegtest.Audio("flac", 200, 900000, 44100, 2))
	target := filepath.Join(e.dir, "f.mp3")
	if err := os.WriteFile(target, []byte("existing"), 0644); err != nil {
		t.Fatal(err)
	}

	res := e.pipeline(nil).Process(context.Background(), e.plan(t, src))
	if !res.Success || filepath.Base(res.FinalPath) != "f.mp3" {
		t.Fatalf("result = %+v", res)
	}
	if data, _ := os.ReadFile(target); string(data) != "existing" {
		t.Error("skip overwrote target")
	}
	if got := strings.Join(listDir(t, e.dir), ","); got != "cover.jpg,f.flac,f.mp3" {
		t.Errorf("temp not cleaned: %s", got)
	}
}

func TestProcessWithoutArtFailsAndKeepsSource(t *testing.T) {
	e := newEnv(t)
	src := e.source(t, "g.flac")
	e.fake.SetProbe(src, ffmpegtest.Audio("flac", 200, 900000, 44100, 2))

	plan := e.plan(t, src)
	if plan.Art.NormalizedPath != "" {
		t.Fatalf("art = %+v, want none", plan.Art)
	}

	res := e.pipeline(nil).Process(context.Background(), plan)
	if res.Success || res.SourceDeleted || res.State != string(StateFailed) {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Error, "cover") {
		t.Errorf("error = %q", res.Error)
	}
	if got := strings.Join(listDir(t, e.dir), ","); got != "g.flac" {
		t.Errorf("dir = %s", got)
	}
}
