package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nlsukhde/ipod-format/internal/ffmpeg"
	"github.com/nlsukhde/ipod-format/internal/ffmpeg/ffmpegtest"
	"github.com/nlsukhde/ipod-format/internal/metrics"
	"github.com/nlsukhde/ipod-format/internal/models"
	"github.com/nlsukhde/ipod-format/internal/runlog"
)

func testSettings() models.Settings {
	return models.Settings{
		Bitrate:           models.ProfileCBR320,
		SampleRate:        models.SampleRate44100,
		TargetSampleRate:  44100,
		TagVersion:        3,
		ArtTargetPx:       300,
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
		WriteManifest:     true,
	}
}

// newFake answers flac sources with a 200s stream and every produced file
// with a matching 320k mp3.
func newFake() *ffmpegtest.Fake {
	fake := ffmpegtest.New()
	fake.ProbeFunc = func(path string) (*ffmpeg.ProbeResult, error) {
		switch {
		case strings.HasSuffix(path, ".flac"):
			return ffmpegtest.Audio("flac", 200, 900000, 44100, 2), nil
		case strings.HasSuffix(path, ".tmp"), strings.HasSuffix(path, ".mp3"):
			return ffmpegtest.Audio("mp3", 200, 320000, 44100, 2), nil
		}
		return nil, &models.ProcessError{Tool: "ffprobe", Err: errors.New("not audio")}
	}
	return fake
}

func writeCover(t *testing.T, dir string) {
	t.Helper()
	if err := ffmpegtest.WriteImage(filepath.Join(dir, "cover.jpg"), 800, 800); err != nil {
		t.Fatal(err)
	}
}

func writeSources(t *testing.T, dir string, n int) []string {
	t.Helper()
	var out []string
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("t%02d.flac", i))
		if err := os.WriteFile(path, []byte("flac audio"), 0644); err != nil {
			t.Fatal(err)
		}
		out = append(out, path)
	}
	return out
}

type fakeHistory struct {
	mu       sync.Mutex
	created  []*models.Run
	finished []*models.Run
	tracks   []*models.TrackResult
}

func (h *fakeHistory) CreateRun(ctx context.Context, run *models.Run) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := *run
	h.created = append(h.created, &cp)
	return nil
}

func (h *fakeHistory) FinishRun(ctx context.Context, run *models.Run) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := *run
	h.finished = append(h.finished, &cp)
	return nil
}

func (h *fakeHistory) CreateTrackResult(ctx context.Context, tr *models.TrackResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tracks = append(h.tracks, tr)
	return nil
}

type recordingObserver struct {
	planned int
	workers int
	done    []models.RunResult
	report  *Report
}

func (r *recordingObserver) OnPlanned(plans []models.TrackPlan, dryRun bool, workers int) {
	r.planned = len(plans)
	r.workers = workers
}
func (r *recordingObserver) OnTrackDone(res models.RunResult) { r.done = append(r.done, res) }
func (r *recordingObserver) OnRunDone(report *Report)         { r.report = report }

func TestRunBatchWithFailures(t *testing.T) {
	music := t.TempDir()
	runs := t.TempDir()
	writeSources(t, music, 10)
	writeCover(t, music)

	fake := newFake()
	fake.RunFunc = func(args []string) error {
		switch filepath.Base(ffmpegtest.Input(args)) {
		case "t03.flac", "t07.flac":
			return &models.ProcessError{Tool: "ffmpeg", Err: errors.New("exit status 1"), Output: "Invalid data"}
		}
		return ffmpegtest.WriteOutput(args)
	}
	history := &fakeHistory{}
	obs := &recordingObserver{}

	o := New(testSettings(), fake, runs, zerolog.Nop(), WithHistory(history), WithObserver(obs))
	report, err := o.Run(context.Background(), []string{music}, Options{Workers: 4})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Summary != (runlog.Summary{Total: 10, OK: 8, Failed: 2, Deleted: 8}) {
		t.Fatalf("summary = %+v", report.Summary)
	}
	if !report.Failed() || report.Workers != 4 {
		t.Errorf("Failed() = %v, workers = %d", report.Failed(), report.Workers)
	}

	var mp3s, flacs []string
	entries, _ := os.ReadDir(music)
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".mp3":
			mp3s = append(mp3s, e.Name())
		case ".flac":
			flacs = append(flacs, e.Name())
		default:
			if e.Name() != "cover.jpg" {
				t.Errorf("residue left behind: %s", e.Name())
			}
		}
	}
	if len(mp3s) != 8 {
		t.Errorf("mp3s = %v", mp3s)
	}
	if strings.Join(flacs, ",") != "t03.flac,t07.flac" {
		t.Errorf("remaining sources = %v", flacs)
	}

	m, err := runlog.LoadManifest(report.RunDir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if m.Mode != models.ModeExecute || len(m.Tracks) != 10 || m.Summary.Failed != 2 {
		t.Errorf("manifest = mode %s tracks %d summary %+v", m.Mode, len(m.Tracks), m.Summary)
	}
	for _, tr := range m.Tracks {
		if tr.Result == models.StatusFailed && !strings.Contains(tr.Error, "Invalid data") {
			t.Errorf("failed row error = %q", tr.Error)
		}
	}
	for _, name := range []string{runlog.ArchiveFile, metrics.TextfileName} {
		if _, err := os.Stat(filepath.Join(report.RunDir, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}

	if len(history.created) != 1 || len(history.finished) != 1 || len(history.tracks) != 10 {
		t.Fatalf("history = %d/%d/%d", len(history.created), len(history.finished), len(history.tracks))
	}
	if fin := history.finished[0]; fin.Status != models.StatusFailed || fin.OK != 8 || !fin.ManifestPath.Valid {
		t.Errorf("finished run = %+v", fin)
	}
	if obs.planned != 10 || len(obs.done) != 10 || obs.report != report {
		t.Errorf("observer = planned %d done %d", obs.planned, len(obs.done))
	}
}

func TestRunDryRunChangesNothing(t *testing.T) {
	music := t.TempDir()
	runs := t.TempDir()
	writeSources(t, music, 2)
	writeCover(t, music)

	fake := newFake()
	report, err := New(testSettings(), fake, runs, zerolog.Nop()).Run(context.Background(), []string{music}, Options{DryRun: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Mode != models.ModeDryRun || len(report.Results) != 0 || report.Failed() {
		t.Errorf("report = %+v", report)
	}

	entries, _ := os.ReadDir(music)
	if len(entries) != 3 {
		t.Errorf("music dir changed: %d entries", len(entries))
	}
	m, err := runlog.LoadManifest(report.RunDir)
	if err != nil {
		t.Fatal(err)
	}
	if m.TracksPlanned != 2 || len(m.Planned) != 2 || !m.Planned[0].CoverReady || m.Planned[0].ArtKind != "folder" {
		t.Errorf("manifest = %+v", m)
	}
	if _, err := os.Stat(filepath.Join(report.RunDir, runlog.ArchiveFile)); !os.IsNotExist(err) {
		t.Error("dry run wrote a probe archive")
	}
}

func TestRunTrackWithoutArtKeepsSource(t *testing.T) {
	music := t.TempDir()
	srcs := writeSources(t, music, 1)

	report, err := New(testSettings(), newFake(), t.TempDir(), zerolog.Nop()).Run(context.Background(), []string{music}, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Summary != (runlog.Summary{Total: 1, OK: 0, Failed: 1, Deleted: 0}) {
		t.Fatalf("summary = %+v", report.Summary)
	}
	if !strings.Contains(report.Results[0].Error, "cover") {
		t.Errorf("error = %q", report.Results[0].Error)
	}
	if _, err := os.Stat(srcs[0]); err != nil {
		t.Errorf("source removed: %v", err)
	}
	entries, _ := os.ReadDir(music)
	if len(entries) != 1 {
		t.Errorf("music dir has %d entries, want only the source", len(entries))
	}
}

func TestRunCancelledBeforeStart(t *testing.T) {
	music := t.TempDir()
	writeSources(t, music, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := newFake()
	report, err := New(testSettings(), fake, t.TempDir(), zerolog.Nop()).Run(ctx, []string{music}, Options{Workers: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Summary.Failed != 3 {
		t.Fatalf("summary = %+v", report.Summary)
	}
	for _, r := range report.Results {
		if r.Error != "cancelled" {
			t.Errorf("result error = %q", r.Error)
		}
	}
	if calls := fake.Calls(); len(calls) != 0 {
		t.Errorf("ffmpeg ran after cancellation: %v", calls)
	}
}

func TestRunNoInputsIsPlanError(t *testing.T) {
	_, err := New(testSettings(), newFake(), t.TempDir(), zerolog.Nop()).Run(context.Background(), []string{t.TempDir()}, Options{})
	if !models.IsPlanError(err) {
		t.Fatalf("err = %v, want PlanError", err)
	}
}

func TestRunWithoutManifest(t *testing.T) {
	music := t.TempDir()
	writeSources(t, music, 1)
	settings := testSettings()
	settings.WriteManifest = false

	report, err := New(settings, newFake(), t.TempDir(), zerolog.Nop()).Run(context.Background(), []string{music}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.ManifestPath != "" {
		t.Errorf("ManifestPath = %q", report.ManifestPath)
	}
	entries, _ := os.ReadDir(report.RunDir)
	if len(entries) != 0 {
		t.Errorf("run dir has %d files", len(entries))
	}
}
