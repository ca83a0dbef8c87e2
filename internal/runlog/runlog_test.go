package runlog

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nlsukhde/ipod-format/internal/models"
)

var t0 = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func result(src string, ok, deleted bool) models.RunResult {
	r := models.RunResult{
		Plan: models.TrackPlan{
			Source:      src,
			SourceCodec: "flac",
			NeedsEncode: true,
			Target:      strings.TrimSuffix(src, ".flac") + ".mp3",
			Art:         models.ArtSource{Kind: models.ArtEmbedded, Detail: "embedded:0:1 (mjpeg 600x600)"},
		},
		Success:       ok,
		Action:        models.ActionEncode,
		State:         "cleaned",
		SourceDeleted: deleted,
		StartedAt:     t0,
		Elapsed:       1500 * time.Millisecond,
		Before:        models.MediaSnapshot{Exists: true, DurationSec: 200},
		After:         models.MediaSnapshot{Exists: true, BitRate: 320000},
	}
	if !ok {
		r.State = "failed"
		r.Error = "encode: ffmpeg failed: exit status 1"
	} else {
		r.FinalPath = r.Plan.Target
	}
	return r
}

func TestMakeRunDirSuffixesTakenNames(t *testing.T) {
	base := filepath.Join(t.TempDir(), "logs")

	first, err := MakeRunDir(base, t0)
	if err != nil {
		t.Fatal(err)
	}
	second, err := MakeRunDir(base, t0)
	if err != nil {
		t.Fatal(err)
	}

	if filepath.Base(first) != "run-20260314-092653" {
		t.Errorf("first = %s", filepath.Base(first))
	}
	if filepath.Base(second) != "run-20260314-092653-2" {
		t.Errorf("second = %s", filepath.Base(second))
	}
}

func TestRecorderExecuteManifest(t *testing.T) {
	dir := t.TempDir()
	settings := models.Settings{Bitrate: models.ProfileCBR320, Collision: models.CollisionVersion}
	rec := NewRecorder("run-1", models.ModeExecute, settings, []string{"/music"}, t0)
	rec.SetPlanned(make([]models.TrackPlan, 3))

	var wg sync.WaitGroup
	for _, r := range []models.RunResult{
		result("/music/a.flac", true, true),
		result("/music/b.flac", false, false),
		result("/music/c.flac", true, false),
	} {
		wg.Add(1)
		go func(r models.RunResult) {
			defer wg.Done()
			rec.Add(r)
		}(r)
	}
	wg.Wait()

	m := rec.Finish(t0.Add(90 * time.Second))
	if m.Summary == nil || *m.Summary != (Summary{Total: 3, OK: 2, Failed: 1, Deleted: 1}) {
		t.Fatalf("summary = %+v", m.Summary)
	}
	if m.ElapsedSec != 90 || m.TracksPlanned != 3 || len(m.Planned) != 0 {
		t.Errorf("elapsed=%v planned=%d rows=%d", m.ElapsedSec, m.TracksPlanned, len(m.Planned))
	}

	path, err := rec.Flush(dir)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := rec.Flush(dir); !errors.Is(err, ErrAlreadyFlushed) {
		t.Errorf("second Flush = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "\n  \"runId\": \"run-1\"") {
		t.Errorf("manifest not two-space indented:\n%s", data)
	}

	loaded, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	if len(loaded.Tracks) != 3 || loaded.Settings.Collision != models.CollisionVersion {
		t.Fatalf("loaded = %+v", loaded)
	}
	for _, tr := range loaded.Tracks {
		switch tr.Source {
		case "/music/b.flac":
			if tr.Result != models.StatusFailed || tr.Error == "" || tr.DestMeta != nil {
				t.Errorf("failed row = %+v", tr)
			}
		default:
			if tr.Result != models.StatusOK || tr.DestMeta == nil || tr.DestMeta.BitRate != 320000 {
				t.Errorf("ok row = %+v", tr)
			}
			if tr.ElapsedSec != 1.5 || tr.ArtKind != "embedded" {
				t.Errorf("row fields = %+v", tr)
			}
		}
	}
}

func TestRecorderDryRunRows(t *testing.T) {
	rec := NewRecorder("run-2", models.ModeDryRun, models.Settings{}, []string{"/music"}, t0)
	rec.SetPlanned([]models.TrackPlan{{
		Source:      "/music/a.m4a",
		SourceCodec: "m4a",
		NeedsEncode: true,
		Target:      "/music/a.mp3",
		Art:         models.ArtSource{Kind: models.ArtFolder, Detail: "folder:cover.jpg", NormalizedPath: "/music/.~a.tmp.cover_500.jpg"},
		Notes:       []string{"will encode to 320 CBR, 44.1 kHz"},
	}})

	m := rec.Finish(t0.Add(time.Second))
	if m.Summary != nil {
		t.Errorf("dry run has summary %+v", m.Summary)
	}
	if len(m.Planned) != 1 {
		t.Fatalf("planned = %+v", m.Planned)
	}
	row := m.Planned[0]
	if row.Action != models.ActionEncode || !row.CoverReady || row.ArtDetail != "folder:cover.jpg" {
		t.Errorf("row = %+v", row)
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), `"tracks"`) {
		t.Errorf("dry run manifest lists executed tracks: %s", data)
	}
}

func TestProbeArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := result("/music/a.flac", true, true)
	r.RawBefore = []byte(`{"format":{"duration":"200.0"}}`)
	r.RawAfter = []byte(`{"format":{"bit_rate":"320000"}}`)

	path, err := SaveProbeArchive(dir, NewProbeArchive("run-3", []models.RunResult{r}))
	if err != nil {
		t.Fatalf("SaveProbeArchive: %v", err)
	}
	if filepath.Base(path) != ArchiveFile {
		t.Errorf("path = %s", path)
	}

	a, err := LoadProbeArchive(dir)
	if err != nil {
		t.Fatalf("LoadProbeArchive: %v", err)
	}
	if a.RunID != "run-3" || len(a.Tracks) != 1 {
		t.Fatalf("archive = %+v", a)
	}
	got := a.Tracks[0]
	if string(got.RawAfter) != string(r.RawAfter) || got.Before.DurationSec != 200 || got.FinalPath != "/music/a.mp3" {
		t.Errorf("entry = %+v", got)
	}
}

func TestLoadProbeArchiveMissing(t *testing.T) {
	if _, err := LoadProbeArchive(t.TempDir()); err == nil {
		t.Fatal("expected error for missing archive")
	}
}
