package runlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nlsukhde/ipod-format/internal/fsops"
	"github.com/nlsukhde/ipod-format/internal/models"
)

const (
	ManifestVersion = 1
	ManifestFile    = "manifest.json"
)

// ErrAlreadyFlushed is returned by a second Flush.
var ErrAlreadyFlushed = errors.New("manifest already flushed")

// Manifest is the durable record of one run.
type Manifest struct {
	Version       int             `json:"version"`
	RunID         string          `json:"runId"`
	Mode          string          `json:"mode"`
	StartedAt     string          `json:"startedAt"` // RFC3339
	FinishedAt    string          `json:"finishedAt,omitempty"`
	ElapsedSec    float64         `json:"elapsedSec"`
	Settings      models.Settings `json:"settings"`
	Inputs        []string        `json:"inputs"`
	TracksPlanned int             `json:"tracksPlanned"`
	Planned       []PlannedTrack  `json:"planned,omitempty"`
	Summary       *Summary        `json:"summary,omitempty"`
	Tracks        []TrackRecord   `json:"tracks,omitempty"`
}

// Summary counts the outcomes of an executed run.
type Summary struct {
	Total   int `json:"total"`
	OK      int `json:"ok"`
	Failed  int `json:"failed"`
	Deleted int `json:"deleted"`
}

// PlannedTrack is a dry-run preview row.
type PlannedTrack struct {
	Source     string   `json:"source"`
	Codec      string   `json:"codec"`
	Action     string   `json:"action"`
	ArtKind    string   `json:"artKind"`
	ArtDetail  string   `json:"artDetail,omitempty"`
	CoverReady bool     `json:"coverReady"`
	Target     string   `json:"target"`
	Notes      []string `json:"notes,omitempty"`
}

// TrackRecord is the manifest row of one executed track.
type TrackRecord struct {
	Source     string                `json:"source"`
	Codec      string                `json:"codec"`
	Target     string                `json:"target"`
	FinalPath  string                `json:"finalPath,omitempty"`
	Action     string                `json:"action"`
	ArtKind    string                `json:"artKind"`
	ArtDetail  string                `json:"artDetail,omitempty"`
	StartedAt  string                `json:"startedAt"`
	ElapsedSec float64               `json:"elapsedSec"`
	Result     string                `json:"result"`
	Error      string                `json:"error,omitempty"`
	State      string                `json:"state"`
	Deleted    bool                  `json:"deletedSource"`
	SourceMeta models.MediaSnapshot  `json:"sourceMeta"`
	DestMeta   *models.MediaSnapshot `json:"destMeta,omitempty"`
	Stages     []models.StageTiming  `json:"stages,omitempty"`
	Notes      []string              `json:"notes,omitempty"`
	Log        []models.LogEntry     `json:"log,omitempty"`
}

// PlannedRow summarizes a resolved plan for previews.
func PlannedRow(p models.TrackPlan) PlannedTrack {
	return PlannedTrack{
		Source:     p.Source,
		Codec:      p.SourceCodec,
		Action:     p.Action(),
		ArtKind:    string(p.Art.Kind),
		ArtDetail:  p.Art.Detail,
		CoverReady: p.Art.NormalizedPath != "",
		Target:     p.Target,
		Notes:      p.Notes,
	}
}

// Record converts a pipeline result into its manifest row.
func Record(res models.RunResult) TrackRecord {
	rec := TrackRecord{
		Source:     res.Plan.Source,
		Codec:      res.Plan.SourceCodec,
		Target:     res.Plan.Target,
		FinalPath:  res.FinalPath,
		Action:     res.Action,
		ArtKind:    string(res.Plan.Art.Kind),
		ArtDetail:  res.Plan.Art.Detail,
		StartedAt:  res.StartedAt.UTC().Format(time.RFC3339Nano),
		ElapsedSec: roundMs(res.Elapsed),
		Result:     models.StatusOK,
		Error:      res.Error,
		State:      res.State,
		Deleted:    res.SourceDeleted,
		SourceMeta: res.Before,
		Stages:     res.Stages,
		Notes:      res.Plan.Notes,
		Log:        res.Log,
	}
	if !res.Success {
		rec.Result = models.StatusFailed
	}
	if res.Success {
		after := res.After
		rec.DestMeta = &after
	}
	return rec
}

// Recorder accumulates a run's manifest. Add is safe for concurrent use;
// Flush writes the manifest once.
type Recorder struct {
	mu       sync.Mutex
	manifest Manifest
	started  time.Time
	flushed  bool
}

func NewRecorder(runID, mode string, settings models.Settings, inputs []string, started time.Time) *Recorder {
	return &Recorder{
		started: started,
		manifest: Manifest{
			Version:   ManifestVersion,
			RunID:     runID,
			Mode:      mode,
			StartedAt: started.UTC().Format(time.RFC3339),
			Settings:  settings,
			Inputs:    append([]string(nil), inputs...),
		},
	}
}

// SetPlanned records the number of planned tracks and, for dry runs, their
// preview rows.
func (r *Recorder) SetPlanned(plans []models.TrackPlan) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.manifest.TracksPlanned = len(plans)
	if r.manifest.Mode != models.ModeDryRun {
		return
	}
	r.manifest.Planned = make([]PlannedTrack, 0, len(plans))
	for _, p := range plans {
		r.manifest.Planned = append(r.manifest.Planned, PlannedRow(p))
	}
}

func (r *Recorder) Add(res models.RunResult) {
	rec := Record(res)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.manifest.Tracks = append(r.manifest.Tracks, rec)
}

// Summary counts the tracks added so far.
func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaryLocked()
}

func (r *Recorder) summaryLocked() Summary {
	s := Summary{Total: len(r.manifest.Tracks)}
	for _, t := range r.manifest.Tracks {
		if t.Result == models.StatusOK {
			s.OK++
		} else {
			s.Failed++
		}
		if t.Deleted {
			s.Deleted++
		}
	}
	return s
}

// Finish stamps the end time and summary and returns the final manifest.
func (r *Recorder) Finish(now time.Time) Manifest {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.manifest.FinishedAt = now.UTC().Format(time.RFC3339)
	r.manifest.ElapsedSec = roundMs(now.Sub(r.started))
	if r.manifest.Mode == models.ModeExecute {
		s := r.summaryLocked()
		r.manifest.Summary = &s
	}
	return r.manifest
}

// Flush writes the manifest to dir/manifest.json. Only the first call writes.
func (r *Recorder) Flush(dir string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.flushed {
		return "", ErrAlreadyFlushed
	}
	data, err := json.MarshalIndent(r.manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}

	path := filepath.Join(dir, ManifestFile)
	if err := fsops.WriteFileAtomic(path, data, 0644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	r.flushed = true
	return path, nil
}

// LoadManifest reads dir/manifest.json.
func LoadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &m, nil
}

// MakeRunDir creates base/run-YYYYMMDD-HHMMSS, suffixing -2, -3... when the
// name is taken.
func MakeRunDir(base string, now time.Time) (string, error) {
	if err := os.MkdirAll(base, 0755); err != nil {
		return "", fmt.Errorf("create runs dir: %w", err)
	}

	name := now.Format("run-20060102-150405")
	dir := filepath.Join(base, name)
	for n := 2; ; n++ {
		err := os.Mkdir(dir, 0755)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("create run dir: %w", err)
		}
		dir = filepath.Join(base, fmt.Sprintf("%s-%d", name, n))
	}
}

func roundMs(d time.Duration) float64 {
	return float64(d.Milliseconds()) / 1000
}
