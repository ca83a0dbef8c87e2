package metrics

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nlsukhde/ipod-format/internal/models"
)

func TestObserveCountsOutcomes(t *testing.T) {
	m := New()
	m.Observe(models.RunResult{
		Success:       true,
		Action:        models.ActionEncode,
		SourceDeleted: true,
		Stages:        []models.StageTiming{{Stage: "audio_produced", DurationMs: 1200}, {Stage: "tagged", DurationMs: 4}},
	})
	m.Observe(models.RunResult{Success: true, Action: models.ActionCopy})
	m.Observe(models.RunResult{Plan: models.TrackPlan{NeedsEncode: true}})

	if got := testutil.ToFloat64(m.tracks.WithLabelValues("ok", "encode")); got != 1 {
		t.Errorf("ok/encode = %v", got)
	}
	if got := testutil.ToFloat64(m.tracks.WithLabelValues("failed", "encode")); got != 1 {
		t.Errorf("failed/encode = %v, action should fall back to the plan", got)
	}
	if got := testutil.ToFloat64(m.deleted); got != 1 {
		t.Errorf("deleted = %v", got)
	}
	if got := testutil.CollectAndCount(m.stageDurations); got != 2 {
		t.Errorf("stage series = %d", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.Observe(models.RunResult{Success: true, Action: models.ActionCopy})
	m.SetRunDuration(3 * time.Second)

	path, err := m.WriteTextfile(t.TempDir())
	if err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`ipodprep_tracks_total{action="copy",outcome="ok"} 1`,
		"ipodprep_run_duration_seconds 3",
		"ipodprep_sources_deleted_total 0",
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("textfile missing %q:\n%s", want, data)
		}
	}
}
