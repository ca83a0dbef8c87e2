package jobs

import "github.com/nlsukhde/ipod-format/internal/models"

// Observer follows a run as it progresses. Calls come from a single
// goroutine.
type Observer interface {
	OnPlanned(plans []models.TrackPlan, dryRun bool, workers int)
	OnTrackDone(res models.RunResult)
	OnRunDone(report *Report)
}

type nopObserver struct{}

func (nopObserver) OnPlanned([]models.TrackPlan, bool, int) {}
func (nopObserver) OnTrackDone(models.RunResult)            {}
func (nopObserver) OnRunDone(*Report)                       {}
