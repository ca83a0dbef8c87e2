package jobs

import (
	"context"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nlsukhde/ipod-format/internal/models"
)

// Task processes one plan. It reports failures in the result.
type Task func(ctx context.Context, plan models.TrackPlan) models.RunResult

// Pool runs tasks on a fixed number of goroutines.
type Pool struct {
	workers int
	logger  zerolog.Logger
}

// DefaultWorkers is min(4, NumCPU).
func DefaultWorkers() int {
	return min(4, runtime.NumCPU())
}

func NewPool(workers int, logger zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers()
	}
	return &Pool{workers: workers, logger: logger}
}

func (p *Pool) Workers() int {
	return p.workers
}

// Run feeds plans to the workers and returns the results in completion
// order. Once ctx is done no further plan is started; each unstarted plan
// is reported through cancelled instead. The channel is closed after every
// plan has a result, so the caller must drain it.
func (p *Pool) Run(ctx context.Context, plans []models.TrackPlan, task Task, cancelled func(models.TrackPlan) models.RunResult) <-chan models.RunResult {
	jobs := make(chan models.TrackPlan)
	results := make(chan models.RunResult)

	var wg sync.WaitGroup
	for i := 0; i < min(p.workers, len(plans)); i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			logger := p.logger.With().Int("worker", id).Logger()
			logger.Debug().Msg("Worker started")

			for plan := range jobs {
				logger.Debug().Str("source", plan.Source).Msg("Processing track")
				results <- task(ctx, plan)
			}
			logger.Debug().Msg("Worker stopping")
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(jobs)

		for i, plan := range plans {
			if ctx.Err() == nil {
				select {
				case jobs <- plan:
					continue
				case <-ctx.Done():
				}
			}
			p.logger.Warn().Int("remaining", len(plans)-i).Msg("Run cancelled, skipping remaining tracks")
			for _, rest := range plans[i:] {
				results <- cancelled(rest)
			}
			return
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}
