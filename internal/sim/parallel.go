package sim

import (
	"context"
	"sync"
)

// Job is one independent closed-loop run. Build is called on the job's
// own goroutine because controllers and plants carry per-run state.
type Job struct {
	Name  string
	Build func() (sim *Simulator, q0, v0 []float64, cfg Config, err error)
}

// Batch runs jobs concurrently, one goroutine each.
type Batch struct {
	jobs []Job
}

func NewBatch(jobs ...Job) *Batch {
	return &Batch{jobs: jobs}
}

// Run returns the results in job order, or the first error by job order.
func (b *Batch) Run(ctx context.Context) ([]*Result, error) {
	results := make([]*Result, len(b.jobs))
	errs := make([]error, len(b.jobs))

	var wg sync.WaitGroup
	for i, job := range b.jobs {
		wg.Add(1)
		go func(idx int, job Job) {
			defer wg.Done()

			s, q0, v0, cfg, err := job.Build()
			if err != nil {
				errs[idx] = err
				return
			}
			results[idx], errs[idx] = s.Run(ctx, q0, v0, cfg)
		}(i, job)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return results, nil
}
