package dynamo

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Runner executes one run. Implementations need not be safe for concurrent
// use; Ensemble builds one Runner per worker.
type Runner interface {
	Run(ctx context.Context, req Request) (*Result, error)
}

// Ensemble executes independent requests concurrently. Every worker owns
// its Runner, so no engine state is shared across runs.
type Ensemble struct {
	New     func() (Runner, error)
	Workers int
}

func NewEnsemble(newRunner func() (Runner, error), workers int) *Ensemble {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Ensemble{New: newRunner, Workers: workers}
}

// Run returns one result per request, in request order. A failed run does
// not stop the others; its error is joined into the returned error and its
// partial result is kept.
func (e *Ensemble) Run(ctx context.Context, reqs []Request) ([]*Result, error) {
	results := make([]*Result, len(reqs))
	errs := make([]error, len(reqs))

	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for i := range reqs {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	workers := e.Workers
	if workers > len(reqs) {
		workers = len(reqs)
	}
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			r, err := e.New()
			if err != nil {
				return err
			}
			for idx := range jobs {
				res, err := r.Run(ctx, reqs[idx])
				results[idx] = res
				if err != nil {
					errs[idx] = fmt.Errorf("run %d: %w", idx, err)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, errors.Join(errs...)
}
