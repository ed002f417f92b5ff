package sampler

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/weaviate/pose-descriptors/internal/dataset"
)

// Result carries a batch or the error that stopped a worker.
type Result struct {
	Batch *Batch
	Err   error
}

// Stream samples batches on workers goroutines and delivers them on the
// returned channel until ctx is cancelled. Each worker owns a Sampler seeded
// with opts.Seed+worker and its own channel; batch s is always taken from
// worker s%workers, so the sequence depends only on opts.Seed. A worker that
// hits an error sends it once and exits, which ends the stream.
func Stream(ctx context.Context, ds *dataset.Dataset, opts Options, workers, buffer int) (<-chan Result, error) {
	if workers < 1 {
		workers = 1
	}

	samplers := make([]*Sampler, workers)
	for i := range samplers {
		workerOpts := opts
		workerOpts.Seed = opts.Seed + int64(i)
		s, err := New(ds, workerOpts)
		if err != nil {
			return nil, err
		}
		samplers[i] = s
	}

	lanes := make([]chan Result, workers)
	for i := range lanes {
		lanes[i] = make(chan Result, buffer)
	}
	out := make(chan Result)

	// workers blocked on a full lane exit when ctx is cancelled
	for i, s := range samplers {
		go func(worker int, s *Sampler, lane chan<- Result) {
			defer close(lane)
			for {
				b, err := s.Next()
				if err != nil {
					log.WithError(err).WithField("worker", worker).Error("sampling failed")
				}

				select {
				case lane <- Result{Batch: b, Err: err}:
				case <-ctx.Done():
					return
				}

				if err != nil {
					return
				}
			}
		}(i, s, lanes[i])
	}

	go func() {
		defer close(out)
		for step := 0; ; step++ {
			var r Result
			select {
			case res, ok := <-lanes[step%workers]:
				if !ok {
					return
				}
				r = res
			case <-ctx.Done():
				return
			}

			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}
