package train

import (
	"github.com/pkg/errors"

	"github.com/weaviate/pose-descriptors/internal/network"
)

// Config controls a training run.
type Config struct {
	Epochs     int
	Iterations int
	BatchSize  int
	// LogEvery is the step interval for train and validation loss, 0 disables.
	LogEvery int
	// EvalEvery is the step interval for retrieval evaluation, 0 disables.
	EvalEvery int
	// Parallel is the number of goroutines running forward/backward passes.
	Parallel int
	// SamplerWorkers is the number of goroutines prefetching batches.
	SamplerWorkers int
	Seed           int64
	Adam           network.AdamConfig
}

// DefaultConfig mirrors the schedule the network was tuned with: 3 epochs of
// 100 iterations over batches of 128 triples.
func DefaultConfig() Config {
	return Config{
		Epochs:         3,
		Iterations:     100,
		BatchSize:      128,
		LogEvery:       10,
		EvalEvery:      300,
		Parallel:       4,
		SamplerWorkers: 2,
		Seed:           1,
		Adam:           network.DefaultAdamConfig(),
	}
}

// Validate checks the schedule and optimizer settings.
func (c Config) Validate() error {
	if c.Epochs <= 0 {
		return errors.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.Iterations <= 0 {
		return errors.Errorf("iterations must be positive, got %d", c.Iterations)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.LogEvery < 0 || c.EvalEvery < 0 {
		return errors.Errorf("log and eval intervals must not be negative")
	}
	if c.Parallel <= 0 {
		return errors.Errorf("parallel must be positive, got %d", c.Parallel)
	}
	if c.SamplerWorkers <= 0 {
		return errors.Errorf("sampler workers must be positive, got %d", c.SamplerWorkers)
	}
	return c.Adam.Validate()
}

// Steps is the total number of optimizer steps.
func (c Config) Steps() int {
	return c.Epochs * c.Iterations
}
