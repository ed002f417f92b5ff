// Package train drives descriptor training: it pulls triplet batches from the
// sampler, runs forward and backward passes in parallel, applies Adam and
// periodically measures losses and retrieval accuracy.
package train

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/weaviate/pose-descriptors/internal/dataset"
	"github.com/weaviate/pose-descriptors/internal/evaluate"
	"github.com/weaviate/pose-descriptors/internal/loss"
	"github.com/weaviate/pose-descriptors/internal/network"
	"github.com/weaviate/pose-descriptors/internal/sampler"
)

// Observer is notified of every recorded loss and evaluation, e.g. to export
// them as metrics while training runs.
type Observer interface {
	ObserveLoss(split string, p LossPoint)
	ObserveEval(p EvalPoint, res *evaluate.Result)
}

// Trainer owns the network and optimizer for one run.
type Trainer struct {
	cfg       Config
	net       *network.Network
	opt       *network.Adam
	ds        *dataset.Dataset
	observers []Observer
}

// New prepares a run of cfg over ds, updating net in place.
func New(cfg Config, net *network.Network, ds *dataset.Dataset, observers ...Observer) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if net.Architecture().InputSize() != ds.Shape.Size() {
		return nil, errors.Errorf("network expects %d input values, dataset images have %d",
			net.Architecture().InputSize(), ds.Shape.Size())
	}

	opt, err := network.NewAdam(net, cfg.Adam)
	if err != nil {
		return nil, err
	}

	return &Trainer{cfg: cfg, net: net, opt: opt, ds: ds, observers: observers}, nil
}

// Run trains for cfg.Steps() steps or until ctx is cancelled. The returned
// history is valid in both cases; the error reports why training stopped
// early.
func (t *Trainer) Run(ctx context.Context) (*History, error) {
	h := &History{
		Classes:    t.ds.Classes,
		Thresholds: evaluate.Thresholds,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := sampler.Options{BatchSize: t.cfg.BatchSize, Seed: t.cfg.Seed}
	batches, err := sampler.Stream(ctx, t.ds, opts, t.cfg.SamplerWorkers, t.cfg.SamplerWorkers)
	if err != nil {
		return nil, errors.Wrap(err, "start sampler")
	}

	// validation batches come from a separate stream so they never repeat
	// a training draw
	validation, err := sampler.New(t.ds, sampler.Options{
		BatchSize: t.cfg.BatchSize,
		Seed:      t.cfg.Seed + int64(t.cfg.SamplerWorkers),
	})
	if err != nil {
		return nil, errors.Wrap(err, "validation sampler")
	}

	canEval := t.ds.TestPerClass() > 0
	if !canEval {
		log.Warn("dataset has no test images, skipping evaluation")
	}

	grads := t.net.NewGradients()
	start := time.Now()

	for epoch := 0; epoch < t.cfg.Epochs; epoch++ {
		for iter := 0; iter < t.cfg.Iterations; iter++ {
			step := epoch*t.cfg.Iterations + iter + 1

			if err := ctx.Err(); err != nil {
				return h, err
			}

			var batch *sampler.Batch
			select {
			case <-ctx.Done():
				return h, ctx.Err()
			case r, ok := <-batches:
				if !ok {
					return h, errors.New("sampler stream closed")
				}
				if r.Err != nil {
					return h, errors.Wrap(r.Err, "sample batch")
				}
				batch = r.Batch
			}

			grads.Zero()
			if err := t.backprop(ctx, batch, grads); err != nil {
				return h, errors.Wrapf(err, "step %d", step)
			}
			t.opt.Step(t.net, grads)
			h.Steps = step

			if t.cfg.LogEvery > 0 && step%t.cfg.LogEvery == 0 {
				if err := t.recordLosses(ctx, h, step, batch, validation); err != nil {
					return h, err
				}
			}

			if canEval && t.cfg.EvalEvery > 0 && step%t.cfg.EvalEvery == 0 {
				if _, err := t.recordEval(ctx, h, step); err != nil {
					return h, err
				}
			}
		}

		log.WithFields(log.Fields{
			"epoch": epoch + 1,
			"steps": h.Steps,
			"took":  time.Since(start).String(),
		}).Info("epoch finished")
	}

	if n := len(h.Evaluations); canEval && (n == 0 || h.Evaluations[n-1].Step != h.Steps) {
		if _, err := t.recordEval(ctx, h, h.Steps); err != nil {
			return h, err
		}
	}

	return h, nil
}

func (t *Trainer) recordLosses(ctx context.Context, h *History, step int,
	batch *sampler.Batch, validation *sampler.Sampler,
) error {
	trainLoss, err := t.batchLoss(ctx, batch)
	if err != nil {
		return errors.Wrap(err, "train loss")
	}

	valBatch, err := validation.Next()
	if err != nil {
		return errors.Wrap(err, "sample validation batch")
	}
	valLoss, err := t.batchLoss(ctx, valBatch)
	if err != nil {
		return errors.Wrap(err, "validation loss")
	}

	tp, vp := lossPoint(step, trainLoss), lossPoint(step, valLoss)
	h.Train = append(h.Train, tp)
	h.Validation = append(h.Validation, vp)
	for _, o := range t.observers {
		o.ObserveLoss("train", tp)
		o.ObserveLoss("validation", vp)
	}

	log.WithFields(log.Fields{
		"step":       step,
		"train":      trainLoss.Total,
		"validation": valLoss.Total,
		"pair":       trainLoss.Pair,
		"triplet":    trainLoss.Triplet,
	}).Info("loss")
	return nil
}

func (t *Trainer) recordEval(ctx context.Context, h *History, step int) (*evaluate.Result, error) {
	res, err := Evaluate(ctx, t.net, t.ds, t.cfg.Parallel)
	if err != nil {
		return nil, errors.Wrapf(err, "evaluate at step %d", step)
	}

	confusion, err := evaluate.ConfusionMatrix(res.TrueClasses, res.PredictedClasses, t.ds.Classes)
	if err != nil {
		return nil, err
	}

	p := EvalPoint{Step: step, Accuracy: res.Accuracy, Fractions: res.Fractions}
	h.Evaluations = append(h.Evaluations, p)
	h.Final = res
	h.Confusion = confusion
	for _, o := range t.observers {
		o.ObserveEval(p, res)
	}

	log.WithFields(log.Fields{
		"step":      step,
		"accuracy":  res.Accuracy,
		"fractions": res.Fractions,
	}).Info("evaluation")
	return res, nil
}

func lossPoint(step int, r loss.Result) LossPoint {
	return LossPoint{Step: step, Pair: r.Pair, Triplet: r.Triplet, Total: r.Total}
}

// backprop runs forward and backward for every triple of batch and
// accumulates the parameter gradients into grads. Triples are independent
// under the loss, so each worker handles whole triples with its own gradient
// buffer.
func (t *Trainer) backprop(ctx context.Context, batch *sampler.Batch, grads *network.Gradients) error {
	_, err := t.parallelTriples(ctx, batch, grads)
	return err
}

// batchLoss is the forward only loss of batch.
func (t *Trainer) batchLoss(ctx context.Context, batch *sampler.Batch) (loss.Result, error) {
	return t.parallelTriples(ctx, batch, nil)
}

// parallelTriples gives triple k to worker k%workers and reduces the worker
// partials in worker order, so the float sums do not depend on scheduling.
func (t *Trainer) parallelTriples(ctx context.Context, batch *sampler.Batch, grads *network.Gradients) (loss.Result, error) {
	triples := len(batch.Images) / 3
	workers := t.cfg.Parallel
	if workers > triples {
		workers = triples
	}

	type partial struct {
		res   loss.Result
		grads *network.Gradients
		err   error
	}
	partials := make([]partial, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			local := &partials[w]
			if grads != nil {
				local.grads = t.net.NewGradients()
			}
			for k := w; k < triples; k += workers {
				if err := ctx.Err(); err != nil {
					local.err = err
					return
				}
				r, err := t.triple(batch.Images[3*k:3*k+3], local.grads)
				if err != nil {
					local.err = errors.Wrapf(err, "triple %d", k)
					return
				}
				local.res.Add(r)
			}
		}(w)
	}
	wg.Wait()

	var total loss.Result
	for _, p := range partials {
		if p.err != nil {
			return total, p.err
		}
		total.Add(p.res)
		if grads != nil {
			grads.Add(p.grads)
		}
	}
	return total, nil
}

// triple runs one anchor, puller, pusher group through the network. When g
// is not nil the parameter gradients of the triple's loss are added to it.
func (t *Trainer) triple(images []dataset.Image, g *network.Gradients) (loss.Result, error) {
	acts := make([]*network.Activations, len(images))
	embeddings := make([][]float64, len(images))
	for i, img := range images {
		a, err := t.net.Forward(img)
		if err != nil {
			return loss.Result{}, err
		}
		acts[i] = a
		embeddings[i] = a.Output
	}

	if g == nil {
		return loss.Compute(embeddings)
	}

	res, dEmb, err := loss.Gradient(embeddings)
	if err != nil {
		return loss.Result{}, err
	}
	for i, a := range acts {
		t.net.Backward(a, dEmb[i], g)
	}
	return res, nil
}

// Evaluate embeds the template and test pools of ds with net and scores
// test retrieval.
func Evaluate(ctx context.Context, net *network.Network, ds *dataset.Dataset, workers int) (*evaluate.Result, error) {
	templates, test, err := EmbedSets(ctx, net, ds, workers)
	if err != nil {
		return nil, err
	}
	return evaluate.Run(templates, test)
}

// EmbedSets embeds the flattened template and test pools.
func EmbedSets(ctx context.Context, net *network.Network, ds *dataset.Dataset, workers int) (evaluate.Set, evaluate.Set, error) {
	embed := func(name string, flat dataset.Flat) (evaluate.Set, error) {
		emb, err := net.EmbedBatch(ctx, Float32s(flat.Images), workers)
		if err != nil {
			return evaluate.Set{}, errors.Wrapf(err, "embed %s images", name)
		}
		return evaluate.Set{Embeddings: emb, Poses: flat.Poses, PerClass: flat.PerClass}, nil
	}

	templates, err := embed("template", ds.FlattenTemplates())
	if err != nil {
		return evaluate.Set{}, evaluate.Set{}, err
	}
	test, err := embed("test", ds.FlattenTest())
	if err != nil {
		return evaluate.Set{}, evaluate.Set{}, err
	}
	return templates, test, nil
}

// Float32s converts dataset images to plain float slices without copying
// pixel data.
func Float32s(images []dataset.Image) [][]float32 {
	out := make([][]float32, len(images))
	for i, img := range images {
		out[i] = img
	}
	return out
}
