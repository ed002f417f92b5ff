// Package sampler draws anchor/puller/pusher triples from a dataset.
//
// A batch of N triples is laid out as 3N images where positions 3k, 3k+1
// and 3k+2 hold the anchor, puller and pusher of triple k. The loss recovers
// the roles with stride-3 slicing, so the layout is part of the contract.
package sampler

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/weaviate/pose-descriptors/internal/dataset"
	"github.com/weaviate/pose-descriptors/internal/pose"
)

// MinPullerAngle excludes templates that are effectively the anchor's own
// pose from puller selection.
const MinPullerAngle = 0.1

var (
	// ErrEmptyPool is returned when a pool needed for sampling has no usable entry.
	ErrEmptyPool = errors.New("empty sampling pool")

	// ErrNoPullerCandidate is returned when no template of the anchor's class
	// is more than MinPullerAngle degrees away from the anchor.
	ErrNoPullerCandidate = errors.Wrap(ErrEmptyPool, "no puller candidate above minimum angle")
)

// Origin identifies where a sampled image came from.
type Origin struct {
	Class int
	// Template is true for template pool entries, false for train pool entries.
	Template bool
	Index    int
}

// Triple records the provenance of one sampled triple.
type Triple struct {
	Anchor Origin
	Puller Origin
	Pusher Origin
	// SameClassPusher is true when the pusher was drawn from the anchor's class.
	SameClassPusher bool
	PullerAngle     float64
}

// Batch is one sampled batch. Images has 3*len(Triples) entries in
// anchor, puller, pusher order per triple.
type Batch struct {
	Images  []dataset.Image
	Triples []Triple
}

// Options configure a Sampler.
type Options struct {
	BatchSize int
	Seed      int64
}

// Sampler produces batches on demand. It only reads the dataset; the random
// source is owned by the sampler, so a Sampler must not be shared between
// goroutines. Use one Sampler per goroutine instead.
type Sampler struct {
	ds        *dataset.Dataset
	batchSize int
	rng       *rand.Rand
}

// New returns a Sampler over ds.
func New(ds *dataset.Dataset, opts Options) (*Sampler, error) {
	if ds == nil {
		return nil, errors.New("nil dataset")
	}
	if opts.BatchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if ds.NumClasses() == 0 {
		return nil, errors.Wrap(ErrEmptyPool, "dataset has no classes")
	}
	for i, class := range ds.Classes {
		if ds.Train[i].Len() == 0 {
			return nil, errors.Wrapf(ErrEmptyPool, "train pool of class %q", class)
		}
		if ds.Templates[i].Len() == 0 {
			return nil, errors.Wrapf(ErrEmptyPool, "template pool of class %q", class)
		}
	}
	if ds.NumClasses() == 1 && ds.Templates[0].Len() < 2 {
		return nil, errors.Wrap(ErrEmptyPool, "a single class needs at least two templates to draw pushers")
	}

	return &Sampler{
		ds:        ds,
		batchSize: opts.BatchSize,
		rng:       rand.New(rand.NewSource(opts.Seed)),
	}, nil
}

// Next draws a fresh batch. It never runs out; callers stop asking when
// they have enough.
func (s *Sampler) Next() (*Batch, error) {
	b := &Batch{
		Images:  make([]dataset.Image, 0, 3*s.batchSize),
		Triples: make([]Triple, 0, s.batchSize),
	}

	for i := 0; i < s.batchSize; i++ {
		t, err := s.sampleTriple()
		if err != nil {
			return nil, err
		}

		b.Triples = append(b.Triples, t)
		b.Images = append(b.Images,
			s.ds.Train[t.Anchor.Class].Images[t.Anchor.Index],
			s.ds.Templates[t.Puller.Class].Images[t.Puller.Index],
			s.ds.Templates[t.Pusher.Class].Images[t.Pusher.Index],
		)
	}

	return b, nil
}

func (s *Sampler) sampleTriple() (Triple, error) {
	class := s.rng.Intn(s.ds.NumClasses())
	index := s.rng.Intn(s.ds.Train[class].Len())
	anchorPose := s.ds.Train[class].Poses[index]

	pullerIdx, angle, err := NearestTemplate(s.ds.Templates[class].Poses, anchorPose)
	if err != nil {
		return Triple{}, errors.Wrapf(err, "class %q anchor %d", s.ds.Classes[class], index)
	}

	t := Triple{
		Anchor:      Origin{Class: class, Index: index},
		Puller:      Origin{Class: class, Template: true, Index: pullerIdx},
		PullerAngle: angle,
	}

	sameClass := s.rng.Intn(2) == 0
	if s.ds.Templates[class].Len() < 2 {
		sameClass = false
	}
	if s.ds.NumClasses() < 2 {
		sameClass = true
	}

	if sameClass {
		t.SameClassPusher = true
		t.Pusher = Origin{Class: class, Template: true,
			Index: intnExcluding(s.rng, s.ds.Templates[class].Len(), pullerIdx)}
	} else {
		other := intnExcluding(s.rng, s.ds.NumClasses(), class)
		t.Pusher = Origin{Class: other, Template: true,
			Index: s.rng.Intn(s.ds.Templates[other].Len())}
	}

	return t, nil
}

// NearestTemplate returns the index of the template whose angle to q is the
// smallest among those strictly above MinPullerAngle. Ties keep the first
// template.
func NearestTemplate(templates []pose.Quaternion, q pose.Quaternion) (int, float64, error) {
	best := -1
	bestAngle := math.Inf(1)

	for i, t := range templates {
		angle := pose.AngleDegrees(q, t)
		if angle > MinPullerAngle && angle < bestAngle {
			best = i
			bestAngle = angle
		}
	}

	if best < 0 {
		return 0, 0, ErrNoPullerCandidate
	}
	return best, bestAngle, nil
}

// intnExcluding returns a uniform draw from [0, n) \ {exclude}. n must be at
// least 2 and exclude must lie in [0, n).
func intnExcluding(rng *rand.Rand, n, exclude int) int {
	v := rng.Intn(n - 1)
	if v >= exclude {
		v++
	}
	return v
}
