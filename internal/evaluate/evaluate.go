// Package evaluate scores descriptors by 1-nearest-neighbor retrieval of
// template views: class accuracy plus the pose error of correct matches.
package evaluate

import (
	"math"

	"github.com/pkg/errors"

	"github.com/weaviate/pose-descriptors/internal/pose"
)

// Thresholds are the cumulative angle buckets, in degrees.
var Thresholds = []float64{10, 20, 40, 180}

// Set is a class-major embedding set. Entry i belongs to class i/PerClass.
type Set struct {
	Embeddings [][]float64
	Poses      []pose.Quaternion
	PerClass   int
}

// Validate checks that the set is aligned and evenly split into classes.
func (s Set) Validate() error {
	if len(s.Embeddings) != len(s.Poses) {
		return errors.Errorf("%d embeddings but %d poses", len(s.Embeddings), len(s.Poses))
	}
	if s.PerClass <= 0 {
		return errors.Errorf("per class count must be positive, got %d", s.PerClass)
	}
	if len(s.Embeddings)%s.PerClass != 0 {
		return errors.Errorf("%d embeddings do not split into classes of %d", len(s.Embeddings), s.PerClass)
	}
	return nil
}

// Classes is the number of classes in the set.
func (s Set) Classes() int {
	if s.PerClass <= 0 {
		return 0
	}
	return len(s.Embeddings) / s.PerClass
}

// ClassOf returns the class of flattened index i.
func (s Set) ClassOf(i int) int {
	return i / s.PerClass
}

// Result holds the evaluation of one test set against one template set.
type Result struct {
	Accuracy   float64   `json:"accuracy"`
	Thresholds []float64 `json:"thresholds"`
	// Fractions[i] is the share of all test samples that were classified
	// correctly with a pose error of at most Thresholds[i].
	Fractions []float64 `json:"fractions"`

	TrueClasses      []int `json:"trueClasses"`
	PredictedClasses []int `json:"predictedClasses"`
	NearestIndices   []int `json:"nearestIndices"`
	// Angles is the pose error per test sample, NaN for misclassified ones
	// so it lines up with the other per sample slices.
	Angles  []float64 `json:"-"`
	Total   int       `json:"total"`
	Correct int       `json:"correct"`
}

// Run matches every test embedding to its nearest template.
func Run(templates, test Set) (*Result, error) {
	if err := templates.Validate(); err != nil {
		return nil, errors.Wrap(err, "templates")
	}
	if err := test.Validate(); err != nil {
		return nil, errors.Wrap(err, "test")
	}
	if len(templates.Embeddings) == 0 {
		return nil, errors.New("no templates to match against")
	}
	if len(test.Embeddings) == 0 {
		return nil, errors.New("no test samples")
	}

	dims := len(templates.Embeddings[0])
	for name, set := range map[string]Set{"template": templates, "test": test} {
		for i, e := range set.Embeddings {
			if len(e) != dims {
				return nil, errors.Errorf("%s embedding %d has %d dimensions, expected %d", name, i, len(e), dims)
			}
		}
	}

	return match(NewIndex(templates.Embeddings), templates, test), nil
}

func match(index *Index, templates, test Set) *Result {
	n := len(test.Embeddings)
	res := &Result{
		Thresholds:       append([]float64(nil), Thresholds...),
		Fractions:        make([]float64, len(Thresholds)),
		TrueClasses:      make([]int, n),
		PredictedClasses: make([]int, n),
		NearestIndices:   make([]int, n),
		Angles:           make([]float64, n),
		Total:            n,
	}

	counts := make([]int, len(Thresholds))
	for i, e := range test.Embeddings {
		nearest, _ := index.Nearest(e)
		trueClass := test.ClassOf(i)
		predicted := templates.ClassOf(nearest)

		res.TrueClasses[i] = trueClass
		res.PredictedClasses[i] = predicted
		res.NearestIndices[i] = nearest

		if trueClass != predicted {
			res.Angles[i] = math.NaN()
			continue
		}

		res.Correct++
		angle := pose.AngleDegrees(test.Poses[i], templates.Poses[nearest])
		res.Angles[i] = angle
		for t, limit := range Thresholds {
			if angle <= limit {
				counts[t]++
			}
		}
	}

	res.Accuracy = float64(res.Correct) / float64(n)
	for t, c := range counts {
		res.Fractions[t] = float64(c) / float64(n)
	}
	return res
}

// CorrectAngles returns the pose errors of correctly classified samples.
func (r *Result) CorrectAngles() []float64 {
	out := make([]float64, 0, r.Correct)
	for i, a := range r.Angles {
		if r.TrueClasses[i] == r.PredictedClasses[i] {
			out = append(out, a)
		}
	}
	return out
}
