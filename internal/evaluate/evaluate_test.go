package evaluate

import (
	"bytes"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaviate/pose-descriptors/internal/pose"
)

func rotZ(degrees float64) pose.Quaternion {
	half := degrees * math.Pi / 360
	return pose.Quaternion{math.Cos(half), 0, 0, math.Sin(half)}
}

func line(xs ...float64) [][]float64 {
	out := make([][]float64, len(xs))
	for i, x := range xs {
		out[i] = []float64{x, 0}
	}
	return out
}

func toySets() (Set, Set) {
	templates := Set{
		Embeddings: line(0, 1, 2, 10, 11, 12),
		Poses:      []pose.Quaternion{rotZ(0), rotZ(30), rotZ(60), rotZ(0), rotZ(90), rotZ(180)},
		PerClass:   3,
	}
	test := Set{
		Embeddings: line(0.9, 10.2, 11.8, 12.4),
		Poses:      []pose.Quaternion{rotZ(35), rotZ(0), rotZ(150), rotZ(100)},
		PerClass:   2,
	}
	return templates, test
}

func TestRunToyDataset(t *testing.T) {
	templates, test := toySets()

	res, err := Run(templates, test)
	require.Nil(t, err)

	assert.Equal(t, []int{1, 3, 5, 5}, res.NearestIndices)
	assert.Equal(t, []int{0, 0, 1, 1}, res.TrueClasses)
	assert.Equal(t, []int{0, 1, 1, 1}, res.PredictedClasses)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 3, res.Correct)
	assert.InDelta(t, 0.75, res.Accuracy, 1e-12)

	assert.InDelta(t, 5, res.Angles[0], 0.2)
	assert.True(t, math.IsNaN(res.Angles[1]))
	assert.InDelta(t, 30, res.Angles[2], 0.2)
	assert.InDelta(t, 80, res.Angles[3], 0.2)
	assert.Len(t, res.CorrectAngles(), 3)

	assert.Equal(t, []float64{10, 20, 40, 180}, res.Thresholds)
	assert.InDeltaSlice(t, []float64{0.25, 0.25, 0.5, 0.75}, res.Fractions, 1e-12)
}

func TestRunRandomProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	randomSet := func(classes, perClass int) Set {
		s := Set{PerClass: perClass}
		for i := 0; i < classes*perClass; i++ {
			s.Embeddings = append(s.Embeddings, []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()})
			s.Poses = append(s.Poses, rotZ(rng.Float64()*360))
		}
		return s
	}

	for trial := 0; trial < 20; trial++ {
		res, err := Run(randomSet(4, 7), randomSet(4, 5))
		require.Nil(t, err)

		assert.GreaterOrEqual(t, res.Accuracy, 0.0)
		assert.LessOrEqual(t, res.Accuracy, 1.0)
		assert.Equal(t, res.Accuracy, res.Fractions[3])
		for i := 1; i < len(res.Fractions); i++ {
			assert.LessOrEqual(t, res.Fractions[i-1], res.Fractions[i])
		}
	}
}

func TestRunValidation(t *testing.T) {
	templates, test := toySets()

	bad := templates
	bad.PerClass = 4
	_, err := Run(bad, test)
	assert.NotNil(t, err)

	bad = test
	bad.Poses = bad.Poses[:3]
	_, err = Run(templates, bad)
	assert.NotNil(t, err)

	bad = test
	bad.Embeddings = [][]float64{{1}, {2}, {3}, {4}}
	_, err = Run(templates, bad)
	assert.NotNil(t, err)

	_, err = Run(Set{PerClass: 1}, test)
	assert.NotNil(t, err)
}

func TestIndexMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	embeddings := make([][]float64, 200)
	for i := range embeddings {
		embeddings[i] = []float64{rng.Float64(), rng.Float64(), rng.Float64(), rng.Float64()}
	}
	index := NewIndex(embeddings)
	assert.Equal(t, 200, index.Len())

	for q := 0; q < 50; q++ {
		query := []float64{rng.Float64(), rng.Float64(), rng.Float64(), rng.Float64()}
		got, dist := index.Nearest(query)
		want := KNearest(embeddings, [][]float64{query}, 1)[0][0]
		assert.Equal(t, want.Index, got)
		assert.InDelta(t, want.Distance, dist, 1e-12)
	}
}

func TestIndexTiesResolveToLowestIndex(t *testing.T) {
	embeddings := [][]float64{{5, 5}, {1, 0}, {0, 1}, {-1, 0}, {1, 0}}
	index := NewIndex(embeddings)

	got, dist := index.Nearest([]float64{0, 0})
	assert.Equal(t, 1, got)
	assert.InDelta(t, 1, dist, 1e-12)

	got, _ = index.Nearest([]float64{1, 0})
	assert.Equal(t, 1, got)
}

func TestIndexEmpty(t *testing.T) {
	got, _ := NewIndex(nil).Nearest([]float64{1})
	assert.Equal(t, -1, got)
}

func TestKNearest(t *testing.T) {
	embeddings := line(0, 3, 1, 1, 7)
	got := KNearest(embeddings, line(1.2, 6), 3)

	require.Len(t, got, 2)
	assert.Equal(t, []int{2, 3, 0}, indices(got[0]))
	assert.Equal(t, []int{4, 1, 2}, indices(got[1]))

	all := KNearest(embeddings, line(0), 10)
	assert.Len(t, all[0], 5)
}

func indices(ns []Neighbor) []int {
	out := make([]int, len(ns))
	for i, n := range ns {
		out[i] = n.Index
	}
	return out
}

func TestConfusionMatrix(t *testing.T) {
	c, err := ConfusionMatrix([]int{0, 0, 0, 1, 1, 2}, []int{0, 0, 1, 1, 1, 0}, []string{"ape", "cat", "duck"})
	require.Nil(t, err)

	assert.Equal(t, [][]int{{2, 1, 0}, {0, 2, 0}, {1, 0, 0}}, c.Counts)

	norm := c.Normalized()
	assert.InDeltaSlice(t, []float64{200.0 / 3, 100.0 / 3, 0}, norm[0], 1e-9)
	assert.InDeltaSlice(t, []float64{0, 100, 0}, norm[1], 1e-9)
	assert.InDeltaSlice(t, []float64{100, 0, 0}, norm[2], 1e-9)

	var buf bytes.Buffer
	require.Nil(t, c.WriteTextTo(&buf))
	assert.Contains(t, buf.String(), "duck")
	assert.Contains(t, buf.String(), "66.67")

	_, err = ConfusionMatrix([]int{0}, []int{3}, []string{"ape"})
	assert.NotNil(t, err)
	_, err = ConfusionMatrix([]int{0}, nil, []string{"ape"})
	assert.NotNil(t, err)
}

func TestResultOutput(t *testing.T) {
	templates, test := toySets()
	res, err := Run(templates, test)
	require.Nil(t, err)

	var text bytes.Buffer
	_, err = res.WriteTextTo(&text)
	require.Nil(t, err)
	assert.Contains(t, text.String(), "Accuracy: 0.750000")

	var js bytes.Buffer
	_, err = res.WriteJSONTo(&js)
	require.Nil(t, err)
	assert.Contains(t, js.String(), `"accuracy": 0.75`)

	var hist bytes.Buffer
	require.Nil(t, res.Histogram(&hist))
	assert.Contains(t, hist.String(), " 180 | ")
	assert.Contains(t, hist.String(), "75.0%")
}
