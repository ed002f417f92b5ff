package cmd

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaviate/pose-descriptors/internal/dataset"
	"github.com/weaviate/pose-descriptors/internal/evaluate"
	"github.com/weaviate/pose-descriptors/internal/network"
	"github.com/weaviate/pose-descriptors/internal/pose"
	"github.com/weaviate/pose-descriptors/internal/templateindex"
)

func rotZ(degrees float64) pose.Quaternion {
	half := degrees * math.Pi / 360
	return pose.Quaternion{math.Cos(half), 0, 0, math.Sin(half)}
}

func flatImage(shape dataset.ImageShape, v float32) dataset.Image {
	img := make(dataset.Image, shape.Size())
	for i := range img {
		img[i] = v
	}
	return img
}

func TestInspectDataset(t *testing.T) {
	shape := dataset.ImageShape{Height: 4, Width: 4, Channels: 1}
	classes := []string{"ape", "duck"}

	src := dataset.NewMemSource()
	for _, class := range classes {
		for i := 0; i < 3; i++ {
			src.Add(dataset.Coarse, class, fmt.Sprintf("%d.png", i), flatImage(shape, 0), rotZ(float64(i)*60))
			src.Add(dataset.Fine, class, fmt.Sprintf("%d.png", i), flatImage(shape, 0), rotZ(float64(i)*60+15))
		}
		// sits on template 0, so its puller is template 1 at 60 degrees
		src.Add(dataset.Real, class, "real0.png", flatImage(shape, 0), rotZ(0))
		src.Add(dataset.Real, class, "real1.png", flatImage(shape, 0), rotZ(200))
	}

	ds, err := dataset.Build(src, classes, dataset.SplitList{"real0"}, shape)
	require.Nil(t, err)

	stats := inspectDataset(ds)
	require.Len(t, stats, 2)

	for i, s := range stats {
		assert.Equal(t, classes[i], s.Class)
		assert.Equal(t, 3, s.Templates)
		assert.Equal(t, 4, s.Train)
		assert.Equal(t, 1, s.Test)
		assert.Equal(t, 0, s.Missing)
		// 15, 15, 15 and 60
		assert.InDelta(t, 26.25, s.Mean, 0.3)
		assert.InDelta(t, 15, s.Median, 0.3)
		assert.InDelta(t, 60, s.Max, 0.3)
	}

	var out bytes.Buffer
	require.Nil(t, writeClassStats(&out, stats))
	assert.Contains(t, out.String(), "templates")
	assert.Contains(t, out.String(), "duck")
}

func TestClassLabels(t *testing.T) {
	assert.Equal(t, []string{"ape", "duck"}, classLabels([]string{"ape", "duck"}, 2))
	assert.Equal(t, []string{"class0", "class1", "class2"}, classLabels([]string{"ape"}, 3))
}

func tinyNetwork(t *testing.T) *network.Network {
	t.Helper()
	net, err := network.New(network.Architecture{
		Height: 12, Width: 12, Channels: 3,
		Conv1Filters: 3, Conv1Kernel: 3,
		Conv2Filters: 3, Conv2Kernel: 2,
		Hidden:     8,
		Descriptor: 4,
	}, 7)
	require.Nil(t, err)
	return net
}

func writePNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 12, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 12; x++ {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.Nil(t, err)
	require.Nil(t, png.Encode(f, img))
	require.Nil(t, f.Close())
}

func TestPredictLocal(t *testing.T) {
	net := tinyNetwork(t)
	shape := dataset.ImageShape{Height: 12, Width: 12, Channels: 3}

	path := filepath.Join(t.TempDir(), "query.png")
	writePNG(t, path, color.RGBA{R: 200, G: 40, B: 90, A: 255})

	img, err := dataset.LoadImageFile(path, shape)
	require.Nil(t, err)
	vec, err := net.Embed(img)
	require.Nil(t, err)

	far := make([]float64, len(vec))
	for i := range far {
		far[i] = vec[i] + 10
	}

	search := newLocalSearch([]templateindex.Template{
		{Class: 0, ClassName: "ape", Index: 0, Image: "a.png", Pose: rotZ(0), Embedding: far},
		{Class: 1, ClassName: "duck", Index: 3, Image: "d.png", Pose: rotZ(90), Embedding: vec},
	})

	predictions, err := predict(context.Background(), net, search, []string{path}, 1)
	require.Nil(t, err)
	require.Len(t, predictions, 1)
	assert.Equal(t, "query.png", predictions[0].Image)
	require.Len(t, predictions[0].Matches, 1)

	best := predictions[0].Matches[0]
	assert.Equal(t, "duck", best.ClassName)
	assert.Equal(t, 3, best.Index)
	assert.InDelta(t, 0, best.Distance, 1e-9)
	require.NotNil(t, best.Pose)
	assert.Equal(t, rotZ(90), *best.Pose)

	predictions, err = predict(context.Background(), net, search, []string{path}, 5)
	require.Nil(t, err)
	require.Len(t, predictions[0].Matches, 2)
	assert.Equal(t, "ape", predictions[0].Matches[1].ClassName)
	assert.InDelta(t, 20, predictions[0].Matches[1].Distance, 1e-9)

	var text, js bytes.Buffer
	require.Nil(t, writePredictionsText(&text, predictions))
	assert.Contains(t, text.String(), "duck")
	require.Nil(t, writePredictionsJSON(&js, predictions))
	assert.Contains(t, js.String(), `"templateIndex": 3`)
}

func TestPredictMissingImage(t *testing.T) {
	net := tinyNetwork(t)
	search := newLocalSearch(nil)

	_, err := predict(context.Background(), net, search, []string{"/does/not/exist.png"}, 1)
	assert.NotNil(t, err)
}

func TestPrintResultToFile(t *testing.T) {
	res, err := evaluate.Run(
		evaluate.Set{Embeddings: [][]float64{{0}, {10}}, Poses: []pose.Quaternion{rotZ(0), rotZ(0)}, PerClass: 1},
		evaluate.Set{Embeddings: [][]float64{{1}, {9}}, Poses: []pose.Quaternion{rotZ(5), rotZ(50)}, PerClass: 1},
	)
	require.Nil(t, err)
	confusion, err := evaluate.ConfusionMatrix(res.TrueClasses, res.PredictedClasses, []string{"ape", "duck"})
	require.Nil(t, err)

	path := filepath.Join(t.TempDir(), "result.txt")
	cfg := Config{OutputFormat: "text", OutputFile: path}
	require.Nil(t, printResult(cfg, res, confusion))

	content, err := os.ReadFile(path)
	require.Nil(t, err)
	assert.Contains(t, string(content), "Accuracy: 1.000000")
	assert.Contains(t, string(content), "duck")

	cfg.OutputFormat = "json"
	require.Nil(t, printResult(cfg, res, nil))
	content, err = os.ReadFile(path)
	require.Nil(t, err)
	assert.Contains(t, string(content), `"accuracy": 1`)
}
