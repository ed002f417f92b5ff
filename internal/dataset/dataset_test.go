package dataset

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weaviate/pose-descriptors/internal/pose"
)

var tinyShape = ImageShape{Height: 2, Width: 2, Channels: 3}

func filled(v float32) Image {
	img := make(Image, tinyShape.Size())
	for i := range img {
		img[i] = v
	}
	return img
}

func toySource(classes []string) *MemSource {
	src := NewMemSource()
	for c, class := range classes {
		for i := 0; i < 3; i++ {
			src.Add(Coarse, class, fmt.Sprintf("coarse%d.png", i), filled(float32(c)), pose.Quaternion{1, 0, 0, float64(i)})
		}
		for i := 0; i < 2; i++ {
			src.Add(Fine, class, fmt.Sprintf("fine%d.png", i), filled(0.5), pose.Quaternion{0, 1, 0, float64(i)})
		}
		src.Add(Real, class, "real1.png", filled(-0.5), pose.Quaternion{0, 0, 1, 1})
		src.Add(Real, class, "real2.png", filled(-0.5), pose.Quaternion{0, 0, 1, 2})
		src.Add(Real, class, "real3.png", filled(-0.5), pose.Quaternion{0, 0, 1, 3})
	}
	return src
}

func TestBuildRouting(t *testing.T) {
	classes := []string{"ape", "duck"}
	ds, err := Build(toySource(classes), classes, ParseSplitList("1, 3\n"), tinyShape)
	require.Nil(t, err)

	require.Equal(t, 3, ds.TemplatesPerClass())
	require.Equal(t, 1, ds.TestPerClass())

	for i := range classes {
		require.Equal(t, []string{"coarse0.png", "coarse1.png", "coarse2.png"}, ds.Templates[i].Names)
		// fine images first, then the real images named in the split
		require.Equal(t, []string{"fine0.png", "fine1.png", "real1.png", "real3.png"}, ds.Train[i].Names)
		require.Equal(t, []string{"real2.png"}, ds.Test[i].Names)
		require.Equal(t, pose.Quaternion{0, 0, 1, 2}, ds.Test[i].Poses[0])
	}

	flat := ds.FlattenTemplates()
	require.Len(t, flat.Images, 6)
	require.Equal(t, []int{0, 0, 0, 1, 1, 1}, flat.Classes)
	require.Equal(t, 3, flat.PerClass)
	require.Equal(t, float32(1), flat.Images[3][0])

	summary := ds.Summary()
	require.Equal(t, 4, summary["train/duck"])
}

func TestBuildMissingPose(t *testing.T) {
	classes := []string{"ape"}
	src := toySource(classes)
	src.AddWithoutPose(Fine, "ape", "fine9.png", filled(0))

	_, err := Build(src, classes, nil, tinyShape)
	var missing *MissingPoseError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, "fine9.png", missing.Image)
	require.Equal(t, Fine, missing.Collection)
}

func TestBuildShapeError(t *testing.T) {
	classes := []string{"ape", "duck"}

	t.Run("uneven templates", func(t *testing.T) {
		src := toySource(classes)
		src.Add(Coarse, "duck", "coarse9.png", filled(0), pose.Quaternion{1, 0, 0, 0})

		_, err := Build(src, classes, nil, tinyShape)
		var shape *ShapeError
		require.True(t, errors.As(err, &shape))
		require.Equal(t, "template", shape.Split)
		require.Equal(t, "duck", shape.Class)
		require.Equal(t, 4, shape.Size)
		require.Equal(t, 3, shape.Expect)
	})

	t.Run("uneven test pools", func(t *testing.T) {
		src := toySource(classes)
		src.Add(Real, "ape", "real4.png", filled(0), pose.Quaternion{1, 0, 0, 0})

		_, err := Build(src, classes, ParseSplitList("1"), tinyShape)
		var shape *ShapeError
		require.True(t, errors.As(err, &shape))
		require.Equal(t, "test", shape.Split)
	})

	t.Run("empty templates", func(t *testing.T) {
		src := toySource([]string{"ape"})
		_, err := Build(src, classes, nil, tinyShape)
		var shape *ShapeError
		require.True(t, errors.As(err, &shape))
		require.Equal(t, "duck", shape.Class)
	})
}

func TestSplitList(t *testing.T) {
	split := ParseSplitList("12, 7, , 300\n")
	require.Equal(t, SplitList{"12", "7", "300"}, split)

	require.True(t, split.Contains("real12.png"))
	require.True(t, split.Contains("real1300.png"))
	require.True(t, split.Contains("real77.png"))
	require.False(t, split.Contains("real5.png"))

	require.False(t, ParseSplitList("").Contains("anything.png"))
}

func TestFromImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 0, G: 255, B: 51, A: 255})
	img.Set(1, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	img.Set(0, 1, color.RGBA{A: 255})
	img.Set(1, 1, color.RGBA{A: 255})

	out, err := FromImage(img, tinyShape)
	require.Nil(t, err)
	require.Len(t, out, 12)
	require.InDelta(t, -1, out[0], 1e-6)
	require.InDelta(t, 1, out[1], 1e-6)
	require.InDelta(t, -0.6, out[2], 1e-6)
	require.InDelta(t, 1, out[3], 1e-6)

	resized, err := FromImage(image.NewRGBA(image.Rect(0, 0, 8, 8)), tinyShape)
	require.Nil(t, err)
	require.Len(t, resized, 12)
}

func TestDirSource(t *testing.T) {
	root := t.TempDir()

	write := func(c Collection, class, name string, q string) {
		dir := filepath.Join(root, c.String(), class)
		require.Nil(t, os.MkdirAll(dir, 0o755))

		f, err := os.Create(filepath.Join(dir, name))
		require.Nil(t, err)
		require.Nil(t, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 2, 2))))
		require.Nil(t, f.Close())

		listing, err := os.OpenFile(filepath.Join(dir, PosesFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		require.Nil(t, err)
		_, err = fmt.Fprintf(listing, "# %s\n%s\n", name, q)
		require.Nil(t, err)
		require.Nil(t, listing.Close())
	}

	write(Coarse, "ape", "coarse0.png", "1 0 0 0")
	write(Coarse, "ape", "coarse1.png", "0 1 0 0")
	write(Fine, "ape", "fine0.png", "1 0 0 0")
	write(Real, "ape", "real0.png", "0 0 1 0")
	write(Real, "ape", "real1.png", "0 0 0 1")
	require.Nil(t, os.WriteFile(filepath.Join(root, "real", SplitFile), []byte("0\n"), 0o644))

	src := NewDirSource(root)
	split, err := src.SplitList()
	require.Nil(t, err)

	ds, err := Build(src, []string{"ape"}, split, tinyShape)
	require.Nil(t, err)
	require.Equal(t, 2, ds.TemplatesPerClass())
	require.Equal(t, []string{"fine0.png", "real0.png"}, ds.Train[0].Names)
	require.Equal(t, []string{"real1.png"}, ds.Test[0].Names)
	require.InDelta(t, -1, ds.Test[0].Images[0][0], 1e-6)
}
