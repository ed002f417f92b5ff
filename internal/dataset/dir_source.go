package dataset

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/weaviate/pose-descriptors/internal/pose"
)

const (
	// PosesFile is the pose listing inside every collection/class directory.
	PosesFile = "poses.txt"
	// SplitFile lists the real images used for training, relative to the
	// real collection directory.
	SplitFile = "training_split.txt"
)

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// DirSource reads the on-disk layout <root>/<collection>/<class>/.
type DirSource struct {
	Root string
}

// NewDirSource returns a Source rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{Root: dir}
}

func (s *DirSource) classDir(c Collection, class string) string {
	return filepath.Join(s.Root, c.String(), class)
}

// Poses parses the pose listing of one collection and class.
func (s *DirSource) Poses(c Collection, class string) (map[string]pose.Quaternion, error) {
	f, err := os.Open(filepath.Join(s.classDir(c, class), PosesFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return pose.ParseListing(f)
}

// ImageNames lists the image file names of one collection and class.
func (s *DirSource) ImageNames(c Collection, class string) ([]string, error) {
	entries, err := os.ReadDir(s.classDir(c, class))
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// LoadImage decodes one image and converts it to a normalized tensor.
func (s *DirSource) LoadImage(c Collection, class, name string, shape ImageShape) (Image, error) {
	return LoadImageFile(filepath.Join(s.classDir(c, class), name), shape)
}

// SplitList reads the training split of the real collection.
func (s *DirSource) SplitList() (SplitList, error) {
	raw, err := os.ReadFile(filepath.Join(s.Root, Real.String(), SplitFile))
	if err != nil {
		return nil, errors.Wrap(err, "read training split")
	}
	return ParseSplitList(string(raw)), nil
}

// LoadImageFile decodes an image file into a normalized tensor of the given shape.
func LoadImageFile(path string, shape ImageShape) (Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}

	return FromImage(img, shape)
}

// FromImage resizes img to shape if needed and maps each channel from
// [0, 255] to [-1, 1] with 2*(v/255)-1. Alpha is dropped; grayscale shapes
// use the luma of the pixel.
func FromImage(img image.Image, shape ImageShape) (Image, error) {
	if shape.Channels != 3 && shape.Channels != 1 {
		return nil, errors.Errorf("unsupported channel count %d", shape.Channels)
	}

	b := img.Bounds()
	if b.Dx() != shape.Width || b.Dy() != shape.Height {
		img = resize.Resize(uint(shape.Width), uint(shape.Height), img, resize.Bilinear)
		b = img.Bounds()
	}

	out := make(Image, shape.Size())
	i := 0
	for y := b.Min.Y; y < b.Min.Y+shape.Height; y++ {
		for x := b.Min.X; x < b.Min.X+shape.Width; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			// RGBA returns 16 bit channels
			rgb := [3]float32{float32(r >> 8), float32(g >> 8), float32(bl >> 8)}

			if shape.Channels == 1 {
				luma := 0.299*rgb[0] + 0.587*rgb[1] + 0.114*rgb[2]
				out[i] = normalize(luma)
				i++
				continue
			}
			for _, v := range rgb {
				out[i] = normalize(v)
				i++
			}
		}
	}

	return out, nil
}

func normalize(v float32) float32 {
	return 2*(v/255) - 1
}
