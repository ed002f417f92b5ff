package dataset

import (
	"github.com/weaviate/pose-descriptors/internal/pose"
)

// ImageShape is the fixed height, width and channel count of every image.
type ImageShape struct {
	Height   int
	Width    int
	Channels int
}

// Size returns the number of values in one image.
func (s ImageShape) Size() int {
	return s.Height * s.Width * s.Channels
}

// DefaultShape is the 64x64 RGB input the descriptor network is built for.
var DefaultShape = ImageShape{Height: 64, Width: 64, Channels: 3}

// Image is an HWC tensor with values in [-1, 1].
type Image []float32

// Pool holds the images of one class in one split. Images, Poses and Names
// are index aligned.
type Pool struct {
	Names  []string
	Images []Image
	Poses  []pose.Quaternion
}

func (p *Pool) add(name string, img Image, q pose.Quaternion) {
	p.Names = append(p.Names, name)
	p.Images = append(p.Images, img)
	p.Poses = append(p.Poses, q)
}

// Len returns the number of images in the pool.
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Images)
}

// Flat is a class-major concatenation of one pool per class.
type Flat struct {
	Images   []Image
	Poses    []pose.Quaternion
	Classes  []int
	PerClass int
}

func flatten(pools []*Pool) Flat {
	var out Flat
	for class, p := range pools {
		out.Images = append(out.Images, p.Images...)
		out.Poses = append(out.Poses, p.Poses...)
		for range p.Images {
			out.Classes = append(out.Classes, class)
		}
	}
	if len(pools) > 0 {
		out.PerClass = pools[0].Len()
	}
	return out
}
