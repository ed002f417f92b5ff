package dataset

import (
	"github.com/pkg/errors"

	"github.com/weaviate/pose-descriptors/internal/pose"
)

// MemSource is an in-memory Source, used for synthetic datasets and tests.
type MemSource struct {
	entries map[memKey]map[string]memEntry
}

type memKey struct {
	collection Collection
	class      string
}

type memEntry struct {
	image Image
	pose  pose.Quaternion
	// noPose adds the image without a pose record.
	noPose bool
}

// NewMemSource returns an empty MemSource.
func NewMemSource() *MemSource {
	return &MemSource{entries: make(map[memKey]map[string]memEntry)}
}

// Add registers an image together with its pose record.
func (m *MemSource) Add(c Collection, class, name string, img Image, q pose.Quaternion) {
	m.put(c, class, name, memEntry{image: img, pose: q})
}

// AddWithoutPose registers an image that has no pose record.
func (m *MemSource) AddWithoutPose(c Collection, class, name string, img Image) {
	m.put(c, class, name, memEntry{image: img, noPose: true})
}

func (m *MemSource) put(c Collection, class, name string, e memEntry) {
	key := memKey{c, class}
	if m.entries[key] == nil {
		m.entries[key] = make(map[string]memEntry)
	}
	m.entries[key][name] = e
}

func (m *MemSource) Poses(c Collection, class string) (map[string]pose.Quaternion, error) {
	out := make(map[string]pose.Quaternion)
	for name, e := range m.entries[memKey{c, class}] {
		if !e.noPose {
			out[name] = e.pose
		}
	}
	return out, nil
}

func (m *MemSource) ImageNames(c Collection, class string) ([]string, error) {
	var names []string
	for name := range m.entries[memKey{c, class}] {
		names = append(names, name)
	}
	return names, nil
}

func (m *MemSource) LoadImage(c Collection, class, name string, shape ImageShape) (Image, error) {
	e, ok := m.entries[memKey{c, class}][name]
	if !ok {
		return nil, errors.Errorf("no image %s/%s/%s", c, class, name)
	}
	if len(e.image) != shape.Size() {
		return nil, errors.Errorf("image %s has %d values, shape needs %d", name, len(e.image), shape.Size())
	}
	return e.image, nil
}
