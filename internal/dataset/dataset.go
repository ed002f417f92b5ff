package dataset

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/weaviate/pose-descriptors/internal/pose"
)

// Collection is one of the three raw image sources.
type Collection int

const (
	// Coarse synthetic renders spanning the pose sphere; they become templates.
	Coarse Collection = iota
	// Fine synthetic renders; they become training images.
	Fine
	// Real photographs, split between train and test by the split list.
	Real
)

var collectionNames = [...]string{"coarse", "fine", "real"}

func (c Collection) String() string {
	if c < 0 || int(c) >= len(collectionNames) {
		return "unknown"
	}
	return collectionNames[c]
}

// Collections lists every collection in load order.
var Collections = []Collection{Coarse, Fine, Real}

// DefaultClasses is the fixed class order of the object dataset.
var DefaultClasses = []string{"ape", "benchvise", "cam", "cat", "duck"}

// Source provides pose listings and images per collection and class.
type Source interface {
	Poses(c Collection, class string) (map[string]pose.Quaternion, error)
	ImageNames(c Collection, class string) ([]string, error)
	LoadImage(c Collection, class, name string, shape ImageShape) (Image, error)
}

// Dataset is the immutable set of per-class pools. The class order is the
// same in all three pool collections.
type Dataset struct {
	Classes   []string
	Shape     ImageShape
	Templates []*Pool
	Train     []*Pool
	Test      []*Pool
}

// Build loads every collection and class from src and routes images into
// template, train and test pools. Coarse images are templates, fine images
// are training images and real images go to train if their name matches the
// split list and to test otherwise.
func Build(src Source, classes []string, split SplitList, shape ImageShape) (*Dataset, error) {
	if len(classes) == 0 {
		return nil, errors.Errorf("no classes configured")
	}

	ds := &Dataset{
		Classes:   append([]string(nil), classes...),
		Shape:     shape,
		Templates: newPools(len(classes)),
		Train:     newPools(len(classes)),
		Test:      newPools(len(classes)),
	}

	for _, collection := range Collections {
		for classIdx, class := range classes {
			if err := ds.loadClass(src, collection, classIdx, class, split); err != nil {
				return nil, err
			}
		}
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}

	return ds, nil
}

func newPools(n int) []*Pool {
	pools := make([]*Pool, n)
	for i := range pools {
		pools[i] = &Pool{}
	}
	return pools
}

func (ds *Dataset) loadClass(src Source, collection Collection, classIdx int,
	class string, split SplitList,
) error {
	poses, err := src.Poses(collection, class)
	if err != nil {
		return errors.Wrapf(err, "read poses of %s/%s", collection, class)
	}

	names, err := src.ImageNames(collection, class)
	if err != nil {
		return errors.Wrapf(err, "list images of %s/%s", collection, class)
	}
	sort.Strings(names)

	for _, name := range names {
		q, ok := poses[name]
		if !ok {
			return &MissingPoseError{Collection: collection, Class: class, Image: name}
		}

		img, err := src.LoadImage(collection, class, name, ds.Shape)
		if err != nil {
			return errors.Wrapf(err, "load image %s/%s/%s", collection, class, name)
		}

		switch collection {
		case Coarse:
			ds.Templates[classIdx].add(name, img, q)
		case Fine:
			ds.Train[classIdx].add(name, img, q)
		case Real:
			if split.Contains(name) {
				ds.Train[classIdx].add(name, img, q)
			} else {
				ds.Test[classIdx].add(name, img, q)
			}
		}
	}

	log.WithFields(log.Fields{"collection": collection.String(), "class": class,
		"images": len(names)}).Debug("loaded class images")

	return nil
}

// Validate checks the shape invariants: one pool per class in every split,
// non-empty template and train pools, and equal per-class sizes within the
// template pools and within the test pools.
func (ds *Dataset) Validate() error {
	n := len(ds.Classes)
	if len(ds.Templates) != n || len(ds.Train) != n || len(ds.Test) != n {
		return errors.Errorf("dataset has %d classes but %d/%d/%d template/train/test pools",
			n, len(ds.Templates), len(ds.Train), len(ds.Test))
	}

	for i, class := range ds.Classes {
		if ds.Templates[i].Len() == 0 {
			return &ShapeError{Split: "template", Class: class}
		}
		if ds.Train[i].Len() == 0 {
			return &ShapeError{Split: "train", Class: class}
		}
		for _, p := range []*Pool{ds.Templates[i], ds.Train[i], ds.Test[i]} {
			if len(p.Images) != len(p.Poses) || len(p.Images) != len(p.Names) {
				return errors.Errorf("pool of class %q is not index aligned", class)
			}
		}
	}

	if err := uniform("template", ds.Classes, ds.Templates); err != nil {
		return err
	}
	return uniform("test", ds.Classes, ds.Test)
}

func uniform(split string, classes []string, pools []*Pool) error {
	want := pools[0].Len()
	for i, p := range pools {
		if p.Len() != want {
			return &ShapeError{Split: split, Class: classes[i], Size: p.Len(), Expect: want}
		}
	}
	return nil
}

// NumClasses returns the number of object classes.
func (ds *Dataset) NumClasses() int {
	return len(ds.Classes)
}

// TemplatesPerClass returns the uniform template pool size.
func (ds *Dataset) TemplatesPerClass() int {
	return ds.Templates[0].Len()
}

// TestPerClass returns the uniform test pool size.
func (ds *Dataset) TestPerClass() int {
	return ds.Test[0].Len()
}

// FlattenTemplates concatenates the template pools in class order.
func (ds *Dataset) FlattenTemplates() Flat {
	return flatten(ds.Templates)
}

// FlattenTest concatenates the test pools in class order.
func (ds *Dataset) FlattenTest() Flat {
	return flatten(ds.Test)
}

// Summary returns pool sizes keyed by split and class, for logging.
func (ds *Dataset) Summary() map[string]int {
	out := make(map[string]int, 3*len(ds.Classes))
	for i, class := range ds.Classes {
		out["template/"+class] = ds.Templates[i].Len()
		out["train/"+class] = ds.Train[i].Len()
		out["test/"+class] = ds.Test[i].Len()
	}
	return out
}

// SplitList is the set of filename substrings that mark a real image as
// training data.
type SplitList []string

// ParseSplitList parses the comma-space delimited split file contents.
// Empty tokens are dropped since they would match every filename.
func ParseSplitList(contents string) SplitList {
	var out SplitList
	for _, token := range strings.Split(contents, ", ") {
		token = strings.TrimSpace(token)
		if token != "" {
			out = append(out, token)
		}
	}
	return out
}

// Contains reports whether any token is a substring of name.
func (s SplitList) Contains(name string) bool {
	for _, token := range s {
		if strings.Contains(name, token) {
			return true
		}
	}
	return false
}
