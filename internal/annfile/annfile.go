// Package annfile stores descriptor sets in the ann-benchmarks HDF5 layout:
// templates as "train", test samples as "test", exact nearest neighbors as
// "neighbors" and "distances", plus class and pose side tables.
package annfile

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/weaviate/hdf5"

	"github.com/weaviate/pose-descriptors/internal/evaluate"
	"github.com/weaviate/pose-descriptors/internal/pose"
)

const (
	trainName           = "train"
	testName            = "test"
	neighborsName       = "neighbors"
	distancesName       = "distances"
	trainCategoriesName = "train_categories"
	testCategoriesName  = "test_categories"
	trainPosesName      = "train_poses"
	testPosesName       = "test_poses"
)

// File is the content of one descriptor file.
type File struct {
	Templates evaluate.Set
	Test      evaluate.Set
	Neighbors [][]int
	Distances [][]float32
}

// Write stores templates and test in a new file at path, together with the
// k exact nearest templates of every test sample.
func Write(path string, templates, test evaluate.Set, k int) error {
	if err := templates.Validate(); err != nil {
		return errors.Wrap(err, "templates")
	}
	if err := test.Validate(); err != nil {
		return errors.Wrap(err, "test")
	}
	if len(templates.Embeddings) == 0 || len(test.Embeddings) == 0 {
		return errors.New("template and test sets must not be empty")
	}
	if k <= 0 {
		return errors.Errorf("neighbor count must be positive, got %d", k)
	}

	file, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer file.Close()

	neighbors := evaluate.KNearest(templates.Embeddings, test.Embeddings, k)

	ids := make([][]int, len(neighbors))
	dists := make([][]float64, len(neighbors))
	for i, row := range neighbors {
		ids[i] = make([]int, len(row))
		dists[i] = make([]float64, len(row))
		for j, n := range row {
			ids[i][j] = n.Index
			dists[i][j] = n.Distance
		}
	}

	writes := []struct {
		name string
		fn   func() error
	}{
		{trainName, func() error { return writeFloat32(file, trainName, templates.Embeddings) }},
		{testName, func() error { return writeFloat32(file, testName, test.Embeddings) }},
		{neighborsName, func() error { return writeInt32(file, neighborsName, ids) }},
		{distancesName, func() error { return writeFloat32(file, distancesName, dists) }},
		{trainCategoriesName, func() error { return writeCategories(file, trainCategoriesName, templates) }},
		{testCategoriesName, func() error { return writeCategories(file, testCategoriesName, test) }},
		{trainPosesName, func() error { return writePoses(file, trainPosesName, templates.Poses) }},
		{testPosesName, func() error { return writePoses(file, testPosesName, test.Poses) }},
	}
	for _, w := range writes {
		if err := w.fn(); err != nil {
			return errors.Wrapf(err, "write %s", w.name)
		}
	}

	log.WithFields(log.Fields{
		"path":      path,
		"templates": len(templates.Embeddings),
		"test":      len(test.Embeddings),
		"dims":      len(templates.Embeddings[0]),
		"k":         len(ids[0]),
	}).Info("wrote descriptor file")
	return nil
}

func createDataset(file *hdf5.File, name string, dtype *hdf5.Datatype, dims []uint) (*hdf5.Dataset, error) {
	space, err := hdf5.CreateSimpleDataspace(dims, dims)
	if err != nil {
		return nil, err
	}
	defer space.Close()
	return file.CreateDataset(name, dtype, space)
}

func writeFloat32(file *hdf5.File, name string, rows [][]float64) error {
	cols := len(rows[0])
	data := make([]float32, 0, len(rows)*cols)
	for i, r := range rows {
		if len(r) != cols {
			return errors.Errorf("row %d has %d values, expected %d", i, len(r), cols)
		}
		for _, v := range r {
			data = append(data, float32(v))
		}
	}

	dset, err := createDataset(file, name, hdf5.T_NATIVE_FLOAT, []uint{uint(len(rows)), uint(cols)})
	if err != nil {
		return err
	}
	defer dset.Close()
	return dset.Write(&data)
}

func writeInt32(file *hdf5.File, name string, rows [][]int) error {
	cols := len(rows[0])
	data := make([]int32, 0, len(rows)*cols)
	for _, r := range rows {
		for _, v := range r {
			data = append(data, int32(v))
		}
	}

	dset, err := createDataset(file, name, hdf5.T_NATIVE_INT32, []uint{uint(len(rows)), uint(cols)})
	if err != nil {
		return err
	}
	defer dset.Close()
	return dset.Write(&data)
}

func writeCategories(file *hdf5.File, name string, set evaluate.Set) error {
	data := make([]int32, len(set.Embeddings))
	for i := range data {
		data[i] = int32(set.ClassOf(i))
	}

	dset, err := createDataset(file, name, hdf5.T_NATIVE_INT32, []uint{uint(len(data))})
	if err != nil {
		return err
	}
	defer dset.Close()
	return dset.Write(&data)
}

func writePoses(file *hdf5.File, name string, poses []pose.Quaternion) error {
	data := make([]float64, 0, 4*len(poses))
	for _, q := range poses {
		data = append(data, q[:]...)
	}

	dset, err := createDataset(file, name, hdf5.T_NATIVE_DOUBLE, []uint{uint(len(poses)), 4})
	if err != nil {
		return err
	}
	defer dset.Close()
	return dset.Write(&data)
}
