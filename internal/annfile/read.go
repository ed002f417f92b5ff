package annfile

import (
	"github.com/pkg/errors"
	"github.com/weaviate/hdf5"

	"github.com/weaviate/pose-descriptors/internal/evaluate"
	"github.com/weaviate/pose-descriptors/internal/pose"
)

// Read loads a file written by Write. Embeddings stored as float32 or
// float64 are both accepted, as are 32 and 64 bit integer tables.
func Read(path string) (*File, error) {
	file, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer file.Close()

	templates, err := readSet(file, trainName, trainCategoriesName, trainPosesName)
	if err != nil {
		return nil, err
	}
	test, err := readSet(file, testName, testCategoriesName, testPosesName)
	if err != nil {
		return nil, err
	}

	neighbors, err := loadInts(file, neighborsName)
	if err != nil {
		return nil, err
	}
	distances, err := loadFloats(file, distancesName)
	if err != nil {
		return nil, err
	}

	out := &File{Templates: templates, Test: test, Neighbors: neighbors}
	out.Distances = make([][]float32, len(distances))
	for i, row := range distances {
		out.Distances[i] = make([]float32, len(row))
		for j, v := range row {
			out.Distances[i][j] = float32(v)
		}
	}
	return out, nil
}

func readSet(file *hdf5.File, vectors, categories, poses string) (evaluate.Set, error) {
	emb, err := loadFloats(file, vectors)
	if err != nil {
		return evaluate.Set{}, err
	}

	cats, err := loadInts(file, categories)
	if err != nil {
		return evaluate.Set{}, err
	}
	labels := make([]int, len(cats))
	for i, row := range cats {
		if len(row) != 1 {
			return evaluate.Set{}, errors.Errorf("%s: expected one category per row", categories)
		}
		labels[i] = row[0]
	}

	rawPoses, err := loadFloats(file, poses)
	if err != nil {
		return evaluate.Set{}, err
	}
	qs := make([]pose.Quaternion, len(rawPoses))
	for i, row := range rawPoses {
		if len(row) != 4 {
			return evaluate.Set{}, errors.Errorf("%s: row %d has %d values, expected 4", poses, i, len(row))
		}
		copy(qs[i][:], row)
	}

	perClass, err := perClassCount(labels)
	if err != nil {
		return evaluate.Set{}, errors.Wrap(err, categories)
	}

	set := evaluate.Set{Embeddings: emb, Poses: qs, PerClass: perClass}
	return set, errors.Wrap(set.Validate(), vectors)
}

// perClassCount checks that labels are class-major runs of equal length
// numbered from zero and returns the run length.
func perClassCount(labels []int) (int, error) {
	if len(labels) == 0 {
		return 0, errors.New("no categories")
	}

	perClass := 0
	for perClass < len(labels) && labels[perClass] == 0 {
		perClass++
	}
	if perClass == 0 {
		return 0, errors.New("first category must be 0")
	}
	if len(labels)%perClass != 0 {
		return 0, errors.Errorf("%d entries do not split into classes of %d", len(labels), perClass)
	}

	for i, l := range labels {
		if l != i/perClass {
			return 0, errors.Errorf("entry %d has category %d, expected %d for runs of %d", i, l, i/perClass, perClass)
		}
	}
	return perClass, nil
}

func getHDF5ByteSize(dataset *hdf5.Dataset) (uint, error) {
	datatype, err := dataset.Datatype()
	if err != nil {
		return 0, errors.Wrap(err, "read datatype")
	}

	byteSize := datatype.Size()
	if byteSize != 4 && byteSize != 8 {
		return 0, errors.Errorf("unsupported byte size %d", byteSize)
	}
	return byteSize, nil
}

// extent returns rows and columns of a 1 or 2 dimensional dataset, a 1
// dimensional one being a single column.
func extent(dataset *hdf5.Dataset) (uint, uint, error) {
	dims, _, err := dataset.Space().SimpleExtentDims()
	if err != nil {
		return 0, 0, err
	}
	switch len(dims) {
	case 1:
		return dims[0], 1, nil
	case 2:
		return dims[0], dims[1], nil
	default:
		return 0, 0, errors.Errorf("expected 1 or 2 dimensions, got %d", len(dims))
	}
}

func convert1DChunk[D float32 | float64 | int32 | int64, T float64 | int](input []D, dimensions, rows int) [][]T {
	out := make([][]T, rows)
	for i := range out {
		out[i] = make([]T, dimensions)
		for j := 0; j < dimensions; j++ {
			out[i][j] = T(input[i*dimensions+j])
		}
	}
	return out
}

func loadFloats(file *hdf5.File, name string) ([][]float64, error) {
	dataset, err := file.OpenDataset(name)
	if err != nil {
		return nil, errors.Wrapf(err, "open dataset %s", name)
	}
	defer dataset.Close()

	rows, cols, err := extent(dataset)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	byteSize, err := getHDF5ByteSize(dataset)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}

	if byteSize == 4 {
		data := make([]float32, rows*cols)
		if err := dataset.Read(&data); err != nil {
			return nil, errors.Wrapf(err, "read %s", name)
		}
		return convert1DChunk[float32, float64](data, int(cols), int(rows)), nil
	}

	data := make([]float64, rows*cols)
	if err := dataset.Read(&data); err != nil {
		return nil, errors.Wrapf(err, "read %s", name)
	}
	return convert1DChunk[float64, float64](data, int(cols), int(rows)), nil
}

func loadInts(file *hdf5.File, name string) ([][]int, error) {
	dataset, err := file.OpenDataset(name)
	if err != nil {
		return nil, errors.Wrapf(err, "open dataset %s", name)
	}
	defer dataset.Close()

	rows, cols, err := extent(dataset)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	byteSize, err := getHDF5ByteSize(dataset)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}

	if byteSize == 4 {
		data := make([]int32, rows*cols)
		if err := dataset.Read(&data); err != nil {
			return nil, errors.Wrapf(err, "read %s", name)
		}
		return convert1DChunk[int32, int](data, int(cols), int(rows)), nil
	}

	data := make([]int64, rows*cols)
	if err := dataset.Read(&data); err != nil {
		return nil, errors.Wrapf(err, "read %s", name)
	}
	return convert1DChunk[int64, int](data, int(cols), int(rows)), nil
}
