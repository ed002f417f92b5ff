package evaluate

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// point is an embedding that remembers its position in the template set.
type point struct {
	vec   []float64
	index int
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(point)
	return p.vec[d] - q.vec[d]
}

func (p point) Dims() int { return len(p.vec) }

// Distance is the squared Euclidean distance, which orders neighbors the same
// way as the Euclidean distance.
func (p point) Distance(c kdtree.Comparable) float64 {
	q := c.(point)
	var sum float64
	for i, v := range p.vec {
		d := v - q.vec[i]
		sum += d * d
	}
	return sum
}

type points []point

func (p points) Index(i int) kdtree.Comparable         { return p[i] }
func (p points) Len() int                              { return len(p) }
func (p points) Slice(start, end int) kdtree.Interface { return p[start:end] }
func (p points) Pivot(d kdtree.Dim) int {
	return plane{points: p, dim: d}.pivot()
}

// plane sorts points along one dimension for median selection.
type plane struct {
	points
	dim kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	return p.points[i].vec[p.dim] < p.points[j].vec[p.dim]
}
func (p plane) Swap(i, j int) { p.points[i], p.points[j] = p.points[j], p.points[i] }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{points: p.points[start:end], dim: p.dim}
}
func (p plane) pivot() int {
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}

// Index answers nearest neighbor queries over a fixed set of embeddings.
type Index struct {
	tree *kdtree.Tree
	size int
}

// NewIndex builds a k-d tree over embeddings. The slices are referenced, not
// copied.
func NewIndex(embeddings [][]float64) *Index {
	if len(embeddings) == 0 {
		return &Index{}
	}

	pts := make(points, len(embeddings))
	for i, e := range embeddings {
		pts[i] = point{vec: e, index: i}
	}
	return &Index{tree: kdtree.New(pts, false), size: len(embeddings)}
}

// Len is the number of indexed embeddings.
func (ix *Index) Len() int {
	return ix.size
}

// Nearest returns the index and Euclidean distance of the embedding closest
// to q. When several embeddings are equally close the lowest index wins.
func (ix *Index) Nearest(q []float64) (int, float64) {
	if ix.size == 0 {
		return -1, 0
	}

	query := point{vec: q, index: -1}
	best, dist := ix.tree.Nearest(query)

	// gather every point at the same distance to make ties deterministic
	keeper := kdtree.NewDistKeeper(dist)
	ix.tree.NearestSet(keeper, query)

	idx := best.(point).index
	for _, c := range keeper.Heap {
		if c.Comparable == nil || c.Dist > dist {
			continue
		}
		if i := c.Comparable.(point).index; i < idx {
			idx = i
		}
	}
	return idx, math.Sqrt(dist)
}

// Neighbor is one entry of a k nearest neighbor result.
type Neighbor struct {
	Index    int
	Distance float64
}

// KNearest returns, for every query, the k closest embeddings by exhaustive
// search ordered by distance then index. It is the ground truth written next
// to exported embeddings.
func KNearest(embeddings, queries [][]float64, k int) [][]Neighbor {
	if k > len(embeddings) {
		k = len(embeddings)
	}

	out := make([][]Neighbor, len(queries))
	for qi, q := range queries {
		all := make([]Neighbor, len(embeddings))
		for i, e := range embeddings {
			all[i] = Neighbor{Index: i, Distance: floats.Distance(q, e, 2)}
		}
		sort.Slice(all, func(a, b int) bool {
			if all[a].Distance != all[b].Distance {
				return all[a].Distance < all[b].Distance
			}
			return all[a].Index < all[b].Index
		})
		out[qi] = all[:k]
	}
	return out
}
