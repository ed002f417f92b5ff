// Package loss implements the pair + triplet loss over stride-3 interleaved
// embedding batches (anchor, puller, pusher per triple).
package loss

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Epsilon keeps the triplet ratio finite when anchor and puller coincide.
const Epsilon = 0.01

// Result holds the summed loss terms of a batch.
type Result struct {
	Pair    float64
	Triplet float64
	Total   float64
	Triples int
}

// Add accumulates another partial result.
func (r *Result) Add(o Result) {
	r.Pair += o.Pair
	r.Triplet += o.Triplet
	r.Total += o.Total
	r.Triples += o.Triples
}

// Compute returns the loss of an interleaved embedding batch:
//
//	pair    = sum ||a-p||^2
//	triplet = sum max(0, 1 - ||a-n||^2 / (||a-p||^2 + Epsilon))
//	total   = pair + triplet
func Compute(embeddings [][]float64) (Result, error) {
	res, _, err := evaluate(embeddings, false)
	return res, err
}

// Gradient returns the loss and d(total)/d(embedding) for every entry of
// the batch, in the same layout.
func Gradient(embeddings [][]float64) (Result, [][]float64, error) {
	return evaluate(embeddings, true)
}

func evaluate(embeddings [][]float64, withGrad bool) (Result, [][]float64, error) {
	if len(embeddings)%3 != 0 {
		return Result{}, nil, errors.Errorf("batch of %d embeddings is not a whole number of triples", len(embeddings))
	}
	if len(embeddings) == 0 {
		return Result{}, nil, nil
	}

	dim := len(embeddings[0])
	for i, e := range embeddings {
		if len(e) != dim {
			return Result{}, nil, errors.Errorf("embedding %d has dimension %d, expected %d", i, len(e), dim)
		}
	}

	var grads [][]float64
	if withGrad {
		grads = make([][]float64, len(embeddings))
	}

	var res Result
	diffPos := make([]float64, dim)
	diffNeg := make([]float64, dim)

	anchors, pullers, pushers := Strided(embeddings)
	for i, anchor := range anchors {
		puller, pusher := pullers[i], pushers[i]

		floats.SubTo(diffPos, anchor, puller)
		floats.SubTo(diffNeg, anchor, pusher)

		pos := floats.Dot(diffPos, diffPos)
		neg := floats.Dot(diffNeg, diffNeg)
		denom := pos + Epsilon

		margin := 1 - neg/denom
		active := margin > 0
		if !active {
			margin = 0
		}

		res.Pair += pos
		res.Triplet += margin
		res.Triples++

		if !withGrad {
			continue
		}

		// d(pos)/da = 2 diffPos, d(neg)/da = 2 diffNeg
		posScale := 1.0
		negScale := 0.0
		if active {
			posScale += neg / (denom * denom)
			negScale = -1 / denom
		}

		ga := make([]float64, dim)
		gp := make([]float64, dim)
		gn := make([]float64, dim)
		for j := 0; j < dim; j++ {
			dp := 2 * posScale * diffPos[j]
			dn := 2 * negScale * diffNeg[j]
			ga[j] = dp + dn
			gp[j] = -dp
			gn[j] = -dn
		}
		grads[3*i], grads[3*i+1], grads[3*i+2] = ga, gp, gn
	}

	res.Total = res.Pair + res.Triplet
	return res, grads, nil
}

// Strided returns the anchor, puller and pusher subsequences of an
// interleaved batch.
func Strided[T any](batch []T) (anchors, pullers, pushers []T) {
	for k := 0; k+2 < len(batch); k += 3 {
		anchors = append(anchors, batch[k])
		pullers = append(pullers, batch[k+1])
		pushers = append(pushers, batch[k+2])
	}
	return anchors, pullers, pushers
}
