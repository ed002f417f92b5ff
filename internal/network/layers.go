package network

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Param is a trainable tensor stored row-major as Rows x Cols.
type Param struct {
	Name string
	Rows int
	Cols int
	Data []float64
}

func newParam(name string, rows, cols int) *Param {
	return &Param{Name: name, Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// glorotUniform fills p with U(-l, l), l = sqrt(6/(fanIn+fanOut)).
func (p *Param) glorotUniform(rng *rand.Rand, fanIn, fanOut int) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range p.Data {
		p.Data[i] = (rng.Float64()*2 - 1) * limit
	}
}

// conv2D is a valid-padding, stride 1 convolution over HWC tensors with a
// ReLU on its output.
type conv2D struct {
	inH, inW, inC int
	kernel        int
	filters       int
	outH, outW    int

	weights *Param // (kernel*kernel*inC) x filters
	bias    *Param // 1 x filters
}

func newConv2D(name string, inH, inW, inC, kernel, filters int) *conv2D {
	return &conv2D{
		inH: inH, inW: inW, inC: inC,
		kernel:  kernel,
		filters: filters,
		outH:    inH - kernel + 1,
		outW:    inW - kernel + 1,
		weights: newParam(name+"/kernel", kernel*kernel*inC, filters),
		bias:    newParam(name+"/bias", 1, filters),
	}
}

func (c *conv2D) patch() int {
	return c.kernel * c.kernel * c.inC
}

// im2col lays every receptive field of x out as one row.
func (c *conv2D) im2col(x []float64) []float64 {
	positions := c.outH * c.outW
	patch := c.patch()
	cols := make([]float64, positions*patch)

	for oy := 0; oy < c.outH; oy++ {
		for ox := 0; ox < c.outW; ox++ {
			row := cols[(oy*c.outW+ox)*patch:]
			i := 0
			for ky := 0; ky < c.kernel; ky++ {
				src := ((oy+ky)*c.inW + ox) * c.inC
				n := c.kernel * c.inC
				copy(row[i:i+n], x[src:src+n])
				i += n
			}
		}
	}
	return cols
}

// col2im scatters patch gradients back onto the input grid.
func (c *conv2D) col2im(dCols []float64) []float64 {
	patch := c.patch()
	dx := make([]float64, c.inH*c.inW*c.inC)

	for oy := 0; oy < c.outH; oy++ {
		for ox := 0; ox < c.outW; ox++ {
			row := dCols[(oy*c.outW+ox)*patch:]
			i := 0
			for ky := 0; ky < c.kernel; ky++ {
				dst := ((oy+ky)*c.inW + ox) * c.inC
				n := c.kernel * c.inC
				floats.Add(dx[dst:dst+n], row[i:i+n])
				i += n
			}
		}
	}
	return dx
}

// forward returns the im2col matrix (kept for backward) and the activated
// output in HWC layout.
func (c *conv2D) forward(x []float64) (cols, out []float64) {
	positions := c.outH * c.outW
	cols = c.im2col(x)

	colsM := mat.NewDense(positions, c.patch(), cols)
	w := mat.NewDense(c.patch(), c.filters, c.weights.Data)

	outM := mat.NewDense(positions, c.filters, nil)
	outM.Mul(colsM, w)

	out = outM.RawMatrix().Data
	for p := 0; p < positions; p++ {
		row := out[p*c.filters : (p+1)*c.filters]
		floats.Add(row, c.bias.Data)
		relu(row)
	}
	return cols, out
}

// backward takes the gradient w.r.t. the activated output, accumulates
// parameter gradients into gw/gb and returns the input gradient when
// needInput is set.
func (c *conv2D) backward(cols, out, dOut, gw, gb []float64, needInput bool) []float64 {
	positions := c.outH * c.outW
	reluBackward(out, dOut)

	for p := 0; p < positions; p++ {
		floats.Add(gb, dOut[p*c.filters:(p+1)*c.filters])
	}

	colsM := mat.NewDense(positions, c.patch(), cols)
	dOutM := mat.NewDense(positions, c.filters, dOut)

	var dw mat.Dense
	dw.Mul(colsM.T(), dOutM)
	floats.Add(gw, dw.RawMatrix().Data)

	if !needInput {
		return nil
	}

	w := mat.NewDense(c.patch(), c.filters, c.weights.Data)
	var dCols mat.Dense
	dCols.Mul(dOutM, w.T())
	return c.col2im(dCols.RawMatrix().Data)
}

// maxPool2 is a 2x2 stride 2 valid max pool over HWC tensors.
type maxPool2 struct {
	inH, inW, ch int
	outH, outW   int
}

func newMaxPool2(inH, inW, ch int) *maxPool2 {
	return &maxPool2{inH: inH, inW: inW, ch: ch, outH: inH / 2, outW: inW / 2}
}

// forward returns the pooled tensor and, per output value, the input
// position that won.
func (m *maxPool2) forward(x []float64) (out []float64, argmax []int) {
	out = make([]float64, m.outH*m.outW*m.ch)
	argmax = make([]int, len(out))

	for oy := 0; oy < m.outH; oy++ {
		for ox := 0; ox < m.outW; ox++ {
			for c := 0; c < m.ch; c++ {
				o := (oy*m.outW+ox)*m.ch + c
				best := math.Inf(-1)
				bestIdx := 0
				for dy := 0; dy < 2; dy++ {
					for dx := 0; dx < 2; dx++ {
						i := ((2*oy+dy)*m.inW+2*ox+dx)*m.ch + c
						if x[i] > best {
							best = x[i]
							bestIdx = i
						}
					}
				}
				out[o] = best
				argmax[o] = bestIdx
			}
		}
	}
	return out, argmax
}

func (m *maxPool2) backward(argmax []int, dOut []float64) []float64 {
	dx := make([]float64, m.inH*m.inW*m.ch)
	for o, i := range argmax {
		dx[i] += dOut[o]
	}
	return dx
}

// dense is a fully connected layer y = xW + b.
type dense struct {
	in, out int
	relu    bool

	weights *Param // in x out
	bias    *Param // 1 x out
}

func newDense(name string, in, out int, activation bool) *dense {
	return &dense{
		in: in, out: out,
		relu:    activation,
		weights: newParam(name+"/kernel", in, out),
		bias:    newParam(name+"/bias", 1, out),
	}
}

func (d *dense) forward(x []float64) []float64 {
	w := mat.NewDense(d.in, d.out, d.weights.Data)

	var y mat.VecDense
	y.MulVec(w.T(), mat.NewVecDense(d.in, x))

	out := make([]float64, d.out)
	floats.AddTo(out, y.RawVector().Data, d.bias.Data)
	if d.relu {
		relu(out)
	}
	return out
}

func (d *dense) backward(x, out, dOut, gw, gb []float64) []float64 {
	if d.relu {
		reluBackward(out, dOut)
	}
	floats.Add(gb, dOut)

	// gw += x^T dOut, an outer product
	for i, xi := range x {
		if xi == 0 {
			continue
		}
		floats.AddScaled(gw[i*d.out:(i+1)*d.out], xi, dOut)
	}

	w := mat.NewDense(d.in, d.out, d.weights.Data)
	var dx mat.VecDense
	dx.MulVec(w, mat.NewVecDense(d.out, dOut))
	return dx.RawVector().Data
}

func relu(v []float64) {
	for i, x := range v {
		if x < 0 {
			v[i] = 0
		}
	}
}

// reluBackward zeroes gradient entries whose activation was clipped.
func reluBackward(activated, grad []float64) {
	for i, a := range activated {
		if a <= 0 {
			grad[i] = 0
		}
	}
}
