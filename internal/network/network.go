// Package network implements the convolutional descriptor network: two
// conv+ReLU+maxpool stages followed by a hidden ReLU dense layer and a linear
// descriptor layer.
package network

import (
	"context"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
)

// Architecture describes the layer sizes. Images are HWC.
type Architecture struct {
	Height   int `json:"height"`
	Width    int `json:"width"`
	Channels int `json:"channels"`

	Conv1Filters int `json:"conv1_filters"`
	Conv1Kernel  int `json:"conv1_kernel"`
	Conv2Filters int `json:"conv2_filters"`
	Conv2Kernel  int `json:"conv2_kernel"`

	Hidden     int `json:"hidden"`
	Descriptor int `json:"descriptor"`
}

// DefaultArchitecture is the 64x64x3 -> 16 network used for the object dataset.
func DefaultArchitecture() Architecture {
	return Architecture{
		Height: 64, Width: 64, Channels: 3,
		Conv1Filters: 16, Conv1Kernel: 8,
		Conv2Filters: 7, Conv2Kernel: 5,
		Hidden:     256,
		Descriptor: 16,
	}
}

// InputSize is the number of values in one input image.
func (a Architecture) InputSize() int {
	return a.Height * a.Width * a.Channels
}

type spatial struct {
	conv1H, conv1W int
	pool1H, pool1W int
	conv2H, conv2W int
	pool2H, pool2W int
}

func (a Architecture) spatial() spatial {
	var s spatial
	s.conv1H, s.conv1W = a.Height-a.Conv1Kernel+1, a.Width-a.Conv1Kernel+1
	s.pool1H, s.pool1W = s.conv1H/2, s.conv1W/2
	s.conv2H, s.conv2W = s.pool1H-a.Conv2Kernel+1, s.pool1W-a.Conv2Kernel+1
	s.pool2H, s.pool2W = s.conv2H/2, s.conv2W/2
	return s
}

// FlatSize is the length of the flattened second pooling output.
func (a Architecture) FlatSize() int {
	s := a.spatial()
	return s.pool2H * s.pool2W * a.Conv2Filters
}

// Validate checks that every layer size is positive and the spatial sizes
// chain through both conv/pool stages.
func (a Architecture) Validate() error {
	for name, v := range map[string]int{
		"height": a.Height, "width": a.Width, "channels": a.Channels,
		"conv1 filters": a.Conv1Filters, "conv1 kernel": a.Conv1Kernel,
		"conv2 filters": a.Conv2Filters, "conv2 kernel": a.Conv2Kernel,
		"hidden": a.Hidden, "descriptor": a.Descriptor,
	} {
		if v <= 0 {
			return errors.Errorf("%s must be positive, got %d", name, v)
		}
	}

	s := a.spatial()
	if s.pool2H <= 0 || s.pool2W <= 0 {
		return errors.Errorf("input %dx%d is too small for kernels %d and %d",
			a.Height, a.Width, a.Conv1Kernel, a.Conv2Kernel)
	}
	return nil
}

// Network is the descriptor network. Forward passes only read the
// parameters, so Embed may be called concurrently as long as no optimizer
// step runs at the same time.
type Network struct {
	arch Architecture

	conv1 *conv2D
	pool1 *maxPool2
	conv2 *conv2D
	pool2 *maxPool2
	fc1   *dense
	fc2   *dense
}

// New builds a network with Glorot-uniform kernels and zero biases.
func New(arch Architecture, seed int64) (*Network, error) {
	n, err := build(arch)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	k1, k2 := arch.Conv1Kernel*arch.Conv1Kernel, arch.Conv2Kernel*arch.Conv2Kernel
	n.conv1.weights.glorotUniform(rng, k1*arch.Channels, k1*arch.Conv1Filters)
	n.conv2.weights.glorotUniform(rng, k2*arch.Conv1Filters, k2*arch.Conv2Filters)
	n.fc1.weights.glorotUniform(rng, arch.FlatSize(), arch.Hidden)
	n.fc2.weights.glorotUniform(rng, arch.Hidden, arch.Descriptor)

	return n, nil
}

func build(arch Architecture) (*Network, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}

	s := arch.spatial()
	return &Network{
		arch:  arch,
		conv1: newConv2D("conv1", arch.Height, arch.Width, arch.Channels, arch.Conv1Kernel, arch.Conv1Filters),
		pool1: newMaxPool2(s.conv1H, s.conv1W, arch.Conv1Filters),
		conv2: newConv2D("conv2", s.pool1H, s.pool1W, arch.Conv1Filters, arch.Conv2Kernel, arch.Conv2Filters),
		pool2: newMaxPool2(s.conv2H, s.conv2W, arch.Conv2Filters),
		fc1:   newDense("fc1", arch.FlatSize(), arch.Hidden, true),
		fc2:   newDense("fc2", arch.Hidden, arch.Descriptor, false),
	}, nil
}

// Architecture returns the layer sizes of n.
func (n *Network) Architecture() Architecture {
	return n.arch
}

// Params returns the trainable parameters in a fixed order.
func (n *Network) Params() []*Param {
	return []*Param{
		n.conv1.weights, n.conv1.bias,
		n.conv2.weights, n.conv2.bias,
		n.fc1.weights, n.fc1.bias,
		n.fc2.weights, n.fc2.bias,
	}
}

// Activations keeps the intermediate values of one forward pass for backward.
type Activations struct {
	input  []float64
	cols1  []float64
	conv1  []float64
	pool1  []float64
	arg1   []int
	cols2  []float64
	conv2  []float64
	pool2  []float64
	arg2   []int
	hidden []float64
	Output []float64
}

// Forward runs one image through the network and keeps the activations.
func (n *Network) Forward(image []float32) (*Activations, error) {
	if len(image) != n.arch.InputSize() {
		return nil, errors.Errorf("image has %d values, network expects %d", len(image), n.arch.InputSize())
	}

	a := &Activations{input: make([]float64, len(image))}
	for i, v := range image {
		a.input[i] = float64(v)
	}

	a.cols1, a.conv1 = n.conv1.forward(a.input)
	a.pool1, a.arg1 = n.pool1.forward(a.conv1)
	a.cols2, a.conv2 = n.conv2.forward(a.pool1)
	a.pool2, a.arg2 = n.pool2.forward(a.conv2)
	a.hidden = n.fc1.forward(a.pool2)
	a.Output = n.fc2.forward(a.hidden)

	return a, nil
}

// Embed returns the descriptor of one image.
func (n *Network) Embed(image []float32) ([]float64, error) {
	a, err := n.Forward(image)
	if err != nil {
		return nil, err
	}
	return a.Output, nil
}

// Backward accumulates into g the parameter gradients for a forward pass
// given dOut, the loss gradient w.r.t. the descriptor. dOut is not modified.
func (n *Network) Backward(a *Activations, dOut []float64, g *Gradients) {
	d := append([]float64(nil), dOut...)

	d = n.fc2.backward(a.hidden, a.Output, d, g.grads[6], g.grads[7])
	d = n.fc1.backward(a.pool2, a.hidden, d, g.grads[4], g.grads[5])
	d = n.pool2.backward(a.arg2, d)
	d = n.conv2.backward(a.cols2, a.conv2, d, g.grads[2], g.grads[3], true)
	d = n.pool1.backward(a.arg1, d)
	n.conv1.backward(a.cols1, a.conv1, d, g.grads[0], g.grads[1], false)
}

// EmbedBatch embeds images on workers goroutines. The result is index
// aligned with images.
func (n *Network) EmbedBatch(ctx context.Context, images [][]float32, workers int) ([][]float64, error) {
	if workers < 1 {
		workers = 1
	}

	out := make([][]float64, len(images))
	jobs := make(chan int)
	errs := make(chan error, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				e, err := n.Embed(images[i])
				if err != nil {
					errs <- errors.Wrapf(err, "image %d", i)
					return
				}
				out[i] = e
			}
		}()
	}

	var err error
feed:
	for i := range images {
		select {
		case jobs <- i:
		case <-ctx.Done():
			err = ctx.Err()
			break feed
		case err = <-errs:
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err != nil {
		return nil, err
	}
	select {
	case err = <-errs:
		return nil, err
	default:
	}
	return out, nil
}

// Gradients holds one gradient buffer per parameter, in Params order.
type Gradients struct {
	grads [][]float64
}

// NewGradients allocates zeroed gradient buffers shaped like n's parameters.
func (n *Network) NewGradients() *Gradients {
	params := n.Params()
	g := &Gradients{grads: make([][]float64, len(params))}
	for i, p := range params {
		g.grads[i] = make([]float64, len(p.Data))
	}
	return g
}

// Add accumulates o into g.
func (g *Gradients) Add(o *Gradients) {
	for i := range g.grads {
		for j, v := range o.grads[i] {
			g.grads[i][j] += v
		}
	}
}

// Zero resets every buffer.
func (g *Gradients) Zero() {
	for _, buf := range g.grads {
		for j := range buf {
			buf[j] = 0
		}
	}
}

// Slice returns the buffer for parameter i.
func (g *Gradients) Slice(i int) []float64 {
	return g.grads[i]
}
