package network

import (
	"math"

	"github.com/pkg/errors"
)

// AdamConfig holds the optimizer hyperparameters.
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
}

// DefaultAdamConfig returns lr 0.001, beta1 0.9, beta2 0.999, epsilon 1e-8.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{LearningRate: 0.001, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}
}

// Validate checks the hyperparameter ranges.
func (c AdamConfig) Validate() error {
	if c.LearningRate <= 0 {
		return errors.Errorf("learning rate must be positive, got %f", c.LearningRate)
	}
	if c.Beta1 <= 0 || c.Beta1 >= 1 {
		return errors.Errorf("Adam beta1 must be in (0, 1), got %f", c.Beta1)
	}
	if c.Beta2 <= 0 || c.Beta2 >= 1 {
		return errors.Errorf("Adam beta2 must be in (0, 1), got %f", c.Beta2)
	}
	if c.Epsilon <= 0 {
		return errors.Errorf("Adam epsilon must be positive, got %f", c.Epsilon)
	}
	return nil
}

// Adam keeps first and second moment estimates for every parameter.
type Adam struct {
	cfg  AdamConfig
	step int
	m    [][]float64
	v    [][]float64
}

// NewAdam returns an optimizer for the parameters of n.
func NewAdam(n *Network, cfg AdamConfig) (*Adam, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	params := n.Params()
	a := &Adam{cfg: cfg, m: make([][]float64, len(params)), v: make([][]float64, len(params))}
	for i, p := range params {
		a.m[i] = make([]float64, len(p.Data))
		a.v[i] = make([]float64, len(p.Data))
	}
	return a, nil
}

// Step applies one update with bias-corrected step size
// lr * sqrt(1-beta2^t) / (1-beta1^t).
func (a *Adam) Step(n *Network, g *Gradients) {
	a.step++
	t := float64(a.step)
	lr := a.cfg.LearningRate * math.Sqrt(1-math.Pow(a.cfg.Beta2, t)) / (1 - math.Pow(a.cfg.Beta1, t))

	for i, p := range n.Params() {
		m, v, grad := a.m[i], a.v[i], g.Slice(i)
		for j := range p.Data {
			m[j] = a.cfg.Beta1*m[j] + (1-a.cfg.Beta1)*grad[j]
			v[j] = a.cfg.Beta2*v[j] + (1-a.cfg.Beta2)*grad[j]*grad[j]
			p.Data[j] -= lr * m[j] / (math.Sqrt(v[j]) + a.cfg.Epsilon)
		}
	}
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int {
	return a.step
}
