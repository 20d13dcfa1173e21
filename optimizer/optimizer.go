// Package optimizer holds the closed registry of parameter-update rules.
// Optimizer state is an opaque blob to the checkpoint layer: each optimizer
// can snapshot and restore itself so a resumed run continues where the
// persisted one stopped.
package optimizer

import (
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
	pkgerrors "github.com/vortexml/traind/pkg/errors"
)

// Optimizer applies one update step to a flat parameter vector given the
// matching gradient vector. step is the global step counter, used by
// schedules.
type Optimizer interface {
	Step(params, grads []float64, step uint64) []float64
	State() ([]byte, error)
	Restore(blob []byte) error
}

// Config carries the schedule knobs shared by the registered optimizers.
type Config struct {
	BaseLearningRate          float64
	LearningRateDecay         float64
	LearningRateDecayExamples float64
	BatchSize                 int
}

var registry = map[string]func(Config) Optimizer{
	"sgd":  func(cfg Config) Optimizer { return &sgd{cfg: cfg} },
	"adam": func(cfg Config) Optimizer { return &adam{cfg: cfg, beta1: 0.9, beta2: 0.999, eps: 1e-8} },
}

// New resolves an optimizer identifier against the closed registry.
func New(name string, cfg Config) (Optimizer, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrUnknownOptimizer, name)
	}

	return ctor(cfg), nil
}

// ClipGradientNorm rescales grads in place so their global L2 norm does not
// exceed maxNorm. maxNorm <= 0 disables clipping.
func ClipGradientNorm(grads []float64, maxNorm float64) []float64 {
	if maxNorm <= 0 {
		return grads
	}

	var sum float64
	for _, g := range grads {
		sum += g * g
	}
	norm := math.Sqrt(sum)
	if norm <= maxNorm {
		return grads
	}

	scale := maxNorm / norm
	for i := range grads {
		grads[i] *= scale
	}

	return grads
}

// learningRate applies the exponential staircase decay driven by examples
// seen, matching decay every LearningRateDecayExamples examples.
func (c Config) learningRate(step uint64) float64 {
	if c.LearningRateDecay <= 0 || c.LearningRateDecay >= 1 || c.LearningRateDecayExamples <= 0 {
		return c.BaseLearningRate
	}

	examples := float64(step) * float64(c.BatchSize)
	exponent := math.Floor(examples / c.LearningRateDecayExamples)

	return c.BaseLearningRate * math.Pow(c.LearningRateDecay, exponent)
}

type sgd struct {
	cfg Config
}

func (o *sgd) Step(params, grads []float64, step uint64) []float64 {
	lr := o.cfg.learningRate(step)
	for i := range params {
		params[i] -= lr * grads[i]
	}

	return params
}

func (o *sgd) State() ([]byte, error) {
	return cbor.Marshal(struct{}{})
}

func (o *sgd) Restore(_ []byte) error {
	return nil
}

type adam struct {
	cfg   Config
	beta1 float64
	beta2 float64
	eps   float64

	m []float64
	v []float64
	t uint64
}

type adamState struct {
	M []float64 `cbor:"m"`
	V []float64 `cbor:"v"`
	T uint64    `cbor:"t"`
}

func (o *adam) Step(params, grads []float64, step uint64) []float64 {
	if len(o.m) != len(params) {
		o.m = make([]float64, len(params))
		o.v = make([]float64, len(params))
	}

	o.t++
	lr := o.cfg.learningRate(step)
	correction1 := 1 - math.Pow(o.beta1, float64(o.t))
	correction2 := 1 - math.Pow(o.beta2, float64(o.t))
	for i := range params {
		o.m[i] = o.beta1*o.m[i] + (1-o.beta1)*grads[i]
		o.v[i] = o.beta2*o.v[i] + (1-o.beta2)*grads[i]*grads[i]
		mHat := o.m[i] / correction1
		vHat := o.v[i] / correction2
		params[i] -= lr * mHat / (math.Sqrt(vHat) + o.eps)
	}

	return params
}

func (o *adam) State() ([]byte, error) {
	return cbor.Marshal(adamState{M: o.m, V: o.v, T: o.t})
}

func (o *adam) Restore(blob []byte) error {
	if len(blob) == 0 {
		return nil
	}

	var st adamState
	if err := cbor.Unmarshal(blob, &st); err != nil {
		return fmt.Errorf("failed to restore optimizer state: %w", err)
	}
	o.m, o.v, o.t = st.M, st.V, st.T

	return nil
}
