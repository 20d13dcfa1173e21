// Package model holds the closed registry of trainable models. The training
// loop treats a model as an opaque function from an input batch to an
// Output: the explicit struct of named handles threaded through the loop.
package model

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	pkgerrors "github.com/vortexml/traind/pkg/errors"
)

// Output is everything a model hands back for one batch. Optional signals
// are nil when the model does not produce them.
type Output struct {
	Predictions        [][]float64
	SupportPredictions [][]float64
	Loss               *float64
	RegularizationLoss *float64
}

// Model is the opaque compute function plus the parameter surface the
// optimizer and the parameter holder operate on.
type Model interface {
	Compute(ctx context.Context, inputs [][]float64) (Output, error)
	Gradients(out Output, labels [][]float64) []float64
	Parameters() []float64
	SetParameters(params []float64) error
}

// Config fixes the model dimensions and training-time knobs for a run.
type Config struct {
	NumFeatures int
	NumClasses  int
	Dropout     bool
	KeepProb    float64
	L2Penalty   float64
	Seed        int64
}

type entry struct {
	ctor func(Config) Model
	// multitask marks models that emit support predictions.
	multitask bool
}

var registry = map[string]entry{
	"logistic": {ctor: func(cfg Config) Model { return newLogistic(cfg) }},
	"moe":      {ctor: func(cfg Config) Model { return newMixtureOfExperts(cfg) }, multitask: true},
}

// New resolves a model identifier against the closed registry.
func New(name string, cfg Config) (Model, error) {
	e, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrUnknownModel, name)
	}

	return e.ctor(cfg), nil
}

// SupportsMultitask reports whether the named model emits support
// predictions. Resolution failures surface through New.
func SupportsMultitask(name string) bool {
	return registry[name].multitask
}

// logistic is an independent per-class logistic regression over the raw
// feature vector plus a bias term.
type logistic struct {
	cfg     Config
	weights []float64 // (features+1) x classes, row-major
	rng     *rand.Rand

	// lastInputs holds the batch most recently passed to Compute; Gradients
	// is only meaningful for that batch.
	lastInputs [][]float64
}

func newLogistic(cfg Config) *logistic {
	if cfg.KeepProb <= 0 || cfg.KeepProb > 1 {
		cfg.KeepProb = 1
	}

	return &logistic{
		cfg:     cfg,
		weights: make([]float64, (cfg.NumFeatures+1)*cfg.NumClasses),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (m *logistic) Compute(_ context.Context, inputs [][]float64) (Output, error) {
	m.lastInputs = inputs
	predictions := make([][]float64, len(inputs))
	for i, features := range inputs {
		if len(features) != m.cfg.NumFeatures {
			return Output{}, fmt.Errorf("expected %d features, got %d", m.cfg.NumFeatures, len(features))
		}
		predictions[i] = m.forward(features)
	}

	out := Output{Predictions: predictions}
	if m.cfg.L2Penalty > 0 {
		reg := m.cfg.L2Penalty * l2(m.weights)
		out.RegularizationLoss = &reg
	}

	return out, nil
}

func (m *logistic) forward(features []float64) []float64 {
	row := make([]float64, m.cfg.NumClasses)
	for c := 0; c < m.cfg.NumClasses; c++ {
		z := m.weights[m.cfg.NumFeatures*m.cfg.NumClasses+c] // bias
		for f, x := range features {
			if m.cfg.Dropout && m.rng.Float64() > m.cfg.KeepProb {
				continue
			}
			z += m.weights[f*m.cfg.NumClasses+c] * x
		}
		row[c] = sigmoid(z)
	}

	return row
}

// Gradients returns the cross-entropy gradient of the flat weight vector.
func (m *logistic) Gradients(out Output, labels [][]float64) []float64 {
	grads := make([]float64, len(m.weights))
	if len(out.Predictions) == 0 {
		return grads
	}

	batch := float64(len(out.Predictions))
	for i, preds := range out.Predictions {
		for c := 0; c < m.cfg.NumClasses; c++ {
			delta := (preds[c] - labels[i][c]) / batch
			for f := 0; f < m.cfg.NumFeatures; f++ {
				grads[f*m.cfg.NumClasses+c] += delta * m.lastInputs[i][f]
			}
			grads[m.cfg.NumFeatures*m.cfg.NumClasses+c] += delta
		}
	}

	return grads
}

func (m *logistic) Parameters() []float64 {
	params := make([]float64, len(m.weights))
	copy(params, m.weights)

	return params
}

func (m *logistic) SetParameters(params []float64) error {
	if len(params) != len(m.weights) {
		return fmt.Errorf("%w: expected %d parameters, got %d", pkgerrors.ErrInvalidData, len(m.weights), len(params))
	}
	copy(m.weights, params)

	return nil
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func l2(vs []float64) float64 {
	var sum float64
	for _, v := range vs {
		sum += v * v
	}

	return sum / 2
}
