package model

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	pkgerrors "github.com/vortexml/traind/pkg/errors"
)

const moeExperts = 2

// mixtureOfExperts gates a small set of per-class logistic experts and
// reports the strongest expert's output as support predictions, making it
// usable with the multitask loss form.
type mixtureOfExperts struct {
	cfg Config
	// layout: experts x (features+1) x classes, followed by the gate
	// weights (features+1) x experts.
	weights []float64
	rng     *rand.Rand

	lastInputs [][]float64
	lastGates  [][]float64
}

func newMixtureOfExperts(cfg Config) *mixtureOfExperts {
	expertSize := (cfg.NumFeatures + 1) * cfg.NumClasses
	gateSize := (cfg.NumFeatures + 1) * moeExperts

	return &mixtureOfExperts{
		cfg:     cfg,
		weights: make([]float64, moeExperts*expertSize+gateSize),
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (m *mixtureOfExperts) Compute(_ context.Context, inputs [][]float64) (Output, error) {
	m.lastInputs = inputs
	m.lastGates = make([][]float64, len(inputs))

	predictions := make([][]float64, len(inputs))
	support := make([][]float64, len(inputs))
	for i, features := range inputs {
		if len(features) != m.cfg.NumFeatures {
			return Output{}, fmt.Errorf("expected %d features, got %d", m.cfg.NumFeatures, len(features))
		}

		gates := m.gate(features)
		m.lastGates[i] = gates

		expertOut := make([][]float64, moeExperts)
		for e := 0; e < moeExperts; e++ {
			expertOut[e] = m.expertForward(e, features)
		}

		row := make([]float64, m.cfg.NumClasses)
		for c := 0; c < m.cfg.NumClasses; c++ {
			for e := 0; e < moeExperts; e++ {
				row[c] += gates[e] * expertOut[e][c]
			}
		}
		predictions[i] = row
		support[i] = expertOut[strongestGate(gates)]
	}

	out := Output{Predictions: predictions, SupportPredictions: support}
	if m.cfg.L2Penalty > 0 {
		reg := m.cfg.L2Penalty * l2(m.weights)
		out.RegularizationLoss = &reg
	}

	return out, nil
}

func (m *mixtureOfExperts) gate(features []float64) []float64 {
	logits := make([]float64, moeExperts)
	base := moeExperts * (m.cfg.NumFeatures + 1) * m.cfg.NumClasses
	for e := 0; e < moeExperts; e++ {
		z := m.weights[base+m.cfg.NumFeatures*moeExperts+e] // gate bias
		for f, x := range features {
			z += m.weights[base+f*moeExperts+e] * x
		}
		logits[e] = z
	}

	return softmax(logits)
}

func (m *mixtureOfExperts) expertForward(expert int, features []float64) []float64 {
	expertSize := (m.cfg.NumFeatures + 1) * m.cfg.NumClasses
	base := expert * expertSize

	row := make([]float64, m.cfg.NumClasses)
	for c := 0; c < m.cfg.NumClasses; c++ {
		z := m.weights[base+m.cfg.NumFeatures*m.cfg.NumClasses+c]
		for f, x := range features {
			z += m.weights[base+f*m.cfg.NumClasses+c] * x
		}
		row[c] = sigmoid(z)
	}

	return row
}

// Gradients approximates the blended cross-entropy gradient by routing each
// example's error through its gate-weighted experts.
func (m *mixtureOfExperts) Gradients(out Output, labels [][]float64) []float64 {
	grads := make([]float64, len(m.weights))
	if len(out.Predictions) == 0 {
		return grads
	}

	expertSize := (m.cfg.NumFeatures + 1) * m.cfg.NumClasses
	batch := float64(len(out.Predictions))
	for i, preds := range out.Predictions {
		gates := m.lastGates[i]
		for c := 0; c < m.cfg.NumClasses; c++ {
			delta := (preds[c] - labels[i][c]) / batch
			for e := 0; e < moeExperts; e++ {
				base := e * expertSize
				routed := delta * gates[e]
				for f := 0; f < m.cfg.NumFeatures; f++ {
					grads[base+f*m.cfg.NumClasses+c] += routed * m.lastInputs[i][f]
				}
				grads[base+m.cfg.NumFeatures*m.cfg.NumClasses+c] += routed
			}
		}
	}

	return grads
}

func (m *mixtureOfExperts) Parameters() []float64 {
	params := make([]float64, len(m.weights))
	copy(params, m.weights)

	return params
}

func (m *mixtureOfExperts) SetParameters(params []float64) error {
	if len(params) != len(m.weights) {
		return fmt.Errorf("%w: expected %d parameters, got %d", pkgerrors.ErrInvalidData, len(m.weights), len(params))
	}
	copy(m.weights, params)

	return nil
}

func softmax(logits []float64) []float64 {
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}

	var sum float64
	probs := make([]float64, len(logits))
	for i, v := range logits {
		probs[i] = math.Exp(v - max)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}

	return probs
}

func strongestGate(gates []float64) int {
	best := 0
	for i := 1; i < len(gates); i++ {
		if gates[i] > gates[best] {
			best = i
		}
	}

	return best
}
