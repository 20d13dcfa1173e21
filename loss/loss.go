// Package loss defines the label-loss functions available to a training run
// and the policy that composes primary, auxiliary and distillation signals
// into the single scalar minimized each step.
package loss

import (
	"fmt"
	"math"

	pkgerrors "github.com/vortexml/traind/pkg/errors"
)

const epsilon = 1e-6

// Loss evaluates a scalar label loss over one batch. weights holds optional
// per-example sample weights; nil means uniform weighting.
type Loss interface {
	Calculate(predictions, labels [][]float64, weights []float64) float64
}

// MultiTask is implemented by losses that additionally consume the support
// predictions produced by multitask models.
type MultiTask interface {
	Loss
	CalculateMultiTask(predictions, support, labels [][]float64, weights []float64) float64
}

// Registry resolution happens once at startup. Unknown identifiers fail the
// process before the step loop runs.
var registry = map[string]func() Loss{
	"cross-entropy":           func() Loss { return CrossEntropy{} },
	"hinge":                   func() Loss { return Hinge{Margin: 1.0} },
	"multitask-cross-entropy": func() Loss { return MultiTaskCrossEntropy{SupportWeight: 0.5} },
}

// New resolves a loss identifier against the closed registry.
func New(name string) (Loss, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrUnknownLoss, name)
	}

	return ctor(), nil
}

// Names lists the registered loss identifiers.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}

	return names
}

// CrossEntropy is the elementwise binary cross-entropy averaged over the
// batch, with predictions clipped away from 0 and 1.
type CrossEntropy struct{}

func (CrossEntropy) Calculate(predictions, labels [][]float64, weights []float64) float64 {
	if len(predictions) == 0 {
		return 0
	}

	var total, weightSum float64
	for i := range predictions {
		var example float64
		for j := range predictions[i] {
			p := clip(predictions[i][j], epsilon, 1-epsilon)
			y := labels[i][j]
			example -= y*math.Log(p) + (1-y)*math.Log(1-p)
		}
		w := exampleWeight(weights, i)
		total += example * w
		weightSum += w
	}

	return total / weightSum
}

// Hinge computes max(0, margin - (2y-1)*p) summed over classes and averaged
// over the batch.
type Hinge struct {
	Margin float64
}

func (h Hinge) Calculate(predictions, labels [][]float64, weights []float64) float64 {
	if len(predictions) == 0 {
		return 0
	}

	var total, weightSum float64
	for i := range predictions {
		var example float64
		for j := range predictions[i] {
			sign := 2*labels[i][j] - 1
			if v := h.Margin - sign*predictions[i][j]; v > 0 {
				example += v
			}
		}
		w := exampleWeight(weights, i)
		total += example * w
		weightSum += w
	}

	return total / weightSum
}

// MultiTaskCrossEntropy evaluates cross-entropy on the main predictions and
// on the support predictions against the same labels, combining them with
// SupportWeight.
type MultiTaskCrossEntropy struct {
	SupportWeight float64
}

func (m MultiTaskCrossEntropy) Calculate(predictions, labels [][]float64, weights []float64) float64 {
	return CrossEntropy{}.Calculate(predictions, labels, weights)
}

func (m MultiTaskCrossEntropy) CalculateMultiTask(predictions, support, labels [][]float64, weights []float64) float64 {
	main := CrossEntropy{}.Calculate(predictions, labels, weights)
	aux := CrossEntropy{}.Calculate(support, labels, weights)

	return main + m.SupportWeight*aux
}

func exampleWeight(weights []float64, i int) float64 {
	if weights == nil || i >= len(weights) {
		return 1
	}

	return weights[i]
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}

	return v
}
