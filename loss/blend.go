package loss

import (
	"fmt"

	pkgerrors "github.com/vortexml/traind/pkg/errors"
)

// DistillationMode selects how distilled labels participate in the loss.
type DistillationMode string

const (
	// DistillationOff evaluates the loss on ground-truth labels only.
	DistillationOff DistillationMode = "off"
	// DistillationReplace interpolates between the ground-truth loss and
	// the distilled-label loss with a single blend coefficient.
	DistillationReplace DistillationMode = "replace"
	// DistillationBlend folds the distilled labels into the ground-truth
	// label vector itself, producing one hybrid target.
	DistillationBlend DistillationMode = "blend"
)

// BlendSpec fixes the loss-composition policy for the lifetime of a run.
type BlendSpec struct {
	Multitask    bool
	Distillation DistillationMode
	BlendPercent float64
}

// Validate rejects malformed spec combinations before the step loop starts.
// Compose itself never errors at runtime.
func (s BlendSpec) Validate(hasDistilledLabels, hasSupportPredictions bool, fn Loss) error {
	switch s.Distillation {
	case DistillationOff:
	case DistillationReplace, DistillationBlend:
		if s.BlendPercent < 0 || s.BlendPercent > 1 {
			return fmt.Errorf("%w: blend percent %v outside [0,1]", pkgerrors.ErrInvalidBlendSpec, s.BlendPercent)
		}
		if !hasDistilledLabels {
			return fmt.Errorf("%w: distillation mode %q requires a distillation-capable reader", pkgerrors.ErrInvalidBlendSpec, s.Distillation)
		}
	default:
		return fmt.Errorf("%w: unknown distillation mode %q", pkgerrors.ErrInvalidBlendSpec, s.Distillation)
	}

	if s.Multitask {
		if !hasSupportPredictions {
			return fmt.Errorf("%w: multitask mode requires a model with support predictions", pkgerrors.ErrInvalidBlendSpec)
		}
		if _, ok := fn.(MultiTask); !ok {
			return fmt.Errorf("%w: multitask mode requires a multitask-capable loss", pkgerrors.ErrInvalidBlendSpec)
		}
	}

	return nil
}

// Signals carries the per-step inputs to Compose as an explicit bundle of
// named handles rather than any shared side-channel state.
type Signals struct {
	Predictions        [][]float64
	SupportPredictions [][]float64
	Labels             [][]float64
	DistilledLabels    [][]float64
	SampleWeights      []float64

	// ModelLoss is set when the model supplied its own label loss, which
	// then takes precedence over the composed one.
	ModelLoss *float64
	// RegularizationLoss is the model-supplied regularization term; nil
	// defaults to zero.
	RegularizationLoss *float64
	// CollectedRegularization holds any globally collected regularization
	// terms to be summed into the final scalar.
	CollectedRegularization []float64
}

// Compose combines the primary, auxiliary and distillation loss signals into
// the single scalar for one step:
//
//	final = regularizationPenalty * regLoss + labelLoss
//
// The BlendSpec must have passed Validate; Compose does not re-check it.
func Compose(fn Loss, sig Signals, spec BlendSpec, regularizationPenalty float64) float64 {
	labelLoss := composeLabelLoss(fn, sig, spec)

	var regLoss float64
	if sig.RegularizationLoss != nil {
		regLoss = *sig.RegularizationLoss
	}
	for _, term := range sig.CollectedRegularization {
		regLoss += term
	}

	return regularizationPenalty*regLoss + labelLoss
}

func composeLabelLoss(fn Loss, sig Signals, spec BlendSpec) float64 {
	if sig.ModelLoss != nil {
		return *sig.ModelLoss
	}

	evaluate := func(labels [][]float64) float64 {
		if spec.Multitask {
			return fn.(MultiTask).CalculateMultiTask(sig.Predictions, sig.SupportPredictions, labels, sig.SampleWeights)
		}

		return fn.Calculate(sig.Predictions, labels, sig.SampleWeights)
	}

	switch spec.Distillation {
	case DistillationReplace:
		p := spec.BlendPercent
		switch {
		case p <= 0:
			return evaluate(sig.Labels)
		case p >= 1:
			return evaluate(sig.DistilledLabels)
		default:
			return (1-p)*evaluate(sig.Labels) + p*evaluate(sig.DistilledLabels)
		}
	case DistillationBlend:
		return evaluate(BlendLabels(sig.Labels, sig.DistilledLabels, spec.BlendPercent))
	default:
		return evaluate(sig.Labels)
	}
}

// BlendLabels reshapes the distilled label vectors so each example's
// distilled mass matches its ground-truth mass, folds them into the
// ground-truth labels with weight p, and clips elementwise into [0,1]. The
// epsilon keeps the rescaling finite when a distilled vector sums to zero.
func BlendLabels(labels, distilled [][]float64, p float64) [][]float64 {
	hybrid := make([][]float64, len(labels))
	for i := range labels {
		var labelSum, distilledSum float64
		for _, v := range labels[i] {
			labelSum += v
		}
		for _, v := range distilled[i] {
			distilledSum += v
		}
		scale := labelSum / (distilledSum + epsilon) * p

		row := make([]float64, len(labels[i]))
		for j := range labels[i] {
			row[j] = clip(labels[i][j]+distilled[i][j]*scale, 0, 1)
		}
		hybrid[i] = row
	}

	return hybrid
}
