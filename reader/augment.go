package reader

import (
	"fmt"
	"math"
	"math/rand"

	pkgerrors "github.com/vortexml/traind/pkg/errors"
)

// Augmenter mutates a batch before it reaches the model. Augmentation only
// applies during training and never persists into checkpoints.
type Augmenter interface {
	Augment(batch Batch) Batch
}

// Transform reshapes feature vectors after augmentation.
type Transform interface {
	Apply(inputs [][]float64) [][]float64
}

// NewAugmenter resolves an augmenter identifier against the closed
// registry. noiseLevel only affects the "noise" augmenter.
func NewAugmenter(name string, noiseLevel float64, seed int64) (Augmenter, error) {
	switch name {
	case "", "default":
		return passthroughAugmenter{}, nil
	case "noise":
		return &noiseAugmenter{level: noiseLevel, rng: rand.New(rand.NewSource(seed))}, nil
	default:
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrUnknownAugmenter, name)
	}
}

// NewTransform resolves a feature-transform identifier against the closed
// registry.
func NewTransform(name string) (Transform, error) {
	switch name {
	case "", "default", "identity":
		return identityTransform{}, nil
	case "l2-normalize":
		return l2NormalizeTransform{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrUnknownTransform, name)
	}
}

type passthroughAugmenter struct{}

func (passthroughAugmenter) Augment(batch Batch) Batch {
	return batch
}

// noiseAugmenter adds gaussian noise with the configured standard deviation
// to every feature value.
type noiseAugmenter struct {
	level float64
	rng   *rand.Rand
}

func (a *noiseAugmenter) Augment(batch Batch) Batch {
	if a.level <= 0 {
		return batch
	}

	for i := range batch.Inputs {
		for j := range batch.Inputs[i] {
			batch.Inputs[i][j] += a.rng.NormFloat64() * a.level
		}
	}

	return batch
}

type identityTransform struct{}

func (identityTransform) Apply(inputs [][]float64) [][]float64 {
	return inputs
}

type l2NormalizeTransform struct{}

func (l2NormalizeTransform) Apply(inputs [][]float64) [][]float64 {
	for i := range inputs {
		var sum float64
		for _, v := range inputs[i] {
			sum += v * v
		}
		norm := math.Sqrt(sum)
		if norm == 0 {
			continue
		}
		for j := range inputs[i] {
			inputs[i][j] /= norm
		}
	}

	return inputs
}
