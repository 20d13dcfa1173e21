package optimizer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/vortexml/traind/pkg/errors"
)

func TestNew(t *testing.T) {
	for _, name := range []string{"sgd", "adam"} {
		opt, err := New(name, Config{BaseLearningRate: 0.1})
		require.NoError(t, err)
		assert.NotNil(t, opt)
	}

	_, err := New("rmsprop", Config{})
	assert.ErrorIs(t, err, pkgerrors.ErrUnknownOptimizer)
}

func TestSGDStep(t *testing.T) {
	opt, err := New("sgd", Config{BaseLearningRate: 0.5})
	require.NoError(t, err)

	params := opt.Step([]float64{1, 1}, []float64{1, -2}, 0)
	assert.InDelta(t, 0.5, params[0], 1e-9)
	assert.InDelta(t, 2.0, params[1], 1e-9)
}

func TestLearningRateDecay(t *testing.T) {
	cfg := Config{
		BaseLearningRate:          0.1,
		LearningRateDecay:         0.5,
		LearningRateDecayExamples: 1000,
		BatchSize:                 100,
	}

	cases := []struct {
		name     string
		step     uint64
		expected float64
	}{
		{
			name:     "no examples seen",
			step:     0,
			expected: 0.1,
		},
		{
			name:     "just below the first decay boundary",
			step:     9,
			expected: 0.1,
		},
		{
			name:     "first decay boundary",
			step:     10,
			expected: 0.05,
		},
		{
			name:     "two boundaries in",
			step:     25,
			expected: 0.025,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, cfg.learningRate(tc.step), 1e-9)
		})
	}

	t.Run("decay disabled", func(t *testing.T) {
		flat := Config{BaseLearningRate: 0.1, LearningRateDecay: 1, BatchSize: 100}
		assert.InDelta(t, 0.1, flat.learningRate(1_000_000), 1e-9)
	})
}

func TestClipGradientNorm(t *testing.T) {
	t.Run("below the ceiling is untouched", func(t *testing.T) {
		grads := ClipGradientNorm([]float64{0.3, 0.4}, 1)
		assert.InDelta(t, 0.3, grads[0], 1e-9)
		assert.InDelta(t, 0.4, grads[1], 1e-9)
	})

	t.Run("above the ceiling is rescaled", func(t *testing.T) {
		grads := ClipGradientNorm([]float64{3, 4}, 1)
		var norm float64
		for _, g := range grads {
			norm += g * g
		}
		assert.InDelta(t, 1, math.Sqrt(norm), 1e-9)
		assert.InDelta(t, grads[0]/grads[1], 3.0/4.0, 1e-9)
	})

	t.Run("non-positive ceiling disables clipping", func(t *testing.T) {
		grads := ClipGradientNorm([]float64{30, 40}, 0)
		assert.InDelta(t, 30, grads[0], 1e-9)
	})
}

func TestAdamStateRoundtrip(t *testing.T) {
	cfg := Config{BaseLearningRate: 0.01}
	first, err := New("adam", cfg)
	require.NoError(t, err)

	params := []float64{1, 2, 3}
	grads := []float64{0.1, -0.2, 0.3}
	for step := uint64(0); step < 5; step++ {
		params = first.Step(params, grads, step)
	}

	blob, err := first.State()
	require.NoError(t, err)

	second, err := New("adam", cfg)
	require.NoError(t, err)
	require.NoError(t, second.Restore(blob))

	// Both copies must now produce identical updates.
	a := first.Step([]float64{1, 1, 1}, grads, 5)
	b := second.Step([]float64{1, 1, 1}, grads, 5)
	assert.Equal(t, a, b)
}

func TestAdamRestoreEmptyBlob(t *testing.T) {
	opt, err := New("adam", Config{BaseLearningRate: 0.01})
	require.NoError(t, err)
	assert.NoError(t, opt.Restore(nil))
}

func TestAdamRestoreGarbage(t *testing.T) {
	opt, err := New("adam", Config{BaseLearningRate: 0.01})
	require.NoError(t, err)
	assert.Error(t, opt.Restore([]byte("garbage")))
}
