package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHitAtOne(t *testing.T) {
	cases := []struct {
		name        string
		predictions [][]float64
		labels      [][]float64
		expected    float64
	}{
		{
			name:        "empty batch",
			predictions: [][]float64{},
			labels:      [][]float64{},
			expected:    0,
		},
		{
			name: "every top prediction is a positive",
			predictions: [][]float64{
				{0.9, 0.1, 0.2, 0.3},
				{0.1, 0.8, 0.05, 0.2},
			},
			labels: [][]float64{
				{1, 0, 0, 1},
				{0, 1, 0, 0},
			},
			expected: 1,
		},
		{
			name: "top prediction misses",
			predictions: [][]float64{
				{0.9, 0.1},
			},
			labels: [][]float64{
				{0, 1},
			},
			expected: 0,
		},
		{
			name: "half the batch hits",
			predictions: [][]float64{
				{0.9, 0.1},
				{0.9, 0.1},
			},
			labels: [][]float64{
				{1, 0},
				{0, 1},
			},
			expected: 0.5,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, HitAtOne(tc.predictions, tc.labels), 1e-9)
		})
	}
}

func TestPrecisionAtEqualRecall(t *testing.T) {
	cases := []struct {
		name        string
		predictions [][]float64
		labels      [][]float64
		expected    float64
	}{
		{
			name: "perfect ranking",
			predictions: [][]float64{
				{0.9, 0.1, 0.2, 0.3},
			},
			labels: [][]float64{
				{1, 0, 0, 1},
			},
			expected: 1,
		},
		{
			name: "one of two top slots is positive",
			predictions: [][]float64{
				{0.9, 0.8, 0.1, 0.2},
			},
			labels: [][]float64{
				{1, 0, 1, 0},
			},
			expected: 0.5,
		},
		{
			name: "zero-positive example contributes zero",
			predictions: [][]float64{
				{0.9, 0.1},
				{0.9, 0.1},
			},
			labels: [][]float64{
				{1, 0},
				{0, 0},
			},
			expected: 0.5,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, PrecisionAtEqualRecall(tc.predictions, tc.labels), 1e-9)
		})
	}
}

func TestGlobalAveragePrecision(t *testing.T) {
	cases := []struct {
		name        string
		predictions [][]float64
		labels      [][]float64
		topK        int
		expected    float64
	}{
		{
			name:        "no positives",
			predictions: [][]float64{{0.5, 0.5}},
			labels:      [][]float64{{0, 0}},
			expected:    0,
		},
		{
			name: "all positives ranked first",
			predictions: [][]float64{
				{0.9, 0.1, 0.2, 0.3},
				{0.1, 0.8, 0.05, 0.2},
			},
			labels: [][]float64{
				{1, 0, 0, 1},
				{0, 1, 0, 0},
			},
			expected: 1,
		},
		{
			name:        "negative outranks the positives",
			predictions: [][]float64{{0.9, 0.8, 0.1}},
			labels:      [][]float64{{0, 1, 1}},
			expected:    0.25,
		},
		{
			name:        "larger top k reaches the deep positive",
			predictions: [][]float64{{0.9, 0.8, 0.1}},
			labels:      [][]float64{{0, 1, 1}},
			topK:        3,
			expected:    (1.0/2 + 2.0/3) / 2,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.expected, GlobalAveragePrecision(tc.predictions, tc.labels, tc.topK), 1e-9)
		})
	}
}

func TestCalculateIsPermutationInvariant(t *testing.T) {
	predictions := [][]float64{
		{0.9, 0.1, 0.2, 0.3},
		{0.1, 0.8, 0.05, 0.2},
		{0.4, 0.4, 0.3, 0.2},
	}
	labels := [][]float64{
		{1, 0, 0, 1},
		{0, 1, 0, 0},
		{0, 0, 1, 1},
	}

	forward := Calculate(predictions, labels, 0)
	reversed := Calculate(
		[][]float64{predictions[2], predictions[1], predictions[0]},
		[][]float64{labels[2], labels[1], labels[0]},
		0,
	)

	assert.Equal(t, forward, reversed)
}

func TestGAPTiedScoresAcrossExamples(t *testing.T) {
	// Example 0 holds a positive and example 1 a negative at the same
	// score. The global ranking must not depend on which example came
	// first.
	predictions := [][]float64{
		{0.5, 0.1},
		{0.5, 0.9},
	}
	labels := [][]float64{
		{1, 0},
		{0, 1},
	}

	forward := GlobalAveragePrecision(predictions, labels, 0)
	swapped := GlobalAveragePrecision(
		[][]float64{predictions[1], predictions[0]},
		[][]float64{labels[1], labels[0]},
		0,
	)

	assert.Equal(t, forward, swapped)
	// Ranked list with positives first on ties: 0.9 positive, then the
	// tied 0.5 positive ahead of the 0.5 negative.
	assert.InDelta(t, (1.0+1.0)/2.0, forward, 1e-12)
}
