package reader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSampleWeights(t *testing.T) {
	dir := t.TempDir()
	vocab := filepath.Join(dir, "vocab.txt")
	freq := filepath.Join(dir, "freq.txt")
	require.NoError(t, os.WriteFile(vocab, []byte("vid-a\nvid-b\nvid-c\n"), 0o644))
	require.NoError(t, os.WriteFile(freq, []byte("0.5\n2.0\n1.5\n"), 0o644))

	weights, err := LoadSampleWeights(vocab, freq)
	require.NoError(t, err)

	got := weights.ForBatch([]string{"vid-b", "vid-unknown", "vid-a"})
	assert.Equal(t, []float64{2.0, 1, 0.5}, got)
}

func TestLoadSampleWeightsLineCountMismatch(t *testing.T) {
	dir := t.TempDir()
	vocab := filepath.Join(dir, "vocab.txt")
	freq := filepath.Join(dir, "freq.txt")
	require.NoError(t, os.WriteFile(vocab, []byte("vid-a\nvid-b\n"), 0o644))
	require.NoError(t, os.WriteFile(freq, []byte("0.5\n"), 0o644))

	_, err := LoadSampleWeights(vocab, freq)
	assert.Error(t, err)
}

func TestLoadSampleWeightsBadValue(t *testing.T) {
	dir := t.TempDir()
	vocab := filepath.Join(dir, "vocab.txt")
	freq := filepath.Join(dir, "freq.txt")
	require.NoError(t, os.WriteFile(vocab, []byte("vid-a\n"), 0o644))
	require.NoError(t, os.WriteFile(freq, []byte("often\n"), 0o644))

	_, err := LoadSampleWeights(vocab, freq)
	assert.Error(t, err)
}

func TestNewAugmenter(t *testing.T) {
	t.Run("default passthrough", func(t *testing.T) {
		a, err := NewAugmenter("default", 0, 0)
		require.NoError(t, err)

		batch := Batch{Inputs: [][]float64{{1, 2}}}
		got := a.Augment(batch)
		assert.Equal(t, batch.Inputs, got.Inputs)
	})

	t.Run("noise perturbs features", func(t *testing.T) {
		a, err := NewAugmenter("noise", 0.1, 42)
		require.NoError(t, err)

		got := a.Augment(Batch{Inputs: [][]float64{{1, 2}}})
		assert.NotEqual(t, [][]float64{{1, 2}}, got.Inputs)
	})

	t.Run("unknown identifier", func(t *testing.T) {
		_, err := NewAugmenter("mixup", 0, 0)
		assert.Error(t, err)
	})
}

func TestNewTransform(t *testing.T) {
	t.Run("l2 normalize", func(t *testing.T) {
		tr, err := NewTransform("l2-normalize")
		require.NoError(t, err)

		got := tr.Apply([][]float64{{3, 4}, {0, 0}})
		assert.InDelta(t, 0.6, got[0][0], 1e-9)
		assert.InDelta(t, 0.8, got[0][1], 1e-9)
		assert.Equal(t, []float64{0, 0}, got[1])
	})

	t.Run("unknown identifier", func(t *testing.T) {
		_, err := NewTransform("pca")
		assert.Error(t, err)
	})
}
