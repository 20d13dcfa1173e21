package reader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/vortexml/traind/pkg/errors"
)

func writeRecordFile(t *testing.T, dir, name string, examples []Example) {
	t.Helper()

	raw, err := cbor.Marshal(recordFile{Examples: examples})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), raw, 0o644))
}

func makeExamples(prefix string, n int) []Example {
	examples := make([]Example, n)
	for i := range examples {
		examples[i] = Example{
			ID:              fmt.Sprintf("%s-%d", prefix, i),
			Features:        []float64{float64(i), 1},
			Labels:          []float64{1, 0},
			DistilledLabels: []float64{0.8, 0.2},
		}
	}

	return examples
}

func TestHasDistilledLabels(t *testing.T) {
	cases := []struct {
		name    string
		variant string
		distill bool
		err     error
	}{
		{
			name:    "aggregated",
			variant: "aggregated",
			distill: false,
		},
		{
			name:    "frame",
			variant: "frame",
			distill: false,
		},
		{
			name:    "aggregated distillation",
			variant: "aggregated-distillation",
			distill: true,
		},
		{
			name:    "unknown variant",
			variant: "segment",
			err:     pkgerrors.ErrUnknownReader,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			distill, err := HasDistilledLabels(tc.variant)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.distill, distill)
		})
	}
}

func TestNewPipelineNoInputFiles(t *testing.T) {
	_, err := NewPipeline(Config{
		Variant:   "aggregated",
		Pattern:   filepath.Join(t.TempDir(), "*.rec"),
		BatchSize: 4,
	})
	assert.ErrorIs(t, err, pkgerrors.ErrNoInputFiles)
}

func TestNewPipelineBadBatchSize(t *testing.T) {
	_, err := NewPipeline(Config{Variant: "aggregated", BatchSize: 0})
	assert.Error(t, err)
}

func TestPipelineBatching(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, dir, "a.rec", makeExamples("a", 5))
	writeRecordFile(t, dir, "b.rec", makeExamples("b", 2))

	r, err := NewPipeline(Config{
		Variant:    "aggregated",
		Pattern:    filepath.Join(dir, "*.rec"),
		BatchSize:  3,
		NumEpochs:  1,
		NumReaders: 1,
	})
	require.NoError(t, err)

	ctx := context.Background()
	total := 0
	batches := 0
	for {
		batch, err := r.Next(ctx)
		if errors.Is(err, pkgerrors.ErrEpochExhausted) {
			break
		}
		require.NoError(t, err)
		require.LessOrEqual(t, batch.Size(), 3)
		assert.Len(t, batch.IDs, batch.Size())
		assert.Len(t, batch.Labels, batch.Size())
		assert.Nil(t, batch.DistilledLabels)
		total += batch.Size()
		batches++
	}

	assert.Equal(t, 7, total)
	assert.Equal(t, 3, batches)
}

func TestPipelineDistilledVariant(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, dir, "a.rec", makeExamples("a", 2))

	r, err := NewPipeline(Config{
		Variant:    "aggregated-distillation",
		Pattern:    filepath.Join(dir, "*.rec"),
		BatchSize:  2,
		NumEpochs:  1,
		NumReaders: 1,
	})
	require.NoError(t, err)

	batch, err := r.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, batch.Size())
	require.Len(t, batch.DistilledLabels, 2)
	assert.InDelta(t, 0.8, batch.DistilledLabels[0][0], 1e-9)
}

func TestPipelineMultipleEpochs(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, dir, "a.rec", makeExamples("a", 2))

	r, err := NewPipeline(Config{
		Variant:    "aggregated",
		Pattern:    filepath.Join(dir, "*.rec"),
		BatchSize:  2,
		NumEpochs:  3,
		NumReaders: 2,
	})
	require.NoError(t, err)

	ctx := context.Background()
	total := 0
	for {
		batch, err := r.Next(ctx)
		if errors.Is(err, pkgerrors.ErrEpochExhausted) {
			break
		}
		require.NoError(t, err)
		total += batch.Size()
	}

	assert.Equal(t, 6, total)
}

func TestPipelineSkipsUndecodableFiles(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, dir, "a.rec", makeExamples("a", 2))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.rec"), []byte("garbage"), 0o644))

	r, err := NewPipeline(Config{
		Variant:    "aggregated",
		Pattern:    filepath.Join(dir, "*.rec"),
		BatchSize:  2,
		NumEpochs:  1,
		NumReaders: 1,
	})
	require.NoError(t, err)

	ctx := context.Background()
	total := 0
	for {
		batch, err := r.Next(ctx)
		if errors.Is(err, pkgerrors.ErrEpochExhausted) {
			break
		}
		require.NoError(t, err)
		total += batch.Size()
	}

	assert.Equal(t, 2, total)
}

func TestPipelineSkipsMalformedRecords(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, dir, "a.rec", []Example{
		{
			ID:              "good-0",
			Features:        []float64{1, 0},
			Labels:          []float64{1, 0},
			DistilledLabels: []float64{0.8, 0.2},
		},
		{
			// Missing distilled row would index out of range downstream.
			ID:       "bad-0",
			Features: []float64{0, 1},
			Labels:   []float64{0, 1},
		},
		{
			ID:              "bad-1",
			Features:        []float64{0, 1},
			Labels:          []float64{0, 1},
			DistilledLabels: []float64{0.5},
		},
		{
			ID:              "good-1",
			Features:        []float64{0, 1},
			Labels:          []float64{0, 1},
			DistilledLabels: []float64{0.1, 0.9},
		},
	})

	r, err := NewPipeline(Config{
		Variant:    "aggregated-distillation",
		Pattern:    filepath.Join(dir, "*.rec"),
		BatchSize:  4,
		NumEpochs:  1,
		NumReaders: 1,
	})
	require.NoError(t, err)

	batch, err := r.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, batch.Size())
	assert.Equal(t, []string{"good-0", "good-1"}, batch.IDs)
	require.Len(t, batch.DistilledLabels, 2)
	assert.Len(t, batch.DistilledLabels[0], 2)
	assert.Len(t, batch.DistilledLabels[1], 2)
}

func TestPipelineEnforcesRowWidths(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, dir, "a.rec", []Example{
		{ID: "good", Features: []float64{1, 0}, Labels: []float64{1, 0}},
		{ID: "narrow-labels", Features: []float64{1, 0}, Labels: []float64{1}},
		{ID: "no-labels", Features: []float64{1, 0}},
		{ID: "wide-features", Features: []float64{1, 0, 3}, Labels: []float64{1, 0}},
	})

	r, err := NewPipeline(Config{
		Variant:     "aggregated",
		Pattern:     filepath.Join(dir, "*.rec"),
		BatchSize:   4,
		NumEpochs:   1,
		NumReaders:  1,
		NumFeatures: 2,
		NumClasses:  2,
	})
	require.NoError(t, err)

	batch, err := r.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, batch.Size())
	assert.Equal(t, []string{"good"}, batch.IDs)
}

func TestPipelineCancellation(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, dir, "a.rec", makeExamples("a", 1))

	r, err := NewPipeline(Config{
		Variant:    "aggregated",
		Pattern:    filepath.Join(dir, "*.rec"),
		BatchSize:  1,
		NumEpochs:  1,
		NumReaders: 1,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipelineClose(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, dir, "a.rec", makeExamples("a", 4))

	r, err := NewPipeline(Config{
		Variant:    "aggregated",
		Pattern:    filepath.Join(dir, "*.rec"),
		BatchSize:  1,
		NumEpochs:  100,
		NumReaders: 2,
	})
	require.NoError(t, err)

	// Consume one batch, then abandon the rest of the stream.
	_, err = r.Next(context.Background())
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}

func TestPipelineCloseBeforeNext(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, dir, "a.rec", makeExamples("a", 2))

	r, err := NewPipeline(Config{
		Variant:    "aggregated",
		Pattern:    filepath.Join(dir, "*.rec"),
		BatchSize:  1,
		NumEpochs:  1,
		NumReaders: 1,
	})
	require.NoError(t, err)

	require.NoError(t, r.Close())
	_, err = r.Next(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrEpochExhausted)
}
