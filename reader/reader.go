// Package reader produces input/label batches for the training loop from
// CBOR record files matched by a glob pattern. Decoding fans out across a
// configurable number of reader goroutines; the loop consumes batches one at
// a time and observes epoch exhaustion as an expected termination signal.
package reader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
	pkgerrors "github.com/vortexml/traind/pkg/errors"
)

// Example is one decoded training record.
type Example struct {
	ID              string    `cbor:"id"`
	Features        []float64 `cbor:"features"`
	Labels          []float64 `cbor:"labels"`
	DistilledLabels []float64 `cbor:"distilled_labels,omitempty"`
}

// Batch groups examples for one training step. DistilledLabels is nil when
// the reader variant does not carry distillation features.
type Batch struct {
	IDs             []string
	Inputs          [][]float64
	Labels          [][]float64
	DistilledLabels [][]float64
}

func (b Batch) Size() int {
	return len(b.Inputs)
}

// Reader yields batches until the configured epoch count is exhausted, at
// which point Next returns ErrEpochExhausted. Next blocks while the pipeline
// fills. Close stops the decode goroutines; callers that leave the loop
// without draining it must call Close.
type Reader interface {
	Next(ctx context.Context) (Batch, error)
	Close() error
}

// Variants decide whether distilled labels are decoded and surfaced. The
// registry is closed; unknown identifiers fail startup.
var variants = map[string]bool{
	"aggregated":              false,
	"frame":                   false,
	"aggregated-distillation": true,
	"frame-distillation":      true,
}

// HasDistilledLabels reports whether the named reader variant carries
// distilled labels, resolving against the closed registry.
func HasDistilledLabels(name string) (bool, error) {
	distill, ok := variants[name]
	if !ok {
		return false, fmt.Errorf("%w: %q", pkgerrors.ErrUnknownReader, name)
	}

	return distill, nil
}

// Config fixes the pipeline shape for a run. NumFeatures and NumClasses
// bound per-example row widths; zero means the width is not checked.
type Config struct {
	Variant     string
	Pattern     string
	BatchSize   int
	NumEpochs   int
	NumReaders  int
	NumFeatures int
	NumClasses  int
	Augmenter   Augmenter
	Transform   Transform
}

type pipeline struct {
	cfg     Config
	distill bool
	batches chan Batch

	startOnce sync.Once
	cancel    context.CancelFunc
	files     []string
}

// NewPipeline validates the data source and builds the batch pipeline.
// A pattern matching zero files is a fatal pre-start error.
func NewPipeline(cfg Config) (Reader, error) {
	distill, err := HasDistilledLabels(cfg.Variant)
	if err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	if cfg.NumReaders <= 0 {
		cfg.NumReaders = 1
	}
	if cfg.NumEpochs <= 0 {
		cfg.NumEpochs = 1
	}
	if cfg.Augmenter == nil {
		cfg.Augmenter = passthroughAugmenter{}
	}
	if cfg.Transform == nil {
		cfg.Transform = identityTransform{}
	}

	files, err := filepath.Glob(cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("bad data pattern %q: %w", cfg.Pattern, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrNoInputFiles, cfg.Pattern)
	}
	sort.Strings(files)

	return &pipeline{
		cfg:     cfg,
		distill: distill,
		batches: make(chan Batch, cfg.NumReaders),
		files:   files,
	}, nil
}

func (p *pipeline) Next(ctx context.Context) (Batch, error) {
	p.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		go p.run(runCtx)
	})

	if ctx.Err() != nil {
		p.cancel()

		return Batch{}, ctx.Err()
	}

	select {
	case <-ctx.Done():
		p.cancel()

		return Batch{}, ctx.Err()
	case batch, ok := <-p.batches:
		if !ok {
			return Batch{}, pkgerrors.ErrEpochExhausted
		}

		return batch, nil
	}
}

// Close cancels the decode goroutines. Called before the first Next it
// closes the batch channel directly, so a later Next reports exhaustion
// instead of blocking.
func (p *pipeline) Close() error {
	p.startOnce.Do(func() {
		p.cancel = func() {}
		close(p.batches)
	})
	p.cancel()

	return nil
}

// run decodes files across NumReaders goroutines for NumEpochs passes,
// batching examples in arrival order. The batch channel closes when every
// epoch has drained.
func (p *pipeline) run(ctx context.Context) {
	defer close(p.batches)

	examples := make(chan Example, p.cfg.BatchSize*2)

	go func() {
		defer close(examples)

		for epoch := 0; epoch < p.cfg.NumEpochs; epoch++ {
			fileCh := make(chan string)
			var wg sync.WaitGroup
			for r := 0; r < p.cfg.NumReaders; r++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for path := range fileCh {
						p.decodeFile(ctx, path, examples)
					}
				}()
			}

			for _, f := range p.files {
				select {
				case <-ctx.Done():
					close(fileCh)
					wg.Wait()

					return
				case fileCh <- f:
				}
			}
			close(fileCh)
			wg.Wait()
		}
	}()

	batch := Batch{}
	for ex := range examples {
		batch.IDs = append(batch.IDs, ex.ID)
		batch.Inputs = append(batch.Inputs, ex.Features)
		batch.Labels = append(batch.Labels, ex.Labels)
		if p.distill {
			batch.DistilledLabels = append(batch.DistilledLabels, ex.DistilledLabels)
		}

		if batch.Size() == p.cfg.BatchSize {
			if !p.emit(ctx, batch) {
				return
			}
			batch = Batch{}
		}
	}

	// Smaller final batch is allowed.
	if batch.Size() > 0 {
		p.emit(ctx, batch)
	}
}

func (p *pipeline) emit(ctx context.Context, batch Batch) bool {
	batch = p.cfg.Augmenter.Augment(batch)
	batch.Inputs = p.cfg.Transform.Apply(batch.Inputs)

	select {
	case <-ctx.Done():
		return false
	case p.batches <- batch:
		return true
	}
}

type recordFile struct {
	Examples []Example `cbor:"examples"`
}

func (p *pipeline) decodeFile(ctx context.Context, path string, out chan<- Example) {
	raw, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("skipping unreadable record file", slog.String("path", path), slog.Any("error", err))

		return
	}

	var rec recordFile
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		slog.Warn("skipping undecodable record file", slog.String("path", path), slog.Any("error", err))

		return
	}

	for _, ex := range rec.Examples {
		if err := p.validateExample(ex); err != nil {
			slog.Warn("skipping malformed record",
				slog.String("path", path),
				slog.String("id", ex.ID),
				slog.Any("error", err))

			continue
		}

		select {
		case <-ctx.Done():
			return
		case out <- ex:
		}
	}
}

// validateExample rejects records whose rows would index out of range
// downstream. Distillation variants additionally require a distilled row as
// wide as the label row.
func (p *pipeline) validateExample(ex Example) error {
	if len(ex.Labels) == 0 {
		return fmt.Errorf("%w: missing labels", pkgerrors.ErrInvalidData)
	}
	if p.cfg.NumFeatures > 0 && len(ex.Features) != p.cfg.NumFeatures {
		return fmt.Errorf("%w: expected %d features, got %d",
			pkgerrors.ErrInvalidData, p.cfg.NumFeatures, len(ex.Features))
	}
	if p.cfg.NumClasses > 0 && len(ex.Labels) != p.cfg.NumClasses {
		return fmt.Errorf("%w: expected %d labels, got %d",
			pkgerrors.ErrInvalidData, p.cfg.NumClasses, len(ex.Labels))
	}
	if p.distill && len(ex.DistilledLabels) != len(ex.Labels) {
		return fmt.Errorf("%w: expected %d distilled labels, got %d",
			pkgerrors.ErrInvalidData, len(ex.Labels), len(ex.DistilledLabels))
	}

	return nil
}
