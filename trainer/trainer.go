// Package trainer owns the step loop for coordinator and worker roles. One
// step is ever in flight per process; the loop blocks on batch fetch and on
// the optimizer update, and exits only on an expected termination signal or
// a fatal step error.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/vortexml/traind/checkpoint"
	"github.com/vortexml/traind/cluster"
	"github.com/vortexml/traind/eval"
	"github.com/vortexml/traind/loss"
	"github.com/vortexml/traind/model"
	"github.com/vortexml/traind/optimizer"
	"github.com/vortexml/traind/paramserver"
	pkgerrors "github.com/vortexml/traind/pkg/errors"
	"github.com/vortexml/traind/params"
	"github.com/vortexml/traind/reader"
)

// modelParameterKey names the shared blob on the parameter holder.
const modelParameterKey = "model"

// State tracks the loop lifecycle for logging and tests.
type State int

const (
	StateInit State = iota
	StateRunning
	StateStopping
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

type Trainer struct {
	cfg        Config
	comps      Components
	assignment cluster.Assignment
	isPrimary  bool
	ckpt       checkpoint.Service
	summary    *SummaryWriter
	client     *paramserver.Client
	logger     *slog.Logger

	state State
	step  uint64

	now func() time.Time
}

// New assembles a training coordinator for this process. client is nil in
// single-process mode; summary may be nil on non-primary processes.
func New(cfg Config, comps Components, assignment cluster.Assignment, ckpt checkpoint.Service, summary *SummaryWriter, client *paramserver.Client, logger *slog.Logger) *Trainer {
	return &Trainer{
		cfg:        cfg,
		comps:      comps,
		assignment: assignment,
		isPrimary:  assignment.IsPrimary(),
		ckpt:       ckpt,
		summary:    summary,
		client:     client,
		logger:     logger,
		state:      StateInit,
		now:        time.Now,
	}
}

func (t *Trainer) State() State {
	return t.state
}

func (t *Trainer) Step() uint64 {
	return t.step
}

// Run drives INIT -> RUNNING -> STOPPING -> TERMINATED. Epoch exhaustion,
// the step ceiling and context cancellation are expected exits; any other
// step error terminates the process without per-step retry.
func (t *Trainer) Run(ctx context.Context) error {
	if err := t.restore(ctx); err != nil {
		return err
	}

	t.state = StateRunning
	t.logger.Info("entering training loop", slog.String("task", t.assignment.String()), slog.Uint64("step", t.step))

	now := t.now()
	checkpointDue := now.Add(t.cfg.CheckpointInterval)
	summaryDue := now
	var gcDue time.Time
	if t.comps.GC != nil {
		gcDue = t.comps.GC.Next(now)
	}

	var loopErr error
	for {
		if ctx.Err() != nil {
			t.logger.Info("stop signal received, exiting training loop", slog.String("task", t.assignment.String()))

			break
		}
		if t.cfg.MaxSteps > 0 && t.step >= t.cfg.MaxSteps {
			t.logger.Info("done training", slog.String("task", t.assignment.String()), slog.String("reason", pkgerrors.ErrStepLimitReached.Error()))

			break
		}

		batchStart := t.now()
		batch, err := t.comps.Reader.Next(ctx)
		switch {
		case errors.Is(err, pkgerrors.ErrEpochExhausted):
			t.logger.Info("done training", slog.String("task", t.assignment.String()), slog.String("reason", err.Error()))
			loopErr = nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			t.logger.Info("stop signal received during batch fetch", slog.String("task", t.assignment.String()))
			loopErr = nil
		case err != nil:
			loopErr = fmt.Errorf("batch fetch failed: %w", err)
		}
		if err != nil {
			break
		}

		lossValue, out, err := t.trainStep(ctx, batch)
		if err != nil {
			loopErr = err

			break
		}

		now = t.now()
		if t.isPrimary && !now.Before(summaryDue) {
			seconds := now.Sub(batchStart).Seconds()
			if seconds <= 0 {
				seconds = 1e-9
			}
			t.report(ctx, batch.Labels, out.Predictions, lossValue, float64(batch.Size())/seconds)
			summaryDue = now.Add(t.cfg.SummaryInterval)
		}

		if t.isPrimary && !now.Before(checkpointDue) {
			if err := t.persist(ctx); err != nil {
				loopErr = err

				break
			}
			checkpointDue = now.Add(t.cfg.CheckpointInterval)
		}

		if t.isPrimary && t.comps.GC != nil && !gcDue.IsZero() && !now.Before(gcDue) {
			if err := t.ckpt.Prune(ctx); err != nil {
				t.logger.Warn("scheduled checkpoint sweep failed", slog.Any("error", err))
			}
			gcDue = t.comps.GC.Next(now)
		}
	}

	t.state = StateStopping
	if err := t.comps.Reader.Close(); err != nil {
		t.logger.Warn("failed to close batch pipeline", slog.Any("error", err))
	}
	if loopErr == nil && t.isPrimary {
		// Orderly flush so the persisted copy reflects the final step.
		if err := t.persist(ctx); err != nil {
			loopErr = err
		}
	}

	t.state = StateTerminated
	t.logger.Info("exited training loop", slog.String("task", t.assignment.String()), slog.Uint64("step", t.step))

	return loopErr
}

// trainStep executes exactly one step: pull (stale-tolerant), compute,
// compose, update, push.
func (t *Trainer) trainStep(ctx context.Context, batch reader.Batch) (float64, model.Output, error) {
	t.pullParameters(ctx)

	out, err := t.comps.Model.Compute(ctx, batch.Inputs)
	if err != nil {
		return 0, out, fmt.Errorf("model compute failed at step %d: %w", t.step, err)
	}

	var weights []float64
	if t.comps.Weights != nil {
		weights = t.comps.Weights.ForBatch(batch.IDs)
	}

	lossValue := loss.Compose(t.comps.Loss, loss.Signals{
		Predictions:        out.Predictions,
		SupportPredictions: out.SupportPredictions,
		Labels:             batch.Labels,
		DistilledLabels:    batch.DistilledLabels,
		SampleWeights:      weights,
		ModelLoss:          out.Loss,
		RegularizationLoss: out.RegularizationLoss,
	}, t.comps.BlendSpec, t.cfg.RegularizationPenalty)

	grads := t.comps.Model.Gradients(out, batch.Labels)
	grads = optimizer.ClipGradientNorm(grads, t.cfg.ClipGradientNorm)
	updated := t.comps.Optimizer.Step(t.comps.Model.Parameters(), grads, t.step)
	if err := t.comps.Model.SetParameters(updated); err != nil {
		return 0, out, fmt.Errorf("parameter update failed at step %d: %w", t.step, err)
	}

	t.step++
	t.pushParameters(ctx)

	return lossValue, out, nil
}

func (t *Trainer) report(ctx context.Context, labels, predictions [][]float64, lossValue, examplesPerSecond float64) {
	snapshot := eval.Calculate(predictions, labels, t.cfg.GAPTopK)

	t.logger.Info("training step",
		slog.String("task", t.assignment.String()),
		slog.Uint64("step", t.step),
		slog.Float64("hit_at_one", snapshot.HitAtOne),
		slog.Float64("perr", snapshot.PERR),
		slog.Float64("gap", snapshot.GAP),
		slog.Float64("loss", lossValue),
		slog.Float64("examples_per_second", examplesPerSecond),
	)

	if t.summary == nil {
		return
	}
	if err := t.summary.Write(ctx, Record{
		Step:              t.step,
		Loss:              lossValue,
		Metrics:           snapshot,
		ExamplesPerSecond: examplesPerSecond,
	}); err != nil {
		t.logger.Warn("failed to write summary record", slog.Any("error", err))
	}
}

// restore resolves the resume decision and rebuilds in-memory state from
// the chosen snapshot. A corrupt snapshot surfaces to the operator; there
// is no silent fresh-state fallback.
func (t *Trainer) restore(ctx context.Context) error {
	ref, err := t.ckpt.DecideResume(ctx, t.cfg.StartNewModel)
	if err != nil {
		return err
	}
	if ref == nil {
		t.logger.Info("no checkpoint found, starting fresh", slog.String("task", t.assignment.String()))
		t.pullParameters(ctx)

		return nil
	}

	state, err := t.ckpt.Load(ctx, *ref)
	if err != nil {
		return err
	}

	var modelParams []float64
	if err := cbor.Unmarshal(state.ModelParameters, &modelParams); err != nil {
		return fmt.Errorf("%w: undecodable model parameters: %s", pkgerrors.ErrCorruptCheckpoint, err)
	}
	if err := t.comps.Model.SetParameters(modelParams); err != nil {
		return fmt.Errorf("%w: %s", pkgerrors.ErrCorruptCheckpoint, err)
	}
	if err := t.comps.Optimizer.Restore(state.OptimizerState); err != nil {
		return fmt.Errorf("%w: %s", pkgerrors.ErrCorruptCheckpoint, err)
	}
	t.step = state.Step
	t.logger.Info("resumed from checkpoint", slog.String("task", t.assignment.String()), slog.Uint64("step", t.step))

	return nil
}

func (t *Trainer) persist(ctx context.Context) error {
	modelBlob, err := cbor.Marshal(t.comps.Model.Parameters())
	if err != nil {
		return fmt.Errorf("failed to encode model parameters: %w", err)
	}
	optBlob, err := t.comps.Optimizer.State()
	if err != nil {
		return fmt.Errorf("failed to encode optimizer state: %w", err)
	}

	return t.ckpt.Persist(ctx, checkpoint.TrainingState{
		Step:            t.step,
		ModelParameters: modelBlob,
		OptimizerState:  optBlob,
	})
}

// pullParameters adopts the shared model state when a holder is configured.
// Staleness is tolerated; failures only log.
func (t *Trainer) pullParameters(ctx context.Context) {
	if t.client == nil {
		return
	}

	p, err := t.client.Pull(ctx, modelParameterKey)
	if err != nil {
		if !errors.Is(err, pkgerrors.ErrNotFound) {
			t.logger.Warn("failed to pull shared parameters", slog.Any("error", err))
		}

		return
	}

	var shared []float64
	if err := cbor.Unmarshal(p.Blob, &shared); err != nil {
		t.logger.Warn("undecodable shared parameters", slog.Any("error", err))

		return
	}
	if err := t.comps.Model.SetParameters(shared); err != nil {
		t.logger.Warn("shared parameters do not fit this model", slog.Any("error", err))
	}
}

func (t *Trainer) pushParameters(ctx context.Context) {
	if t.client == nil {
		return
	}

	blob, err := cbor.Marshal(t.comps.Model.Parameters())
	if err != nil {
		t.logger.Warn("failed to encode shared parameters", slog.Any("error", err))

		return
	}

	if err := t.client.Push(ctx, params.Parameter{
		Key:       modelParameterKey,
		Blob:      blob,
		Step:      t.step,
		UpdatedBy: t.assignment.String(),
	}); err != nil {
		t.logger.Warn("failed to push shared parameters", slog.Any("error", err))
	}
}
