// Package checkpoint persists and restores training state on shared durable
// storage. Between writes the manager owns the persisted state; during a
// step the training loop transiently owns the in-memory copy. Writers are
// single-writer-at-a-time per directory, enforced by the primary-only check
// in the dispatcher.
package checkpoint

import (
	"context"
	"time"
)

// TrainingState is the replicated computation state keyed by step count.
// Model parameters and optimizer state are opaque blobs to this layer.
type TrainingState struct {
	Step            uint64 `cbor:"step"`
	ModelParameters []byte `cbor:"model_parameters"`
	OptimizerState  []byte `cbor:"optimizer_state"`
}

// Ref points at one persisted snapshot.
type Ref struct {
	Step    uint64    `json:"step"`
	Path    string    `json:"path"`
	SavedAt time.Time `json:"saved_at"`
}

// Retention bounds how many snapshots survive pruning: the MaxKeep most
// recent always stay, and one snapshot per elapsed KeepEvery wall-clock
// interval is retained beyond that cap so long-running audits remain
// possible.
type Retention struct {
	MaxKeep   int
	KeepEvery time.Duration
}

// Service is the checkpoint lifecycle surface used by the training loop and
// wrapped by the observability middleware.
type Service interface {
	// DecideResume picks the snapshot to resume from. With startNew set on
	// a primary process the checkpoint directory is destroyed best-effort
	// and nil is returned; destruction failure is logged, not fatal, and
	// the run proceeds on a clean slate. Otherwise the highest-step valid
	// snapshot is returned, or nil when none exists.
	DecideResume(ctx context.Context, startNew bool) (*Ref, error)
	// Persist writes one snapshot keyed by step and applies retention.
	Persist(ctx context.Context, state TrainingState) error
	// Load restores a snapshot. An undecodable blob fails with
	// ErrCorruptCheckpoint; there is no automatic fresh-state fallback.
	Load(ctx context.Context, ref Ref) (TrainingState, error)
	// Prune applies the retention policy without writing.
	Prune(ctx context.Context) error
}
