package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	pkgerrors "github.com/vortexml/traind/pkg/errors"
)

const (
	snapshotPattern = "step-%020d.ckpt"
	snapshotSuffix  = ".ckpt"
	snapshotPrefix  = "step-"
	latestFile      = "LATEST"
	dirPermissions  = 0o755
	filePermissions = 0o644

	envelopeVersion = 1
)

type envelope struct {
	Version int           `cbor:"version"`
	SavedAt time.Time     `cbor:"saved_at"`
	State   TrainingState `cbor:"state"`
}

type fsManager struct {
	dir       string
	isPrimary bool
	retention Retention
	logger    *slog.Logger

	now func() time.Time
}

// NewFSManager builds a filesystem-backed checkpoint manager rooted at dir.
func NewFSManager(dir string, isPrimary bool, retention Retention, logger *slog.Logger) Service {
	if retention.MaxKeep <= 0 {
		retention.MaxKeep = 3
	}

	return &fsManager{
		dir:       dir,
		isPrimary: isPrimary,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

func (m *fsManager) DecideResume(_ context.Context, startNew bool) (*Ref, error) {
	if startNew {
		if m.isPrimary {
			m.logger.Info("start-new directive set, removing checkpoint directory", slog.String("dir", m.dir))
			if err := os.RemoveAll(m.dir); err != nil {
				// Recoverable: the run proceeds as if no checkpoint existed.
				m.logger.Error("failed to remove checkpoint directory", slog.String("dir", m.dir), slog.Any("error", err))
			}
		}

		return nil, nil
	}

	refs, err := List(m.dir)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}

	// List returns refs sorted ascending by step; resume from the highest
	// valid one.
	for i := len(refs) - 1; i >= 0; i-- {
		if m.valid(refs[i]) {
			ref := refs[i]

			return &ref, nil
		}
	}

	return nil, nil
}

func (m *fsManager) Persist(_ context.Context, state TrainingState) error {
	if err := os.MkdirAll(m.dir, dirPermissions); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	env := envelope{Version: envelopeVersion, SavedAt: m.now(), State: state}
	raw, err := cbor.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	name := fmt.Sprintf(snapshotPattern, state.Step)
	if err := atomicWrite(filepath.Join(m.dir, name), raw); err != nil {
		return fmt.Errorf("failed to write checkpoint %q: %w", name, err)
	}

	// The LATEST pointer makes "most recent valid snapshot" an atomic read
	// for concurrent inspectors.
	if err := atomicWrite(filepath.Join(m.dir, latestFile), []byte(name)); err != nil {
		return fmt.Errorf("failed to update latest pointer: %w", err)
	}

	return m.prune()
}

func (m *fsManager) Load(_ context.Context, ref Ref) (TrainingState, error) {
	raw, err := os.ReadFile(ref.Path)
	if err != nil {
		return TrainingState{}, fmt.Errorf("%w: %s", pkgerrors.ErrCorruptCheckpoint, err)
	}

	var env envelope
	if err := cbor.Unmarshal(raw, &env); err != nil {
		return TrainingState{}, fmt.Errorf("%w: %s", pkgerrors.ErrCorruptCheckpoint, err)
	}
	if env.Version != envelopeVersion {
		return TrainingState{}, fmt.Errorf("%w: unsupported snapshot version %d", pkgerrors.ErrCorruptCheckpoint, env.Version)
	}
	if env.State.Step != ref.Step {
		return TrainingState{}, fmt.Errorf("%w: snapshot step %d does not match ref step %d", pkgerrors.ErrCorruptCheckpoint, env.State.Step, ref.Step)
	}

	return env.State, nil
}

func (m *fsManager) Prune(_ context.Context) error {
	return m.prune()
}

// prune keeps the MaxKeep most recent snapshots plus one snapshot per
// elapsed KeepEvery interval among the older ones.
func (m *fsManager) prune() error {
	refs, err := List(m.dir)
	if err != nil {
		return err
	}
	if len(refs) <= m.retention.MaxKeep {
		return nil
	}

	// refs ascend by step; the tail is the recency-protected set.
	older := refs[:len(refs)-m.retention.MaxKeep]

	keepBuckets := make(map[int64]bool)
	for i := len(older) - 1; i >= 0; i-- {
		ref := older[i]
		if m.retention.KeepEvery > 0 {
			bucket := ref.SavedAt.UnixNano() / int64(m.retention.KeepEvery)
			if !keepBuckets[bucket] {
				// Newest snapshot in each wall-clock bucket survives.
				keepBuckets[bucket] = true

				continue
			}
		}

		if err := os.Remove(ref.Path); err != nil {
			m.logger.Warn("failed to remove expired checkpoint", slog.String("path", ref.Path), slog.Any("error", err))
		}
	}

	return nil
}

func (m *fsManager) valid(ref Ref) bool {
	if _, err := m.Load(context.Background(), ref); err != nil {
		m.logger.Warn("skipping unreadable checkpoint", slog.String("path", ref.Path), slog.Any("error", err))

		return false
	}

	return true
}

// List enumerates the snapshots under dir sorted ascending by step. A
// missing directory yields an empty list, not an error.
func List(dir string) ([]Ref, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var refs []Ref
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}

		step, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotSuffix), 10, 64)
		if err != nil {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		refs = append(refs, Ref{Step: step, Path: filepath.Join(dir, name), SavedAt: savedAt(filepath.Join(dir, name), info.ModTime())})
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Step < refs[j].Step })

	return refs, nil
}

// Latest resolves the LATEST pointer, falling back to a directory scan when
// the pointer is absent.
func Latest(dir string) (*Ref, error) {
	raw, err := os.ReadFile(filepath.Join(dir, latestFile))
	if err == nil {
		name := strings.TrimSpace(string(raw))
		refs, err := List(dir)
		if err != nil {
			return nil, err
		}
		for i := range refs {
			if filepath.Base(refs[i].Path) == name {
				return &refs[i], nil
			}
		}
	}

	refs, err := List(dir)
	if err != nil || len(refs) == 0 {
		return nil, err
	}

	return &refs[len(refs)-1], nil
}

// savedAt prefers the envelope timestamp and falls back to file mtime for
// snapshots whose envelope cannot be decoded.
func savedAt(path string, fallback time.Time) time.Time {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}

	var env envelope
	if err := cbor.Unmarshal(raw, &env); err != nil || env.SavedAt.IsZero() {
		return fallback
	}

	return env.SavedAt
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, filePermissions); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
