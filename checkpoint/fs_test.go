package checkpoint

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/vortexml/traind/pkg/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testState(step uint64) TrainingState {
	modelBlob, _ := cbor.Marshal([]float64{1, 2, 3})
	optBlob, _ := cbor.Marshal(map[string]uint64{"t": step})

	return TrainingState{Step: step, ModelParameters: modelBlob, OptimizerState: optBlob}
}

func TestPersistLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	svc := NewFSManager(dir, true, Retention{MaxKeep: 5}, testLogger())

	state := testState(10)
	require.NoError(t, svc.Persist(context.Background(), state))

	ref, err := Latest(dir)
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, uint64(10), ref.Step)

	got, err := svc.Load(context.Background(), *ref)
	require.NoError(t, err)
	assert.Equal(t, state, got)
}

func TestDecideResume(t *testing.T) {
	t.Run("missing directory resolves to fresh start", func(t *testing.T) {
		svc := NewFSManager(filepath.Join(t.TempDir(), "absent"), true, Retention{}, testLogger())

		ref, err := svc.DecideResume(context.Background(), false)
		require.NoError(t, err)
		assert.Nil(t, ref)
	})

	t.Run("start-new clears existing snapshots on the primary", func(t *testing.T) {
		dir := t.TempDir()
		svc := NewFSManager(dir, true, Retention{}, testLogger())
		require.NoError(t, svc.Persist(context.Background(), testState(1)))

		ref, err := svc.DecideResume(context.Background(), true)
		require.NoError(t, err)
		assert.Nil(t, ref)

		refs, err := List(dir)
		require.NoError(t, err)
		assert.Empty(t, refs)
	})

	t.Run("start-new on a non-primary leaves snapshots alone", func(t *testing.T) {
		dir := t.TempDir()
		primary := NewFSManager(dir, true, Retention{}, testLogger())
		require.NoError(t, primary.Persist(context.Background(), testState(1)))

		secondary := NewFSManager(dir, false, Retention{}, testLogger())
		ref, err := secondary.DecideResume(context.Background(), true)
		require.NoError(t, err)
		assert.Nil(t, ref)

		refs, err := List(dir)
		require.NoError(t, err)
		assert.Len(t, refs, 1)
	})

	t.Run("highest valid snapshot wins", func(t *testing.T) {
		dir := t.TempDir()
		svc := NewFSManager(dir, true, Retention{MaxKeep: 10}, testLogger())
		for _, step := range []uint64{1, 2, 3} {
			require.NoError(t, svc.Persist(context.Background(), testState(step)))
		}

		// Truncate the newest snapshot so it no longer decodes.
		path := filepath.Join(dir, "step-00000000000000000003.ckpt")
		require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

		ref, err := svc.DecideResume(context.Background(), false)
		require.NoError(t, err)
		require.NotNil(t, ref)
		assert.Equal(t, uint64(2), ref.Step)
	})
}

func TestLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	svc := NewFSManager(dir, true, Retention{}, testLogger())
	require.NoError(t, svc.Persist(context.Background(), testState(5)))

	t.Run("undecodable blob", func(t *testing.T) {
		path := filepath.Join(dir, "step-00000000000000000005.ckpt")
		require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

		_, err := svc.Load(context.Background(), Ref{Step: 5, Path: path})
		assert.ErrorIs(t, err, pkgerrors.ErrCorruptCheckpoint)
	})

	t.Run("step mismatch", func(t *testing.T) {
		require.NoError(t, svc.Persist(context.Background(), testState(6)))
		path := filepath.Join(dir, "step-00000000000000000006.ckpt")

		_, err := svc.Load(context.Background(), Ref{Step: 7, Path: path})
		assert.ErrorIs(t, err, pkgerrors.ErrCorruptCheckpoint)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := svc.Load(context.Background(), Ref{Step: 9, Path: filepath.Join(dir, "step-00000000000000000009.ckpt")})
		assert.ErrorIs(t, err, pkgerrors.ErrCorruptCheckpoint)
	})
}

func TestPruneRecencyWindow(t *testing.T) {
	dir := t.TempDir()
	svc := NewFSManager(dir, true, Retention{MaxKeep: 2}, testLogger())

	for _, step := range []uint64{1, 2, 3, 4, 5} {
		require.NoError(t, svc.Persist(context.Background(), testState(step)))
	}

	refs, err := List(dir)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, uint64(4), refs[0].Step)
	assert.Equal(t, uint64(5), refs[1].Step)
}

func TestPruneKeepEveryBuckets(t *testing.T) {
	dir := t.TempDir()

	// Deterministic clock aligned on the bucket interval, advancing ten
	// minutes per snapshot.
	base := time.Unix(1_700_001_000, 0)
	tick := 0
	mgr := &fsManager{
		dir:       dir,
		isPrimary: true,
		retention: Retention{MaxKeep: 2, KeepEvery: 30 * time.Minute},
		logger:    testLogger(),
		now: func() time.Time {
			t := base.Add(time.Duration(tick) * 10 * time.Minute)
			tick++

			return t
		},
	}

	for _, step := range []uint64{1, 2, 3, 4, 5, 6} {
		require.NoError(t, mgr.Persist(context.Background(), testState(step)))
	}

	refs, err := List(dir)
	require.NoError(t, err)

	var steps []uint64
	for _, ref := range refs {
		steps = append(steps, ref.Step)
	}
	assert.Equal(t, []uint64{3, 4, 5, 6}, steps)
}

func TestLatestFallsBackToScan(t *testing.T) {
	dir := t.TempDir()
	svc := NewFSManager(dir, true, Retention{MaxKeep: 5}, testLogger())
	require.NoError(t, svc.Persist(context.Background(), testState(1)))
	require.NoError(t, svc.Persist(context.Background(), testState(2)))

	require.NoError(t, os.Remove(filepath.Join(dir, "LATEST")))

	ref, err := Latest(dir)
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, uint64(2), ref.Step)
}

func TestListMissingDir(t *testing.T) {
	refs, err := List(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Nil(t, refs)
}
