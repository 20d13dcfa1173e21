package dispatch

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexml/traind/cluster"
	pkgerrors "github.com/vortexml/traind/pkg/errors"
)

func TestSelect(t *testing.T) {
	trainerRan := false
	holderRan := false
	trainer := ProcessFunc(func(context.Context) error {
		trainerRan = true

		return nil
	})
	holder := ProcessFunc(func(context.Context) error {
		holderRan = true

		return nil
	})
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	cases := []struct {
		name       string
		assignment cluster.Assignment
		wantHolder bool
		err        error
	}{
		{
			name:       "coordinator trains",
			assignment: cluster.Assignment{Role: cluster.RoleCoordinator, Index: 0},
		},
		{
			name:       "worker trains",
			assignment: cluster.Assignment{Role: cluster.RoleWorker, Index: 2},
		},
		{
			name:       "parameter holder serves",
			assignment: cluster.Assignment{Role: cluster.RoleParameterHolder, Index: 0},
			wantHolder: true,
		},
		{
			name:       "unknown role",
			assignment: cluster.Assignment{Role: cluster.Role("evaluator")},
			err:        pkgerrors.ErrUnknownRole,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trainerRan, holderRan = false, false

			proc, err := Select(tc.assignment, trainer, holder, logger)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)

				return
			}
			require.NoError(t, err)
			require.NoError(t, proc.Run(context.Background()))
			assert.Equal(t, tc.wantHolder, holderRan)
			assert.Equal(t, !tc.wantHolder, trainerRan)
		})
	}
}
