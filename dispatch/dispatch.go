// Package dispatch routes a process to its role-specific entry point. All
// roles share one binary; the cluster assignment decides what runs.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vortexml/traind/cluster"
	pkgerrors "github.com/vortexml/traind/pkg/errors"
)

// Process is a role entry point. Run blocks until the process terminates
// or ctx is cancelled.
type Process interface {
	Run(ctx context.Context) error
}

// ProcessFunc adapts a bare function to Process.
type ProcessFunc func(ctx context.Context) error

func (f ProcessFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Select resolves the entry point for the given assignment. Coordinator
// and worker roles both train; the parameter holder only serves. Any other
// role fails before anything starts.
func Select(assignment cluster.Assignment, trainer, holder Process, logger *slog.Logger) (Process, error) {
	switch assignment.Role {
	case cluster.RoleCoordinator, cluster.RoleWorker:
		logger.Info("dispatching training process", slog.String("task", assignment.String()))

		return trainer, nil
	case cluster.RoleParameterHolder:
		logger.Info("dispatching parameter holder process", slog.String("task", assignment.String()))

		return holder, nil
	default:
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrUnknownRole, assignment.Role)
	}
}
