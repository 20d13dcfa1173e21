package middleware

import (
	"context"

	"github.com/vortexml/traind/checkpoint"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ checkpoint.Service = (*tracing)(nil)

type tracing struct {
	tracer trace.Tracer
	svc    checkpoint.Service
}

func Tracing(tracer trace.Tracer, svc checkpoint.Service) checkpoint.Service {
	return &tracing{tracer, svc}
}

func (tm *tracing) DecideResume(ctx context.Context, startNew bool) (*checkpoint.Ref, error) {
	ctx, span := tm.tracer.Start(ctx, "decide-resume", trace.WithAttributes(
		attribute.Bool("start_new", startNew),
	))
	defer span.End()

	return tm.svc.DecideResume(ctx, startNew)
}

func (tm *tracing) Persist(ctx context.Context, state checkpoint.TrainingState) error {
	ctx, span := tm.tracer.Start(ctx, "persist", trace.WithAttributes(
		attribute.Int64("step", int64(state.Step)),
	))
	defer span.End()

	return tm.svc.Persist(ctx, state)
}

func (tm *tracing) Load(ctx context.Context, ref checkpoint.Ref) (checkpoint.TrainingState, error) {
	ctx, span := tm.tracer.Start(ctx, "load", trace.WithAttributes(
		attribute.Int64("step", int64(ref.Step)),
		attribute.String("path", ref.Path),
	))
	defer span.End()

	return tm.svc.Load(ctx, ref)
}

func (tm *tracing) Prune(ctx context.Context) error {
	ctx, span := tm.tracer.Start(ctx, "prune")
	defer span.End()

	return tm.svc.Prune(ctx)
}
