package middleware

import (
	"context"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/vortexml/traind/checkpoint"
)

var _ checkpoint.Service = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     checkpoint.Service
}

func Metrics(counter metrics.Counter, latency metrics.Histogram, svc checkpoint.Service) checkpoint.Service {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (mm *metricsMiddleware) DecideResume(ctx context.Context, startNew bool) (*checkpoint.Ref, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "decide-resume").Add(1)
		mm.latency.With("method", "decide-resume").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.DecideResume(ctx, startNew)
}

func (mm *metricsMiddleware) Persist(ctx context.Context, state checkpoint.TrainingState) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "persist").Add(1)
		mm.latency.With("method", "persist").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Persist(ctx, state)
}

func (mm *metricsMiddleware) Load(ctx context.Context, ref checkpoint.Ref) (checkpoint.TrainingState, error) {
	defer func(begin time.Time) {
		mm.counter.With("method", "load").Add(1)
		mm.latency.With("method", "load").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Load(ctx, ref)
}

func (mm *metricsMiddleware) Prune(ctx context.Context) error {
	defer func(begin time.Time) {
		mm.counter.With("method", "prune").Add(1)
		mm.latency.With("method", "prune").Observe(time.Since(begin).Seconds())
	}(time.Now())

	return mm.svc.Prune(ctx)
}
