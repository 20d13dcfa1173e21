package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/vortexml/traind/checkpoint"
)

var _ checkpoint.Service = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    checkpoint.Service
}

func Logging(logger *slog.Logger, svc checkpoint.Service) checkpoint.Service {
	return &loggingMiddleware{
		logger: logger,
		svc:    svc,
	}
}

func (lm *loggingMiddleware) DecideResume(ctx context.Context, startNew bool) (ref *checkpoint.Ref, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Bool("start_new", startNew),
		}
		if ref != nil {
			args = append(args, slog.Group("checkpoint",
				slog.Uint64("step", ref.Step),
				slog.String("path", ref.Path),
			))
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Decide resume failed", args...)

			return
		}
		lm.logger.Info("Decide resume completed successfully", args...)
	}(time.Now())

	return lm.svc.DecideResume(ctx, startNew)
}

func (lm *loggingMiddleware) Persist(ctx context.Context, state checkpoint.TrainingState) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Uint64("step", state.Step),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Persist checkpoint failed", args...)

			return
		}
		lm.logger.Info("Persist checkpoint completed successfully", args...)
	}(time.Now())

	return lm.svc.Persist(ctx, state)
}

func (lm *loggingMiddleware) Load(ctx context.Context, ref checkpoint.Ref) (state checkpoint.TrainingState, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Group("checkpoint",
				slog.Uint64("step", ref.Step),
				slog.String("path", ref.Path),
			),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Load checkpoint failed", args...)

			return
		}
		lm.logger.Info("Load checkpoint completed successfully", args...)
	}(time.Now())

	return lm.svc.Load(ctx, ref)
}

func (lm *loggingMiddleware) Prune(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Prune checkpoints failed", args...)

			return
		}
		lm.logger.Info("Prune checkpoints completed successfully", args...)
	}(time.Now())

	return lm.svc.Prune(ctx)
}
