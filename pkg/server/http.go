package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const stopTimeout = 5 * time.Second

type httpServer struct {
	ctx    context.Context
	cancel context.CancelFunc
	name   string
	server *http.Server
	logger *slog.Logger
}

var _ Server = (*httpServer)(nil)

// NewHTTPServer wraps an http.Handler with the shared lifecycle contract.
func NewHTTPServer(ctx context.Context, cancel context.CancelFunc, name string, cfg Config, handler http.Handler, logger *slog.Logger) Server {
	return &httpServer{
		ctx:    ctx,
		cancel: cancel,
		name:   name,
		server: &http.Server{
			Addr:    cfg.Address(),
			Handler: handler,
		},
		logger: logger,
	}
}

func (s *httpServer) Start() error {
	s.logger.Info(fmt.Sprintf("%s service http server listening at %s", s.name, s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.cancel()

		return fmt.Errorf("%s service http server exited: %w", s.name, err)
	}

	return nil
}

func (s *httpServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s service http server shutdown failed: %w", s.name, err)
	}
	s.logger.Info(fmt.Sprintf("%s service http server stopped", s.name))

	return nil
}
