// Package server provides the shared HTTP server lifecycle: graceful start,
// graceful stop, and OS signal handling wired through a context.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Server is anything with a managed lifecycle tied to the process.
type Server interface {
	Start() error
	Stop() error
}

// Config is the env-tagged listener configuration shared by all HTTP
// surfaces.
type Config struct {
	Host string `env:"HOST" envDefault:"localhost"`
	Port string `env:"PORT" envDefault:"8080"`
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// StopSignalHandler blocks until the context is cancelled or a termination
// signal arrives, then stops the given servers in order.
func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger, svcName string, servers ...Server) error {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case s := <-sig:
		logger.Info(fmt.Sprintf("%s service shutdown by signal: %s", svcName, s))
		cancel()
	case <-ctx.Done():
	}

	var firstErr error
	for _, srv := range servers {
		if err := srv.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
