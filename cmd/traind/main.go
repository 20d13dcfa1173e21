package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/0x6flab/namegenerator"
	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vortexml/traind/checkpoint"
	ckptmiddleware "github.com/vortexml/traind/checkpoint/middleware"
	"github.com/vortexml/traind/cluster"
	"github.com/vortexml/traind/dispatch"
	"github.com/vortexml/traind/paramserver"
	paramsapi "github.com/vortexml/traind/paramserver/api"
	"github.com/vortexml/traind/pkg/mqtt"
	pkgprometheus "github.com/vortexml/traind/pkg/prometheus"
	"github.com/vortexml/traind/pkg/server"
	"github.com/vortexml/traind/pkg/storage"
	"github.com/vortexml/traind/trainer"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

const (
	svcName       = "traind"
	defHTTPPort   = "7577"
	envPrefixHTTP = "TRAIND_HTTP_"
	pathEnv       = ".env"
)

var namegen = namegenerator.NewGenerator()

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := trainer.Config{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	if cfg.RunName == "" {
		cfg.RunName = namegen.Generate()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	spec, err := loadClusterSpec(cfg)
	if err != nil {
		logger.Error("failed to load cluster config", slog.String("error", err.Error()))

		return
	}
	logger.Info("starting service",
		slog.String("run", cfg.RunName),
		slog.String("instance", cfg.InstanceID),
		slog.String("task", spec.Assignment.String()),
	)

	httpServerConfig := server.Config{Port: defHTTPPort}
	if err := env.ParseWithOptions(&httpServerConfig, env.Options{Prefix: envPrefixHTTP}); err != nil {
		logger.Error(fmt.Sprintf("failed to load %s HTTP server configuration : %s", svcName, err.Error()))

		return
	}

	holder, hs, err := holderProcess(ctx, cancel, spec, cfg, httpServerConfig, logger)
	if err != nil {
		logger.Error("failed to initialize parameter holder", slog.String("error", err.Error()))

		return
	}

	var coordinator dispatch.Process
	if spec.Assignment.Role != cluster.RoleParameterHolder {
		coordinator, err = trainerProcess(spec, cfg, logger)
		if err != nil {
			logger.Error("failed to initialize training process", slog.String("error", err.Error()))

			return
		}
		if spec.Assignment.IsPrimary() {
			hs = server.NewHTTPServer(ctx, cancel, svcName, httpServerConfig, metricsHandler(), logger)
		}
	}

	proc, err := dispatch.Select(spec.Assignment, coordinator, holder, logger)
	if err != nil {
		logger.Error("failed to dispatch role", slog.String("error", err.Error()))

		return
	}

	g.Go(func() error {
		defer cancel()

		return proc.Run(ctx)
	})

	if hs != nil {
		g.Go(func() error {
			return hs.Start()
		})
		g.Go(func() error {
			return server.StopSignalHandler(ctx, cancel, logger, svcName, hs)
		})
	} else {
		g.Go(func() error {
			return server.StopSignalHandler(ctx, cancel, logger, svcName)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))
	}
}

func loadClusterSpec(cfg trainer.Config) (cluster.Spec, error) {
	if cfg.ClusterConfig != "" {
		return cluster.Parse([]byte(cfg.ClusterConfig))
	}
	if cfg.ClusterFile != "" {
		return cluster.ParseFile(cfg.ClusterFile)
	}

	return cluster.Parse(nil)
}

// trainerProcess wires the full training stack for coordinator and worker
// tasks.
func trainerProcess(spec cluster.Spec, cfg trainer.Config, logger *slog.Logger) (dispatch.Process, error) {
	comps, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	ckpt := checkpoint.NewFSManager(cfg.TrainDir, spec.Assignment.IsPrimary(), checkpoint.Retention{
		MaxKeep:   cfg.MaxKeep,
		KeepEvery: cfg.KeepEvery,
	}, logger)
	ckpt = ckptmiddleware.Logging(logger, ckpt)
	ckpt = ckptmiddleware.Tracing(noop.NewTracerProvider().Tracer(svcName), ckpt)
	counter, latency := pkgprometheus.MakeMetrics(svcName, "checkpoint")
	ckpt = ckptmiddleware.Metrics(counter, latency, ckpt)

	var summary *trainer.SummaryWriter
	if spec.Assignment.IsPrimary() {
		var publisher mqtt.Publisher
		if cfg.MQTTAddress != "" {
			publisher, err = mqtt.NewPublisher(cfg.MQTTAddress, cfg.MQTTQoS, cfg.InstanceID, cfg.MQTTTimeout, logger)
			if err != nil {
				return nil, err
			}
		}
		summary, err = trainer.NewSummaryWriter(cfg.TrainDir, cfg.RunName, publisher, prometheus.DefaultRegisterer, logger)
		if err != nil {
			return nil, err
		}
	}

	var client *paramserver.Client
	if holders := spec.Topology.ParameterHolders(); len(holders) > 0 {
		client = paramserver.NewClient(holders[0])
	}

	return trainer.New(cfg, comps, spec.Assignment, ckpt, summary, client, logger), nil
}

// holderProcess builds the passive parameter service when this task holds
// that role. It returns a nil process otherwise.
func holderProcess(ctx context.Context, cancel context.CancelFunc, spec cluster.Spec, cfg trainer.Config, httpCfg server.Config, logger *slog.Logger) (dispatch.Process, server.Server, error) {
	if spec.Assignment.Role != cluster.RoleParameterHolder {
		return nil, nil, nil
	}

	db, err := openStorage(cfg)
	if err != nil {
		return nil, nil, err
	}

	svc := paramserver.NewService(db)
	hs := server.NewHTTPServer(ctx, cancel, svcName, httpCfg, paramsapi.MakeHandler(svc, logger, cfg.InstanceID), logger)

	// The holder itself only serves; its process blocks until shutdown.
	proc := dispatch.ProcessFunc(func(ctx context.Context) error {
		<-ctx.Done()

		return nil
	})

	return proc, hs, nil
}

func openStorage(cfg trainer.Config) (storage.Storage, error) {
	if cfg.StateDir == "" {
		return storage.NewInMemoryStorage(), nil
	}

	return storage.NewBadgerStorage(cfg.StateDir)
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}
