package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"zigcheck/internal/config"
	"zigcheck/internal/controller"
	"zigcheck/internal/controller/middleware"
	"zigcheck/internal/logger"
	"zigcheck/internal/metadata"
	"zigcheck/internal/observability"
	"zigcheck/internal/orchestrator"
	"zigcheck/internal/orchestrator/runtime"
	"zigcheck/internal/scheduler"
	"zigcheck/internal/store"
	"zigcheck/internal/store/postgres"
	"zigcheck/internal/store/rediscache"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const serviceName = "zigcheck"

// run wires every component and blocks until ctx is cancelled or the HTTP
// server fails.
func run(ctx context.Context, cfg *config.Config) error {
	lg := logger.New(cfg.LogLevel)
	slog.SetDefault(lg)

	// Tracing
	if cfg.OTELEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
			ServiceName:    serviceName,
			ServiceVersion: version,
			Runtime:        cfg.Runtime,
			Endpoint:       cfg.OTELEndpoint,
			SampleRatio:    cfg.TraceSampleRatio,
		})
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Printf("Failed to shutdown tracer: %v", err)
			}
		}()
	}

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()
	meter := otel.Meter(serviceName)
	buildMetrics, err := observability.NewBuildMetrics(meter)
	if err != nil {
		return fmt.Errorf("failed to create build metrics: %w", err)
	}

	// Storage
	pg, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer pg.Close()

	var st store.Store = pg
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		cached := rediscache.New(pg, client, rediscache.DefaultTTL, lg)
		if err := cached.Ping(ctx); err != nil {
			lg.Warn("redis unreachable, reads fall through to postgres", "addr", cfg.RedisAddr, "error", err)
		}
		st = cached
		lg.Info("build result cache enabled", "addr", cfg.RedisAddr)
	}

	// Packages with at least one pending row, computed on scrape only.
	_, err = meter.Int64ObservableGauge("zigcheck.packages.pending",
		metric.WithDescription("Packages with at least one pending build"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			ids, err := pg.ListStalledBuilds(ctx, time.Now().UTC())
			if err != nil {
				lg.Warn("failed to count pending packages", "error", err)
				return nil
			}
			obs.Observe(int64(len(ids)))
			return nil
		}),
	)
	if err != nil {
		lg.Warn("failed to register pending packages gauge", "error", err)
	}

	// Container runtime
	rt, closeRuntime, err := newRuntime(cfg, lg)
	if err != nil {
		return err
	}
	defer closeRuntime()

	if err := os.MkdirAll(cfg.ResultsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create results dir: %w", err)
	}

	orch := orchestrator.New(rt, st, orchestrator.Config{
		DockerfilesDir:        cfg.DockerfilesDir,
		ResultsDir:            cfg.ResultsDir,
		ContainerResultsDir:   cfg.ContainerResultsDir,
		MemoryBytes:           cfg.ContainerMemoryBytes,
		CPUs:                  cfg.ContainerCPUs,
		BuildTimeout:          cfg.BuildTimeout,
		SettleDelay:           cfg.ResultSettleDelay,
		MaxConcurrentPackages: cfg.MaxConcurrentPackages,
	}, lg, buildMetrics)
	defer orch.Stop()

	if report, err := orch.Cleanup(ctx); err != nil {
		lg.Warn("startup cleanup failed", "error", err)
	} else {
		lg.Info("startup cleanup finished",
			"containers_removed", report.ContainersRemoved,
			"files_removed", report.FilesRemoved)
	}

	// Build missing builder images before the first submission needs them.
	if orch.CheckRuntimeAvailable(ctx) {
		ready := orch.EnsureImages(ctx)
		lg.Info("builder images checked", "ready", len(ready))
	}

	sched := scheduler.New(orch, st, scheduler.Config{
		MissingInterval:  cfg.MissingSweepInterval,
		StalledInterval:  cfg.StalledSweepInterval,
		StalledThreshold: cfg.StalledThreshold,
		PollInterval:     cfg.SweepPollInterval,
	}, lg, buildMetrics)

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(controller.Options{
		Addr:           addr,
		Store:          pg,
		Orchestrator:   orch,
		Lookup:         metadata.NewGitHubClient(cfg.GitHubAPIURL, cfg.GitHubToken),
		Logger:         lg,
		RateLimiter:    middleware.NewRateLimiter(middleware.WithLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)),
		MetricsHandler: metricsHandler,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("zigcheck server starting", "addr", addr, "runtime", cfg.Runtime)
		return srv.Run(gctx)
	})
	g.Go(func() error {
		sched.Start(gctx)
		<-gctx.Done()
		sched.Stop()
		return nil
	})

	err = g.Wait()
	lg.Info("shutting down, waiting for package workers")
	return err
}

// newRuntime builds the configured container runtime. The returned func
// releases any client it holds.
func newRuntime(cfg *config.Config, lg *slog.Logger) (runtime.Runtime, func(), error) {
	switch cfg.Runtime {
	case config.RuntimeCLI:
		lg.Info("using docker cli runtime", "binary", cfg.DockerBinary)
		return runtime.NewCLIRuntime(cfg.DockerBinary), func() {}, nil
	case config.RuntimeKubernetes:
		k8sRT, err := runtime.NewKubernetesRuntime(runtime.KubernetesConfig{
			Namespace:      cfg.KubernetesNamespace,
			ServiceAccount: cfg.KubernetesServiceAccount,
			Kubeconfig:     cfg.Kubeconfig,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Kubernetes runtime: %w", err)
		}
		lg.Info("using kubernetes runtime", "namespace", cfg.KubernetesNamespace)
		return k8sRT, func() {}, nil
	default:
		dockerRT, err := runtime.NewDockerRuntime()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Docker runtime: %w", err)
		}
		lg.Info("using docker runtime")
		return dockerRT, func() {
			if err := dockerRT.Close(); err != nil {
				lg.Warn("failed to close docker client", "error", err)
			}
		}, nil
	}
}
