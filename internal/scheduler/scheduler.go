// Package scheduler runs the recovery sweeps that restart builds which never
// started or never finished.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"zigcheck/internal/catalog"
	"zigcheck/internal/observability"
	"zigcheck/internal/orchestrator"
	"zigcheck/internal/store"
)

const (
	DefaultMissingInterval  = 24 * time.Hour
	DefaultStalledInterval  = 30 * time.Minute
	DefaultStalledThreshold = 2 * time.Hour
	DefaultPollInterval     = time.Minute

	sweepMissing = "missing"
	sweepStalled = "stalled"
)

// Orchestrator is the part of *orchestrator.Orchestrator the sweeps drive.
type Orchestrator interface {
	StartPackageBuilds(ctx context.Context, packageID int64, name, repoURL string) error
	GetMissingBuildsForPackage(ctx context.Context, packageID int64) ([]catalog.Version, error)
	ListStalledPackages(ctx context.Context, threshold time.Duration) ([]int64, error)
}

// Packages looks up the packages a sweep restarts.
type Packages interface {
	ListPackages(ctx context.Context) ([]store.Package, error)
	GetPackageByID(ctx context.Context, id int64) (*store.Package, error)
}

type Config struct {
	MissingInterval  time.Duration
	StalledInterval  time.Duration
	StalledThreshold time.Duration
	// PollInterval is how often each loop checks its period and the running flag.
	PollInterval time.Duration
}

// Scheduler owns two independent loops. Each runs its sweep once at start and
// again whenever its period has elapsed.
type Scheduler struct {
	orch     Orchestrator
	packages Packages
	cfg      Config
	logger   *slog.Logger
	metrics  *observability.BuildMetrics

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	now     func() time.Time
}

func New(orch Orchestrator, packages Packages, cfg Config, logger *slog.Logger, metrics *observability.BuildMetrics) *Scheduler {
	if cfg.MissingInterval <= 0 {
		cfg.MissingInterval = DefaultMissingInterval
	}
	if cfg.StalledInterval <= 0 {
		cfg.StalledInterval = DefaultStalledInterval
	}
	if cfg.StalledThreshold <= 0 {
		cfg.StalledThreshold = DefaultStalledThreshold
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		orch:     orch,
		packages: packages,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Start launches both loops. Calling it on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("recovery scheduler started",
		"missing_interval", s.cfg.MissingInterval,
		"stalled_interval", s.cfg.StalledInterval,
		"stalled_threshold", s.cfg.StalledThreshold)

	s.wg.Add(2)
	go s.loop(ctx, sweepMissing, s.cfg.MissingInterval, s.SweepMissing)
	go s.loop(ctx, sweepStalled, s.cfg.StalledInterval, s.SweepStalled)
}

// Stop clears the running flag, cancels in-progress sweeps and waits for
// both loops to return.
func (s *Scheduler) Stop() {
	s.running.Store(false)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("recovery scheduler stopped")
}

func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) loop(ctx context.Context, name string, period time.Duration, sweep func(context.Context) (int, error)) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	var last time.Time
	for s.running.Load() {
		if now := s.now(); last.IsZero() || now.Sub(last) >= period {
			last = now
			restarted, err := sweep(ctx)
			if err != nil {
				s.logger.Error("recovery sweep failed", "sweep", name, "error", err)
			} else {
				s.logger.Info("recovery sweep finished", "sweep", name, "restarted", restarted)
			}
			s.metrics.SweepRan(ctx, name, restarted, err != nil)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepMissing restarts every package that has a catalog version with no row.
func (s *Scheduler) SweepMissing(ctx context.Context) (int, error) {
	pkgs, err := s.packages.ListPackages(ctx)
	if err != nil {
		return 0, err
	}

	restarted := 0
	for _, pkg := range pkgs {
		if ctx.Err() != nil {
			return restarted, ctx.Err()
		}
		missing, err := s.orch.GetMissingBuildsForPackage(ctx, pkg.ID)
		if err != nil {
			s.logger.Error("missing build lookup failed", "package_id", pkg.ID, "error", err)
			continue
		}
		if len(missing) == 0 {
			continue
		}

		s.logger.Info("restarting package with missing builds", "package_id", pkg.ID, "missing", len(missing))
		if err := s.restart(ctx, pkg); err != nil {
			if errors.Is(err, orchestrator.ErrRuntimeUnavailable) {
				return restarted, err
			}
			continue
		}
		restarted++
	}
	return restarted, nil
}

// SweepStalled restarts every package with a pending row older than the threshold.
func (s *Scheduler) SweepStalled(ctx context.Context) (int, error) {
	ids, err := s.orch.ListStalledPackages(ctx, s.cfg.StalledThreshold)
	if err != nil {
		return 0, err
	}

	restarted := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return restarted, ctx.Err()
		}
		pkg, err := s.packages.GetPackageByID(ctx, id)
		if err != nil {
			s.logger.Warn("stalled package lookup failed", "package_id", id, "error", err)
			continue
		}

		s.logger.Info("restarting stalled package", "package_id", id)
		if err := s.restart(ctx, *pkg); err != nil {
			if errors.Is(err, orchestrator.ErrRuntimeUnavailable) {
				return restarted, err
			}
			continue
		}
		restarted++
	}
	return restarted, nil
}

func (s *Scheduler) restart(ctx context.Context, pkg store.Package) error {
	err := s.orch.StartPackageBuilds(ctx, pkg.ID, pkg.Name, pkg.URL)
	if err != nil {
		s.logger.Error("restart failed", "package_id", pkg.ID, "error", err)
	}
	return err
}
