// Package orchestrator turns package submissions into per-version build jobs,
// drives each job through a container run, and records a definitive outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"zigcheck/internal/catalog"
	"zigcheck/internal/interpret"
	"zigcheck/internal/observability"
	"zigcheck/internal/orchestrator/runtime"
	"zigcheck/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultBuildTimeout          = 30 * time.Minute
	DefaultSettleDelay           = 2 * time.Second
	DefaultMaxConcurrentPackages = 4
	DefaultContainerResultsDir   = "/results"
)

// Config holds the orchestrator's tunables.
type Config struct {
	// DockerfilesDir holds one zig-<version> build context per catalog version.
	DockerfilesDir string
	// ResultsDir is the host directory mounted into every build container.
	ResultsDir string
	// ContainerResultsDir is where ResultsDir appears inside the container.
	ContainerResultsDir string

	MemoryBytes int64
	CPUs        float64

	// BuildTimeout bounds one container run. Negative disables it.
	BuildTimeout time.Duration
	// SettleDelay is the pause between container exit and reading its
	// result file. Negative disables it.
	SettleDelay time.Duration
	// MaxConcurrentPackages bounds package workers running containers at
	// once. Zero or negative means unbounded.
	MaxConcurrentPackages int
}

// PackageBuildRun is the immutable copy of a submission a worker owns.
type PackageBuildRun struct {
	PackageID   int64
	PackageName string
	RepoURL     string
	Versions    []catalog.Version
}

// packageWorker is the bookkeeping for a package's live worker. rerun is set
// when the package is restarted after the current pass began.
type packageWorker struct {
	running bool
	rerun   bool
	ready   map[catalog.Version]bool
}

// Orchestrator is safe for concurrent use. All persistence goes through one
// coarse lock held for a single store call at a time.
type Orchestrator struct {
	rt      runtime.Runtime
	store   store.Store
	cfg     Config
	logger  *slog.Logger
	metrics *observability.BuildMetrics
	tracer  trace.Tracer

	mu  sync.Mutex
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	// workers holds one entry per package with a live worker, queued or running.
	workersMu sync.Mutex
	workers   map[int64]*packageWorker

	ctx    context.Context
	cancel context.CancelFunc

	startedAt time.Time
	now       func() time.Time
}

// New creates an orchestrator. metrics may be nil.
func New(rt runtime.Runtime, st store.Store, cfg Config, logger *slog.Logger, metrics *observability.BuildMetrics) *Orchestrator {
	if cfg.BuildTimeout == 0 {
		cfg.BuildTimeout = DefaultBuildTimeout
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.ContainerResultsDir == "" {
		cfg.ContainerResultsDir = DefaultContainerResultsDir
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		rt:        rt,
		store:     st,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
		tracer:    otel.Tracer("zigcheck/orchestrator"),
		ctx:       ctx,
		cancel:    cancel,
		workers:   make(map[int64]*packageWorker),
		startedAt: time.Now(),
		now:       time.Now,
	}
	if cfg.MaxConcurrentPackages > 0 {
		o.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentPackages))
	}
	return o
}

// CheckRuntimeAvailable reports whether the container engine answers.
func (o *Orchestrator) CheckRuntimeAvailable(ctx context.Context) bool {
	if err := o.rt.Available(ctx); err != nil {
		o.logger.Warn("container runtime unavailable", "error", err)
		return false
	}
	return true
}

// EnsureImage builds the image for v unless it already exists.
func (o *Orchestrator) EnsureImage(ctx context.Context, v catalog.Version) error {
	image := v.ImageName()

	exists, err := o.rt.ImageExists(ctx, image)
	if err != nil {
		return &Error{Kind: KindImageBuildFailed, Version: string(v), Err: err}
	}
	if exists {
		return nil
	}

	o.logger.Info("building builder image", "zig_version", string(v), "image", image)
	if err := o.rt.BuildImage(ctx, image, v.BuildContext(o.cfg.DockerfilesDir)); err != nil {
		return &Error{Kind: KindImageBuildFailed, Version: string(v), Err: err}
	}
	return nil
}

// EnsureImages runs EnsureImage for every catalog version and reports which
// are ready. Failures are logged, not returned.
func (o *Orchestrator) EnsureImages(ctx context.Context) map[catalog.Version]bool {
	ready := make(map[catalog.Version]bool)
	for _, v := range catalog.All() {
		if err := o.EnsureImage(ctx, v); err != nil {
			o.logger.Error("builder image not ready", "zig_version", string(v), "error", err)
			continue
		}
		ready[v] = true
	}
	return ready
}

// StartPackageBuilds marks every catalog version pending for the package and
// hands the builds to a background worker. It returns once the pending rows
// are written; the builds themselves run asynchronously. A package never has
// more than one worker: restarting a package whose worker is still alive
// queues one more full pass on that worker.
func (o *Orchestrator) StartPackageBuilds(ctx context.Context, packageID int64, name, repoURL string) error {
	if err := o.rt.Available(ctx); err != nil {
		return &Error{Kind: KindRuntimeUnavailable, PackageID: packageID, Err: err}
	}

	ready := o.EnsureImages(ctx)

	run := PackageBuildRun{
		PackageID:   packageID,
		PackageName: name,
		RepoURL:     repoURL,
		Versions:    catalog.All(),
	}
	for _, v := range run.Versions {
		if err := o.MarkPending(ctx, packageID, v); err != nil {
			return err
		}
	}

	if !o.claimWorker(packageID, ready) {
		o.logger.Info("package worker already alive, not spawning another", "package_id", packageID)
		return nil
	}
	o.wg.Add(1)
	go o.runPackage(run)
	return nil
}

// claimWorker registers a worker for packageID. When one is already
// registered it returns false; a worker whose pass has begun is marked for
// one more pass, a queued one simply picks up the new image set.
func (o *Orchestrator) claimWorker(packageID int64, ready map[catalog.Version]bool) bool {
	o.workersMu.Lock()
	defer o.workersMu.Unlock()

	if w, ok := o.workers[packageID]; ok {
		if w.running {
			w.rerun = true
		}
		w.ready = ready
		return false
	}
	o.workers[packageID] = &packageWorker{ready: ready}
	return true
}

// beginPass marks the worker's pass as started and returns the images ready for it.
func (o *Orchestrator) beginPass(packageID int64) map[catalog.Version]bool {
	o.workersMu.Lock()
	defer o.workersMu.Unlock()

	w, ok := o.workers[packageID]
	if !ok {
		return nil
	}
	w.running = true
	return w.ready
}

// nextPass consumes a queued rerun. Without one, the worker is unregistered
// and nextPass reports false.
func (o *Orchestrator) nextPass(packageID int64) bool {
	o.workersMu.Lock()
	defer o.workersMu.Unlock()

	w, ok := o.workers[packageID]
	if !ok {
		return false
	}
	if w.rerun {
		w.rerun = false
		return true
	}
	delete(o.workers, packageID)
	return false
}

func (o *Orchestrator) releaseWorker(packageID int64) {
	o.workersMu.Lock()
	defer o.workersMu.Unlock()
	delete(o.workers, packageID)
}

// hasWorker reports whether packageID has a live worker.
func (o *Orchestrator) hasWorker(packageID int64) bool {
	o.workersMu.Lock()
	defer o.workersMu.Unlock()
	_, ok := o.workers[packageID]
	return ok
}

func (o *Orchestrator) runPackage(run PackageBuildRun) {
	defer o.wg.Done()

	ctx := o.ctx
	logger := o.logger.With("package_id", run.PackageID)

	o.metrics.WorkerStarted(ctx)
	defer o.metrics.WorkerFinished(ctx)

	if o.sem != nil {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			logger.Warn("package worker cancelled before start", "error", err)
			o.releaseWorker(run.PackageID)
			return
		}
		defer o.sem.Release(1)
	}

	for {
		ready := o.beginPass(run.PackageID)
		if !o.runVersions(ctx, logger, run, ready) {
			o.releaseWorker(run.PackageID)
			return
		}
		if !o.nextPass(run.PackageID) {
			return
		}
		logger.Info("package restarted while building, running again")
	}
}

// runVersions makes one pass over run.Versions. It reports false when the
// worker has to stop: the orchestrator is stopping or the package is gone.
func (o *Orchestrator) runVersions(ctx context.Context, logger *slog.Logger, run PackageBuildRun, ready map[catalog.Version]bool) bool {
	logger.Info("package builds started", "package_name", run.PackageName, "versions", len(run.Versions))
	for _, v := range run.Versions {
		if ctx.Err() != nil {
			logger.Warn("package worker stopped", "error", ctx.Err())
			return false
		}
		if !ready[v] {
			logger.Warn("skipping version without builder image", "zig_version", string(v))
			continue
		}
		// Time spent queued behind the semaphore must not age the row.
		if err := o.MarkPending(ctx, run.PackageID, v); err != nil {
			logger.Error("failed to refresh pending row", "zig_version", string(v), "error", err)
			if errors.Is(err, ErrRecordNotFound) {
				return false
			}
			continue
		}
		if err := o.ExecuteOneVersion(ctx, run, v); err != nil {
			logger.Error("version build failed", "zig_version", string(v), "error", err)
		}
	}
	logger.Info("package builds finished")
	return true
}

// ExecuteOneVersion runs one container for run against v and persists the
// outcome. Whatever happens, a non-pending row is written unless the store
// itself fails.
func (o *Orchestrator) ExecuteOneVersion(ctx context.Context, run PackageBuildRun, v catalog.Version) error {
	job := newJobContext(run.PackageID, string(v), o.cfg.ResultsDir, o.cfg.ContainerResultsDir, o.now())
	logger := o.logger.With("package_id", run.PackageID, "zig_version", string(v), "job_id", job.ID)

	ctx, span := o.tracer.Start(ctx, "execute_version", trace.WithAttributes(
		attribute.Int64("package.id", run.PackageID),
		attribute.String("zig.version", string(v)),
		attribute.String("job.id", job.ID),
	))
	defer span.End()

	fail := func(kind Kind, cause error, summary string) error {
		span.RecordError(cause)
		span.SetStatus(codes.Error, kind.String())
		removeQuietly(job.HostResultPath)
		if err := o.PersistResult(ctx, run.PackageID, v, store.BuildStatusFailed, store.TestStatusNone, summary); err != nil {
			return err
		}
		return &Error{Kind: kind, PackageID: run.PackageID, Version: string(v), Err: cause}
	}

	if err := os.MkdirAll(o.cfg.ResultsDir, 0o755); err != nil {
		return fail(KindProcessLaunchFailed, err, fmt.Sprintf("Could not prepare results directory: %v", err))
	}

	runCtx := ctx
	if o.cfg.BuildTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.BuildTimeout)
		defer cancel()
	}

	logger.Info("starting build container", "container", job.ContainerName)
	o.metrics.BuildStarted(ctx, string(v))

	res, err := o.rt.Run(runCtx, runtime.RunOptions{
		Name:  job.ContainerName,
		Image: v.ImageName(),
		Env: map[string]string{
			"REPO_URL":     run.RepoURL,
			"PACKAGE_NAME": run.PackageName,
			"BUILD_ID":     job.ID,
			"RESULT_FILE":  job.ContainerResultPath,
			"ZIG_VERSION":  string(v),
		},
		Mounts: []runtime.Mount{
			{HostPath: o.cfg.ResultsDir, ContainerPath: o.cfg.ContainerResultsDir},
		},
		MemoryBytes: o.cfg.MemoryBytes,
		CPUs:        o.cfg.CPUs,
		Timeout:     o.cfg.BuildTimeout,
		Labels: map[string]string{
			"zigcheck.package": strconv.FormatInt(run.PackageID, 10),
			"zigcheck.version": string(v),
		},
	})
	o.metrics.ObserveRun(ctx, string(v), res.Duration)
	span.SetAttributes(attribute.Int("exit_code", res.ExitCode))
	if res.Truncated {
		logger.Warn("build output truncated", "limit_bytes", runtime.MaxOutputBytes)
	}

	if err != nil {
		if ctx.Err() != nil {
			// Interrupted by Stop; the row stays pending for the stalled sweep.
			removeQuietly(job.HostResultPath)
			return &Error{Kind: KindContainerExecutionFailed, PackageID: run.PackageID, Version: string(v), Err: ctx.Err()}
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			msg := fmt.Sprintf("Build timed out after %s", o.cfg.BuildTimeout)
			logger.Warn("build container timed out", "timeout", o.cfg.BuildTimeout)
			return fail(KindContainerExecutionFailed, err, crashSummary(res, msg))
		}
		logger.Error("build container could not be launched", "error", err)
		msg := fmt.Sprintf("Failed to launch build container: %v", err)
		return fail(KindProcessLaunchFailed, err, crashSummary(res, msg))
	}

	if res.ExitCode != 0 {
		logger.Warn("build container exited non-zero", "exit_code", res.ExitCode)
		msg := fmt.Sprintf("Build container exited with code %d", res.ExitCode)
		return fail(KindContainerExecutionFailed, fmt.Errorf("exit code %d", res.ExitCode), crashSummary(res, msg))
	}

	// The container's last write can land after exit is reported.
	if o.cfg.SettleDelay > 0 {
		select {
		case <-time.After(o.cfg.SettleDelay):
		case <-ctx.Done():
		}
	}

	raw, err := os.ReadFile(job.HostResultPath)
	if err != nil {
		logger.Error("result file unreadable", "path", job.HostResultPath, "error", err)
		return fail(KindResultFileUnreadable, err, crashSummary(res, "Build finished but its result file could not be read"))
	}
	defer removeQuietly(job.HostResultPath)

	outcome, err := interpret.Interpret(raw, res.Stdout, res.Stderr)
	if err != nil {
		logger.Error("result file unparseable", "path", job.HostResultPath, "error", err)
		return fail(KindResultFileUnreadable, err, crashSummary(res, "Build finished but its result file could not be parsed"))
	}

	logger.Info("build finished", "build_status", outcome.BuildStatus, "test_status", outcome.TestStatus)
	return o.PersistResult(ctx, run.PackageID, v, outcome.BuildStatus, outcome.TestStatus, outcome.ErrorSummary)
}

// PersistResult is the single write path for build outcomes.
func (o *Orchestrator) PersistResult(ctx context.Context, packageID int64, v catalog.Version, status store.BuildStatus, testStatus store.TestStatus, summary string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	err := o.store.UpsertBuildResult(ctx, &store.BuildResult{
		PackageID:   packageID,
		ZigVersion:  string(v),
		BuildStatus: status,
		TestStatus:  testStatus,
		ErrorLog:    summary,
		LastChecked: o.now().UTC(),
	})
	if err != nil {
		return &Error{Kind: KindPersistenceFailure, PackageID: packageID, Version: string(v), Err: err}
	}
	if status != store.BuildStatusPending {
		o.metrics.BuildCompleted(ctx, string(v), string(status))
	}
	return nil
}

// MarkPending resets the row for (packageID, v) to pending.
func (o *Orchestrator) MarkPending(ctx context.Context, packageID int64, v catalog.Version) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	exists, err := o.store.PackageExists(ctx, packageID)
	if err != nil {
		return &Error{Kind: KindPersistenceFailure, PackageID: packageID, Version: string(v), Err: err}
	}
	if !exists {
		return &Error{Kind: KindRecordNotFound, PackageID: packageID, Version: string(v), Err: store.ErrNotFound}
	}

	err = o.store.UpsertBuildResult(ctx, &store.BuildResult{
		PackageID:   packageID,
		ZigVersion:  string(v),
		BuildStatus: store.BuildStatusPending,
		LastChecked: o.now().UTC(),
	})
	if err != nil {
		return &Error{Kind: KindPersistenceFailure, PackageID: packageID, Version: string(v), Err: err}
	}
	return nil
}

// GetBuildResults returns every recorded result for a package, newest first.
func (o *Orchestrator) GetBuildResults(ctx context.Context, packageID int64) ([]store.BuildResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	results, err := o.store.GetBuildResults(ctx, packageID)
	if err != nil {
		return nil, &Error{Kind: KindPersistenceFailure, PackageID: packageID, Err: err}
	}
	return results, nil
}

// GetMissingBuildsForPackage returns the catalog versions with no row at all.
func (o *Orchestrator) GetMissingBuildsForPackage(ctx context.Context, packageID int64) ([]catalog.Version, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	recorded, err := o.store.RecordedVersions(ctx, packageID)
	if err != nil {
		return nil, &Error{Kind: KindPersistenceFailure, PackageID: packageID, Err: err}
	}
	return catalog.Missing(recorded), nil
}

// ListStalledPackages returns packages with a pending row older than
// threshold. Packages with a live worker are left out: their rows are pending
// because the worker has not reached them yet.
func (o *Orchestrator) ListStalledPackages(ctx context.Context, threshold time.Duration) ([]int64, error) {
	o.mu.Lock()
	ids, err := o.store.ListStalledBuilds(ctx, o.now().UTC().Add(-threshold))
	o.mu.Unlock()
	if err != nil {
		return nil, &Error{Kind: KindPersistenceFailure, Err: err}
	}

	stalled := ids[:0]
	for _, id := range ids {
		if !o.hasWorker(id) {
			stalled = append(stalled, id)
		}
	}
	return stalled, nil
}

// Wait blocks until every package worker has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Stop cancels in-flight builds and waits for workers to return. Rows of
// interrupted builds stay pending for the stalled sweep.
func (o *Orchestrator) Stop() {
	o.cancel()
	o.wg.Wait()
}

// truncatedNote marks summaries built from output the runtime cut short.
const truncatedNote = "\n(output truncated)"

// crashSummary summarizes a run that left no usable result file.
func crashSummary(res runtime.RunResult, fallback string) string {
	summary := interpret.SummarizeCrash(res.Stdout, res.Stderr, fallback)
	if res.Truncated {
		summary += truncatedNote
	}
	return summary
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove result file", "path", path, "error", err)
	}
}
