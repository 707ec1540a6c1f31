package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"zigcheck/internal/orchestrator/runtime"
	"zigcheck/internal/store"
	"zigcheck/internal/store/memory"
)

// MockRuntime is a hand-written runtime.Runtime. RunFunc decides each run's
// outcome; by default the container exits 0 without writing anything.
type MockRuntime struct {
	mu sync.Mutex

	AvailableErr error
	Images       map[string]bool
	BuildErrs    map[string]error
	PruneCount   int
	PruneErr     error
	RunFunc      func(ctx context.Context, opts runtime.RunOptions) (runtime.RunResult, error)

	builds []string
	runs   []runtime.RunOptions
}

func (m *MockRuntime) Available(context.Context) error {
	return m.AvailableErr
}

func (m *MockRuntime) ImageExists(_ context.Context, image string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Images[image], nil
}

func (m *MockRuntime) BuildImage(_ context.Context, image, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.builds = append(m.builds, image)
	if err := m.BuildErrs[image]; err != nil {
		return err
	}
	if m.Images == nil {
		m.Images = make(map[string]bool)
	}
	m.Images[image] = true
	return nil
}

func (m *MockRuntime) Run(ctx context.Context, opts runtime.RunOptions) (runtime.RunResult, error) {
	m.mu.Lock()
	m.runs = append(m.runs, opts)
	fn := m.RunFunc
	m.mu.Unlock()

	if fn == nil {
		return runtime.RunResult{Duration: time.Millisecond}, nil
	}
	return fn(ctx, opts)
}

func (m *MockRuntime) PruneContainers(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.PruneCount
	m.PruneCount = 0
	return n, m.PruneErr
}

func (m *MockRuntime) Runs() []runtime.RunOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]runtime.RunOptions(nil), m.runs...)
}

func (m *MockRuntime) Builds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.builds...)
}

// hostResultPath resolves where the container's RESULT_FILE lands on the host.
func hostResultPath(opts runtime.RunOptions) string {
	return filepath.Join(opts.Mounts[0].HostPath, path.Base(opts.Env["RESULT_FILE"]))
}

// writesResult returns a RunFunc that writes body as the result file and exits with code.
func writesResult(body string, code int, stdout string) func(context.Context, runtime.RunOptions) (runtime.RunResult, error) {
	return func(_ context.Context, opts runtime.RunOptions) (runtime.RunResult, error) {
		if body != "" {
			if err := os.WriteFile(hostResultPath(opts), []byte(body), 0o644); err != nil {
				return runtime.RunResult{}, err
			}
		}
		return runtime.RunResult{ExitCode: code, Stdout: stdout, Duration: time.Millisecond}, nil
	}
}

// failingStore rejects every upsert.
type failingStore struct {
	*memory.Store
}

func (f failingStore) UpsertBuildResult(context.Context, *store.BuildResult) error {
	return errors.New("connection refused")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		DockerfilesDir:      t.TempDir(),
		ResultsDir:          t.TempDir(),
		ContainerResultsDir: "/results",
		MemoryBytes:         2 << 30,
		CPUs:                2,
		BuildTimeout:        5 * time.Second,
		SettleDelay:         time.Millisecond,
	}
}

func newTestOrchestrator(t *testing.T, rt runtime.Runtime, st store.Store) *Orchestrator {
	t.Helper()
	o := New(rt, st, testConfig(t), discardLogger(), nil)
	t.Cleanup(o.Stop)
	return o
}

func seedPackage(t *testing.T, st *memory.Store, id int64) store.Package {
	t.Helper()
	pkg := store.Package{ID: id, Name: "zap", URL: "https://github.com/example/zap"}
	if err := st.CreatePackage(context.Background(), &pkg); err != nil {
		t.Fatalf("CreatePackage failed: %v", err)
	}
	return pkg
}
