package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const fakeDocker = `#!/bin/sh
case "$1" in
  --version)
    echo "Docker version 27.3.1, build ce12230"
    exit 0 ;;
  image)
    if [ "$5" = "zigcheck/zig-builder:master" ]; then echo "sha256:abc"; exit 0; fi
    if [ "$5" = "broken" ]; then echo "permission denied while trying to connect" >&2; exit 1; fi
    echo "Error response from daemon: No such image: $5" >&2
    exit 1 ;;
  build)
    if [ -f "$6/Dockerfile" ]; then echo "Successfully tagged $5"; exit 0; fi
    echo "unable to prepare context" >&2
    echo "ERROR: failed to solve: Dockerfile not found" >&2
    exit 1 ;;
  run)
    echo "args: $*"
    echo "warning: from stderr" >&2
    exit 3 ;;
  container)
    echo "Deleted Containers:"
    echo "4a7c0b1e2f"
    echo "9d8e7f6a5b"
    echo ""
    echo "Total reclaimed space: 1.2kB"
    exit 0 ;;
esac
exit 64
`

func newFakeCLI(t *testing.T) *CLIRuntime {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docker")
	if err := os.WriteFile(path, []byte(fakeDocker), 0o755); err != nil {
		t.Fatalf("failed to write fake docker: %v", err)
	}
	return NewCLIRuntime(path)
}

func TestNewCLIRuntime_DefaultBinary(t *testing.T) {
	if rt := NewCLIRuntime(""); rt.Binary != "docker" {
		t.Errorf("expected default binary docker, got %s", rt.Binary)
	}
}

func TestCLIRuntime_Available(t *testing.T) {
	rt := newFakeCLI(t)
	if err := rt.Available(context.Background()); err != nil {
		t.Errorf("Available() failed: %v", err)
	}

	missing := NewCLIRuntime(filepath.Join(t.TempDir(), "no-such-docker"))
	if err := missing.Available(context.Background()); err == nil {
		t.Error("expected error for missing binary")
	}
}

func TestCLIRuntime_ImageExists(t *testing.T) {
	rt := newFakeCLI(t)
	ctx := context.Background()

	ok, err := rt.ImageExists(ctx, "zigcheck/zig-builder:master")
	if err != nil || !ok {
		t.Errorf("ImageExists(master) = %v, %v; want true, nil", ok, err)
	}

	ok, err = rt.ImageExists(ctx, "zigcheck/zig-builder:0.12.0")
	if err != nil || ok {
		t.Errorf("ImageExists(0.12.0) = %v, %v; want false, nil", ok, err)
	}

	if _, err := rt.ImageExists(ctx, "broken"); err == nil {
		t.Error("expected error for daemon failure")
	}
}

func TestCLIRuntime_BuildImage(t *testing.T) {
	rt := newFakeCLI(t)
	ctx := context.Background()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte("FROM alpine\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := rt.BuildImage(ctx, "zigcheck/zig-builder:0.14.0", dir); err != nil {
		t.Errorf("BuildImage() failed: %v", err)
	}

	err := rt.BuildImage(ctx, "zigcheck/zig-builder:0.14.0", t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing Dockerfile")
	}
	if !strings.Contains(err.Error(), "Dockerfile not found") {
		t.Errorf("error should carry the last stderr line, got %v", err)
	}
}

func TestCLIRuntime_Run(t *testing.T) {
	rt := newFakeCLI(t)

	result, err := rt.Run(context.Background(), RunOptions{
		Name:        "zigcheck-42_0_14_0_1",
		Image:       "zigcheck/zig-builder:0.14.0",
		Env:         map[string]string{"REPO_URL": "https://github.com/example/zap"},
		Mounts:      []Mount{{HostPath: "/tmp/results", ContainerPath: "/results"}},
		MemoryBytes: 2 << 30,
		CPUs:        1.5,
	})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", result.ExitCode)
	}
	for _, want := range []string{
		"run --rm --name zigcheck-42_0_14_0_1",
		"--label zigcheck.managed=true",
		"-e REPO_URL=https://github.com/example/zap",
		"-v /tmp/results:/results:rw",
		"--memory 2147483648",
		"--cpus 1.5",
		"zigcheck/zig-builder:0.14.0",
	} {
		if !strings.Contains(result.Stdout, want) {
			t.Errorf("stdout missing %q: %s", want, result.Stdout)
		}
	}
	if strings.TrimSpace(result.Stderr) != "warning: from stderr" {
		t.Errorf("unexpected stderr %q", result.Stderr)
	}
}

func TestCLIRuntime_Run_ContextCancelled(t *testing.T) {
	dir := t.TempDir()
	calls := filepath.Join(dir, "calls")
	path := filepath.Join(dir, "docker")
	script := fmt.Sprintf("#!/bin/sh\necho \"$*\" >> %s\nif [ \"$1\" = rm ]; then exit 0; fi\nexec sleep 5\n", calls)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	rt := NewCLIRuntime(path)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	result, err := rt.Run(ctx, RunOptions{Name: "zigcheck-7_master_1_ab", Image: "x"})
	if err == nil {
		t.Fatal("expected context error")
	}
	if result.ExitCode != -1 {
		t.Errorf("expected exit code -1, got %d", result.ExitCode)
	}

	// Killing the client leaves the container running; it must be removed.
	data, err := os.ReadFile(calls)
	if err != nil {
		t.Fatalf("failed to read recorded calls: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if last := lines[len(lines)-1]; last != "rm -f zigcheck-7_master_1_ab" {
		t.Errorf("expected abandoned container to be force-removed, last call %q", last)
	}
}

func TestCLIRuntime_Run_TruncatedOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docker")
	script := fmt.Sprintf("#!/bin/sh\nhead -c %d /dev/zero\nexit 1\n", MaxOutputBytes+10)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	result, err := NewCLIRuntime(path).Run(context.Background(), RunOptions{Image: "x"})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if !result.Truncated {
		t.Error("expected Truncated for output past the limit")
	}
	if len(result.Stdout) != MaxOutputBytes {
		t.Errorf("expected %d bytes kept, got %d", MaxOutputBytes, len(result.Stdout))
	}
}

func TestCLIRuntime_PruneContainers(t *testing.T) {
	rt := newFakeCLI(t)
	n, err := rt.PruneContainers(context.Background())
	if err != nil {
		t.Fatalf("PruneContainers() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pruned containers, got %d", n)
	}
}

func TestCountPruned_Empty(t *testing.T) {
	if n := countPruned("Total reclaimed space: 0B\n"); n != 0 {
		t.Errorf("expected 0, got %d", n)
	}
}
