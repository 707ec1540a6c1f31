package runtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// removeTimeout bounds the cleanup of a container whose run was abandoned.
const removeTimeout = 30 * time.Second

// CLIRuntime implements the Runtime interface by shelling out to the docker
// binary. It needs nothing but a working `docker` on PATH.
type CLIRuntime struct {
	Binary string
}

// NewCLIRuntime creates a runtime for the given docker binary ("docker" when empty).
func NewCLIRuntime(binary string) *CLIRuntime {
	if binary == "" {
		binary = "docker"
	}
	return &CLIRuntime{Binary: binary}
}

type commandOutput struct {
	stdout, stderr string
	exitCode       int
	truncated      bool
}

// command runs the binary. err is non-nil only when the process could not be
// started or was killed by ctx; a non-zero exit is reported in exitCode.
func (c *CLIRuntime) command(ctx context.Context, args ...string) (commandOutput, error) {
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	stdout := newBoundedBuffer(MaxOutputBytes)
	stderr := newBoundedBuffer(MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	out := commandOutput{
		stdout:    stdout.String(),
		stderr:    stderr.String(),
		truncated: stdout.Truncated() || stderr.Truncated(),
	}
	if err == nil {
		return out, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		out.exitCode = -1
		return out, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.exitCode = exitErr.ExitCode()
		return out, nil
	}
	out.exitCode = -1
	return out, fmt.Errorf("failed to run %s: %w", c.Binary, err)
}

func (c *CLIRuntime) Available(ctx context.Context) error {
	out, err := c.command(ctx, "--version")
	if err != nil {
		return err
	}
	if out.exitCode != 0 {
		return fmt.Errorf("%s --version exited with %d: %s", c.Binary, out.exitCode, strings.TrimSpace(out.stderr))
	}
	return nil
}

func (c *CLIRuntime) ImageExists(ctx context.Context, image string) (bool, error) {
	out, err := c.command(ctx, "image", "inspect", "--format", "{{.Id}}", image)
	if err != nil {
		return false, err
	}
	if out.exitCode == 0 {
		return true, nil
	}
	if strings.Contains(strings.ToLower(out.stderr), "no such image") {
		return false, nil
	}
	return false, fmt.Errorf("image inspect %s exited with %d: %s", image, out.exitCode, strings.TrimSpace(out.stderr))
}

func (c *CLIRuntime) BuildImage(ctx context.Context, image, contextDir string) error {
	out, err := c.command(ctx, "build",
		"--label", ManagedLabel+"="+ManagedLabelValue,
		"-t", image,
		contextDir,
	)
	if err != nil {
		return err
	}
	if out.exitCode != 0 {
		return fmt.Errorf("docker build %s exited with %d: %s", image, out.exitCode, lastLine(out.stderr))
	}
	return nil
}

func (c *CLIRuntime) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	start := time.Now()
	out, err := c.command(ctx, c.runArgs(opts)...)
	result := RunResult{
		ExitCode:  out.exitCode,
		Stdout:    out.stdout,
		Stderr:    out.stderr,
		Duration:  time.Since(start),
		Truncated: out.truncated,
	}
	if err != nil {
		if ctx.Err() != nil && opts.Name != "" {
			c.removeContainer(ctx, opts.Name)
		}
		return result, err
	}
	return result, nil
}

// removeContainer force-removes a container whose `docker run` client was
// killed. The container keeps running without its client, and --rm only
// fires once it exits.
func (c *CLIRuntime) removeContainer(ctx context.Context, name string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
	defer cancel()

	out, err := c.command(ctx, "rm", "-f", name)
	if err != nil || out.exitCode != 0 {
		slog.Warn("failed to remove abandoned build container",
			"container", name, "error", err, "stderr", strings.TrimSpace(out.stderr))
		return
	}
	slog.Debug("removed abandoned build container", "container", name)
}

// runArgs builds the `docker run` argument list. The container removes
// itself on exit.
func (c *CLIRuntime) runArgs(opts RunOptions) []string {
	args := []string{"run", "--rm"}
	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}
	labels := opts.labels()
	for _, k := range sortedKeys(labels) {
		args = append(args, "--label", k+"="+labels[k])
	}
	for _, kv := range envList(opts.Env) {
		args = append(args, "-e", kv)
	}
	for _, m := range opts.Mounts {
		args = append(args, "-v", bindSpec(m))
	}
	if opts.MemoryBytes > 0 {
		args = append(args, "--memory", strconv.FormatInt(opts.MemoryBytes, 10))
	}
	if opts.CPUs > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(opts.CPUs, 'f', -1, 64))
	}
	return append(args, opts.Image)
}

// PruneContainers runs `docker container prune` and counts the IDs listed
// under "Deleted Containers:".
func (c *CLIRuntime) PruneContainers(ctx context.Context) (int, error) {
	out, err := c.command(ctx, "container", "prune", "-f", "--filter", "label="+ManagedLabel+"="+ManagedLabelValue)
	if err != nil {
		return 0, err
	}
	if out.exitCode != 0 {
		return 0, fmt.Errorf("container prune exited with %d: %s", out.exitCode, strings.TrimSpace(out.stderr))
	}
	return countPruned(out.stdout), nil
}

func countPruned(output string) int {
	n := 0
	listing := false
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "Deleted Containers:"):
			listing = true
		case line == "" || strings.HasPrefix(line, "Total reclaimed space"):
			listing = false
		case listing:
			n++
		}
	}
	return n
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
