package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerRuntime implements the Runtime interface using the Docker SDK.
type DockerRuntime struct {
	client *client.Client
}

// NewDockerRuntime creates a client from the standard environment
// variables (DOCKER_HOST, etc.).
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRuntime{client: cli}, nil
}

func (d *DockerRuntime) Available(ctx context.Context) error {
	if _, err := d.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

func (d *DockerRuntime) ImageExists(ctx context.Context, image string) (bool, error) {
	_, err := d.client.ImageInspect(ctx, image)
	if err == nil {
		return true, nil
	}
	if client.IsErrNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to inspect image %s: %w", image, err)
}

func (d *DockerRuntime) BuildImage(ctx context.Context, image, contextDir string) error {
	tar, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to archive build context %s: %w", contextDir, err)
	}
	defer tar.Close()

	resp, err := d.client.ImageBuild(ctx, tar, build.ImageBuildOptions{
		Tags:        []string{image},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
		Labels:      map[string]string{ManagedLabel: ManagedLabelValue},
	})
	if err != nil {
		return fmt.Errorf("failed to build image %s: %w", image, err)
	}
	defer resp.Body.Close()

	// Build errors arrive in the progress stream, not as a call error.
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, io.Discard, 0, false, nil); err != nil {
		return fmt.Errorf("failed to build image %s: %w", image, err)
	}
	return nil
}

func (d *DockerRuntime) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	binds := make([]string, 0, len(opts.Mounts))
	for _, m := range opts.Mounts {
		binds = append(binds, bindSpec(m))
	}

	containerConfig := &container.Config{
		Image:  opts.Image,
		Env:    envList(opts.Env),
		Labels: opts.labels(),
	}
	hostConfig := &container.HostConfig{
		Binds: binds,
		Resources: container.Resources{
			Memory:   opts.MemoryBytes,
			NanoCPUs: int64(opts.CPUs * 1e9),
		},
	}

	start := time.Now()
	created, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, opts.Name)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to create container %s: %w", opts.Name, err)
	}
	// The run's context may already be done; removal must still happen.
	defer d.client.ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true})

	if err := d.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return RunResult{}, fmt.Errorf("failed to start container %s: %w", opts.Name, err)
	}

	exitCode, waitErr := d.wait(ctx, created.ID)

	stdout := newBoundedBuffer(MaxOutputBytes)
	stderr := newBoundedBuffer(MaxOutputBytes)
	if logs, err := d.client.ContainerLogs(context.WithoutCancel(ctx), created.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	}); err == nil {
		_, _ = stdcopy.StdCopy(stdout, stderr, logs)
		logs.Close()
	}

	result := RunResult{
		ExitCode:  exitCode,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Duration:  time.Since(start),
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}
	if waitErr != nil {
		stopTimeout := 5
		_ = d.client.ContainerStop(context.WithoutCancel(ctx), created.ID, container.StopOptions{Timeout: &stopTimeout})
		return result, waitErr
	}
	return result, nil
}

func (d *DockerRuntime) wait(ctx context.Context, id string) (int, error) {
	statusCh, errCh := d.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		return -1, fmt.Errorf("failed waiting for container: %w", err)
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), errors.New(status.Error.Message)
		}
		return int(status.StatusCode), nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (d *DockerRuntime) PruneContainers(ctx context.Context) (int, error) {
	report, err := d.client.ContainersPrune(ctx, filters.NewArgs(
		filters.Arg("label", ManagedLabel+"="+ManagedLabelValue),
	))
	if err != nil {
		return 0, fmt.Errorf("failed to prune containers: %w", err)
	}
	return len(report.ContainersDeleted), nil
}

// Close releases the client's connections.
func (d *DockerRuntime) Close() error {
	return d.client.Close()
}
