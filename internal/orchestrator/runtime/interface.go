// Package runtime provides the container execution backends used by the
// orchestrator. A Runtime runs one container to completion and hands back
// what it printed; it never retries.
package runtime

import (
	"context"
	"errors"
	"sort"
	"time"
)

const (
	// ManagedLabel marks every container or Job a runtime creates.
	ManagedLabel      = "zigcheck.managed"
	ManagedLabelValue = "true"

	// MaxOutputBytes caps how much of each stream is kept per run.
	MaxOutputBytes = 1 << 20
)

// ErrUnsupported is returned by operations a backend cannot perform.
var ErrUnsupported = errors.New("operation not supported by this runtime")

// Runtime defines the interface for executing build containers.
// Implementations include the Docker SDK, the docker CLI and Kubernetes Jobs.
type Runtime interface {
	// Available reports an error when the container engine cannot be reached.
	Available(ctx context.Context) error

	// ImageExists reports whether image is present locally.
	ImageExists(ctx context.Context, image string) (bool, error)

	// BuildImage builds image from the Dockerfile in contextDir.
	BuildImage(ctx context.Context, image, contextDir string) error

	// Run starts a container and blocks until it exits. A non-nil error means
	// the container could not be launched at all; a container that ran and
	// failed is reported through RunResult.ExitCode.
	Run(ctx context.Context, opts RunOptions) (RunResult, error)

	// PruneContainers removes stopped managed containers and returns how many
	// were removed.
	PruneContainers(ctx context.Context) (int, error)
}

// Mount binds a host directory into the container.
type Mount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// RunOptions contains the parameters for one container run.
type RunOptions struct {
	Name        string
	Image       string
	Env         map[string]string
	Mounts      []Mount
	MemoryBytes int64
	CPUs        float64
	Labels      map[string]string
	// Timeout, when positive, is also enforced by the backend itself so the
	// container cannot outlive a caller that gave up on it.
	Timeout time.Duration
}

// RunResult is what a finished container left behind.
type RunResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	// Truncated is set when either stream went past MaxOutputBytes.
	Truncated bool
}

// labels returns opts.Labels plus the managed label.
func (o RunOptions) labels() map[string]string {
	out := make(map[string]string, len(o.Labels)+1)
	for k, v := range o.Labels {
		out[k] = v
	}
	out[ManagedLabel] = ManagedLabelValue
	return out
}

// sortedKeys keeps generated argument lists and env lists stable.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func envList(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		env = append(env, k+"="+m[k])
	}
	return env
}

func bindSpec(m Mount) string {
	mode := "rw"
	if m.ReadOnly {
		mode = "ro"
	}
	return m.HostPath + ":" + m.ContainerPath + ":" + mode
}
