package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// KubernetesConfig holds configuration for the Kubernetes runtime.
type KubernetesConfig struct {
	// Namespace where build Jobs are created
	Namespace string
	// ServiceAccount for build pods (optional)
	ServiceAccount string
	// Kubeconfig is used outside a cluster. Defaults to ~/.kube/config.
	Kubeconfig string
}

// KubernetesRuntime implements the Runtime interface using batch/v1 Jobs.
// Mounts become hostPath volumes, so the result directory must exist on the
// node the pod lands on.
type KubernetesRuntime struct {
	clientset    kubernetes.Interface
	config       KubernetesConfig
	pollInterval time.Duration
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE")
}

// NewKubernetesRuntime tries in-cluster configuration first and falls back to
// ~/.kube/config for local development.
func NewKubernetesRuntime(cfg KubernetesConfig) (*KubernetesRuntime, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		slog.Info("in-cluster config not available, trying kubeconfig", "error", err)
		kubeconfig := cfg.Kubeconfig
		if kubeconfig == "" {
			kubeconfig = filepath.Join(homeDir(), ".kube", "config")
		}
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}
	return newKubernetesRuntime(clientset, cfg), nil
}

func newKubernetesRuntime(clientset kubernetes.Interface, cfg KubernetesConfig) *KubernetesRuntime {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	return &KubernetesRuntime{clientset: clientset, config: cfg, pollInterval: 500 * time.Millisecond}
}

func (k *KubernetesRuntime) Available(ctx context.Context) error {
	if _, err := k.clientset.Discovery().ServerVersion(); err != nil {
		return fmt.Errorf("kubernetes api unreachable: %w", err)
	}
	return nil
}

// ImageExists always reports true: the cluster pulls images by name.
func (k *KubernetesRuntime) ImageExists(context.Context, string) (bool, error) {
	return true, nil
}

// BuildImage is not available on Kubernetes; images must be pushed to a
// registry the cluster can pull from.
func (k *KubernetesRuntime) BuildImage(_ context.Context, image, _ string) error {
	return fmt.Errorf("build image %s: %w", image, ErrUnsupported)
}

func (k *KubernetesRuntime) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	start := time.Now()

	job, err := k.clientset.BatchV1().Jobs(k.config.Namespace).Create(ctx, k.jobSpec(opts), metav1.CreateOptions{})
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to create kubernetes job: %w", err)
	}
	slog.Debug("created kubernetes job", "job", job.Name, "namespace", k.config.Namespace)

	podName, err := k.waitForPod(ctx, job.Name)
	if err != nil {
		k.abandon(ctx, job.Name)
		return RunResult{ExitCode: -1}, fmt.Errorf("failed to find pod for job %s: %w", job.Name, err)
	}

	exitCode, err := k.waitForCompletion(ctx, podName)
	result := RunResult{ExitCode: exitCode}
	if logs, truncated, logErr := k.podLogs(context.WithoutCancel(ctx), podName); logErr == nil {
		result.Stdout = logs
		result.Truncated = truncated
	}
	result.Duration = time.Since(start)
	if err != nil {
		k.abandon(ctx, job.Name)
		return result, err
	}
	return result, nil
}

// abandon deletes a Job the caller stopped waiting for. Finished Jobs are
// kept for PruneContainers; only a cancelled or timed-out run is removed here.
func (k *KubernetesRuntime) abandon(ctx context.Context, name string) {
	if ctx.Err() == nil {
		return
	}
	if err := k.deleteJob(context.WithoutCancel(ctx), name); err != nil {
		slog.Warn("failed to delete abandoned kubernetes job", "job", name, "error", err)
	}
}

func (k *KubernetesRuntime) deleteJob(ctx context.Context, name string) error {
	propagation := metav1.DeletePropagationBackground
	return k.clientset.BatchV1().Jobs(k.config.Namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
}

func (k *KubernetesRuntime) jobSpec(opts RunOptions) *batchv1.Job {
	name := jobName(opts.Name)
	labels := opts.labels()
	for key, v := range labels {
		if !validLabelValue(v) {
			delete(labels, key)
		}
	}

	var envVars []corev1.EnvVar
	for _, key := range sortedKeys(opts.Env) {
		envVars = append(envVars, corev1.EnvVar{Name: key, Value: opts.Env[key]})
	}

	var volumes []corev1.Volume
	var mounts []corev1.VolumeMount
	hostPathType := corev1.HostPathDirectoryOrCreate
	for i, m := range opts.Mounts {
		volName := fmt.Sprintf("mount-%d", i)
		volumes = append(volumes, corev1.Volume{
			Name: volName,
			VolumeSource: corev1.VolumeSource{
				HostPath: &corev1.HostPathVolumeSource{Path: m.HostPath, Type: &hostPathType},
			},
		})
		mounts = append(mounts, corev1.VolumeMount{Name: volName, MountPath: m.ContainerPath, ReadOnly: m.ReadOnly})
	}

	limits := corev1.ResourceList{}
	if opts.MemoryBytes > 0 {
		limits[corev1.ResourceMemory] = *resource.NewQuantity(opts.MemoryBytes, resource.BinarySI)
	}
	if opts.CPUs > 0 {
		limits[corev1.ResourceCPU] = *resource.NewMilliQuantity(int64(opts.CPUs*1000), resource.DecimalSI)
	}

	podLabels := map[string]string{"job-name": name}
	for key, v := range labels {
		podLabels[key] = v
	}

	// Retries belong to the recovery sweeps, not the Job controller.
	backoffLimit := int32(0)
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: k.config.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:          &backoffLimit,
			ActiveDeadlineSeconds: activeDeadline(opts.Timeout),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: podLabels},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Volumes:       volumes,
					Containers: []corev1.Container{
						{
							Name:         "build",
							Image:        opts.Image,
							Env:          envVars,
							VolumeMounts: mounts,
							Resources:    corev1.ResourceRequirements{Limits: limits},
						},
					},
				},
			},
		},
	}
	if k.config.ServiceAccount != "" {
		job.Spec.Template.Spec.ServiceAccountName = k.config.ServiceAccount
	}
	return job
}

// activeDeadline converts a run timeout into whole seconds, rounded up.
func activeDeadline(timeout time.Duration) *int64 {
	if timeout <= 0 {
		return nil
	}
	secs := int64(math.Ceil(timeout.Seconds()))
	return &secs
}

// waitForPod polls until the Job's pod exists and returns its name.
func (k *KubernetesRuntime) waitForPod(ctx context.Context, job string) (string, error) {
	ticker := time.NewTicker(k.pollInterval)
	defer ticker.Stop()

	for {
		pods, err := k.clientset.CoreV1().Pods(k.config.Namespace).List(ctx, metav1.ListOptions{
			LabelSelector: "job-name=" + job,
		})
		if err != nil {
			return "", err
		}
		if len(pods.Items) > 0 {
			return pods.Items[0].Name, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// waitForCompletion polls the pod until it succeeds or fails and returns the
// build container's exit code.
func (k *KubernetesRuntime) waitForCompletion(ctx context.Context, podName string) (int, error) {
	ticker := time.NewTicker(k.pollInterval)
	defer ticker.Stop()

	for {
		pod, err := k.clientset.CoreV1().Pods(k.config.Namespace).Get(ctx, podName, metav1.GetOptions{})
		if err != nil {
			return -1, err
		}

		switch pod.Status.Phase {
		case corev1.PodSucceeded:
			return 0, nil
		case corev1.PodFailed:
			for _, cs := range pod.Status.ContainerStatuses {
				if cs.State.Terminated != nil {
					return int(cs.State.Terminated.ExitCode), nil
				}
			}
			return 1, nil
		}

		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (k *KubernetesRuntime) podLogs(ctx context.Context, podName string) (string, bool, error) {
	stream, err := k.clientset.CoreV1().Pods(k.config.Namespace).GetLogs(podName, &corev1.PodLogOptions{
		Container: "build",
	}).Stream(ctx)
	if err != nil {
		return "", false, err
	}
	defer stream.Close()

	buf := newBoundedBuffer(MaxOutputBytes)
	if _, err := io.Copy(buf, stream); err != nil {
		return buf.String(), buf.Truncated(), err
	}
	return buf.String(), buf.Truncated(), nil
}

// PruneContainers deletes managed Jobs that have finished, along with their pods.
func (k *KubernetesRuntime) PruneContainers(ctx context.Context) (int, error) {
	jobs, err := k.clientset.BatchV1().Jobs(k.config.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: ManagedLabel + "=" + ManagedLabelValue,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list jobs: %w", err)
	}

	removed := 0
	for _, job := range jobs.Items {
		if job.Status.Succeeded == 0 && job.Status.Failed == 0 {
			continue
		}
		if err := k.deleteJob(ctx, job.Name); err != nil {
			return removed, fmt.Errorf("failed to delete job %s: %w", job.Name, err)
		}
		removed++
	}
	return removed, nil
}

var invalidNameChars = regexp.MustCompile(`[^a-z0-9-]+`)

// jobName turns a container name into a valid DNS-1123 label.
func jobName(name string) string {
	n := invalidNameChars.ReplaceAllString(strings.ToLower(name), "-")
	if len(n) > 63 {
		n = n[len(n)-63:]
	}
	n = strings.Trim(n, "-")
	if n == "" {
		n = fmt.Sprintf("zigcheck-%d", time.Now().UnixNano())
	}
	return n
}

var labelValuePattern = regexp.MustCompile(`^([A-Za-z0-9][-A-Za-z0-9_.]{0,61}[A-Za-z0-9])?$`)

func validLabelValue(v string) bool {
	return labelValuePattern.MatchString(v)
}
