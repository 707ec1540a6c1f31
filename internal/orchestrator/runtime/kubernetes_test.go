package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func testRunOptions() RunOptions {
	return RunOptions{
		Name:        "zigcheck-42_0.14.0_1700000000_deadbeef",
		Image:       "registry.local/zig-builder:0.14.0",
		Env:         map[string]string{"REPO_URL": "https://github.com/example/zap", "BUILD_ID": "42_0.14.0_1700000000_deadbeef"},
		Mounts:      []Mount{{HostPath: "/var/lib/zigcheck/results", ContainerPath: "/results"}},
		MemoryBytes: 512 << 20,
		CPUs:        1,
		Labels:      map[string]string{"zigcheck.package": "42"},
	}
}

func TestKubernetesRuntime_JobSpec(t *testing.T) {
	rt := newKubernetesRuntime(fake.NewClientset(), KubernetesConfig{Namespace: "test-ns", ServiceAccount: "builder"})
	job := rt.jobSpec(testRunOptions())

	if job.Name != "zigcheck-42-0-14-0-1700000000-deadbeef" {
		t.Errorf("unexpected job name %s", job.Name)
	}
	if job.Labels[ManagedLabel] != ManagedLabelValue {
		t.Error("expected managed label on job")
	}
	if *job.Spec.BackoffLimit != 0 {
		t.Errorf("expected backoff limit 0, got %d", *job.Spec.BackoffLimit)
	}
	if job.Spec.ActiveDeadlineSeconds != nil {
		t.Errorf("expected no deadline without a timeout, got %d", *job.Spec.ActiveDeadlineSeconds)
	}
	if job.Spec.Template.Spec.ServiceAccountName != "builder" {
		t.Errorf("expected service account builder, got %s", job.Spec.Template.Spec.ServiceAccountName)
	}

	c := job.Spec.Template.Spec.Containers[0]
	if c.Image != "registry.local/zig-builder:0.14.0" {
		t.Errorf("unexpected image %s", c.Image)
	}
	if len(c.Env) != 2 || c.Env[0].Name != "BUILD_ID" {
		t.Errorf("expected sorted env vars, got %+v", c.Env)
	}
	if got := c.Resources.Limits.Memory().String(); got != "512Mi" {
		t.Errorf("expected memory limit 512Mi, got %s", got)
	}
	if got := c.Resources.Limits.Cpu().String(); got != "1" {
		t.Errorf("expected cpu limit 1, got %s", got)
	}

	vols := job.Spec.Template.Spec.Volumes
	if len(vols) != 1 || vols[0].HostPath == nil || vols[0].HostPath.Path != "/var/lib/zigcheck/results" {
		t.Fatalf("expected hostPath volume, got %+v", vols)
	}
	if len(c.VolumeMounts) != 1 || c.VolumeMounts[0].MountPath != "/results" || c.VolumeMounts[0].ReadOnly {
		t.Errorf("unexpected volume mounts %+v", c.VolumeMounts)
	}
}

func TestKubernetesRuntime_Run(t *testing.T) {
	opts := testRunOptions()
	name := jobName(opts.Name)

	// The fake clientset has no Job controller; the pod is pre-created.
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name + "-x7k2p",
			Namespace: "test-ns",
			Labels:    map[string]string{"job-name": name},
		},
		Status: corev1.PodStatus{
			Phase: corev1.PodFailed,
			ContainerStatuses: []corev1.ContainerStatus{{
				Name:  "build",
				State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{ExitCode: 2}},
			}},
		},
	}
	clientset := fake.NewClientset(pod)
	rt := newKubernetesRuntime(clientset, KubernetesConfig{Namespace: "test-ns"})
	rt.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := rt.Run(ctx, opts)
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if result.ExitCode != 2 {
		t.Errorf("expected exit code 2, got %d", result.ExitCode)
	}
	if result.Stdout != "fake logs" {
		t.Errorf("expected pod logs as stdout, got %q", result.Stdout)
	}

	jobs, _ := clientset.BatchV1().Jobs("test-ns").List(ctx, metav1.ListOptions{})
	if len(jobs.Items) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs.Items))
	}
}

func TestKubernetesRuntime_JobSpec_Deadline(t *testing.T) {
	rt := newKubernetesRuntime(fake.NewClientset(), KubernetesConfig{})
	opts := testRunOptions()
	opts.Timeout = 90*time.Second + time.Millisecond

	job := rt.jobSpec(opts)
	if job.Spec.ActiveDeadlineSeconds == nil || *job.Spec.ActiveDeadlineSeconds != 91 {
		t.Errorf("expected deadline rounded up to 91s, got %v", job.Spec.ActiveDeadlineSeconds)
	}
}

func TestKubernetesRuntime_Run_NoPodTimesOut(t *testing.T) {
	clientset := fake.NewClientset()
	rt := newKubernetesRuntime(clientset, KubernetesConfig{Namespace: "test-ns"})
	rt.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := rt.Run(ctx, testRunOptions()); err == nil {
		t.Error("expected timeout error, got nil")
	}

	jobs, _ := clientset.BatchV1().Jobs("test-ns").List(context.Background(), metav1.ListOptions{})
	if len(jobs.Items) != 0 {
		t.Errorf("expected abandoned job to be deleted, %d left", len(jobs.Items))
	}
}

func TestKubernetesRuntime_Run_CancelledWhileRunning(t *testing.T) {
	opts := testRunOptions()
	name := jobName(opts.Name)
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name + "-r4nd0",
			Namespace: "test-ns",
			Labels:    map[string]string{"job-name": name},
		},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}
	clientset := fake.NewClientset(pod)
	rt := newKubernetesRuntime(clientset, KubernetesConfig{Namespace: "test-ns"})
	rt.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	result, err := rt.Run(ctx, opts)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if result.ExitCode != -1 {
		t.Errorf("expected exit code -1, got %d", result.ExitCode)
	}

	jobs, _ := clientset.BatchV1().Jobs("test-ns").List(context.Background(), metav1.ListOptions{})
	if len(jobs.Items) != 0 {
		t.Errorf("expected running job to be deleted after timeout, %d left", len(jobs.Items))
	}
}

func TestKubernetesRuntime_WaitForCompletion_Succeeded(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "p", Namespace: "default"},
		Status:     corev1.PodStatus{Phase: corev1.PodSucceeded},
	}
	rt := newKubernetesRuntime(fake.NewClientset(pod), KubernetesConfig{})

	code, err := rt.waitForCompletion(context.Background(), "p")
	if err != nil || code != 0 {
		t.Errorf("waitForCompletion() = %d, %v; want 0, nil", code, err)
	}
}

func TestKubernetesRuntime_ImagesAndAvailability(t *testing.T) {
	rt := newKubernetesRuntime(fake.NewClientset(), KubernetesConfig{})
	ctx := context.Background()

	if err := rt.Available(ctx); err != nil {
		t.Errorf("Available() failed: %v", err)
	}
	if ok, err := rt.ImageExists(ctx, "anything"); !ok || err != nil {
		t.Errorf("ImageExists() = %v, %v; want true, nil", ok, err)
	}
	if err := rt.BuildImage(ctx, "img", "/ctx"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("BuildImage() error = %v, want ErrUnsupported", err)
	}
}

func TestKubernetesRuntime_PruneContainers(t *testing.T) {
	managed := map[string]string{ManagedLabel: ManagedLabelValue}
	finished := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "done", Namespace: "test-ns", Labels: managed},
		Status:     batchv1.JobStatus{Succeeded: 1},
	}
	failed := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "failed", Namespace: "test-ns", Labels: managed},
		Status:     batchv1.JobStatus{Failed: 1},
	}
	running := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "running", Namespace: "test-ns", Labels: managed},
		Status:     batchv1.JobStatus{Active: 1},
	}
	foreign := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "other", Namespace: "test-ns"},
		Status:     batchv1.JobStatus{Succeeded: 1},
	}
	clientset := fake.NewClientset(finished, failed, running, foreign)
	rt := newKubernetesRuntime(clientset, KubernetesConfig{Namespace: "test-ns"})

	ctx := context.Background()
	n, err := rt.PruneContainers(ctx)
	if err != nil {
		t.Fatalf("PruneContainers() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pruned jobs, got %d", n)
	}

	jobs, _ := clientset.BatchV1().Jobs("test-ns").List(ctx, metav1.ListOptions{})
	if len(jobs.Items) != 2 {
		t.Errorf("expected running and foreign jobs to remain, got %d", len(jobs.Items))
	}

	if n, _ := rt.PruneContainers(ctx); n != 0 {
		t.Errorf("second prune should remove nothing, got %d", n)
	}
}

func TestJobName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "zigcheck-7_master_1_ab", want: "zigcheck-7-master-1-ab"},
		{in: "UPPER.case", want: "upper-case"},
	}
	for _, tt := range tests {
		if got := jobName(tt.in); got != tt.want {
			t.Errorf("jobName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := jobName("---"); got == "" {
		t.Error("jobName() returned an empty name")
	}
	long := jobName("zigcheck-1234567890123456789012345678901234567890123456789012345678901234567890")
	if len(long) > 63 {
		t.Errorf("jobName() produced %d chars", len(long))
	}
}
