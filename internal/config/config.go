// Package config loads service settings from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
)

// DefaultConfigFile is read from the working directory when no path is given.
const DefaultConfigFile = "zigcheck.yaml"

// Runtime names accepted by the runtime setting.
const (
	RuntimeDocker     = "docker"
	RuntimeCLI        = "cli"
	RuntimeKubernetes = "kubernetes"
)

// Config holds all configuration values for the service.
type Config struct {
	DatabaseURL string
	HTTPPort    int
	LogLevel    string

	// Container runtime
	Runtime                  string
	DockerBinary             string
	KubernetesNamespace      string
	KubernetesServiceAccount string
	Kubeconfig               string

	// Build orchestration
	DockerfilesDir        string
	ResultsDir            string
	ContainerResultsDir   string
	ContainerMemoryBytes  int64
	ContainerCPUs         float64
	BuildTimeout          time.Duration
	ResultSettleDelay     time.Duration
	MaxConcurrentPackages int

	// Recovery sweeps
	MissingSweepInterval time.Duration
	StalledSweepInterval time.Duration
	StalledThreshold     time.Duration
	SweepPollInterval    time.Duration

	// Optional integrations; empty disables them.
	RedisAddr    string
	GitHubToken  string
	GitHubAPIURL string
	OTELEndpoint string
	// TraceSampleRatio is the share of root spans kept, in [0, 1].
	TraceSampleRatio float64

	// Submission rate limit per client IP. Zero RPS disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int
}

var envKeys = map[string]string{
	"database_url":                "DATABASE_URL",
	"http_port":                   "PORT",
	"log_level":                   "LOG_LEVEL",
	"runtime":                     "RUNTIME",
	"docker_binary":               "DOCKER_BINARY",
	"kubernetes_namespace":        "KUBERNETES_NAMESPACE",
	"kubernetes_service_account":  "KUBERNETES_SERVICE_ACCOUNT",
	"kubeconfig":                  "KUBECONFIG",
	"dockerfiles_dir":             "DOCKERFILES_DIR",
	"results_dir":                 "RESULTS_DIR",
	"container_results_dir":       "CONTAINER_RESULTS_DIR",
	"container_memory":            "CONTAINER_MEMORY",
	"container_cpus":              "CONTAINER_CPUS",
	"build_timeout":               "BUILD_TIMEOUT",
	"result_settle_delay":         "RESULT_SETTLE_DELAY",
	"max_concurrent_packages":     "MAX_CONCURRENT_PACKAGES",
	"missing_sweep_interval":      "MISSING_SWEEP_INTERVAL",
	"stalled_sweep_interval":      "STALLED_SWEEP_INTERVAL",
	"stalled_threshold":           "STALLED_THRESHOLD",
	"sweep_poll_interval":         "SWEEP_POLL_INTERVAL",
	"redis_addr":                  "REDIS_ADDR",
	"github_token":                "GITHUB_TOKEN",
	"github_api_url":              "GITHUB_API_URL",
	"otel_exporter_otlp_endpoint": "OTEL_EXPORTER_OTLP_ENDPOINT",
	"trace_sample_ratio":          "TRACE_SAMPLE_RATIO",
	"rate_limit_rps":              "RATE_LIMIT_RPS",
	"rate_limit_burst":            "RATE_LIMIT_BURST",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_port", 6161)
	v.SetDefault("log_level", "info")
	v.SetDefault("runtime", RuntimeDocker)
	v.SetDefault("docker_binary", "docker")
	v.SetDefault("kubernetes_namespace", "default")
	v.SetDefault("dockerfiles_dir", "./dockerfiles")
	v.SetDefault("results_dir", "./results")
	v.SetDefault("container_results_dir", "/results")
	v.SetDefault("container_memory", "2g")
	v.SetDefault("container_cpus", 1.0)
	v.SetDefault("build_timeout", 30*time.Minute)
	v.SetDefault("result_settle_delay", 2*time.Second)
	v.SetDefault("max_concurrent_packages", 4)
	v.SetDefault("missing_sweep_interval", 24*time.Hour)
	v.SetDefault("stalled_sweep_interval", 30*time.Minute)
	v.SetDefault("stalled_threshold", 2*time.Hour)
	v.SetDefault("sweep_poll_interval", time.Minute)
	v.SetDefault("github_api_url", "https://api.github.com")
	v.SetDefault("rate_limit_rps", 1.0)
	v.SetDefault("rate_limit_burst", 5)
	v.SetDefault("trace_sample_ratio", 1.0)
}

// Load reads configuration from path (or DefaultConfigFile when path is
// empty and the file exists), then applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultConfigFile, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{
		DatabaseURL:              v.GetString("database_url"),
		HTTPPort:                 v.GetInt("http_port"),
		LogLevel:                 v.GetString("log_level"),
		Runtime:                  strings.ToLower(v.GetString("runtime")),
		DockerBinary:             v.GetString("docker_binary"),
		KubernetesNamespace:      v.GetString("kubernetes_namespace"),
		KubernetesServiceAccount: v.GetString("kubernetes_service_account"),
		Kubeconfig:               v.GetString("kubeconfig"),
		DockerfilesDir:           v.GetString("dockerfiles_dir"),
		ResultsDir:               v.GetString("results_dir"),
		ContainerResultsDir:      v.GetString("container_results_dir"),
		ContainerCPUs:            v.GetFloat64("container_cpus"),
		BuildTimeout:             v.GetDuration("build_timeout"),
		ResultSettleDelay:        v.GetDuration("result_settle_delay"),
		MaxConcurrentPackages:    v.GetInt("max_concurrent_packages"),
		MissingSweepInterval:     v.GetDuration("missing_sweep_interval"),
		StalledSweepInterval:     v.GetDuration("stalled_sweep_interval"),
		StalledThreshold:         v.GetDuration("stalled_threshold"),
		SweepPollInterval:        v.GetDuration("sweep_poll_interval"),
		RedisAddr:                v.GetString("redis_addr"),
		GitHubToken:              v.GetString("github_token"),
		GitHubAPIURL:             v.GetString("github_api_url"),
		OTELEndpoint:             v.GetString("otel_exporter_otlp_endpoint"),
		TraceSampleRatio:         v.GetFloat64("trace_sample_ratio"),
		RateLimitRPS:             v.GetFloat64("rate_limit_rps"),
		RateLimitBurst:           v.GetInt("rate_limit_burst"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url is required (env: DATABASE_URL)")
	}

	switch cfg.Runtime {
	case RuntimeDocker, RuntimeCLI, RuntimeKubernetes:
	default:
		return nil, fmt.Errorf("invalid runtime %q: must be one of docker, cli, kubernetes", cfg.Runtime)
	}

	if mem := v.GetString("container_memory"); mem != "" {
		n, err := units.RAMInBytes(mem)
		if err != nil {
			return nil, fmt.Errorf("invalid container_memory %q: %w", mem, err)
		}
		cfg.ContainerMemoryBytes = n
	}

	if cfg.ContainerCPUs < 0 {
		return nil, fmt.Errorf("container_cpus must not be negative, got %v", cfg.ContainerCPUs)
	}
	if cfg.TraceSampleRatio < 0 || cfg.TraceSampleRatio > 1 {
		return nil, fmt.Errorf("trace_sample_ratio must be between 0 and 1, got %v", cfg.TraceSampleRatio)
	}
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst < 1 {
		return nil, fmt.Errorf("rate_limit_burst must be at least 1 when rate limiting is enabled")
	}

	return cfg, nil
}
