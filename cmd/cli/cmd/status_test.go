package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"zigcheck/pkg/api"

	"github.com/spf13/viper"
)

func statusServer(t *testing.T) *httptest.Server {
	t.Helper()
	checked := time.Now().Add(-10 * time.Minute)

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET method, got %s", r.Method)
		}
		switch r.URL.Path {
		case "/packages/5":
			json.NewEncoder(w).Encode(api.PackageResponse{
				ID:      5,
				Name:    "zap",
				URL:     "https://github.com/zigzap/zap",
				License: "MIT",
			})
		case "/packages/5/builds":
			json.NewEncoder(w).Encode(api.PackageBuildsResponse{
				PackageID: 5,
				Builds: []api.BuildResultResponse{
					{ZigVersion: "master", BuildStatus: "failed", TestStatus: "failed", ErrorLog: "error: ld.lld: undefined symbol", LastChecked: checked},
					{ZigVersion: "0.14.0", BuildStatus: "success", TestStatus: "no_tests", LastChecked: checked},
					{ZigVersion: "0.13.0", BuildStatus: "pending", LastChecked: checked},
				},
				Missing: []string{"0.12.0"},
			})
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestStatusCommand_Success(t *testing.T) {
	resetViper()
	statusCmd.Flags().Set("verbose", "false")

	server := statusServer(t)
	defer server.Close()
	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"status", "5"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := stdout.String()
	for _, want := range []string{"zap", "https://github.com/zigzap/zap", "MIT", "success", "failed", "pending", "none", "not yet checked", "10m ago"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
	if strings.Contains(output, "undefined symbol") {
		t.Errorf("error summary printed without --verbose: %s", output)
	}
}

func TestStatusCommand_Verbose(t *testing.T) {
	resetViper()

	server := statusServer(t)
	defer server.Close()
	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"status", "5", "--verbose"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	statusCmd.Flags().Set("verbose", "false")

	if !strings.Contains(stdout.String(), "error: ld.lld: undefined symbol") {
		t.Errorf("expected error summary in output, got: %s", stdout.String())
	}
}

func TestStatusCommand_NotFound(t *testing.T) {
	resetViper()

	server := statusServer(t)
	defer server.Close()
	viper.Set("url", server.URL)

	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs([]string{"status", "404"})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(stdout.String(), "Request failed (404)") {
		t.Errorf("expected not found message, got: %s", stdout.String())
	}
}

func TestRelativeTime(t *testing.T) {
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{3 * time.Hour, "3h"},
		{30 * time.Hour, "1 day"},
		{72 * time.Hour, "3 days"},
	}
	for _, tt := range tests {
		if got := relativeTime(time.Now().Add(-tt.ago)); got != tt.want {
			t.Errorf("relativeTime(-%v) = %q, want %q", tt.ago, got, tt.want)
		}
	}
}
