package cmd

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"zigcheck/pkg/api"

	"github.com/spf13/viper"
)

func resetViper() {
	viper.Reset()
	viper.SetEnvPrefix("ZIGCHECK")
	viper.AutomaticEnv()
}

func TestClient_APIErrorUsesErrorField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "Container runtime unavailable", Code: "503"})
	}))
	defer server.Close()

	_, err := NewClient(server.URL).RebuildPackage("1")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", apiErr.StatusCode)
	}
	if apiErr.Message != "Container runtime unavailable" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestClient_PlainTextError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewClient(server.URL + "/").GetBuilds("1")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Message != "bad gateway" {
		t.Errorf("Message = %q, want bad gateway", apiErr.Message)
	}
}

func TestClient_ListPackages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/packages" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode([]api.PackageResponse{{ID: 1, Name: "zap"}, {ID: 2, Name: "ziglyph"}})
	}))
	defer server.Close()

	pkgs, err := NewClient(server.URL).ListPackages()
	if err != nil {
		t.Fatalf("ListPackages failed: %v", err)
	}
	if len(pkgs) != 2 || pkgs[1].Name != "ziglyph" {
		t.Errorf("unexpected packages: %+v", pkgs)
	}
}
