package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"zigcheck/pkg/api"
)

// Client handles API calls to the zigcheck server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new client with the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// SubmitPackage sends POST /packages.
func (c *Client) SubmitPackage(repoURL string) (*api.SubmitPackageResponse, error) {
	var result api.SubmitPackageResponse
	err := c.do(http.MethodPost, "/packages", api.SubmitPackageRequest{RepoURL: repoURL}, http.StatusAccepted, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// RebuildPackage sends POST /packages/{id}/rebuild.
func (c *Client) RebuildPackage(packageID string) (*api.RebuildResponse, error) {
	var result api.RebuildResponse
	if err := c.do(http.MethodPost, "/packages/"+packageID+"/rebuild", nil, http.StatusAccepted, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetPackage sends GET /packages/{id}.
func (c *Client) GetPackage(packageID string) (*api.PackageResponse, error) {
	var result api.PackageResponse
	if err := c.do(http.MethodGet, "/packages/"+packageID, nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetBuilds sends GET /packages/{id}/builds.
func (c *Client) GetBuilds(packageID string) (*api.PackageBuildsResponse, error) {
	var result api.PackageBuildsResponse
	if err := c.do(http.MethodGet, "/packages/"+packageID+"/builds", nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListPackages sends GET /packages.
func (c *Client) ListPackages() ([]api.PackageResponse, error) {
	var result []api.PackageResponse
	if err := c.do(http.MethodGet, "/packages", nil, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) do(method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Add("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage prefers the error field of a JSON error body.
func errorMessage(body []byte) string {
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
