// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and the server.
package api

import "time"

// SubmitPackageRequest is the request body for submitting a repository.
type SubmitPackageRequest struct {
	RepoURL string `json:"repo_url"`
}

// PackageResponse represents a package in API responses.
type PackageResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Author      string    `json:"author,omitempty"`
	Description string    `json:"description,omitempty"`
	License     string    `json:"license,omitempty"`
	Language    string    `json:"language,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// BuildResultResponse is one (package, zig version) outcome.
type BuildResultResponse struct {
	ZigVersion  string    `json:"zig_version"`
	BuildStatus string    `json:"build_status"`
	TestStatus  string    `json:"test_status,omitempty"`
	ErrorLog    string    `json:"error_log,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// SubmitPackageResponse is returned once builds for a new package are queued.
type SubmitPackageResponse struct {
	Package PackageResponse       `json:"package"`
	Builds  []BuildResultResponse `json:"builds"`
}

// RebuildResponse is returned when an existing package's builds are restarted.
type RebuildResponse struct {
	PackageID int64    `json:"package_id"`
	Versions  []string `json:"versions"`
}

// PackageBuildsResponse lists the stored results of a package.
type PackageBuildsResponse struct {
	PackageID int64                 `json:"package_id"`
	Builds    []BuildResultResponse `json:"builds"`
	// Missing lists catalog versions that have no row yet.
	Missing []string `json:"missing"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
