// Package store contains the database layer for zigcheck.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned when a package with the same URL is already stored.
var ErrAlreadyExists = errors.New("record already exists")

// Package is a submitted source repository.
// The orchestrator only reads ID, Name and URL.
type Package struct {
	ID          int64
	Name        string
	URL         string
	Author      string
	Description string
	License     string
	Language    string
	CreatedAt   time.Time
}

// BuildResult is the outcome of building one package against one Zig version.
// There is at most one row per (PackageID, ZigVersion).
type BuildResult struct {
	PackageID   int64
	ZigVersion  string
	BuildStatus BuildStatus
	TestStatus  TestStatus // empty when no test status was reported
	ErrorLog    string
	LastChecked time.Time
}

// BuildStatus represents the state of a build.
type BuildStatus string

const (
	BuildStatusPending BuildStatus = "pending"
	BuildStatusSuccess BuildStatus = "success"
	BuildStatusFailed  BuildStatus = "failed"
)

// TestStatus represents the outcome of a package's test step.
type TestStatus string

const (
	TestStatusNone    TestStatus = ""
	TestStatusSuccess TestStatus = "success"
	TestStatusFailed  TestStatus = "failed"
	TestStatusNoTests TestStatus = "no_tests"
)
