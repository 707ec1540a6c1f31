package store

import (
	"context"
	"time"
)

// PackageStore handles the persistence of submitted packages.
type PackageStore interface {
	// CreatePackage inserts a new package and sets its ID and CreatedAt.
	// A package with the same URL yields ErrAlreadyExists.
	CreatePackage(ctx context.Context, pkg *Package) error

	// GetPackageByID returns a package by its ID, or ErrNotFound.
	GetPackageByID(ctx context.Context, id int64) (*Package, error)

	// GetPackageByURL returns a package by its repository URL, or ErrNotFound.
	GetPackageByURL(ctx context.Context, url string) (*Package, error)

	// PackageExists reports whether a package row exists.
	PackageExists(ctx context.Context, id int64) (bool, error)

	// ListPackages returns every package ordered by ID.
	ListPackages(ctx context.Context) ([]Package, error)

	// DeletePackage removes a package and, by cascade, its build results.
	DeletePackage(ctx context.Context, id int64) error
}

// BuildResultStore handles the persistence of per-version build outcomes.
type BuildResultStore interface {
	// UpsertBuildResult inserts or replaces the row for (PackageID, ZigVersion).
	UpsertBuildResult(ctx context.Context, result *BuildResult) error

	// GetBuildResults returns all results for a package, newest first.
	GetBuildResults(ctx context.Context, packageID int64) ([]BuildResult, error)

	// RecordedVersions returns the versions that have any row for a package.
	RecordedVersions(ctx context.Context, packageID int64) ([]string, error)

	// ListStalledBuilds returns the distinct package IDs that have a pending
	// row last checked before olderThan.
	ListStalledBuilds(ctx context.Context, olderThan time.Time) ([]int64, error)
}

// Store is the full persistence surface used by the orchestrator.
type Store interface {
	PackageStore
	BuildResultStore
}
