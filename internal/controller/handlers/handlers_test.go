package handlers

import (
	"context"
	"io"
	"log/slog"
	"time"

	"zigcheck/internal/catalog"
	"zigcheck/internal/metadata"
	"zigcheck/internal/store"
	"zigcheck/internal/store/memory"
)

// Mock Store
type mockStore struct {
	*memory.Store

	pingErr   error
	createErr error
	getErr    error
	listErr   error
}

func newMockStore() *mockStore {
	return &mockStore{Store: memory.New()}
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockStore) CreatePackage(ctx context.Context, pkg *store.Package) error {
	if m.createErr != nil {
		return m.createErr
	}
	return m.Store.CreatePackage(ctx, pkg)
}

func (m *mockStore) GetPackageByID(ctx context.Context, id int64) (*store.Package, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.Store.GetPackageByID(ctx, id)
}

func (m *mockStore) ListPackages(ctx context.Context) ([]store.Package, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.Store.ListPackages(ctx)
}

// Mock Orchestrator
type mockOrchestrator struct {
	runtimeDown bool
	startErr    error
	resultsErr  error
	missing     []catalog.Version

	// Spies
	started []int64
}

func (m *mockOrchestrator) CheckRuntimeAvailable(ctx context.Context) bool {
	return !m.runtimeDown
}

func (m *mockOrchestrator) StartPackageBuilds(ctx context.Context, packageID int64, name, repoURL string) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.started = append(m.started, packageID)
	return nil
}

func (m *mockOrchestrator) GetBuildResults(ctx context.Context, packageID int64) ([]store.BuildResult, error) {
	if m.resultsErr != nil {
		return nil, m.resultsErr
	}
	var out []store.BuildResult
	for _, id := range m.started {
		if id != packageID {
			continue
		}
		for _, v := range catalog.All() {
			out = append(out, store.BuildResult{
				PackageID:   packageID,
				ZigVersion:  string(v),
				BuildStatus: store.BuildStatusPending,
				LastChecked: time.Now().UTC(),
			})
		}
		break
	}
	return out, nil
}

func (m *mockOrchestrator) GetMissingBuildsForPackage(ctx context.Context, packageID int64) ([]catalog.Version, error) {
	return m.missing, nil
}

// Mock metadata lookup
type mockLookup struct {
	repo *metadata.Repository
	err  error
}

func (m *mockLookup) Lookup(ctx context.Context, repoURL string) (*metadata.Repository, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.repo != nil {
		return m.repo, nil
	}
	return metadata.FromURL(repoURL)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
