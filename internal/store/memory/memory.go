// Package memory is an in-process store.Store used by tests and local runs
// without PostgreSQL. It enforces the same uniqueness rules as the schema.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"zigcheck/internal/store"
)

type resultKey struct {
	packageID int64
	version   string
}

type Store struct {
	mu       sync.Mutex
	nextID   int64
	packages map[int64]store.Package
	results  map[resultKey]store.BuildResult
	upserts  int
}

func New() *Store {
	return &Store{
		packages: make(map[int64]store.Package),
		results:  make(map[resultKey]store.BuildResult),
	}
}

func (s *Store) CreatePackage(_ context.Context, pkg *store.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.packages {
		if p.URL == pkg.URL {
			return fmt.Errorf("package %s: %w", pkg.URL, store.ErrAlreadyExists)
		}
	}
	if pkg.ID == 0 {
		s.nextID++
		pkg.ID = s.nextID
	} else if pkg.ID > s.nextID {
		s.nextID = pkg.ID
	}
	if pkg.CreatedAt.IsZero() {
		pkg.CreatedAt = time.Now().UTC()
	}
	s.packages[pkg.ID] = *pkg
	return nil
}

func (s *Store) GetPackageByID(_ context.Context, id int64) (*store.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.packages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetPackageByURL(_ context.Context, url string) (*store.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.packages {
		if p.URL == url {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) PackageExists(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.packages[id]
	return ok, nil
}

func (s *Store) ListPackages(_ context.Context) ([]store.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.Package, 0, len(s.packages))
	for _, p := range s.packages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeletePackage(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.packages[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.packages, id)
	for k := range s.results {
		if k.packageID == id {
			delete(s.results, k)
		}
	}
	return nil
}

func (s *Store) UpsertBuildResult(_ context.Context, r *store.BuildResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.packages[r.PackageID]; !ok {
		return fmt.Errorf("package %d: foreign key violation", r.PackageID)
	}
	if r.LastChecked.IsZero() {
		r.LastChecked = time.Now().UTC()
	}
	s.results[resultKey{r.PackageID, r.ZigVersion}] = *r
	s.upserts++
	return nil
}

func (s *Store) GetBuildResults(_ context.Context, packageID int64) ([]store.BuildResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []store.BuildResult{}
	for k, r := range s.results {
		if k.packageID == packageID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastChecked.Equal(out[j].LastChecked) {
			return out[i].ZigVersion < out[j].ZigVersion
		}
		return out[i].LastChecked.After(out[j].LastChecked)
	})
	return out, nil
}

func (s *Store) RecordedVersions(_ context.Context, packageID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for k := range s.results {
		if k.packageID == packageID {
			out = append(out, k.version)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) ListStalledBuilds(_ context.Context, olderThan time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]bool)
	var out []int64
	for k, r := range s.results {
		if r.BuildStatus == store.BuildStatusPending && r.LastChecked.Before(olderThan) && !seen[k.packageID] {
			seen[k.packageID] = true
			out = append(out, k.packageID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// SetLastChecked rewrites the timestamp of an existing row. Tests use it to age rows.
func (s *Store) SetLastChecked(packageID int64, version string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := resultKey{packageID, version}
	if r, ok := s.results[k]; ok {
		r.LastChecked = t
		s.results[k] = r
	}
}

// UpsertCount returns how many UpsertBuildResult calls succeeded.
func (s *Store) UpsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
