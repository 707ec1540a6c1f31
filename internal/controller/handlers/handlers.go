// Package handlers contains HTTP handlers for the zigcheck API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"zigcheck/internal/catalog"
	"zigcheck/internal/metadata"
	"zigcheck/internal/store"
	"zigcheck/pkg/api"
)

// StoreFactory combines the interfaces needed for the handlers to function.
type StoreFactory interface {
	Ping(ctx context.Context) error
	store.PackageStore
}

// Orchestrator is the part of *orchestrator.Orchestrator the API drives.
type Orchestrator interface {
	CheckRuntimeAvailable(ctx context.Context) bool
	StartPackageBuilds(ctx context.Context, packageID int64, name, repoURL string) error
	GetBuildResults(ctx context.Context, packageID int64) ([]store.BuildResult, error)
	GetMissingBuildsForPackage(ctx context.Context, packageID int64) ([]catalog.Version, error)
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store  StoreFactory
	orch   Orchestrator
	lookup metadata.Lookup
	logger *slog.Logger
}

// New creates a new Handlers instance.
func New(s StoreFactory, orch Orchestrator, lookup metadata.Lookup, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{store: s, orch: orch, lookup: lookup, logger: logger}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

func packageIDFromPath(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func toPackageResponse(p *store.Package) api.PackageResponse {
	return api.PackageResponse{
		ID:          p.ID,
		Name:        p.Name,
		URL:         p.URL,
		Author:      p.Author,
		Description: p.Description,
		License:     p.License,
		Language:    p.Language,
		CreatedAt:   p.CreatedAt,
	}
}

func toBuildResponses(results []store.BuildResult) []api.BuildResultResponse {
	out := make([]api.BuildResultResponse, 0, len(results))
	for _, r := range results {
		out = append(out, api.BuildResultResponse{
			ZigVersion:  r.ZigVersion,
			BuildStatus: string(r.BuildStatus),
			TestStatus:  string(r.TestStatus),
			ErrorLog:    r.ErrorLog,
			LastChecked: r.LastChecked,
		})
	}
	return out
}

func versionStrings(vs []catalog.Version) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, string(v))
	}
	return out
}
