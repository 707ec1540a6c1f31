package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"zigcheck/internal/catalog"
	"zigcheck/internal/logger"
	"zigcheck/internal/metadata"
	"zigcheck/internal/orchestrator"
	"zigcheck/internal/store"
	"zigcheck/pkg/api"
)

// SubmitPackage handles POST /packages.
// It resolves repository metadata, stores the package and queues a build for
// every catalog version. The builds run after the response is sent.
func (h *Handlers) SubmitPackage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx, h.logger)

	var req api.SubmitPackageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.RepoURL) == "" {
		h.httpError(w, "repo_url is required", http.StatusBadRequest)
		return
	}

	repo, err := h.lookup.Lookup(ctx, req.RepoURL)
	switch {
	case errors.Is(err, metadata.ErrInvalidURL):
		h.httpError(w, "repo_url must be a GitHub repository URL", http.StatusBadRequest)
		return
	case errors.Is(err, metadata.ErrRepositoryNotFound):
		h.httpError(w, "Repository not found", http.StatusNotFound)
		return
	case err != nil:
		// Any other lookup failure falls back to what the URL names.
		log.Warn("metadata lookup failed, using url", "repo_url", req.RepoURL, "error", err)
		if repo, err = metadata.FromURL(req.RepoURL); err != nil {
			h.httpError(w, "repo_url must be a GitHub repository URL", http.StatusBadRequest)
			return
		}
	}

	if existing, err := h.store.GetPackageByURL(ctx, repo.URL); err == nil {
		h.httpError(w, "Package already submitted as "+strconv.FormatInt(existing.ID, 10), http.StatusConflict)
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}

	pkg := &store.Package{
		Name:        repo.Name,
		URL:         repo.URL,
		Author:      repo.Author,
		Description: repo.Description,
		License:     repo.License,
		Language:    repo.Language,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.store.CreatePackage(ctx, pkg); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			h.httpError(w, "Package already submitted", http.StatusConflict)
			return
		}
		h.httpError(w, "Failed to create package", http.StatusInternalServerError)
		return
	}
	log = log.With("package_id", pkg.ID)

	if err := h.orch.StartPackageBuilds(ctx, pkg.ID, pkg.Name, pkg.URL); err != nil {
		// The package row stays; the missing-builds sweep picks it up later.
		log.Error("failed to start builds", "error", err)
		h.startError(w, err)
		return
	}

	results, err := h.orch.GetBuildResults(ctx, pkg.ID)
	if err != nil {
		h.httpError(w, "Failed to load build results", http.StatusInternalServerError)
		return
	}

	log.Info("package submitted", "repo_url", pkg.URL)
	h.respondJson(w, http.StatusAccepted, api.SubmitPackageResponse{
		Package: toPackageResponse(pkg),
		Builds:  toBuildResponses(results),
	})
}

// RebuildPackage handles POST /packages/{id}/rebuild.
// Every catalog version is reset to pending and rebuilt.
func (h *Handlers) RebuildPackage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := packageIDFromPath(r)
	if !ok {
		h.httpError(w, "Invalid package ID", http.StatusBadRequest)
		return
	}

	pkg, err := h.store.GetPackageByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		h.httpError(w, "Package not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}

	if err := h.orch.StartPackageBuilds(ctx, pkg.ID, pkg.Name, pkg.URL); err != nil {
		logger.FromContext(ctx, h.logger).Error("failed to start rebuild", "package_id", pkg.ID, "error", err)
		h.startError(w, err)
		return
	}

	h.respondJson(w, http.StatusAccepted, api.RebuildResponse{
		PackageID: pkg.ID,
		Versions:  versionStrings(catalog.All()),
	})
}

// GetPackage handles GET /packages/{id}.
func (h *Handlers) GetPackage(w http.ResponseWriter, r *http.Request) {
	id, ok := packageIDFromPath(r)
	if !ok {
		h.httpError(w, "Invalid package ID", http.StatusBadRequest)
		return
	}

	pkg, err := h.store.GetPackageByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.httpError(w, "Package not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}
	h.respondJson(w, http.StatusOK, toPackageResponse(pkg))
}

// ListPackages handles GET /packages.
func (h *Handlers) ListPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.store.ListPackages(r.Context())
	if err != nil {
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}
	out := make([]api.PackageResponse, 0, len(pkgs))
	for i := range pkgs {
		out = append(out, toPackageResponse(&pkgs[i]))
	}
	h.respondJson(w, http.StatusOK, out)
}

// GetPackageBuilds handles GET /packages/{id}/builds.
func (h *Handlers) GetPackageBuilds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := packageIDFromPath(r)
	if !ok {
		h.httpError(w, "Invalid package ID", http.StatusBadRequest)
		return
	}

	if _, err := h.store.GetPackageByID(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.httpError(w, "Package not found", http.StatusNotFound)
			return
		}
		h.httpError(w, "Internal database error", http.StatusInternalServerError)
		return
	}

	results, err := h.orch.GetBuildResults(ctx, id)
	if err != nil {
		h.httpError(w, "Failed to load build results", http.StatusInternalServerError)
		return
	}
	missing, err := h.orch.GetMissingBuildsForPackage(ctx, id)
	if err != nil {
		h.httpError(w, "Failed to load build results", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, api.PackageBuildsResponse{
		PackageID: id,
		Builds:    toBuildResponses(results),
		Missing:   versionStrings(missing),
	})
}

func (h *Handlers) startError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrRuntimeUnavailable):
		h.httpError(w, "Container runtime unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, orchestrator.ErrRecordNotFound):
		h.httpError(w, "Package not found", http.StatusNotFound)
	default:
		h.httpError(w, "Failed to start builds", http.StatusInternalServerError)
	}
}
