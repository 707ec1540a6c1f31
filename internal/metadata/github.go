// Package metadata looks up repository details for a submitted package URL.
package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultGitHubAPIURL = "https://api.github.com"

var (
	// ErrInvalidURL is returned for URLs that do not name a GitHub repository.
	ErrInvalidURL = errors.New("not a github repository url")
	// ErrRepositoryNotFound is returned when the hosting API has no such repository.
	ErrRepositoryNotFound = errors.New("repository not found")
)

// Repository is what the submission flow stores alongside a package.
type Repository struct {
	Name        string
	Author      string
	Description string
	License     string
	Language    string
	// URL is the canonical https://github.com/<owner>/<repo> form.
	URL string
}

// Lookup resolves a repository URL to its metadata.
type Lookup interface {
	Lookup(ctx context.Context, repoURL string) (*Repository, error)
}

// GitHubClient queries the GitHub REST API.
type GitHubClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewGitHubClient(baseURL, token string) *GitHubClient {
	if baseURL == "" {
		baseURL = DefaultGitHubAPIURL
	}
	return &GitHubClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type githubRepo struct {
	Name        string `json:"name"`
	HTMLURL     string `json:"html_url"`
	Description string `json:"description"`
	Language    string `json:"language"`
	Owner       struct {
		Login string `json:"login"`
	} `json:"owner"`
	License *struct {
		SPDXID string `json:"spdx_id"`
		Name   string `json:"name"`
	} `json:"license"`
}

func (c *GitHubClient) Lookup(ctx context.Context, repoURL string) (*Repository, error) {
	owner, name, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/repos/%s/%s", c.BaseURL, url.PathEscape(owner), url.PathEscape(name)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s/%s: %w", owner, name, ErrRepositoryNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("github returned status %d for %s/%s", resp.StatusCode, owner, name)
	}

	var gr githubRepo
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("failed to decode github response: %w", err)
	}

	repo := &Repository{
		Name:        gr.Name,
		Author:      gr.Owner.Login,
		Description: gr.Description,
		Language:    gr.Language,
		URL:         gr.HTMLURL,
	}
	if gr.License != nil {
		repo.License = gr.License.SPDXID
		if repo.License == "" || repo.License == "NOASSERTION" {
			repo.License = gr.License.Name
		}
	}
	if repo.Name == "" {
		repo.Name = name
	}
	if repo.Author == "" {
		repo.Author = owner
	}
	if repo.URL == "" {
		repo.URL = CanonicalURL(owner, name)
	}
	return repo, nil
}

// ParseRepoURL extracts owner and repository from a github.com URL. A
// trailing ".git" and extra path segments are ignored.
func ParseRepoURL(raw string) (owner, name string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	if host != "github.com" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// CanonicalURL is the form packages are stored under.
func CanonicalURL(owner, name string) string {
	return "https://github.com/" + owner + "/" + name
}

// FromURL returns the metadata derivable from the URL alone.
func FromURL(repoURL string) (*Repository, error) {
	owner, name, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, err
	}
	return &Repository{Name: name, Author: owner, URL: CanonicalURL(owner, name)}, nil
}
