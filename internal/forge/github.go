package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// PullRequest is the subset of GitHub PR metadata the reviewer needs.
type PullRequest struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Author    string `json:"author"`
	HeadSHA   string `json:"head_sha"`
	BaseRef   string `json:"base_ref"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// ChangedFile is one file touched by a pull request.
type ChangedFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch,omitempty"`
}

// Fetcher retrieves pull request data from a code forge.
type Fetcher interface {
	FetchPullRequest(ctx context.Context, token, repoFullName string, number int) (*PullRequest, error)
	FetchDiff(ctx context.Context, token, repoFullName string, number int) (string, error)
	FetchChangedFiles(ctx context.Context, token, repoFullName string, number int) ([]ChangedFile, error)
	FetchFileContent(ctx context.Context, token, repoFullName, path, ref string) (string, error)
}

// GitHubFetcher talks to the GitHub REST API with a per-account token.
type GitHubFetcher struct {
	// baseURL overrides the GitHub API base URL for testing.
	// Empty string means https://api.github.com.
	baseURL string
	client  *http.Client
}

func NewGitHubFetcher(baseURL string) *GitHubFetcher {
	return &GitHubFetcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (f *GitHubFetcher) apiBase() string {
	if f.baseURL != "" {
		return f.baseURL
	}
	return "https://api.github.com"
}

func (f *GitHubFetcher) get(ctx context.Context, token, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", "reviewbot")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d: %s", url, resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

// FetchPullRequest returns PR metadata from GET /repos/{repo}/pulls/{n}.
func (f *GitHubFetcher) FetchPullRequest(ctx context.Context, token, repoFullName string, number int) (*PullRequest, error) {
	url := fmt.Sprintf("%s/repos/%s/pulls/%d", f.apiBase(), repoFullName, number)
	body, err := f.get(ctx, token, url, "application/vnd.github+json")
	if err != nil {
		return nil, fmt.Errorf("fetch pull request: %w", err)
	}

	var raw struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
		User   struct {
			Login string `json:"login"`
		} `json:"user"`
		Head struct {
			SHA string `json:"sha"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
		Additions int `json:"additions"`
		Deletions int `json:"deletions"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode pull request: %w", err)
	}

	return &PullRequest{
		Number:    raw.Number,
		Title:     raw.Title,
		Body:      raw.Body,
		Author:    raw.User.Login,
		HeadSHA:   raw.Head.SHA,
		BaseRef:   raw.Base.Ref,
		Additions: raw.Additions,
		Deletions: raw.Deletions,
	}, nil
}

// FetchDiff returns the unified diff of a pull request.
func (f *GitHubFetcher) FetchDiff(ctx context.Context, token, repoFullName string, number int) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/pulls/%d", f.apiBase(), repoFullName, number)
	body, err := f.get(ctx, token, url, "application/vnd.github.v3.diff")
	if err != nil {
		return "", fmt.Errorf("fetch diff: %w", err)
	}
	return string(body), nil
}

// FetchChangedFiles lists the files a pull request touches. GitHub pages
// at 100 per request; PRs larger than 300 files are truncated.
func (f *GitHubFetcher) FetchChangedFiles(ctx context.Context, token, repoFullName string, number int) ([]ChangedFile, error) {
	var files []ChangedFile
	for page := 1; page <= 3; page++ {
		url := fmt.Sprintf("%s/repos/%s/pulls/%d/files?per_page=100&page=%d", f.apiBase(), repoFullName, number, page)
		body, err := f.get(ctx, token, url, "application/vnd.github+json")
		if err != nil {
			return nil, fmt.Errorf("fetch changed files: %w", err)
		}
		var batch []ChangedFile
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, fmt.Errorf("decode changed files: %w", err)
		}
		files = append(files, batch...)
		if len(batch) < 100 {
			break
		}
	}
	return files, nil
}

// FetchFileContent returns a file's raw contents at the given ref from
// GET /repos/{repo}/contents/{path}.
func (f *GitHubFetcher) FetchFileContent(ctx context.Context, token, repoFullName, path, ref string) (string, error) {
	escaped := (&url.URL{Path: path}).EscapedPath()
	target := fmt.Sprintf("%s/repos/%s/contents/%s?ref=%s",
		f.apiBase(), repoFullName, escaped, url.QueryEscape(ref))
	body, err := f.get(ctx, token, target, "application/vnd.github.raw+json")
	if err != nil {
		return "", fmt.Errorf("fetch file content: %w", err)
	}
	return string(body), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
