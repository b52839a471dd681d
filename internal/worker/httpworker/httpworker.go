// Package httpworker fetches web pages and GitHub repository metadata.
package httpworker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haricheung/opsai/internal/config"
	"github.com/haricheung/opsai/internal/types"
	"github.com/haricheung/opsai/internal/worker"
)

const (
	maxBodyBytes   = 512 * 1024
	maxReadmeBytes = 64 * 1024
)

// keyFiles are the configuration files that identify a project type.
var keyFiles = map[string]bool{
	"dockerfile": true, "docker-compose.yml": true, "docker-compose.yaml": true,
	"compose.yml": true, "compose.yaml": true,
	"package.json": true, "requirements.txt": true, "pyproject.toml": true,
	"go.mod": true, "cargo.toml": true, "makefile": true,
	".env.example": true, "setup.py": true,
}

// Worker fetches URLs and GitHub repository metadata.
type Worker struct {
	client *http.Client
	token  string

	apiBase string // test hook
	rawBase string // test hook
}

var _ worker.Worker = (*Worker)(nil)

// New creates the HTTP worker from the http config section.
func New(cfg config.HTTPConfig) *Worker {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Worker{
		client:  &http.Client{Timeout: timeout},
		token:   cfg.GitHubToken,
		apiBase: "https://api.github.com",
		rawBase: "https://raw.githubusercontent.com",
	}
}

func (w *Worker) Name() string { return "http" }

func (w *Worker) Description() string {
	return "Fetch web pages and GitHub repository metadata."
}

func (w *Worker) Capabilities() []string {
	return []string{"fetch_url", "fetch_github_readme", "list_github_files"}
}

func (w *Worker) Actions() []types.ToolAction {
	return []types.ToolAction{
		{
			Name:        "fetch_url",
			Description: "Fetch a URL and return the response body",
			Params: []types.ActionParam{
				{Name: "url", Type: "string", Description: "URL to fetch", Required: true},
			},
			RiskLevel: types.RiskSafe,
		},
		{
			Name:        "fetch_github_readme",
			Description: "Fetch the README of a GitHub repository",
			Params: []types.ActionParam{
				{Name: "owner", Type: "string", Description: "Repository owner", Required: true},
				{Name: "repo", Type: "string", Description: "Repository name", Required: true},
			},
			RiskLevel: types.RiskSafe,
		},
		{
			Name:        "list_github_files",
			Description: "List top-level files of a GitHub repository",
			Params: []types.ActionParam{
				{Name: "owner", Type: "string", Description: "Repository owner", Required: true},
				{Name: "repo", Type: "string", Description: "Repository name", Required: true},
			},
			RiskLevel: types.RiskSafe,
		},
	}
}

func (w *Worker) Execute(ctx context.Context, action string, args types.Args) types.WorkerResult {
	switch action {
	case "fetch_url":
		return w.fetchURL(ctx, args)
	case "fetch_github_readme":
		return w.fetchReadme(ctx, args)
	case "list_github_files":
		return w.listFiles(ctx, args)
	default:
		return worker.UnknownAction(action)
	}
}

func (w *Worker) get(ctx context.Context, url string, headers map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if w.token != "" && strings.HasPrefix(url, w.apiBase) {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func (w *Worker) fetchURL(ctx context.Context, args types.Args) types.WorkerResult {
	url := args.String("url")
	if url == "" {
		return types.Fail("url must be a non-empty string")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return types.Fail("url must start with http:// or https://")
	}
	if args.DryRun() {
		return types.Simulated("[dry-run] would fetch: %s", url)
	}

	status, body, err := w.get(ctx, url, nil)
	if err != nil {
		return types.Fail("Fetch failed: %v", err)
	}
	if status < 200 || status >= 300 {
		return types.Fail("HTTP %d fetching %s", status, url)
	}
	return types.WorkerResult{
		Success:   true,
		Message:   fmt.Sprintf("Fetched %s (%d bytes)", url, len(body)),
		RawOutput: string(body),
	}
}

// fetchReadme asks the README API endpoint for raw content, then falls
// back to the raw endpoints over main and master branches and the common
// README filename variants, returning the first hit.
//
// Expectations:
//   - The API endpoint with raw accept header is preferred
//   - Fallback tries main before master, README.md before readme variants
//   - Returns a bounded body (64 KB)
//   - All variants missing reports failure, not an error
func (w *Worker) fetchReadme(ctx context.Context, args types.Args) types.WorkerResult {
	owner := args.String("owner")
	repo := args.String("repo")
	if owner == "" || repo == "" {
		return types.Fail("owner and repo are required")
	}
	if args.DryRun() {
		return types.Simulated("[dry-run] would fetch README of %s/%s", owner, repo)
	}

	apiURL := fmt.Sprintf("%s/repos/%s/%s/readme", w.apiBase, owner, repo)
	if status, body, err := w.get(ctx, apiURL, map[string]string{"Accept": "application/vnd.github.raw"}); err == nil && status == http.StatusOK {
		text := string(body)
		if len(text) > maxReadmeBytes {
			text = text[:maxReadmeBytes]
		}
		return types.WorkerResult{
			Success:   true,
			Message:   fmt.Sprintf("Fetched README of %s/%s", owner, repo),
			RawOutput: text,
		}
	}

	branches := []string{"main", "master"}
	names := []string{"README.md", "README.rst", "README.txt", "readme.md", "README"}
	for _, branch := range branches {
		for _, name := range names {
			url := fmt.Sprintf("%s/%s/%s/%s/%s", w.rawBase, owner, repo, branch, name)
			status, body, err := w.get(ctx, url, nil)
			if err != nil || status != http.StatusOK {
				continue
			}
			text := string(body)
			if len(text) > maxReadmeBytes {
				text = text[:maxReadmeBytes]
			}
			return types.WorkerResult{
				Success:   true,
				Message:   fmt.Sprintf("Fetched %s from %s branch", name, branch),
				RawOutput: text,
			}
		}
	}
	return types.Fail("No README found for %s/%s", owner, repo)
}

// listFiles queries the GitHub contents API for the repository root and
// marks files that identify the project type.
func (w *Worker) listFiles(ctx context.Context, args types.Args) types.WorkerResult {
	owner := args.String("owner")
	repo := args.String("repo")
	if owner == "" || repo == "" {
		return types.Fail("owner and repo are required")
	}
	if args.DryRun() {
		return types.Simulated("[dry-run] would list files of %s/%s", owner, repo)
	}

	url := fmt.Sprintf("%s/repos/%s/%s/contents", w.apiBase, owner, repo)
	status, body, err := w.get(ctx, url, map[string]string{"Accept": "application/vnd.github+json"})
	if err != nil {
		return types.Fail("List files failed: %v", err)
	}
	if status != http.StatusOK {
		return types.Fail("HTTP %d listing %s/%s", status, owner, repo)
	}

	var files []types.GitHubFileInfo
	if err := json.Unmarshal(body, &files); err != nil {
		return types.Fail("Unexpected contents payload: %v", err)
	}

	names := make([]string, 0, len(files))
	var key []string
	for _, f := range files {
		names = append(names, f.Name)
		if keyFiles[strings.ToLower(f.Name)] {
			key = append(key, f.Name)
		}
	}

	return types.WorkerResult{
		Success: true,
		Message: fmt.Sprintf("%d entries, key files: %s", len(files), strings.Join(key, ", ")),
		Data: map[string]any{
			"files":     files,
			"names":     names,
			"key_files": key,
		},
	}
}

// IsKeyFile reports whether name identifies the project type.
func IsKeyFile(name string) bool {
	return keyFiles[strings.ToLower(name)]
}
