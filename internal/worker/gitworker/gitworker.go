// Package gitworker wraps common git operations over the shell worker so
// every invocation passes the same policy gate and output handling.
package gitworker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haricheung/opsai/internal/types"
	"github.com/haricheung/opsai/internal/worker"
)

// Shell is the subset of the shell worker the git worker composes over.
type Shell interface {
	Execute(ctx context.Context, action string, args types.Args) types.WorkerResult
}

// Worker exposes clone, pull, and status.
type Worker struct {
	shell Shell
}

var _ worker.Worker = (*Worker)(nil)

// New creates the git worker over the given shell executor.
func New(shell Shell) *Worker { return &Worker{shell: shell} }

func (w *Worker) Name() string { return "git" }

func (w *Worker) Description() string {
	return "Clone repositories and inspect working trees."
}

func (w *Worker) Capabilities() []string { return []string{"clone", "pull", "status"} }

func (w *Worker) Actions() []types.ToolAction {
	return []types.ToolAction{
		{
			Name:        "clone",
			Description: "Clone a repository into a target directory",
			Params: []types.ActionParam{
				{Name: "url", Type: "string", Description: "Repository URL", Required: true},
				{Name: "target_dir", Type: "string", Description: "Parent directory for the clone"},
			},
			RiskLevel: types.RiskLow,
		},
		{
			Name:        "pull",
			Description: "Pull the latest changes in a repository",
			Params: []types.ActionParam{
				{Name: "repo_dir", Type: "string", Description: "Repository directory", Required: true},
			},
			RiskLevel: types.RiskLow,
		},
		{
			Name:        "status",
			Description: "Show working tree status",
			Params: []types.ActionParam{
				{Name: "repo_dir", Type: "string", Description: "Repository directory", Required: true},
			},
			RiskLevel: types.RiskSafe,
		},
	}
}

func (w *Worker) Execute(ctx context.Context, action string, args types.Args) types.WorkerResult {
	switch action {
	case "clone":
		return w.clone(ctx, args)
	case "pull":
		return w.run(ctx, args, "git pull")
	case "status":
		return w.run(ctx, args, "git status --short --branch")
	default:
		return worker.UnknownAction(action)
	}
}

// RepoName extracts the repository name from a git URL, stripping a
// trailing ".git".
func RepoName(url string) string {
	trimmed := strings.TrimRight(url, "/")
	name := trimmed[strings.LastIndexByte(trimmed, '/')+1:]
	return strings.TrimSuffix(name, ".git")
}

// clone materializes url under target_dir. Cloning over an existing
// directory is treated as already done, not an error, so deploy retries
// stay idempotent.
func (w *Worker) clone(ctx context.Context, args types.Args) types.WorkerResult {
	url := args.String("url")
	if url == "" {
		return types.Fail("url must be a non-empty string")
	}
	name := RepoName(url)
	if name == "" {
		return types.Fail("cannot derive repository name from %q", url)
	}

	parent := args.String("target_dir")
	if parent == "" {
		parent = "."
	}
	dest := filepath.Join(parent, name)

	if _, err := os.Stat(dest); err == nil {
		return types.WorkerResult{
			Success: true,
			Message: fmt.Sprintf("Directory %s already exists, skipping clone", dest),
			Data:    map[string]any{"clone_path": dest, "already_existed": true},
		}
	}

	if args.DryRun() {
		return types.Simulated("[dry-run] would clone %s into %s", url, dest)
	}

	res := w.shell.Execute(ctx, "execute_command", types.Args{
		"command": fmt.Sprintf("git clone %q %q", url, dest),
		"timeout": 300,
	})
	if !res.Success {
		return res
	}
	return types.WorkerResult{
		Success:   true,
		Message:   fmt.Sprintf("Cloned %s into %s", url, dest),
		RawOutput: res.RawOutput,
		Data:      map[string]any{"clone_path": dest, "already_existed": false},
	}
}

func (w *Worker) run(ctx context.Context, args types.Args, command string) types.WorkerResult {
	repoDir := args.String("repo_dir")
	if repoDir == "" {
		return types.Fail("repo_dir must be a non-empty string")
	}
	if args.DryRun() {
		return types.Simulated("[dry-run] would run %q in %s", command, repoDir)
	}
	return w.shell.Execute(ctx, "execute_command", types.Args{
		"command":     command,
		"working_dir": repoDir,
	})
}
